// Package store implements the relational persistence layer backing
// every §3 entity, using github.com/jackc/pgx/v5's pgxpool the way the
// reference server's pgxdemo.go connects — pgxpool.New from a DSN
// environment variable, one shared pool for the process lifetime.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store owns the connection pool and implements the narrow
// per-component interfaces (perm.RoleStore, filter.ConfigStore, ...) so
// each component depends only on the slice of persistence it actually
// uses.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres using dsn (spec §6's "database URL"
// configuration variable) and verifies connectivity with a ping.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

// Schema is the DDL for every §3 entity. Migrations are explicitly out
// of scope (spec §1); this is provided as the reference layout the
// query methods in this package assume, applied once at deployment time
// by whatever external migration tool the operator chooses.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	display_name TEXT NOT NULL,
	auth_method TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'offline',
	status_message TEXT NOT NULL DEFAULT '',
	invisible BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token_fingerprint TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	client_metadata JSONB NOT NULL DEFAULT '{}',
	elevated_until TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS sessions_fingerprint_idx ON sessions(token_fingerprint, expires_at);

CREATE TABLE IF NOT EXISTS guilds (
	id UUID PRIMARY KEY,
	owner_id UUID NOT NULL REFERENCES users(id),
	name TEXT NOT NULL,
	suspended BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS guild_members (
	guild_id UUID NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	nickname TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (guild_id, user_id)
);
CREATE INDEX IF NOT EXISTS guild_members_user_guild_idx ON guild_members(user_id, guild_id);

CREATE TABLE IF NOT EXISTS roles (
	id UUID PRIMARY KEY,
	guild_id UUID REFERENCES guilds(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	position INT NOT NULL DEFAULT 0,
	permissions INT NOT NULL DEFAULT 0,
	is_everyone BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS role_members (
	role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (role_id, user_id)
);

CREATE TABLE IF NOT EXISTS channels (
	id UUID PRIMARY KEY,
	type TEXT NOT NULL,
	guild_id UUID REFERENCES guilds(id) ON DELETE CASCADE,
	category_id UUID REFERENCES channels(id),
	topic TEXT NOT NULL DEFAULT '',
	user_limit INT NOT NULL DEFAULT 0,
	position INT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS channel_overrides (
	channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	principal_kind TEXT NOT NULL,
	principal_id UUID NOT NULL,
	allow_mask INT NOT NULL DEFAULT 0,
	deny_mask INT NOT NULL DEFAULT 0,
	PRIMARY KEY (channel_id, principal_kind, principal_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	author_id UUID NOT NULL REFERENCES users(id),
	content TEXT NOT NULL,
	encrypted BOOLEAN NOT NULL DEFAULT false,
	ciphertext_nonce TEXT,
	reply_to UUID,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	edited_at TIMESTAMPTZ,
	deleted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_channel_page_idx ON messages(channel_id, created_at DESC, id DESC) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS devices (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	identity_signing_key TEXT NOT NULL,
	identity_exchange_key TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	verified BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (user_id, identity_exchange_key)
);

CREATE TABLE IF NOT EXISTS prekeys (
	id UUID PRIMARY KEY,
	device_id UUID NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	key_id INT NOT NULL,
	public_key TEXT NOT NULL,
	claimed_at TIMESTAMPTZ,
	claimed_by UUID
);
CREATE INDEX IF NOT EXISTS prekeys_unclaimed_idx ON prekeys(device_id) WHERE claimed_at IS NULL;

CREATE TABLE IF NOT EXISTS key_backups (
	user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	salt BYTEA NOT NULL,
	nonce BYTEA NOT NULL,
	ciphertext BYTEA NOT NULL,
	version INT NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS device_transfers (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	from_device UUID NOT NULL,
	to_device UUID NOT NULL,
	ciphertext BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	consumed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS filter_configs (
	guild_id UUID NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
	category TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT false,
	action TEXT NOT NULL DEFAULT 'log',
	PRIMARY KEY (guild_id, category)
);

CREATE TABLE IF NOT EXISTS filter_patterns (
	id UUID PRIMARY KEY,
	guild_id UUID NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
	text TEXT NOT NULL,
	is_regex BOOLEAN NOT NULL DEFAULT false,
	enabled BOOLEAN NOT NULL DEFAULT true,
	creator_id UUID NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS moderation_actions (
	id UUID PRIMARY KEY,
	guild_id UUID NOT NULL,
	channel_id UUID NOT NULL,
	user_id UUID NOT NULL,
	category TEXT NOT NULL,
	pattern_id UUID,
	action TEXT NOT NULL,
	original_content TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_records (
	id UUID PRIMARY KEY,
	actor_id UUID REFERENCES users(id) ON DELETE CASCADE,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	action TEXT NOT NULL,
	before_hash TEXT NOT NULL DEFAULT '',
	after_hash TEXT NOT NULL DEFAULT '',
	timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
	ip TEXT NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS channel_members (
	channel_id UUID NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (channel_id, user_id)
);
CREATE INDEX IF NOT EXISTS channel_members_user_idx ON channel_members(user_id);

CREATE TABLE IF NOT EXISTS guild_invites (
	code TEXT PRIMARY KEY,
	guild_id UUID NOT NULL REFERENCES guilds(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS backup_codes (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	hashed_code TEXT NOT NULL,
	used_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS backup_codes_user_unused_idx ON backup_codes(user_id) WHERE used_at IS NULL;
`
