// Package model defines the entities of the data model: plain structs
// with no persistence logic attached, mirroring the way the reference
// server keeps its wire/storage types free of behavior. Persistence
// lives in internal/store; business rules live in the component
// packages (internal/perm, internal/filter, ...).
package model

import "time"

type AuthMethod string

const (
	AuthMethodLocal    AuthMethod = "local"
	AuthMethodExternal AuthMethod = "external"
)

type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusAway    UserStatus = "away"
	StatusBusy    UserStatus = "busy"
	StatusOffline UserStatus = "offline"
)

// User is a registered account. Deletion cascades to Session,
// Membership, and audit entries per spec §3's ownership rules.
type User struct {
	ID            string
	Username      string // unique, lowercase alnum+underscore, 3-32 chars
	DisplayName   string
	AuthMethod    AuthMethod
	Status        UserStatus
	StatusMessage string // <=128 chars
	Invisible     bool
	CreatedAt     time.Time
}

// Session is a refresh-token-backed login. ElevatedUntil is nil unless
// the user has recently re-authenticated for a destructive admin action.
type Session struct {
	ID               string
	UserID           string
	TokenFingerprint string // opaque hash of the refresh token
	ExpiresAt        time.Time
	ClientMetadata   map[string]string
	ElevatedUntil    *time.Time
}

// IsElevated reports whether the session currently carries admin
// elevation, evaluated against now so callers never compare against a
// cached clock.
func (s *Session) IsElevated(now time.Time) bool {
	return s.ElevatedUntil != nil && now.Before(*s.ElevatedUntil)
}

type Guild struct {
	ID        string
	OwnerID   string
	Name      string
	Suspended bool
}

type Membership struct {
	GuildID  string
	UserID   string
	JoinedAt time.Time
	Nickname string
}

// Role carries a 24-bit permission vector. GuildID is empty for system
// roles. Position breaks ties when OR-ing role vectors in a stable
// ascending order (spec §4.1 step 2).
type Role struct {
	ID          string
	GuildID     string // empty = system role
	Name        string
	Position    int
	Permissions uint32 // 24 bits significant
	IsEveryone  bool
}

type ChannelType string

const (
	ChannelText    ChannelType = "text"
	ChannelVoice   ChannelType = "voice"
	ChannelDM      ChannelType = "dm"
	ChannelGroupDM ChannelType = "group_dm"
)

type Channel struct {
	ID         string
	Type       ChannelType
	GuildID    string // empty for dm/group_dm
	CategoryID string // empty if top-level; nesting depth <=2
	Topic      string
	UserLimit  int // voice only, 0 = unlimited
	Position   int
}

// OverridePrincipalKind distinguishes a role-targeted override from a
// user-targeted one; spec §4.1 applies them in that order.
type OverridePrincipalKind string

const (
	OverrideRole OverridePrincipalKind = "role"
	OverrideUser OverridePrincipalKind = "user"
)

type ChannelOverride struct {
	ChannelID     string
	PrincipalKind OverridePrincipalKind
	PrincipalID   string // role_id or user_id depending on PrincipalKind
	Allow         uint32
	Deny          uint32
}

type Message struct {
	ID              string
	ChannelID       string
	AuthorID        string
	Content         string
	Encrypted       bool
	CiphertextNonce string // present when Encrypted
	ReplyTo         string // empty if none
	CreatedAt       time.Time
	EditedAt        *time.Time
	DeletedAt       *time.Time
}

type Device struct {
	ID                  string
	UserID              string
	IdentitySigningKey  string
	IdentityExchangeKey string
	CreatedAt           time.Time
	LastSeenAt          time.Time
	Verified            bool
}

type Prekey struct {
	ID        string
	DeviceID  string
	KeyID     int32
	PublicKey string
	ClaimedAt *time.Time
	ClaimedBy string
}

type KeyBackup struct {
	UserID     string
	Salt       []byte // 16 bytes
	Nonce      []byte // 12 bytes
	Ciphertext []byte // <=1 MiB
	Version    int
}

type DeviceTransfer struct {
	ID         string
	UserID     string
	FromDevice string
	ToDevice   string
	Ciphertext []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

type FilterCategory string

const (
	CategorySlurs      FilterCategory = "slurs"
	CategoryHateSpeech FilterCategory = "hate_speech"
	CategorySpam       FilterCategory = "spam"
	CategoryAbusive    FilterCategory = "abusive"
	CategoryCustom     FilterCategory = "custom"
)

type FilterAction string

const (
	ActionBlock FilterAction = "block"
	ActionWarn  FilterAction = "warn"
	ActionLog   FilterAction = "log"
)

type FilterConfig struct {
	GuildID  string
	Category FilterCategory
	Enabled  bool
	Action   FilterAction
}

type FilterPattern struct {
	ID        string
	GuildID   string
	Text      string
	IsRegex   bool
	Enabled   bool
	CreatorID string
	CreatedAt time.Time
}

type ModerationAction struct {
	ID              string
	GuildID         string
	ChannelID       string
	UserID          string
	Category        FilterCategory
	PatternID       string
	Action          FilterAction
	OriginalContent string // truncated to <=200 bytes at a codepoint boundary
	CreatedAt       time.Time
}

type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

type Call struct {
	ChannelID    string
	InitiatorID  string
	StartedAt    time.Time
	EndedAt      *time.Time
	Participants map[string]bool
	Status       CallStatus
}

type VoiceRoom struct {
	ChannelID       string
	Participants    map[string]bool
	Speaking        map[string]bool
	LastStatsEmitAt map[string]time.Time
}

// UserPreferences is a supplemented entity (not in the original
// distillation) backing the unread-counter and preference-sync surface
// referenced by the gateway's dm.read/channel.read/preferences.updated
// events.
type UserPreferences struct {
	UserID         string
	UnreadChannels map[string]int // channel_id -> unread count
	LastReadAt     map[string]time.Time
	Settings       map[string]string
}

// AuditRecord is the append-only entry written by internal/audit.
type AuditRecord struct {
	ID         string
	ActorID    string
	TargetType string
	TargetID   string
	Action     string
	BeforeHash string
	AfterHash  string
	Timestamp  time.Time
	IP         string
	UserAgent  string
}
