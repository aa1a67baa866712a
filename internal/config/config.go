// Package config loads the server's configuration from environment
// variables into a typed struct, the way the reference server's
// global/config package does, minus its hardcoded secrets — every
// secret here must come from the environment, never a literal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr string

	PostgresDSN string
	RedisAddr   string
	RedisDB     int

	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ElevatedSessionTTL time.Duration

	SnowflakeNodeID int64

	GatewayHeartbeatInterval time.Duration
	GatewaySendQueueSize     int

	VoiceRingTimeout    time.Duration
	VoiceStatsRateLimit time.Duration
	SFUPortMin          int
	SFUPortMax          int

	MaxMessageContentSize int

	Debug bool
}

// Load reads Config from the process environment, applying the same
// defaults spec §6 names for anything unset. PostgresDSN, RedisAddr and
// JWTSecret have no safe default and must be set explicitly.
func Load() (*Config, error) {
	c := &Config{
		HTTPAddr:                 envDefault("HEARTHLINE_HTTP_ADDR", ":8080"),
		PostgresDSN:              os.Getenv("HEARTHLINE_POSTGRES_DSN"),
		RedisAddr:                os.Getenv("HEARTHLINE_REDIS_ADDR"),
		JWTSecret:                os.Getenv("HEARTHLINE_JWT_SECRET"),
		AccessTokenTTL:           15 * time.Minute,
		RefreshTokenTTL:          7 * 24 * time.Hour,
		ElevatedSessionTTL:       10 * time.Minute,
		GatewayHeartbeatInterval: 30 * time.Second,
		GatewaySendQueueSize:     1024,
		VoiceRingTimeout:         45 * time.Second,
		VoiceStatsRateLimit:      3 * time.Second,
		MaxMessageContentSize:    4000,
	}

	var err error
	if c.RedisDB, err = envInt("HEARTHLINE_REDIS_DB", 0); err != nil {
		return nil, err
	}
	if c.SnowflakeNodeID, err = envInt64("HEARTHLINE_NODE_ID", 0); err != nil {
		return nil, err
	}
	if c.Debug, err = envBool("HEARTHLINE_DEBUG", false); err != nil {
		return nil, err
	}
	if c.SFUPortMin, err = envInt("HEARTHLINE_SFU_PORT_MIN", 10000); err != nil {
		return nil, err
	}
	if c.SFUPortMax, err = envInt("HEARTHLINE_SFU_PORT_MAX", 10100); err != nil {
		return nil, err
	}
	if c.MaxMessageContentSize, err = envInt("HEARTHLINE_MAX_MESSAGE_SIZE", 4000); err != nil {
		return nil, err
	}

	if c.PostgresDSN == "" {
		return nil, fmt.Errorf("config: HEARTHLINE_POSTGRES_DSN is required")
	}
	if c.RedisAddr == "" {
		return nil, fmt.Errorf("config: HEARTHLINE_REDIS_ADDR is required")
	}
	if c.JWTSecret == "" {
		return nil, fmt.Errorf("config: HEARTHLINE_JWT_SECRET is required")
	}

	return c, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}
