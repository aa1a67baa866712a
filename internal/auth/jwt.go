// Package auth implements session issuance and verification: short-lived
// JWT access tokens, opaque server-stored refresh tokens, elevated
// sessions layered on top of a normal one, and one-time backup codes for
// account recovery. Ported from the reference server's tools/security
// package, generalized from its single-TTL Options to the three TTLs
// spec §6 names (access / refresh / elevated).
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access-token payload. Elevated sessions set Elevated=true
// and carry a shorter exp, minted by Elevate on top of an already
// authenticated session.
type Claims struct {
	UserID   string `json:"sub"`
	DeviceID string `json:"device_id,omitempty"`
	Elevated bool   `json:"elevated,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies access tokens with a single HMAC secret.
type Issuer struct {
	secret      []byte
	accessTTL   time.Duration
	elevatedTTL time.Duration
}

func NewIssuer(secret string, accessTTL, elevatedTTL time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), accessTTL: accessTTL, elevatedTTL: elevatedTTL}
}

// Generate mints a standard access token for userID/deviceID.
func (i *Issuer) Generate(userID, deviceID string) (string, error) {
	return i.sign(Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.accessTTL)),
		},
	})
}

// Elevate mints a short-TTL elevated claim, used to gate sensitive
// operations (role/permission edits, filter pattern mutation) behind a
// recent re-authentication per spec §4.1/§4.9.
func (i *Issuer) Elevate(userID, deviceID string) (string, error) {
	return i.sign(Claims{
		UserID:   userID,
		DeviceID: deviceID,
		Elevated: true,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(i.elevatedTTL)),
		},
	})
}

func (i *Issuer) sign(c Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(i.secret)
}

// Verify parses and validates a token, returning its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	c := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	return c, nil
}

// HashToken is used to store refresh tokens and backup codes at rest: we
// keep only the hash, and compare hashes on redemption, exactly as the
// reference does for its refresh tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewOpaqueToken generates a random, URL-safe token for refresh tokens
// and device-transfer codes.
func NewOpaqueToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
