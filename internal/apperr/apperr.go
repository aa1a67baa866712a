// Package apperr implements the error taxonomy of the server: a small
// family of machine-readable codes (spec §7) attached to user-facing
// messages, with internal detail logged but never returned to the caller.
// Modeled on the reference server's tools/errs.CodeError, using
// github.com/pkg/errors for stack capture instead of a hand-rolled
// stack package.
package apperr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the machine-readable error family from spec §7.
type Kind string

const (
	KindUnauthorized          Kind = "unauthorized"
	KindForbidden             Kind = "forbidden"
	KindNotFound              Kind = "not_found"
	KindConflict              Kind = "conflict"
	KindRateLimited           Kind = "rate_limited"
	KindValidation            Kind = "validation"
	KindDependencyUnavailable Kind = "dependency_unavailable"
	KindInternal              Kind = "internal"
)

// Error is a coded error: a stable Kind plus a short user-facing message.
// Detail carries additional context that is logged but should not be
// rendered to end users.
type Error struct {
	Kind    Kind
	Code    string // short machine token, e.g. "claim_exhausted"
	Msg     string
	Detail  string
	retryAt int // seconds, only meaningful for KindRateLimited
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Msg, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is lets errors.Is match on Kind+Code equality, ignoring Detail.
func (e *Error) Is(target error) bool {
	var o *Error
	if !errors.As(target, &o) {
		return false
	}
	return e.Kind == o.Kind && e.Code == o.Code
}

// RetryAfterSeconds is set on RateLimited errors per spec §7's
// "retry_after_seconds" contract.
func (e *Error) RetryAfterSeconds() int { return e.retryAt }

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// WithDetail returns a copy carrying additional (log-only) detail.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	c := *e
	c.Detail = fmt.Sprintf(format, args...)
	return &c
}

// WithRetryAfter returns a copy of a RateLimited error carrying the
// concrete cool-down the caller should report.
func (e *Error) WithRetryAfter(seconds int) *Error {
	c := *e
	c.retryAt = seconds
	return &c
}

// Wrap attaches a stack trace to err via pkg/errors, for logging at the
// boundary where the error is ultimately handled.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.WithStack(err)
}

// WrapMsg attaches context plus a stack trace.
func WrapMsg(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

// As extracts the *Error from a (possibly wrapped) error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Taxonomy — the fixed set of errors referenced throughout the server.
// Operation-specific detail (retry windows, missing IDs) is attached via
// WithDetail/WithRetryAfter at the call site.
var (
	Unauthorized          = New(KindUnauthorized, "unauthorized", "invalid or expired credentials")
	InvalidCredentials    = New(KindUnauthorized, "invalid_credentials", "invalid credentials")
	ElevationRequired     = New(KindUnauthorized, "elevation_required", "this action requires a recently re-authenticated session")
	Forbidden             = New(KindForbidden, "forbidden", "you do not have permission to do that")
	NotFound              = New(KindNotFound, "not_found", "resource not found")
	Conflict              = New(KindConflict, "conflict", "resource already exists")
	RateLimited           = New(KindRateLimited, "rate_limited", "too many requests")
	Validation            = New(KindValidation, "validation", "request failed validation")
	DependencyUnavailable = New(KindDependencyUnavailable, "dependency_unavailable", "a required service is unavailable")
	Internal              = New(KindInternal, "internal", "internal error")
	ConsistencyViolation  = New(KindDependencyUnavailable, "consistency_violation", "referenced data is inconsistent")

	ClaimExhausted  = New(KindNotFound, "claim_exhausted", "no prekeys remain for this device")
	BackupMissing   = New(KindNotFound, "backup_missing", "no key backup on file")
	TransferExpired = New(KindNotFound, "transfer_expired", "device transfer expired or already claimed")

	AlreadyInVoice = New(KindConflict, "already_in_voice", "already connected to a voice channel")
	RoomFull       = New(KindForbidden, "room_full", "voice channel is at capacity")
	SfuUnavailable = New(KindDependencyUnavailable, "sfu_unavailable", "voice media server unavailable")
)
