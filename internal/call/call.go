// Package call implements Call Control (spec §4.8): DM/group-DM call
// initiation, separate from voice rooms. Grounded on the original
// server's voice/call_service.rs state machine (Ringing/Active/Ended
// derived from Started/Joined/Declined/Left/Ended events), with the
// Redis-Streams event log replaced by an in-memory callState per
// channel — consistent with how internal/voice.Room and
// internal/gateway.Manager already hold their own live state rather
// than replaying a persisted log, and appropriate here since a call's
// signaling state has no value once every participant has hung up.
//
// One divergence from the original is deliberate: call_service.rs
// enforces the ring timeout with a Redis key TTL, so an expired call
// simply stops existing with no event emitted. Spec §4.8 requires an
// explicit call.ended{reason:"timeout"} broadcast, so this package
// arms a time.Timer on Start and emits the event itself when it fires.
package call

import (
	"time"

	"github.com/hearthline/core/internal/model"
)

// callState is the live state of one in-progress call, keyed by DM
// channel ID. All fields are only ever touched while Manager.mu is
// held; there is deliberately no per-call lock since call volume is
// low enough that a single mutex across all calls never becomes a
// contention point (unlike internal/voice.Room's RTP forwarding path).
type callState struct {
	channelID   string
	initiatorID string
	startedAt   time.Time

	// invited holds user IDs that have neither accepted nor declined
	// yet. Once empty while status is still Ringing, every invitee has
	// declined and the call ends (spec §4.8: "ringing --all
	// decline/timeout--> ended").
	invited map[string]struct{}
	// joined holds everyone currently on the call, including the
	// initiator from the moment they start it.
	joined map[string]struct{}
	// declined records who has declined, kept even after the call
	// becomes active so a late decline from a group-DM invitee who
	// never joined is distinguishable from someone who simply hasn't
	// answered.
	declined map[string]struct{}

	status model.CallStatus
	timer  *time.Timer
}

func newCallState(channelID, initiatorID string, invitees []string) *callState {
	invited := make(map[string]struct{}, len(invitees))
	for _, id := range invitees {
		invited[id] = struct{}{}
	}
	return &callState{
		channelID:   channelID,
		initiatorID: initiatorID,
		startedAt:   time.Now(),
		invited:     invited,
		joined:      map[string]struct{}{initiatorID: {}},
		declined:    map[string]struct{}{},
		status:      model.CallRinging,
	}
}

// isParticipant reports whether userID has any standing in this call:
// invited, joined, declined, or the initiator. Used to gate the call:{id}
// subscription scope (spec §4.6's "call participation for call:*").
func (c *callState) isParticipant(userID string) bool {
	if userID == c.initiatorID {
		return true
	}
	if _, ok := c.joined[userID]; ok {
		return true
	}
	if _, ok := c.invited[userID]; ok {
		return true
	}
	_, declined := c.declined[userID]
	return declined
}
