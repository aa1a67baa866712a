package call

import (
	"context"
	"sync"
	"time"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/pubsub"
)

// DMStore is the narrow slice of internal/store a call Manager needs:
// the channel's type (to reject non-DM channels) and its participant
// list (to ring every other member on start).
type DMStore interface {
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
	ChannelMemberIDs(ctx context.Context, channelID string) ([]string, error)
}

// Publisher matches internal/voice.Publisher's shape so both packages
// drive the same gateway fan-out without depending on the gateway's
// concrete Server.
type Publisher interface {
	Publish(scopeKey string, eventType gateway.EventType, originDeviceID string, payload interface{})
}

// Manager is the process-wide entry point for call.start/accept/
// decline/leave; it implements both gateway.CallHandler (so the
// gateway can dispatch inbound frames here) and gateway.CallStore (so
// the gateway's Authorizer can gate call:* subscriptions without a
// direct import of this package).
type Manager struct {
	dms         DMStore
	publisher   Publisher
	ringTimeout time.Duration

	mu    sync.Mutex
	calls map[string]*callState // channelID -> call
}

func NewManager(dms DMStore, publisher Publisher, ringTimeout time.Duration) *Manager {
	return &Manager{
		dms:         dms,
		publisher:   publisher,
		ringTimeout: ringTimeout,
		calls:       make(map[string]*callState),
	}
}

// Start implements spec §4.8's idle->ringing transition: every other
// member of the DM is sent call.incoming on their user:{id} scope so
// it rings regardless of which device (or none) currently has the DM
// open, and a ring timer is armed for the configured timeout.
func (m *Manager) Start(ctx context.Context, channelID, userID string) error {
	ch, err := m.dms.GetChannel(ctx, channelID)
	if err != nil {
		return apperr.DependencyUnavailable.WithDetail("call start: fetch channel %s: %v", channelID, err)
	}
	if ch.Type != model.ChannelDM && ch.Type != model.ChannelGroupDM {
		return apperr.Validation.WithDetail("channel %s is not a DM", channelID)
	}

	members, err := m.dms.ChannelMemberIDs(ctx, channelID)
	if err != nil {
		return apperr.DependencyUnavailable.WithDetail("call start: list members of %s: %v", channelID, err)
	}
	isMember := false
	invitees := make([]string, 0, len(members))
	for _, id := range members {
		if id == userID {
			isMember = true
			continue
		}
		invitees = append(invitees, id)
	}
	if !isMember {
		return apperr.Forbidden.WithDetail("user %s is not a member of DM channel %s", userID, channelID)
	}
	if len(invitees) == 0 {
		return apperr.Validation.WithDetail("no other participants in DM channel %s", channelID)
	}

	m.mu.Lock()
	if _, exists := m.calls[channelID]; exists {
		m.mu.Unlock()
		return apperr.Conflict.WithDetail("a call is already active in channel %s", channelID)
	}
	state := newCallState(channelID, userID, invitees)
	state.timer = time.AfterFunc(m.ringTimeout, func() { m.onRingTimeout(channelID) })
	m.calls[channelID] = state
	m.mu.Unlock()

	for _, invitee := range invitees {
		m.publisher.Publish(pubsub.UserScope(invitee), gateway.EventCallIncoming, "", callIncomingPayload{
			ChannelID:   channelID,
			InitiatorID: userID,
		})
	}
	return nil
}

// Accept implements spec §4.8's ringing->active transition on the
// first acceptance; later acceptances in a group DM just add a
// participant to an already-active call.
func (m *Manager) Accept(ctx context.Context, channelID, userID string) error {
	m.mu.Lock()
	state, ok := m.calls[channelID]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound.WithDetail("no call in progress on channel %s", channelID)
	}
	if state.status == model.CallEnded {
		m.mu.Unlock()
		return apperr.Conflict.WithDetail("call on channel %s has already ended", channelID)
	}
	if _, already := state.joined[userID]; already {
		m.mu.Unlock()
		return nil
	}
	if !state.isParticipant(userID) {
		m.mu.Unlock()
		return apperr.Forbidden.WithDetail("user %s was not invited to this call", userID)
	}

	firstAccept := state.status == model.CallRinging
	delete(state.invited, userID)
	delete(state.declined, userID)
	state.joined[userID] = struct{}{}
	if firstAccept {
		state.status = model.CallActive
		state.timer.Stop()
	}
	m.mu.Unlock()

	if firstAccept {
		m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallStarted, "", callChannelPayload{ChannelID: channelID})
	}
	m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallParticipantJoined, "", callParticipantPayload{
		ChannelID: channelID,
		UserID:    userID,
	})
	return nil
}

// Decline marks userID as having declined, per user, and propagates
// cross-device via their own user:{id} scope (spec §4.8). If every
// invitee has now declined a still-ringing call, the call ends with
// reason "decline".
func (m *Manager) Decline(ctx context.Context, channelID, userID string) error {
	m.mu.Lock()
	state, ok := m.calls[channelID]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound.WithDetail("no call in progress on channel %s", channelID)
	}
	if state.status == model.CallEnded {
		m.mu.Unlock()
		return apperr.Conflict.WithDetail("call on channel %s has already ended", channelID)
	}
	if userID == state.initiatorID {
		m.mu.Unlock()
		return apperr.Validation.WithDetail("the initiator cannot decline their own call")
	}
	if _, joined := state.joined[userID]; joined {
		m.mu.Unlock()
		return apperr.Validation.WithDetail("already joined this call, use leave instead")
	}
	if _, declined := state.declined[userID]; declined {
		m.mu.Unlock()
		return nil
	}
	if !state.isParticipant(userID) {
		m.mu.Unlock()
		return apperr.Forbidden.WithDetail("user %s was not invited to this call", userID)
	}

	delete(state.invited, userID)
	state.declined[userID] = struct{}{}
	allDeclined := state.status == model.CallRinging && len(state.invited) == 0
	if allDeclined {
		m.endLocked(state)
	}
	m.mu.Unlock()

	m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallDeclined, "", callParticipantPayload{
		ChannelID: channelID,
		UserID:    userID,
	})
	m.publisher.Publish(pubsub.UserScope(userID), gateway.EventCallDeclined, "", callParticipantPayload{
		ChannelID: channelID,
		UserID:    userID,
	})
	if allDeclined {
		m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallEnded, "", callEndedPayload{
			ChannelID: channelID,
			Reason:    "decline",
		})
	}
	return nil
}

// Leave implements both halves of spec §4.8's "last leave -> ended"
// rule plus the initiator-cancels-while-ringing case. It is idempotent:
// leaving a call the user already left, or one that has already ended,
// is a no-op, matching the idempotent-forced-leave requirement voice
// rooms already honor.
func (m *Manager) Leave(ctx context.Context, channelID, userID string) error {
	m.mu.Lock()
	state, ok := m.calls[channelID]
	if !ok || state.status == model.CallEnded {
		m.mu.Unlock()
		return nil
	}
	if _, joined := state.joined[userID]; !joined {
		m.mu.Unlock()
		return nil
	}

	if state.status == model.CallRinging && userID == state.initiatorID {
		m.endLocked(state)
		m.mu.Unlock()
		m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallEnded, "", callEndedPayload{
			ChannelID: channelID,
			Reason:    "hangup",
		})
		return nil
	}

	delete(state.joined, userID)
	last := len(state.joined) == 0
	if last {
		m.endLocked(state)
	}
	m.mu.Unlock()

	if last {
		m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallEnded, "", callEndedPayload{
			ChannelID: channelID,
			Reason:    "hangup",
		})
		return nil
	}
	m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallParticipantLeft, "", callParticipantPayload{
		ChannelID: channelID,
		UserID:    userID,
	})
	return nil
}

// IsCallParticipant implements gateway.CallStore for the Authorizer's
// call:* subscription check.
func (m *Manager) IsCallParticipant(channelID, userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.calls[channelID]
	if !ok {
		return false
	}
	return state.isParticipant(userID)
}

func (m *Manager) onRingTimeout(channelID string) {
	m.mu.Lock()
	state, ok := m.calls[channelID]
	if !ok || state.status != model.CallRinging {
		m.mu.Unlock()
		return
	}
	m.endLocked(state)
	m.mu.Unlock()

	m.publisher.Publish(pubsub.CallScope(channelID), gateway.EventCallEnded, "", callEndedPayload{
		ChannelID: channelID,
		Reason:    "timeout",
	})
}

// endLocked transitions state to Ended and removes it from m.calls.
// Callers must hold m.mu.
func (m *Manager) endLocked(state *callState) {
	if state.timer != nil {
		state.timer.Stop()
	}
	state.status = model.CallEnded
	delete(m.calls, state.channelID)
}

type callIncomingPayload struct {
	ChannelID   string `json:"channel_id"`
	InitiatorID string `json:"initiator_id"`
}

type callChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

type callParticipantPayload struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type callEndedPayload struct {
	ChannelID string `json:"channel_id"`
	Reason    string `json:"reason"`
}
