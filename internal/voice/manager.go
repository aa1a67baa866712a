// Package voice implements Voice Signaling & SFU Control (spec §4.7):
// room lifecycle, SDP offer/answer, trickled ICE, and rate-limited stats
// ingest for the server's own pion/webrtc-backed SFU. Grounded on
// bureau-foundation-bureau's transport/webrtc.go and transport/ice.go
// for the PeerConnection and ICE plumbing, generalized from bureau's
// one-PeerConnection-per-remote-daemon topology to one PeerConnection
// per voice participant with the room relaying RTP between them.
package voice

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/ids"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/perm"
	"github.com/hearthline/core/internal/pubsub"
)

// ChannelStore is the narrow slice of internal/store a voice Manager
// needs: the channel's type, guild and configured user_limit (spec
// §4.7 step 1).
type ChannelStore interface {
	GetChannel(ctx context.Context, channelID string) (*model.Channel, error)
}

// Manager is the process-wide entry point for voice join/leave/signal
// operations; it owns one Room per active voice channel and enforces
// the "at most one voice channel per user" rule across all of them.
type Manager struct {
	channels  ChannelStore
	resolver  *perm.Resolver
	publisher Publisher
	iceCfg    ICEConfig
	snowflake *ids.Snowflake
	rateLimit time.Duration

	mu        sync.Mutex
	rooms     map[string]*Room  // channelID -> room
	userRooms map[string]string // userID -> channelID
}

func NewManager(channels ChannelStore, resolver *perm.Resolver, publisher Publisher, iceCfg ICEConfig, snowflake *ids.Snowflake, statsRateLimit time.Duration) *Manager {
	return &Manager{
		channels:  channels,
		resolver:  resolver,
		publisher: publisher,
		iceCfg:    iceCfg,
		snowflake: snowflake,
		rateLimit: statsRateLimit,
		rooms:     make(map[string]*Room),
		userRooms: make(map[string]string),
	}
}

// Join implements spec §4.7 steps 1-2: authorize against the channel's
// Connect permission, enforce the one-voice-channel-per-user rule by
// leaving any previous room first, allocate or reuse the room, and
// return the server's SDP offer plus a session id.
func (m *Manager) Join(ctx context.Context, channelID, userID, deviceID string) (sdp, sessionID string, err error) {
	ch, err := m.channels.GetChannel(ctx, channelID)
	if err != nil {
		return "", "", apperr.DependencyUnavailable.WithDetail("voice join: fetch channel %s: %v", channelID, err)
	}
	if ch.Type != model.ChannelVoice {
		return "", "", apperr.Validation.WithDetail("channel %s is not a voice channel", channelID)
	}

	bits, err := m.resolver.Effective(ctx, userID, *ch)
	if err != nil {
		return "", "", err
	}
	if !bits.Has(perm.Connect) {
		return "", "", apperr.Forbidden.WithDetail("user %s lacks Connect on channel %s", userID, channelID)
	}

	if prev, ok := m.previousRoom(userID); ok && prev != channelID {
		if err := m.Leave(ctx, prev, userID); err != nil {
			return "", "", err
		}
	}

	room := m.roomOrCreate(channelID, ch.UserLimit)
	sdp, sessionID, err = room.join(userID, deviceID)
	if err != nil {
		return "", "", err
	}

	m.mu.Lock()
	m.userRooms[userID] = channelID
	m.mu.Unlock()
	return sdp, sessionID, nil
}

func (m *Manager) Answer(ctx context.Context, channelID, userID, sessionID, sdp string) error {
	room := m.roomFor(channelID)
	if room == nil {
		return apperr.NotFound.WithDetail("no voice room for channel %s", channelID)
	}
	return room.answer(userID, sdp)
}

// Trickle applies one ICE candidate to the caller's own PeerConnection.
// A candidate arriving for a room that has already closed is dropped
// silently: trickle is fire-and-forget per spec §4.7 step 3.
func (m *Manager) Trickle(ctx context.Context, channelID, userID, sessionID string, candidate json.RawMessage) error {
	room := m.roomFor(channelID)
	if room == nil {
		return nil
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return apperr.Validation.WithDetail("malformed ICE candidate: %v", err)
	}
	return room.trickle(userID, init)
}

// Leave is idempotent and tears the room down once its last participant
// is gone.
func (m *Manager) Leave(ctx context.Context, channelID, userID string) error {
	room := m.roomFor(channelID)
	if room == nil {
		return nil
	}
	if err := room.leave(userID); err != nil {
		return err
	}

	m.mu.Lock()
	if m.userRooms[userID] == channelID {
		delete(m.userRooms, userID)
	}
	empty := room.isEmpty()
	if empty {
		delete(m.rooms, channelID)
	}
	m.mu.Unlock()

	if empty {
		room.close()
	}
	return nil
}

// Stats folds one WebRTC sample into the participant's pending
// aggregate and publishes voice.user_stats only once the 3-second
// window has elapsed (spec §4.7).
func (m *Manager) Stats(ctx context.Context, channelID, userID string, payload gateway.VoiceStatsPayload) error {
	room := m.roomFor(channelID)
	if room == nil {
		return nil
	}
	sample := UserStats{
		LatencyMS:  payload.LatencyMS,
		PacketLoss: payload.PacketLoss,
		JitterMS:   payload.JitterMS,
		Quality:    payload.Quality,
	}
	agg, ready, err := room.recordStats(userID, sample, m.rateLimit)
	if err != nil {
		return err
	}
	if ready {
		m.publisher.Publish(pubsub.VoiceScope(channelID), gateway.EventVoiceUserStats, "", voiceStatsEvent{
			UserID:     userID,
			LatencyMS:  agg.LatencyMS,
			PacketLoss: agg.PacketLoss,
			JitterMS:   agg.JitterMS,
			Quality:    agg.Quality,
		})
	}
	return nil
}

type voiceStatsEvent struct {
	UserID     string  `json:"user_id"`
	LatencyMS  int     `json:"latency_ms"`
	PacketLoss float64 `json:"packet_loss"`
	JitterMS   int     `json:"jitter_ms"`
	Quality    int     `json:"quality"`
}

func (m *Manager) roomFor(channelID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[channelID]
}

func (m *Manager) roomOrCreate(channelID string, userLimit int) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room, ok := m.rooms[channelID]; ok {
		return room
	}
	room := newRoom(channelID, userLimit, m.iceCfg, m.publisher, m.snowflake)
	m.rooms[channelID] = room
	return room
}

func (m *Manager) previousRoom(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channelID, ok := m.userRooms[userID]
	return channelID, ok
}
