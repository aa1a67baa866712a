package voice

import (
	"context"
	"testing"
	"time"

	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/perm"
)

type fakeChannelStore struct {
	channels map[string]*model.Channel
}

func (f *fakeChannelStore) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, errNotFoundStub{}
	}
	return ch, nil
}

type errNotFoundStub struct{}

func (errNotFoundStub) Error() string { return "not found" }

type fakeRoleStore struct {
	roles map[string][]model.Role // guildID|userID
}

func (f *fakeRoleStore) GuildRolesForUser(ctx context.Context, guildID, userID string) ([]model.Role, error) {
	return f.roles[guildID+"|"+userID], nil
}

func (f *fakeRoleStore) ChannelOverrides(ctx context.Context, channelID string) ([]model.ChannelOverride, error) {
	return nil, nil
}

func (f *fakeRoleStore) IsGuildMember(ctx context.Context, guildID, userID string) (bool, error) {
	return true, nil
}

type recordingPublisher struct {
	events []publishedEvent
}

type publishedEvent struct {
	scopeKey  string
	eventType gateway.EventType
	payload   interface{}
}

func (p *recordingPublisher) Publish(scopeKey string, eventType gateway.EventType, originDeviceID string, payload interface{}) {
	p.events = append(p.events, publishedEvent{scopeKey: scopeKey, eventType: eventType, payload: payload})
}

func TestManager_Join_RejectsNonVoiceChannel(t *testing.T) {
	channels := &fakeChannelStore{channels: map[string]*model.Channel{
		"c1": {ID: "c1", Type: model.ChannelText, GuildID: "g1"},
	}}
	m := NewManager(channels, perm.NewResolver(&fakeRoleStore{}), &recordingPublisher{}, ICEConfig{}, nil, 3*time.Second)

	_, _, err := m.Join(context.Background(), "c1", "u1", "d1")
	if err == nil {
		t.Fatalf("expected rejection for a non-voice channel")
	}
}

func TestManager_Join_RejectsWithoutConnectPermission(t *testing.T) {
	everyone := model.Role{ID: "r-everyone", IsEveryone: true, Permissions: uint32(perm.ReadMessages)}
	channels := &fakeChannelStore{channels: map[string]*model.Channel{
		"c1": {ID: "c1", Type: model.ChannelVoice, GuildID: "g1", UserLimit: 10},
	}}
	roles := &fakeRoleStore{roles: map[string][]model.Role{"g1|u1": {everyone}}}
	m := NewManager(channels, perm.NewResolver(roles), &recordingPublisher{}, ICEConfig{}, nil, 3*time.Second)

	_, _, err := m.Join(context.Background(), "c1", "u1", "d1")
	if err == nil {
		t.Fatalf("expected rejection without Connect permission")
	}
}

func TestManager_Leave_WithNoRoomIsNoop(t *testing.T) {
	m := NewManager(&fakeChannelStore{}, perm.NewResolver(&fakeRoleStore{}), &recordingPublisher{}, ICEConfig{}, nil, 3*time.Second)

	if err := m.Leave(context.Background(), "c1", "u1"); err != nil {
		t.Fatalf("expected leaving an absent room to be a no-op, got %v", err)
	}
}

func TestManager_Stats_WithNoRoomIsNoop(t *testing.T) {
	pub := &recordingPublisher{}
	m := NewManager(&fakeChannelStore{}, perm.NewResolver(&fakeRoleStore{}), pub, ICEConfig{}, nil, 3*time.Second)

	err := m.Stats(context.Background(), "c1", "u1", gateway.VoiceStatsPayload{LatencyMS: 20})
	if err != nil {
		t.Fatalf("expected stats for an absent room to be a no-op, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no publish without an active room")
	}
}

func TestParticipant_RecordStats_AggregatesUntilRateLimitElapses(t *testing.T) {
	p := &participant{}

	if _, ok := p.recordStats(UserStats{LatencyMS: 10, Quality: 5}, time.Hour); !ok {
		t.Fatalf("expected the very first sample to emit immediately (no prior emission to rate-limit against)")
	}

	if _, ok := p.recordStats(UserStats{LatencyMS: 20, Quality: 3}, time.Hour); ok {
		t.Fatalf("expected a sample inside the rate-limit window to be buffered, not emitted")
	}

	p.lastEmit = time.Now().Add(-time.Hour)
	agg, ok := p.recordStats(UserStats{LatencyMS: 30, Quality: 4}, time.Millisecond)
	if !ok {
		t.Fatalf("expected the window to have elapsed")
	}
	if agg.LatencyMS != 25 {
		t.Fatalf("expected the buffered 20 and 30 samples averaged to 25, got %d", agg.LatencyMS)
	}
}
