package call

import (
	"context"
	"testing"
	"time"

	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/model"
)

type fakeDMStore struct {
	channels map[string]*model.Channel
	members  map[string][]string
}

func (f *fakeDMStore) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, errNotFound{}
	}
	return ch, nil
}

func (f *fakeDMStore) ChannelMemberIDs(ctx context.Context, channelID string) ([]string, error) {
	return f.members[channelID], nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

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

func (p *recordingPublisher) has(eventType gateway.EventType) bool {
	for _, e := range p.events {
		if e.eventType == eventType {
			return true
		}
	}
	return false
}

func dmManager(pub *recordingPublisher) *Manager {
	dms := &fakeDMStore{
		channels: map[string]*model.Channel{"dm1": {ID: "dm1", Type: model.ChannelDM}},
		members:  map[string][]string{"dm1": {"alice", "bob"}},
	}
	return NewManager(dms, pub, time.Hour)
}

func TestManager_Start_RingsEveryOtherMember(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)

	if err := m.Start(context.Background(), "dm1", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.has(gateway.EventCallIncoming) {
		t.Fatalf("expected call.incoming to be published")
	}
}

func TestManager_Start_RejectsWhenAlreadyInProgress(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")

	if err := m.Start(context.Background(), "dm1", "alice"); err == nil {
		t.Fatalf("expected a conflict starting a second call on the same channel")
	}
}

func TestManager_Start_RejectsNonMember(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)

	if err := m.Start(context.Background(), "dm1", "mallory"); err == nil {
		t.Fatalf("expected rejection for a non-member starting a call")
	}
}

func TestManager_Accept_TransitionsRingingToActive(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")

	if err := m.Accept(context.Background(), "dm1", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.has(gateway.EventCallStarted) {
		t.Fatalf("expected call.started on first accept")
	}
	if !pub.has(gateway.EventCallParticipantJoined) {
		t.Fatalf("expected call.participant_joined")
	}

	m.mu.Lock()
	status := m.calls["dm1"].status
	m.mu.Unlock()
	if status != model.CallActive {
		t.Fatalf("expected call to be active, got %v", status)
	}
}

func TestManager_Decline_EndsCallWhenEveryoneDeclines(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")

	if err := m.Decline(context.Background(), "dm1", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.has(gateway.EventCallEnded) {
		t.Fatalf("expected call.ended once the only invitee declines")
	}

	m.mu.Lock()
	_, stillExists := m.calls["dm1"]
	m.mu.Unlock()
	if stillExists {
		t.Fatalf("expected the ended call to be removed from the live call map")
	}
}

func TestManager_Decline_RejectsInitiator(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")

	if err := m.Decline(context.Background(), "dm1", "alice"); err == nil {
		t.Fatalf("expected the initiator to be rejected declining their own call")
	}
}

func TestManager_Leave_InitiatorCancelsWhileRinging(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")

	if err := m.Leave(context.Background(), "dm1", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.has(gateway.EventCallEnded) {
		t.Fatalf("expected call.ended when the initiator hangs up a ringing call")
	}
}

func TestManager_Leave_LastParticipantEndsActiveCall(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")
	_ = m.Accept(context.Background(), "dm1", "bob")

	if err := m.Leave(context.Background(), "dm1", "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.has(gateway.EventCallEnded) {
		t.Fatalf("did not expect the call to end while bob is still on it")
	}

	if err := m.Leave(context.Background(), "dm1", "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pub.has(gateway.EventCallEnded) {
		t.Fatalf("expected call.ended once the last participant leaves")
	}
}

func TestManager_Leave_IsIdempotent(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")
	_ = m.Leave(context.Background(), "dm1", "alice")

	if err := m.Leave(context.Background(), "dm1", "alice"); err != nil {
		t.Fatalf("expected leaving an already-ended call to be a no-op, got %v", err)
	}
}

func TestManager_IsCallParticipant(t *testing.T) {
	pub := &recordingPublisher{}
	m := dmManager(pub)
	_ = m.Start(context.Background(), "dm1", "alice")

	if !m.IsCallParticipant("dm1", "alice") {
		t.Fatalf("expected the initiator to be a call participant")
	}
	if !m.IsCallParticipant("dm1", "bob") {
		t.Fatalf("expected an invited member to be a call participant")
	}
	if m.IsCallParticipant("dm1", "mallory") {
		t.Fatalf("did not expect an uninvited user to be a call participant")
	}
	if m.IsCallParticipant("dm2", "alice") {
		t.Fatalf("did not expect participation in a channel with no call")
	}
}
