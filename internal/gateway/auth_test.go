package gateway

import (
	"context"
	"testing"

	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/perm"
)

type fakeScopeStore struct {
	guildMembers   map[string]bool // guildID|userID
	channelMembers map[string]bool // channelID|userID
	channels       map[string]*model.Channel
}

func (f *fakeScopeStore) IsGuildMember(ctx context.Context, guildID, userID string) (bool, error) {
	return f.guildMembers[guildID+"|"+userID], nil
}

func (f *fakeScopeStore) IsChannelMember(ctx context.Context, channelID, userID string) (bool, error) {
	return f.channelMembers[channelID+"|"+userID], nil
}

func (f *fakeScopeStore) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, errNotFoundStub
	}
	return ch, nil
}

type fakeCallStore struct {
	participants map[string]bool // channelID|userID
}

func (f *fakeCallStore) IsCallParticipant(channelID, userID string) bool {
	return f.participants[channelID+"|"+userID]
}

type fakeRoleStore struct {
	roles map[string][]model.Role // guildID|userID -> roles
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

type stubErr struct{}

func (stubErr) Error() string { return "not found" }

var errNotFoundStub = stubErr{}

func TestAuthorizer_UserScopeRequiresMatchingIdentity(t *testing.T) {
	a := NewAuthorizer(&fakeScopeStore{}, perm.NewResolver(&fakeRoleStore{}), nil)

	ok, err := a.CanSubscribe(context.Background(), "u1", "user:u1")
	if err != nil || !ok {
		t.Fatalf("expected own user scope to be allowed, got ok=%v err=%v", ok, err)
	}

	ok, err = a.CanSubscribe(context.Background(), "u1", "user:u2")
	if err != nil || ok {
		t.Fatalf("expected other user's scope to be denied, got ok=%v err=%v", ok, err)
	}
}

func TestAuthorizer_GuildScopeRequiresMembership(t *testing.T) {
	store := &fakeScopeStore{guildMembers: map[string]bool{"g1|u1": true}}
	a := NewAuthorizer(store, perm.NewResolver(&fakeRoleStore{}), nil)

	ok, _ := a.CanSubscribe(context.Background(), "u1", "guild:g1")
	if !ok {
		t.Fatalf("expected guild member to be allowed")
	}
	ok, _ = a.CanSubscribe(context.Background(), "u2", "guild:g1")
	if ok {
		t.Fatalf("expected non-member to be denied")
	}
}

func TestAuthorizer_DMScopeRequiresParticipation(t *testing.T) {
	store := &fakeScopeStore{channelMembers: map[string]bool{"d1|u1": true}}
	a := NewAuthorizer(store, perm.NewResolver(&fakeRoleStore{}), nil)

	ok, _ := a.CanSubscribe(context.Background(), "u1", "dm:d1")
	if !ok {
		t.Fatalf("expected DM participant to be allowed")
	}
	ok, _ = a.CanSubscribe(context.Background(), "u2", "dm:d1")
	if ok {
		t.Fatalf("expected non-participant to be denied")
	}
}

func TestAuthorizer_ChannelScopeChecksReadMessagesPermission(t *testing.T) {
	everyone := model.Role{ID: "r-everyone", IsEveryone: true, Permissions: uint32(perm.ReadMessages)}
	store := &fakeScopeStore{
		channels: map[string]*model.Channel{
			"c1": {ID: "c1", Type: model.ChannelText, GuildID: "g1"},
		},
	}
	roleStore := &fakeRoleStore{roles: map[string][]model.Role{"g1|u1": {everyone}}}
	a := NewAuthorizer(store, perm.NewResolver(roleStore), nil)

	ok, err := a.CanSubscribe(context.Background(), "u1", "channel:c1")
	if err != nil || !ok {
		t.Fatalf("expected ReadMessages holder to be allowed, got ok=%v err=%v", ok, err)
	}
}

func TestAuthorizer_ChannelScopeDeniesWithoutReadMessages(t *testing.T) {
	everyone := model.Role{ID: "r-everyone", IsEveryone: true, Permissions: 0}
	store := &fakeScopeStore{
		channels: map[string]*model.Channel{
			"c1": {ID: "c1", Type: model.ChannelText, GuildID: "g1"},
		},
	}
	roleStore := &fakeRoleStore{roles: map[string][]model.Role{"g1|u1": {everyone}}}
	a := NewAuthorizer(store, perm.NewResolver(roleStore), nil)

	ok, err := a.CanSubscribe(context.Background(), "u1", "channel:c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected denial without ReadMessages")
	}
}

func TestAuthorizer_CallScopeRequiresParticipation(t *testing.T) {
	calls := &fakeCallStore{participants: map[string]bool{"ch1|u1": true}}
	a := NewAuthorizer(&fakeScopeStore{}, perm.NewResolver(&fakeRoleStore{}), calls)

	ok, _ := a.CanSubscribe(context.Background(), "u1", "call:ch1")
	if !ok {
		t.Fatalf("expected call participant to be allowed")
	}
	ok, _ = a.CanSubscribe(context.Background(), "u2", "call:ch1")
	if ok {
		t.Fatalf("expected non-participant to be denied")
	}
}

func TestAuthorizer_PresenceScopeAlwaysAllowed(t *testing.T) {
	a := NewAuthorizer(&fakeScopeStore{}, perm.NewResolver(&fakeRoleStore{}), nil)
	ok, err := a.CanSubscribe(context.Background(), "anyone", "presence:global")
	if err != nil || !ok {
		t.Fatalf("expected presence:global to always be allowed, got ok=%v err=%v", ok, err)
	}
}

func TestAuthorizer_MalformedScopeRejected(t *testing.T) {
	a := NewAuthorizer(&fakeScopeStore{}, perm.NewResolver(&fakeRoleStore{}), nil)
	_, err := a.CanSubscribe(context.Background(), "u1", "not-a-scope")
	if err == nil {
		t.Fatalf("expected malformed scope key to error")
	}
}
