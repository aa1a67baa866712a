package perm

import "testing"

func TestEffective_NoRolesStillHasEveryone(t *testing.T) {
	everyone := Role{ID: "everyone", Position: 0, Permissions: ReadMessages | SendMessages, IsEveryone: true}
	got := Effective(Input{Roles: []Role{everyone}})
	if !got.Has(ReadMessages) || !got.Has(SendMessages) {
		t.Fatalf("expected baseline @everyone perms, got %s", got)
	}
}

func TestEffective_DenyWins(t *testing.T) {
	// Guild g1 role "mods" allows bit SendMessages; channel c1 overrides
	// "mods" with SendMessages denied. Expect SendMessages cleared.
	everyone := Role{ID: "everyone", Position: 0, Permissions: ReadMessages, IsEveryone: true}
	mods := Role{ID: "mods", Position: 1, Permissions: SendMessages}
	got := Effective(Input{
		Roles:         []Role{everyone, mods},
		RoleOverrides: []Override{{Allow: 0, Deny: SendMessages}},
	})
	if got.Has(SendMessages) {
		t.Fatalf("expected SendMessages denied by override, got %s", got)
	}
	if !got.Has(ReadMessages) {
		t.Fatalf("expected ReadMessages to survive, got %s", got)
	}
}

func TestEffective_AdministratorShortCircuits(t *testing.T) {
	everyone := Role{ID: "everyone", Position: 0, IsEveryone: true}
	admin := Role{ID: "admin", Position: 1, Permissions: Administrator}
	got := Effective(Input{
		Roles:         []Role{everyone, admin},
		RoleOverrides: []Override{{Allow: 0, Deny: fullMask}},
	})
	if got != fullMask {
		t.Fatalf("expected full mask for administrator, got %s", got)
	}
}

func TestEffective_EveryoneForbiddenBitsMasked(t *testing.T) {
	everyone := Role{ID: "everyone", Position: 0, Permissions: MentionEveryone | Administrator | ReadMessages, IsEveryone: true}
	got := Effective(Input{Roles: []Role{everyone}})
	if got.Has(MentionEveryone) || got.Has(Administrator) {
		t.Fatalf("expected forbidden bits masked off @everyone, got %s", got)
	}
	if !got.Has(ReadMessages) {
		t.Fatalf("expected ReadMessages to survive masking, got %s", got)
	}
}

func TestEffective_ExplicitRoleCanGrantForbiddenBit(t *testing.T) {
	// A non-@everyone role is free to grant MentionEveryone explicitly.
	everyone := Role{ID: "everyone", Position: 0, IsEveryone: true}
	mods := Role{ID: "mods", Position: 1, Permissions: MentionEveryone}
	got := Effective(Input{Roles: []Role{everyone, mods}})
	if !got.Has(MentionEveryone) {
		t.Fatalf("expected explicit grant of MentionEveryone to survive, got %s", got)
	}
}

func TestEffective_UserOverrideAfterRoleOverride(t *testing.T) {
	everyone := Role{ID: "everyone", Position: 0, IsEveryone: true}
	got := Effective(Input{
		Roles:         []Role{everyone},
		RoleOverrides: []Override{{Allow: SendMessages, Deny: 0}},
		UserOverride:  &Override{Allow: 0, Deny: SendMessages},
	})
	if got.Has(SendMessages) {
		t.Fatalf("expected user override deny to win over role override allow, got %s", got)
	}
}

func TestEffective_DM(t *testing.T) {
	got := Effective(Input{IsDM: true})
	if got != DMBaseline {
		t.Fatalf("expected DM baseline, got %s", got)
	}
	if got.Has(Administrator) {
		t.Fatalf("DM baseline must not carry Administrator")
	}
}

func TestEffective_Deterministic(t *testing.T) {
	everyone := Role{ID: "everyone", Position: 0, Permissions: ReadMessages, IsEveryone: true}
	mods := Role{ID: "mods", Position: 1, Permissions: SendMessages}
	in := Input{Roles: []Role{mods, everyone}} // unsorted input on purpose
	a := Effective(in)
	b := Effective(in)
	if a != b {
		t.Fatalf("expected deterministic result, got %s then %s", a, b)
	}
}
