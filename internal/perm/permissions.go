// Package perm implements the 24-bit guild permission model: role-union
// resolution, channel allow/deny overrides, the ADMINISTRATOR
// short-circuit, and the @everyone forbidden-bit mask.
package perm

// Bits is the 24-bit permission vector. Only the low 24 bits are
// significant; bits above that are never set.
type Bits uint32

const (
	ReadMessages Bits = 1 << iota
	SendMessages
	React
	Upload
	ManageMessages
	ManageChannels
	ManageRoles
	KickMembers
	BanMembers
	MentionEveryone
	Connect
	Speak
	MuteMembers
	DeafenMembers
	MoveMembers
	ManageGuild
	ViewAuditLog
	CreateInvite
	ChangeNickname
	ManageNicknames
	ManageWebhooks
	ManageEmojis
	PrioritySpeaker
	Administrator
)

const fullMask Bits = (1 << 24) - 1

// forbiddenOnEveryone is masked out of any permission vector that
// originates solely from the implicit @everyone role (spec §3 invariant
// (f), §4.1 step 5).
const forbiddenOnEveryone Bits = MentionEveryone | Administrator | BanMembers | KickMembers | ManageGuild

// DMBaseline is the intrinsic permission set every DM/group-DM
// participant holds, independent of any role (spec §4.1 edge case c).
const DMBaseline Bits = ReadMessages | SendMessages | React | Upload

// Has reports whether all bits in want are set in b.
func (b Bits) Has(want Bits) bool { return b&want == want }

// Role is the minimal shape the resolver needs from internal/model.Role.
type Role struct {
	ID          string
	Position    int
	Permissions Bits
	IsEveryone  bool
}

// Override is the minimal shape the resolver needs from
// internal/model.ChannelOverride, pre-split by principal kind.
type Override struct {
	Allow Bits
	Deny  Bits
}

// Input bundles everything Effective needs so it stays a pure function
// with no database or clock dependency (spec §4.1 edge case d:
// deterministic, no time-based inputs).
type Input struct {
	// Roles the user holds in the channel's guild, including @everyone.
	// Order does not matter; Effective sorts by Position itself.
	Roles []Role
	// RoleOverrides are channel overrides keyed to roles the user holds.
	RoleOverrides []Override
	// UserOverride is the channel override targeting this user
	// specifically, if any.
	UserOverride *Override
	// IsDM is true for dm/group_dm channels, which bypass role/override
	// resolution entirely.
	IsDM bool
}

// Effective computes the permission vector for a (user, channel) pair
// per spec §4.1. It never performs I/O; callers resolve Input from
// storage first and treat a missing referenced role as a
// ConsistencyViolation before calling this function.
func Effective(in Input) Bits {
	if in.IsDM {
		return DMBaseline
	}

	roles := make([]Role, len(in.Roles))
	copy(roles, in.Roles)
	// Ascending position order per spec §4.1 step 2; stable so that
	// ties (shouldn't occur in practice) don't introduce nondeterminism
	// beyond input order, which callers supply deterministically.
	for i := 1; i < len(roles); i++ {
		for j := i; j > 0 && roles[j-1].Position > roles[j].Position; j-- {
			roles[j-1], roles[j] = roles[j], roles[j-1]
		}
	}

	var perm Bits
	for _, r := range roles {
		bits := r.Permissions
		if r.IsEveryone {
			// @everyone never contributes forbidden bits, regardless of
			// what is stored for it (spec §3 invariant (f)); other roles
			// are free to grant the same bits explicitly.
			bits &^= forbiddenOnEveryone
		}
		perm |= bits
	}

	if perm.Has(Administrator) {
		// Server-level rule: overrides never apply once any held role
		// grants ADMINISTRATOR (spec §4.1 step 4).
		return fullMask
	}

	for _, ov := range in.RoleOverrides {
		perm = (perm | ov.Allow) &^ ov.Deny
	}
	if in.UserOverride != nil {
		perm = (perm | in.UserOverride.Allow) &^ in.UserOverride.Deny
	}

	return perm & fullMask
}
