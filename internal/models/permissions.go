package models

import "slices"

// Role is an account role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Permission is a single capability string.
type Permission string

const (
	PermProfileRead    Permission = "profile.read"
	PermProfileWrite   Permission = "profile.write"
	PermSessionsRead   Permission = "sessions.read"
	PermSessionsRevoke Permission = "sessions.revoke"
	PermUsersRead      Permission = "users.read"
	PermUsersWrite     Permission = "users.write"
	PermUsersSuspend   Permission = "users.suspend"
	PermAuditRead      Permission = "audit.read"
)

// rolePermissions is the effective permission set per role. Lists are sorted.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermProfileRead,
		PermProfileWrite,
		PermSessionsRead,
		PermSessionsRevoke,
	},
	RoleAdmin: {
		PermAuditRead,
		PermProfileRead,
		PermProfileWrite,
		PermSessionsRead,
		PermSessionsRevoke,
		PermUsersRead,
		PermUsersSuspend,
		PermUsersWrite,
	},
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// ResolvePermissions returns the permission set for roles, deduplicated and
// sorted. Unknown roles contribute nothing.
func ResolvePermissions(roles ...Role) []Permission {
	var out []Permission
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	slices.Sort(out)
	return out
}

// HasPermission reports whether role grants p.
func HasPermission(role Role, p Permission) bool {
	return slices.Contains(rolePermissions[role], p)
}
