package auth

// Permission represents a named capability in the system.
type Permission string

// Permission constants.
const (
	PermProfileRead      Permission = "profile:read"
	PermSessionManage    Permission = "session:manage"
	PermPasswordChange   Permission = "password:change"
	PermRealtimeConnect  Permission = "realtime:connect"
	PermUserDeactivate   Permission = "user:deactivate"
	PermRevocationsAudit Permission = "revocations:audit"
	PermSecurityAudit    Permission = "security:audit"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleUser: {
		PermProfileRead,
		PermSessionManage,
		PermPasswordChange,
		PermRealtimeConnect,
	},
	RoleAdmin: {
		PermProfileRead,
		PermSessionManage,
		PermPasswordChange,
		PermRealtimeConnect,
		PermUserDeactivate,
		PermRevocationsAudit,
		PermSecurityAudit,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role,
// or nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
