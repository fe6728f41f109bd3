package auth

import (
	"net/http"
	"slices"
)

// Permission represents a named capability in the management API.
type Permission string

// Permission constants.
const (
	PermRelayRead  Permission = "relay:read"
	PermRelayWrite Permission = "relay:write"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermRelayRead},
	RoleOperator: {PermRelayRead, PermRelayWrite},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// PermissionsForRole returns all permissions granted to a role.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// PermissionForMethod returns the permission an HTTP method requires.
// Safe methods need read access; everything else needs write access.
func PermissionForMethod(method string) Permission {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return PermRelayRead
	default:
		return PermRelayWrite
	}
}
