package auth

import (
	"errors"
	"slices"
)

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleViewer may read relay state: end devices, queues, gateways,
	// metrics, the journal and the event stream.
	RoleViewer Role = "viewer"

	// RoleOperator may additionally change the end-device registry and
	// inject bundles and downlinks.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	return slices.Contains(ValidRoles, r)
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("insufficient permissions")
)
