package auth

import "errors"

// Role represents an authorisation tier.
type Role string

const (
	// RoleReader may only inspect the store and run SELECT statements.
	RoleReader Role = "reader"

	// RoleWriter may additionally modify rows.
	RoleWriter Role = "writer"

	// RoleAdmin may additionally change the schema.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleReader, RoleWriter, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrWeakSecret   = errors.New("signing secret too short")
	ErrForbidden    = errors.New("insufficient permissions")
)
