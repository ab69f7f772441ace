package models

import "strings"

// Role is the closed set of roles a principal can hold.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// Roles lists every known role.
var Roles = []Role{RoleAdmin, RoleUser}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	}
	return false
}

// ParseRole matches a role name case-insensitively.
func ParseRole(name string) (Role, bool) {
	name = strings.TrimSpace(name)
	for _, r := range Roles {
		if strings.EqualFold(string(r), name) {
			return r, true
		}
	}
	return "", false
}
