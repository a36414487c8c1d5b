package model

import (
	"errors"
	"strings"
)

// Role is a user's authorization level. Values are always lowercase.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

var ErrUnknownRole = errors.New("unknown_role")

// Roles lists the known roles in display order.
func Roles() []Role {
	return []Role{RoleStudent, RoleTeacher, RoleAdmin}
}

// ParseRole normalizes a wire value. Roles are case-insensitive on the wire.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	switch role {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return role, nil
	default:
		return "", ErrUnknownRole
	}
}

// HomePath is the dashboard a role lands on after login.
func (r Role) HomePath() string {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return "/" + string(r)
	default:
		return "/"
	}
}

// Title is the display form used by the pages.
func (r Role) Title() string {
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

// User is the cached copy of the identity service's user record.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// HasRole reports whether the user's role, normalized, equals role.
func (u *User) HasRole(role Role) bool {
	if u == nil {
		return false
	}
	parsed, err := ParseRole(u.Role)
	if err != nil {
		return false
	}
	return parsed == role
}

// NormalizedRole returns the parsed role or the empty role when unknown.
func (u *User) NormalizedRole() Role {
	if u == nil {
		return ""
	}
	role, _ := ParseRole(u.Role)
	return role
}
