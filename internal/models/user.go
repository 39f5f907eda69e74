package models

import (
	"fmt"
	"regexp"
)

// UserID names an account holder. The platform's own account is AdminUser.
type UserID string

// AdminUser is the reserved identifier for the platform account that
// collects fees and issues adjustments.
const AdminUser UserID = "admin"

// Role is the accounting bucket a balance is held under. A single user can
// hold independent buyer and seller balances.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,30}$`)

// ParseUserID validates a raw identifier and returns it as a UserID.
func ParseUserID(raw string) (UserID, error) {
	if !userIDPattern.MatchString(raw) {
		return "", fmt.Errorf("invalid user id %q: must be 3-30 characters of [a-zA-Z0-9_-]", raw)
	}
	return UserID(raw), nil
}

// IsAdmin reports whether the id names the platform account.
func (u UserID) IsAdmin() bool { return u == AdminUser }

func (u UserID) String() string { return string(u) }

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return Role(raw), nil
	}
	return "", fmt.Errorf("invalid role %q", raw)
}

func (r Role) String() string { return string(r) }
