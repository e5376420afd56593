// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the authorization level of a user account.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Status controls whether an account may sign in.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// User represents a registered account.
//
// WHY `json:"-"` ON PasswordHash?
// The hash must never leave the server. Tagging it "-" means encoding a User
// (e.g. in /api/auth/me or the admin user list) can't leak it by accident,
// no matter which handler forgets to build a DTO.
//
// Email is unique. The repository stores it trimmed and lower-cased so
// "Ana@Uni.edu" and "ana@uni.edu " are the same account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsAdmin is a convenience for role checks.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserRef is the public identity of a user embedded in other payloads
// (the uploader on a resource listing, the uploader in dashboard stats).
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
