package models

import "time"

const (
	// RoleStudent is the default role for new accounts.
	RoleStudent = "student"
	// RoleInstructor may mark posts as answered.
	RoleInstructor = "instructor"
)

// User represents a forum account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleStudent || role == RoleInstructor
}
