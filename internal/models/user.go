package models

import "time"

// Roles known to the system
const (
	RoleAdmin   = "Admin"
	RoleManager = "Manager"
	RoleUser    = "User"
)

// User represents an account that can authenticate against the API
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	AccessStart  string    `json:"access_start,omitempty"` // "HH:MM", embedded into issued tokens
	AccessEnd    string    `json:"access_end,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RevokedToken is an append-only record of a token that may no longer be used.
// Only the SHA-256 hash of the raw token is kept.
type RevokedToken struct {
	ID        int64     `json:"id"`
	TokenHash string    `json:"token_hash"`
	RevokedAt time.Time `json:"revoked_at"`
}
