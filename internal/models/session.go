package models

import "time"

// UserAccount is the record stored under user:<username>.
type UserAccount struct {
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"hash"`
	Salt         string `json:"salt"`
}

// Session maps an issued token to its owner until ExpiresAt.
type Session struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}
