package auth

import "errors"

// Role is the authorisation tier carried in a token.
type Role string

const (
	// RoleAdmin may read status and switch accessories.
	RoleAdmin Role = "admin"
)

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLoginDisabled      = errors.New("login disabled: no admin password configured")
	ErrTokenInvalid       = errors.New("invalid token")
)
