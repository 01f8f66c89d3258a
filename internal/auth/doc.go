// Package auth authenticates the bridge's admin API.
//
// The bridge has a single admin credential taken from configuration:
//   - Passwords are stored as Argon2id PHC strings (see HashPassword)
//   - Successful logins receive a short-lived HS256 JWT access token
//   - Tokens are validated by signature only, no database lookup
package auth
