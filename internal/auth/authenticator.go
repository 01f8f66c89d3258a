package auth

import (
	"crypto/subtle"
	"time"
)

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Authenticator checks the admin credential and issues tokens.
type Authenticator struct {
	username     string
	passwordHash string
	secret       string
	ttl          time.Duration
}

// NewAuthenticator creates an Authenticator. An empty passwordHash
// disables login; tokens can still be validated.
func NewAuthenticator(username, passwordHash, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		username:     username,
		passwordHash: passwordHash,
		secret:       secret,
		ttl:          ttl,
	}
}

// Login verifies the credential and returns a signed access token.
func (a *Authenticator) Login(username, password string) (Token, error) {
	if a.passwordHash == "" {
		return Token{}, ErrLoginDisabled
	}

	// Verify the password even for an unknown username so both paths cost
	// the same.
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK, err := VerifyPassword(password, a.passwordHash)
	if err != nil {
		return Token{}, err
	}
	if !userOK || !passOK {
		return Token{}, ErrInvalidCredentials
	}

	signed, expires, err := GenerateAccessToken(a.username, RoleAdmin, a.secret, a.ttl)
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: expires}, nil
}

// Validate parses a bearer token issued by Login.
func (a *Authenticator) Validate(token string) (*Claims, error) {
	return ParseToken(token, a.secret)
}
