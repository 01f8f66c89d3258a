package auth

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	adminHashOnce sync.Once
	adminHash     string
)

// testHash returns a hash of "hunter22", computed once per run.
func testHash(t *testing.T) string {
	t.Helper()
	adminHashOnce.Do(func() {
		h, err := HashPassword("hunter22")
		if err != nil {
			t.Fatalf("HashPassword() error = %v", err)
		}
		adminHash = h
	})
	return adminHash
}

func TestAuthenticator_Login(t *testing.T) {
	a := NewAuthenticator("admin", testHash(t), testSecret, time.Hour)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "admin", "hunter22", nil},
		{"wrong password", "admin", "hunter2", ErrInvalidCredentials},
		{"wrong username", "root", "hunter22", ErrInvalidCredentials},
		{"empty", "", "", ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := a.Login(tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Login() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			claims, err := a.Validate(tok.AccessToken)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if claims.Subject != "admin" || claims.Role != RoleAdmin {
				t.Errorf("claims = %+v", claims)
			}
			if time.Until(tok.ExpiresAt) < 59*time.Minute {
				t.Errorf("ExpiresAt = %v, want about an hour away", tok.ExpiresAt)
			}
		})
	}
}

func TestAuthenticator_LoginDisabled(t *testing.T) {
	a := NewAuthenticator("admin", "", testSecret, time.Hour)
	if _, err := a.Login("admin", "anything"); !errors.Is(err, ErrLoginDisabled) {
		t.Errorf("Login() error = %v, want ErrLoginDisabled", err)
	}
}

func TestAuthenticator_MalformedHash(t *testing.T) {
	a := NewAuthenticator("admin", "plaintext", testSecret, time.Hour)
	_, err := a.Login("admin", "plaintext")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want hash format error", err)
	}
}

func TestAuthenticator_ValidateRejectsForeignToken(t *testing.T) {
	other, _, err := GenerateAccessToken("admin", RoleAdmin, "some-other-secret-at-least-32-chars", time.Hour)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	a := NewAuthenticator("admin", "", testSecret, time.Hour)
	if _, err := a.Validate(other); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
	}
}
