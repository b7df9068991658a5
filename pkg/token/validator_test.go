package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signHMAC(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return s
}

func TestHMACValidator_Validate(t *testing.T) {
	v := NewHMACValidator("test-secret")

	tokenString := signHMAC(t, "test-secret", userClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		PreferredUsername: "hossam",
	})

	id, err := v.Validate(tokenString)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if id.UserID != "user-42" {
		t.Errorf("Expected user ID user-42, got %q", id.UserID)
	}
	if id.Username != "hossam" {
		t.Errorf("Expected username hossam, got %q", id.Username)
	}
	if id.ExpiresAt == 0 {
		t.Errorf("Expected expiry to be set")
	}
}

func TestHMACValidator_Rejections(t *testing.T) {
	v := NewHMACValidator("test-secret")
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", signHMAC(t, "other-secret", jwt.RegisteredClaims{
			Subject: "user-42", ExpiresAt: future,
		})},
		{"expired", signHMAC(t, "test-secret", jwt.RegisteredClaims{
			Subject: "user-42", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})},
		{"no expiry", signHMAC(t, "test-secret", jwt.RegisteredClaims{
			Subject: "user-42",
		})},
		{"no subject", signHMAC(t, "test-secret", jwt.RegisteredClaims{
			ExpiresAt: future,
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Validate(tt.token); err == nil {
				t.Errorf("Expected validation to fail")
			}
		})
	}
}
