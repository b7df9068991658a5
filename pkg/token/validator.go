package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated user attached to a connection for its whole
// lifetime. Produced exactly once at handshake; never re-derived per event.
type Identity struct {
	UserID    string
	Username  string
	ExpiresAt int64
}

// Validator turns a bearer credential into an Identity.
type Validator interface {
	Validate(tokenString string) (Identity, error)
}

// userClaims extends jwt.RegisteredClaims with the profile fields the
// identity provider puts in access tokens.
type userClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
}

// JWKSValidator validates access tokens against a JWKS endpoint.
type JWKSValidator struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewJWKSValidator fetches and caches the signing keys, retrying while the
// identity provider may still be starting.
func NewJWKSValidator(jwksURL, issuer string) (*JWKSValidator, error) {
	slog.Info("Initializing JWKS validator", "jwks_url", jwksURL)

	var jwks *keyfunc.JWKS
	var err error
	for attempt := 1; attempt <= 30; attempt++ {
		jwks, err = keyfunc.Get(jwksURL, keyfunc.Options{
			Ctx:                 context.Background(),
			RefreshInterval:     5 * time.Minute,
			RefreshRateLimit:    1 * time.Minute,
			RefreshUnknownKID:   true,
			RefreshErrorHandler: func(err error) { slog.Error("JWKS refresh error", "error", err) },
		})
		if err == nil {
			break
		}
		slog.Info("Waiting for JWKS endpoint", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS after retries: %w", err)
	}

	slog.Info("JWKS loaded successfully", "jwks_url", jwksURL)

	return &JWKSValidator{jwks: jwks, issuer: issuer}, nil
}

// Validate parses and validates an access token.
func (v *JWKSValidator) Validate(tokenString string) (Identity, error) {
	claims := &userClaims{}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("token is not valid")
	}

	return identityFromClaims(claims)
}

// Close shuts down the JWKS background refresh goroutine.
func (v *JWKSValidator) Close() {
	v.jwks.EndBackground()
}

// HMACValidator validates tokens signed with a shared secret. Used for
// development and tests where no JWKS endpoint is available.
type HMACValidator struct {
	secret []byte
}

func NewHMACValidator(secret string) *HMACValidator {
	return &HMACValidator{secret: []byte(secret)}
}

func (v *HMACValidator) Validate(tokenString string) (Identity, error) {
	claims := &userClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("token is not valid")
	}

	return identityFromClaims(claims)
}

func identityFromClaims(claims *userClaims) (Identity, error) {
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}
	var expiresAt int64
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Unix()
	}
	return Identity{
		UserID:    claims.Subject,
		Username:  claims.PreferredUsername,
		ExpiresAt: expiresAt,
	}, nil
}
