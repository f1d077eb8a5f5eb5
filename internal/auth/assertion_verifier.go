package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAssertionSigningKey = errors.New("assertion verifier: signing key required")
	ErrMissingAssertionIssuer     = errors.New("assertion verifier: issuer required")
	ErrMissingAssertionToken      = errors.New("assertion verifier: token required")
	ErrInvalidAssertionToken      = errors.New("assertion verifier: invalid token")
	ErrExpiredAssertionToken      = errors.New("assertion verifier: token expired")
	ErrMissingAssertionSubject    = errors.New("assertion verifier: subject required")
)

// IdentityAssertion exposes the verified identity data required downstream.
// The identity provider in front of this service owns credential checks; the
// backend only verifies its signed assertion.
type IdentityAssertion struct {
	Subject     string
	Email       string
	DisplayName string
}

type assertionClaims struct {
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// AssertionVerifierConfig describes how to validate identity-provider JWTs.
type AssertionVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// AssertionVerifier validates HS256 JWTs minted by the identity provider.
type AssertionVerifier struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewAssertionVerifier constructs a verifier with the provided configuration.
func NewAssertionVerifier(cfg AssertionVerifierConfig) (*AssertionVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingAssertionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingAssertionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AssertionVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// Verify validates the supplied JWT string and returns the asserted identity.
func (v *AssertionVerifier) Verify(tokenString string) (IdentityAssertion, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return IdentityAssertion{}, ErrMissingAssertionToken
	}

	claims := &assertionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidAssertionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return IdentityAssertion{}, ErrExpiredAssertionToken
		}
		return IdentityAssertion{}, fmt.Errorf("%w: %v", ErrInvalidAssertionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return IdentityAssertion{}, ErrInvalidAssertionToken
	}
	if claims.Issuer != v.issuer {
		return IdentityAssertion{}, ErrInvalidAssertionToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return IdentityAssertion{}, ErrMissingAssertionSubject
	}
	return IdentityAssertion{
		Subject:     strings.TrimSpace(claims.Subject),
		Email:       strings.TrimSpace(claims.UserEmail),
		DisplayName: strings.TrimSpace(claims.UserDisplayName),
	}, nil
}
