package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSessionSigningKey = errors.New("session verifier: signing key required")
	ErrMissingSessionIssuer     = errors.New("session verifier: issuer required")
	errMissingSessionToken      = errors.New("session verifier: token required")
	errMissingSessionSubject    = errors.New("session verifier: subject required")
	errIssuerMismatch           = errors.New("session verifier: issuer mismatch")
)

// SessionClaims is the payload of locally issued HS256 bearer tokens.
type SessionClaims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifierConfig describes how to validate locally issued tokens.
type SessionVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// SessionVerifier validates HS256 tokens minted by TokenIssuer. It backs the
// session auth mode used for local development without a Firebase project.
type SessionVerifier struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time
}

// NewSessionVerifier constructs a verifier with the provided configuration.
func NewSessionVerifier(cfg SessionVerifierConfig) (*SessionVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingSessionIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// Verify validates the supplied JWT string and returns the caller identity.
func (v *SessionVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, errMissingSessionToken)
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if parsed == nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: token invalid", ErrUnauthenticated)
	}
	if claims.Issuer != v.issuer {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, errIssuerMismatch)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, errMissingSessionSubject)
	}
	return Identity{
		Subject: subject,
		Email:   claims.Email,
	}, nil
}
