package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionIssuer        = "cineflow-admin"
	testSessionSubject       = "local-123"
	testSessionEmail         = "admin@example.com"
)

func TestTokenIssuerRoundTripsThroughSessionVerifier(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockNow }

	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      30 * time.Minute,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected issuer error: %v", err)
	}
	verifier, err := NewSessionVerifier(SessionVerifierConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected verifier error: %v", err)
	}

	token, expiresAt, err := issuer.Issue(Identity{Subject: testSessionSubject, Email: testSessionEmail}, "Admin")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	identity, err := verifier.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if identity.Subject != testSessionSubject || identity.Email != testSessionEmail {
		t.Fatalf("unexpected identity %#v", identity)
	}
}

func TestSessionVerifierRejectsExpiredToken(t *testing.T) {
	clockNow := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewSessionVerifier(SessionVerifierConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		Clock: func() time.Time {
			return clockNow
		},
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email: testSessionEmail,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testSessionIssuer,
			Subject:   testSessionSubject,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signed)
	if !errors.Is(err, ErrUnauthenticated) || !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired unauthenticated error, got %v", err)
	}
}

func TestSessionVerifierRejectsForeignTokens(t *testing.T) {
	verifier, err := NewSessionVerifier(SessionVerifierConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
	})
	if err != nil {
		t.Fatalf("failed to construct verifier: %v", err)
	}

	now := time.Now()
	testCases := []struct {
		name   string
		secret string
		issuer string
	}{
		{name: "wrong-secret", secret: "other-secret", issuer: testSessionIssuer},
		{name: "wrong-issuer", secret: testSessionSigningSecret, issuer: "someone-else"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
				Email: testSessionEmail,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    testCase.issuer,
					Subject:   testSessionSubject,
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			})
			signed, err := token.SignedString([]byte(testCase.secret))
			if err != nil {
				t.Fatalf("failed to sign token: %v", err)
			}
			if _, err := verifier.Verify(context.Background(), signed); !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected unauthenticated error, got %v", err)
			}
		})
	}

	if _, err := verifier.Verify(context.Background(), "   "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated error for blank token, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecretAndIssuer(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testSessionIssuer}); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("x")}); !errors.Is(err, errMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
}
