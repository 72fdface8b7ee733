package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testProjectID = "cineflow-test"
	testKeyID     = "test-key"
)

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	server     *httptest.Server
	requests   *atomic.Int64
}

func newJWKSFixture(t *testing.T) jwksFixture {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	jwksResponse := map[string]any{
		"keys": []any{
			map[string]string{
				"kty": "RSA",
				"alg": "RS256",
				"kid": testKeyID,
				"use": "sig",
				"n":   encodeBigInt(privateKey.PublicKey.N),
				"e":   encodeBigInt(privateKey.PublicKey.E),
			},
		},
	}
	requests := &atomic.Int64{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
	t.Cleanup(server.Close)
	return jwksFixture{privateKey: privateKey, server: server, requests: requests}
}

func (f jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(f.privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (f jwksFixture) verifier(t *testing.T, clock func() time.Time) *FirebaseVerifier {
	t.Helper()
	verifier, err := NewFirebaseVerifier(FirebaseVerifierConfig{
		ProjectID:  testProjectID,
		JWKSURL:    f.server.URL,
		HTTPClient: f.server.Client(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func firebaseClaimsAt(now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"aud":            testProjectID,
		"iss":            firebaseIssuerPrefix + testProjectID,
		"sub":            "uid-123",
		"email":          "admin@example.com",
		"email_verified": true,
		"exp":            now.Add(5 * time.Minute).Unix(),
		"iat":            now.Add(-time.Minute).Unix(),
	}
}

func TestFirebaseVerifierReturnsIdentity(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()
	verifier := fixture.verifier(t, nil)

	identity, err := verifier.Verify(context.Background(), fixture.sign(t, firebaseClaimsAt(now)))
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if identity.Subject != "uid-123" {
		t.Fatalf("unexpected subject %s", identity.Subject)
	}
	if identity.Email != "admin@example.com" {
		t.Fatalf("unexpected email %s", identity.Email)
	}

	if _, err := verifier.Verify(context.Background(), fixture.sign(t, firebaseClaimsAt(now))); err != nil {
		t.Fatalf("second verification failed: %v", err)
	}
	if fixture.requests.Load() != 1 {
		t.Fatalf("expected jwks to be fetched once, got %d", fixture.requests.Load())
	}
}

func TestFirebaseVerifierRejectsInvalidTokens(t *testing.T) {
	fixture := newJWKSFixture(t)
	now := time.Now().UTC()

	testCases := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{
			name:   "wrong-audience",
			mutate: func(claims jwt.MapClaims) { claims["aud"] = "other-project" },
		},
		{
			name:   "wrong-issuer",
			mutate: func(claims jwt.MapClaims) { claims["iss"] = "https://accounts.google.com" },
		},
		{
			name:   "missing-subject",
			mutate: func(claims jwt.MapClaims) { delete(claims, "sub") },
		},
		{
			name:   "oversized-subject",
			mutate: func(claims jwt.MapClaims) { claims["sub"] = strings.Repeat("x", 129) },
		},
		{
			name:   "missing-expiry",
			mutate: func(claims jwt.MapClaims) { delete(claims, "exp") },
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			claims := firebaseClaimsAt(now)
			testCase.mutate(claims)
			_, err := fixture.verifier(t, nil).Verify(context.Background(), fixture.sign(t, claims))
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("expected unauthenticated error, got %v", err)
			}
		})
	}
}

func TestFirebaseVerifierKeepsExpiryCause(t *testing.T) {
	fixture := newJWKSFixture(t)
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	verifier := fixture.verifier(t, func() time.Time {
		return issuedAt.Add(time.Hour)
	})

	_, err := verifier.Verify(context.Background(), fixture.sign(t, firebaseClaimsAt(issuedAt)))
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expiry cause to be preserved, got %v", err)
	}
}

func TestFirebaseVerifierRejectsUnknownKey(t *testing.T) {
	fixture := newJWKSFixture(t)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, firebaseClaimsAt(time.Now().UTC()))
	token.Header["kid"] = "rotated-away"
	signed, err := token.SignedString(fixture.privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	_, err = fixture.verifier(t, nil).Verify(context.Background(), signed)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated error, got %v", err)
	}
}

func TestNewFirebaseVerifierRequiresProjectAndJWKS(t *testing.T) {
	_, err := NewFirebaseVerifier(FirebaseVerifierConfig{JWKSURL: "https://example.com/jwks"})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingProjectConfig.Error()) {
		t.Fatalf("expected project validation error to be reported, got %v", err)
	}

	_, err = NewFirebaseVerifier(FirebaseVerifierConfig{ProjectID: testProjectID, JWKSURL: " "})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingJWKSURL.Error()) {
		t.Fatalf("expected jwks validation error to be reported, got %v", err)
	}
}

func encodeBigInt(value interface{}) string {
	switch v := value.(type) {
	case *big.Int:
		return base64.RawURLEncoding.EncodeToString(v.Bytes())
	case int:
		return encodeBigInt(int64(v))
	case int64:
		return base64.RawURLEncoding.EncodeToString(big.NewInt(v).Bytes())
	default:
		return ""
	}
}
