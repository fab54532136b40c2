package api

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	ti := newTokenIssuer("secret", time.Hour)
	tok, exp, err := ti.Issue("  Nova ")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v is not in the future", exp)
	}
	claims, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if claims.SubjectKey != "nova" {
		t.Errorf("SubjectKey = %q, want nova", claims.SubjectKey)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	ti := newTokenIssuer("secret", time.Hour)
	tok, _, err := ti.Issue("Nova")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := newTokenIssuer("other", time.Hour).Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	expired := newTokenIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Issue("Nova")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(old); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token: expected ErrInvalidToken, got %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &DashboardClaims{
		SubjectKey:       "nova",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuerName},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unexpected algorithm: expected ErrInvalidToken, got %v", err)
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &DashboardClaims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuerName},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ti.Verify(noSubject); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("missing subject: expected ErrInvalidToken, got %v", err)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
