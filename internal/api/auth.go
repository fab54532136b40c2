package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL is the lifetime of a dashboard access token.
const DefaultAccessTokenTTL = 24 * time.Hour

const tokenIssuerName = "evalubot"

// ErrInvalidToken is returned for missing, expired, forged or foreign-subject tokens.
var ErrInvalidToken = errors.New("invalid or expired access token")

type contextKey string

const subjectKeyCtx contextKey = "dashboardSubject"

// DashboardClaims scope an access token to one subject's dashboard.
type DashboardClaims struct {
	SubjectKey string `json:"subjectKey"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and verifies HS256 dashboard tokens.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func newTokenIssuer(secret string, ttl time.Duration) *tokenIssuer {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	return &tokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func dashboardKey(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

// Issue returns a signed token for subject and its expiry.
func (t *tokenIssuer) Issue(subject string) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := &DashboardClaims{
		SubjectKey: dashboardKey(subject),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuerName,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses a token and returns its claims.
func (t *tokenIssuer) Verify(tokenString string) (*DashboardClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DashboardClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuerName), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*DashboardClaims)
	if !ok || !token.Valid || claims.SubjectKey == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// requireDashboard rejects requests without a valid bearer token.
func (s *Server) requireDashboard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			slog.Warn("Server.requireDashboard: missing bearer token", "path", r.URL.Path)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing authorization header"))
			return
		}
		claims, err := s.tokens.Verify(raw)
		if err != nil {
			slog.Warn("Server.requireDashboard: rejected token", "path", r.URL.Path, "error", err)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error(err.Error()))
			return
		}
		ctx := context.WithValue(r.Context(), subjectKeyCtx, claims.SubjectKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorizedFor reports whether the request's token grants access to subject.
func authorizedFor(r *http.Request, subject string) bool {
	key, _ := r.Context().Value(subjectKeyCtx).(string)
	return key != "" && key == dashboardKey(subject)
}
