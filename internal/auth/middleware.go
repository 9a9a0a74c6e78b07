package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

// UserEmailKey is the context key used to store the authenticated user's email.
const UserEmailKey contextKey = "user_email"

// ErrInvalidToken is returned for an empty or unknown bearer token.
var ErrInvalidToken = errors.New("invalid token")

// Authenticator checks bearer tokens against a static token -> email table.
type Authenticator struct {
	tokens map[string]string
	log    *zap.Logger
}

// NewAuthenticator creates an authenticator. An empty table rejects every request.
func NewAuthenticator(tokens map[string]string, log *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, log: log}
}

// RequireAuth middleware checks for a valid bearer token in the Authorization header
// and stores the user's email in the request context. Returns 401 Unauthorized if
// authentication fails.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			a.log.Debug("Auth: missing or malformed Authorization header", zap.String("path", r.URL.Path))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userEmail, err := a.ValidateToken(token)
		if err != nil {
			a.log.Info("Auth: token validation failed", zap.String("path", r.URL.Path), zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserEmailKey, userEmail)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken parses "Bearer <token>". The scheme is case-insensitive (RFC 7235).
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}

// ValidateToken returns the email the token belongs to.
func (a *Authenticator) ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}

	// Compare against every entry so timing does not reveal a prefix match.
	var email string
	for known, owner := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			email = owner
		}
	}
	if email == "" {
		return "", ErrInvalidToken
	}
	return email, nil
}

// GetUserEmailFromContext returns the user email from the context.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(UserEmailKey).(string)
	return email, ok
}
