// Package api holds the HTTP surface of the sync engine: the manual sync
// trigger, the provider webhook and health checks.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
)

// GetUserIDFromContext extracts the user's email from context, resolves/creates the user,
// and writes appropriate HTTP errors when it fails. Returns (userID, true) on success.
func GetUserIDFromContext(ctx context.Context, w http.ResponseWriter, s store.Store, log *zap.Logger) (string, bool) {
	email, ok := auth.GetUserEmailFromContext(ctx)
	if !ok {
		log.Warn("API: no user email in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}

	userID, err := s.GetOrCreateUser(ctx, email)
	if err != nil {
		log.Error("API: failed to get or create user", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return "", false
	}

	return userID, true
}

// writeJSON encodes v to a buffer first so a failed encode never sends a partial body.
func writeJSON(w http.ResponseWriter, status int, v any, log *zap.Logger) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		log.Error("API: failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Warn("API: failed to write response", zap.Error(err))
	}
}
