package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
)

// AccountSyncer runs one account sync.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, accountID string) (*mailsync.Result, error)
}

// SyncHandler serves POST /api/v1/accounts/{id}/sync.
type SyncHandler struct {
	store  store.Store
	syncer AccountSyncer
	log    *zap.Logger
}

func NewSyncHandler(s store.Store, syncer AccountSyncer, log *zap.Logger) *SyncHandler {
	return &SyncHandler{store: s, syncer: syncer, log: log}
}

// SyncAccount runs a sync of one of the caller's accounts and returns its result.
func (h *SyncHandler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserIDFromContext(ctx, w, h.store, h.log)
	if !ok {
		return
	}

	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "account id is required", http.StatusBadRequest)
		return
	}

	account, err := h.store.FindAccountByID(ctx, accountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("SyncHandler: failed to load account", zap.String("account_id", accountID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	// Someone else's account looks the same as a missing one.
	if account.UserID != userID {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}

	result, err := h.syncer.SyncAccount(ctx, accountID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result, h.log)
	case errors.Is(err, mailsync.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, result, h.log)
	case errors.Is(err, store.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	default:
		// The run itself failed; the result says how far it got.
		writeJSON(w, http.StatusBadGateway, result, h.log)
	}
}
