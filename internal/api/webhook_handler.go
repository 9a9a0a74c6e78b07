package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
)

const (
	timestampHeader = "X-Aurinko-Request-Timestamp"
	signatureHeader = "X-Aurinko-Signature"
	maxWebhookBody  = 1 << 20
)

// Trigger queues an account sync.
type Trigger interface {
	Trigger(source, accountID string) bool
}

// WebhookHandler serves the provider's change notifications.
type WebhookHandler struct {
	store   store.Store
	trigger Trigger
	secret  string
	log     *zap.Logger
}

func NewWebhookHandler(s store.Store, trigger Trigger, signingSecret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{store: s, trigger: trigger, secret: signingSecret, log: log}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.log.Info("Webhook verification request received")
		writeText(w, http.StatusOK, "Webhook endpoint is ready")
	case http.MethodPost:
		h.handleNotification(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *WebhookHandler) handleNotification(w http.ResponseWriter, r *http.Request) {
	timestamp := r.Header.Get(timestampHeader)
	signature := r.Header.Get(signatureHeader)

	// The provider verifies the endpoint with an unsigned POST.
	if timestamp == "" && signature == "" {
		h.log.Info("Webhook verification POST received")
		writeText(w, http.StatusOK, "OK")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if timestamp == "" || signature == "" || len(body) == 0 {
		h.log.Warn("Webhook missing headers or body",
			zap.Bool("has_timestamp", timestamp != ""),
			zap.Bool("has_signature", signature != ""),
			zap.Int("body_length", len(body)),
		)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := crypto.VerifySignature(h.secret, timestamp, body, signature); err != nil {
		h.log.Warn("Webhook signature verification failed", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var notification provider.Notification
	if err := json.Unmarshal(body, &notification); err != nil || notification.AccountID == "" {
		h.log.Warn("Webhook body is not a notification", zap.Error(err))
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	accountID := string(notification.AccountID)
	ctx := r.Context()
	if _, err := h.store.FindAccountByID(ctx, accountID); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.log.Warn("Webhook for unknown account", zap.String("account_id", accountID))
			http.Error(w, "Account not found", http.StatusNotFound)
			return
		}
		h.log.Error("Webhook account lookup failed", zap.String("account_id", accountID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	queued := h.trigger.Trigger("webhook", accountID)
	h.log.Info("Webhook processed",
		zap.String("account_id", accountID),
		zap.Int("changes", len(notification.Payloads)),
		zap.Bool("queued", queued),
	)
	w.WriteHeader(http.StatusOK)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
