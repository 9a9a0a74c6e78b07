package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/store"
	"go.uber.org/zap"
)

// Dependencies are what the router wires into the handlers.
type Dependencies struct {
	Store         store.Store
	Syncer        AccountSyncer
	Trigger       Trigger
	Auth          *auth.Authenticator
	SigningSecret string
	Gatherer      prometheus.Gatherer
	Log           *zap.Logger
}

// NewRouter builds the HTTP handler of the engine.
func NewRouter(deps Dependencies) http.Handler {
	syncHandler := NewSyncHandler(deps.Store, deps.Syncer, deps.Log)
	webhookHandler := NewWebhookHandler(deps.Store, deps.Trigger, deps.SigningSecret, deps.Log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("POST /api/v1/accounts/{id}/sync", deps.Auth.RequireAuth(http.HandlerFunc(syncHandler.SyncAccount)))
	mux.Handle("/api/v1/webhooks/provider", webhookHandler)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}
