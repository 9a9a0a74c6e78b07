package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/logger"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/metrics"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/provider"
	"go.uber.org/zap"
)

// app holds everything the commands share.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	pool      *pgxpool.Pool
	store     *db.Store
	encryptor *crypto.Encryptor
	provider  *provider.Client
	registry  *prometheus.Registry
	metrics   *metrics.Sync
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		LogFile:     cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("Connected to database", zap.String("host", cfg.DBHost), zap.String("database", cfg.DBName))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		store:     db.NewStore(pool),
		encryptor: encryptor,
		provider:  provider.NewClient(cfg.ProviderAPIURL, cfg.ProviderRequestsPerSecond),
		registry:  registry,
		metrics:   metrics.NewSync(registry),
	}, nil
}

func (a *app) close() {
	db.CloseConnection(a.pool)
	_ = a.log.Sync()
}

func (a *app) orchestrator() *mailsync.Orchestrator {
	return mailsync.NewOrchestrator(a.store, a.encryptor, strategies(a.cfg, a.provider, a.log), a.metrics, a.log, a.cfg.SyncWorkers)
}

func protocolConfig(cfg *config.Config) mailsync.ProtocolConfig {
	return mailsync.ProtocolConfig{
		FetchLimit: cfg.IMAPFetchLimit,
		Timeout:    cfg.IMAPTimeout,
		UseTLS:     cfg.IMAPUseTLS,
	}
}

// strategies maps every account kind to its fetch strategy.
func strategies(cfg *config.Config, api mailsync.ProviderAPI, log *zap.Logger) map[models.AccountKind]mailsync.Strategy {
	providerCfg := mailsync.DefaultProviderConfig()
	providerCfg.DaysWithin = cfg.ProviderSyncDaysWithin
	providerCfg.Init.Base = cfg.ProviderInitBaseDelay
	providerCfg.Init.MaxAttempts = cfg.ProviderInitMaxAttempts

	return map[models.AccountKind]mailsync.Strategy{
		models.AccountKindIMAP:     mailsync.NewProtocolPolling(nil, protocolConfig(cfg), log.Named("protocol")),
		models.AccountKindProvider: mailsync.NewProviderDelta(api, providerCfg, log.Named("provider")),
	}
}

// newHTTPServer builds the API server around the sync engine.
func newHTTPServer(a *app, orchestrator *mailsync.Orchestrator, scheduler *mailsync.Scheduler) *http.Server {
	router := api.NewRouter(api.Dependencies{
		Store:         a.store,
		Syncer:        orchestrator,
		Trigger:       scheduler,
		Auth:          auth.NewAuthenticator(a.cfg.APITokens, a.log.Named("auth")),
		SigningSecret: a.cfg.ProviderSigningSecret,
		Gatherer:      a.registry,
		Log:           a.log.Named("api"),
	})

	return &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual syncs answer after the run finishes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
}
