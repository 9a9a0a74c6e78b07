// Command test-server runs the sync engine against a throwaway Postgres
// container and an in-memory IMAP server seeded with a small conversation.
// It is meant for local end-to-end checks of the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/logger"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/metrics"
	"github.com/vdavid/mailsync/internal/models"
	"github.com/vdavid/mailsync/internal/testutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	testUserEmail = "test@example.com"
	testAccountID = "test-imap-account"
	testAPIToken  = "test-token"
)

func main() {
	log, err := logger.New(logger.Config{Level: "debug", Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("Test server failed", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting test Postgres database")
	postgresContainer, connStr, err := testutil.StartPostgres(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := postgresContainer.Terminate(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to terminate Postgres container", zap.Error(err))
		}
	}()

	imapServer, err := testutil.StartIMAPServer()
	if err != nil {
		return err
	}
	defer func() { _ = imapServer.Close() }()
	log.Info("Test IMAP server started",
		zap.String("address", imapServer.Address),
		zap.String("username", imapServer.Username()),
	)

	if err := seedMailbox(imapServer); err != nil {
		return fmt.Errorf("failed to seed mailbox: %w", err)
	}

	cfg, err := testConfig(connStr)
	if err != nil {
		return err
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.CloseConnection(pool)

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return err
	}

	store := db.NewStore(pool)
	if err := linkTestAccount(ctx, store, pool, encryptor, imapServer); err != nil {
		return fmt.Errorf("failed to link test account: %w", err)
	}

	registry := prometheus.NewRegistry()
	syncMetrics := metrics.NewSync(registry)
	strategies := map[models.AccountKind]mailsync.Strategy{
		models.AccountKindIMAP: mailsync.NewProtocolPolling(nil, mailsync.ProtocolConfig{
			FetchLimit: cfg.IMAPFetchLimit,
			Timeout:    cfg.IMAPTimeout,
			UseTLS:     false,
		}, log.Named("protocol")),
	}
	orchestrator := mailsync.NewOrchestrator(store, encryptor, strategies, syncMetrics, log, cfg.SyncWorkers)
	scheduler := mailsync.NewScheduler(orchestrator, cfg.SyncInterval, syncMetrics, log.Named("scheduler"))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Dependencies{
			Store:    store,
			Syncer:   orchestrator,
			Trigger:  scheduler,
			Auth:     auth.NewAuthenticator(cfg.APITokens, log.Named("auth")),
			Gatherer: registry,
			Log:      log.Named("api"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("Test server ready",
		zap.String("address", server.Addr),
		zap.String("account_id", testAccountID),
		zap.String("token", testAPIToken),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return server.Shutdown(context.WithoutCancel(groupCtx))
	})
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	return group.Wait()
}

// testConfig points the engine at the container.
func testConfig(connStr string) (*config.Config, error) {
	parsed, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	conn := parsed.ConnConfig

	return &config.Config{
		Environment:         "test",
		EncryptionKeyBase64: testutil.TestEncryptionKey,
		DBHost:              conn.Host,
		DBPort:              strconv.Itoa(int(conn.Port)),
		DBUsername:          conn.User,
		DBPassword:          conn.Password,
		DBName:              conn.Database,
		DBSSLMode:           "disable",
		Port:                "8080",
		APITokens:           map[string]string{testAPIToken: testUserEmail},
		SyncInterval:        15 * time.Second,
		SyncWorkers:         2,
		IMAPFetchLimit:      100,
		IMAPTimeout:         5 * time.Second,
	}, nil
}

func seedMailbox(s *testutil.TestIMAPServer) error {
	now := time.Now().UTC().Truncate(time.Second)
	messages := []testutil.TestMessage{
		{
			MessageID: "<msg1@test>",
			From:      "sender@example.com",
			To:        testUserEmail,
			Subject:   "Welcome to mailsync",
			Date:      now.Add(-2 * time.Hour),
			Body:      "This is a test message.",
		},
		{
			MessageID: "<msg2@test>",
			From:      "colleague@example.com",
			To:        testUserEmail,
			Subject:   "Meeting Tomorrow",
			Date:      now.Add(-time.Hour),
			Body:      "Don't forget about the meeting tomorrow at 2 PM.",
		},
		{
			MessageID:  "<msg3@test>",
			InReplyTo:  "<msg2@test>",
			References: "<msg2@test>",
			From:       testUserEmail,
			To:         "colleague@example.com",
			Subject:    "Re: Meeting Tomorrow",
			Date:       now,
			Body:       "See you there.",
		},
	}

	for _, m := range messages {
		if err := s.Append(m.Raw()); err != nil {
			return fmt.Errorf("%s: %w", m.MessageID, err)
		}
	}
	return nil
}

func linkTestAccount(ctx context.Context, store *db.Store, pool *pgxpool.Pool, encryptor *crypto.Encryptor, s *testutil.TestIMAPServer) error {
	userID, err := store.GetOrCreateUser(ctx, testUserEmail)
	if err != nil {
		return err
	}

	password, err := encryptor.Encrypt(s.Password())
	if err != nil {
		return err
	}

	return db.SaveAccount(ctx, pool, &models.Account{
		ID:                testAccountID,
		UserID:            userID,
		EmailAddress:      testUserEmail,
		Kind:              models.AccountKindIMAP,
		IMAPHost:          s.Host(),
		IMAPPort:          s.Port(),
		IMAPUsername:      s.Username(),
		EncryptedPassword: password,
	})
}
