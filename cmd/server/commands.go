package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mailsync",
		Short:        "Mail synchronization engine",
		Long:         "Mirrors linked IMAP and provider-API mailboxes into Postgres.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newSyncCmd(), newSubscribeCmd(), newLinkCmd(), newStatusCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	orchestrator := a.orchestrator()
	scheduler := mailsync.NewScheduler(orchestrator, a.cfg.SyncInterval, a.metrics, a.log.Named("scheduler"))
	server := newHTTPServer(a, orchestrator, scheduler)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.log.Info("Starting HTTP server", zap.String("address", server.Addr), zap.String("environment", a.cfg.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		a.log.Info("Starting scheduler", zap.Duration("interval", a.cfg.SyncInterval), zap.Int("workers", a.cfg.SyncWorkers))
		return scheduler.Run(groupCtx)
	})

	if a.cfg.IdleEnabled {
		supervisor := mailsync.NewIdleSupervisor(a.store, a.encryptor, protocolConfig(a.cfg), nil, scheduler.Trigger, a.log.Named("idle"))
		group.Go(func() error {
			return supervisor.Run(groupCtx)
		})
	}

	err := group.Wait()
	a.log.Info("Stopped")
	return err
}

func newSyncCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one account, or every account, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			orchestrator := a.orchestrator()
			if accountID != "" {
				result, err := orchestrator.SyncAccount(ctx, accountID)
				printResult(cmd, *result)
				return err
			}

			results, err := orchestrator.SyncAll(ctx)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range results {
				printResult(cmd, r)
				if r.Err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d accounts failed to sync", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "ID of the account to sync (default: all)")
	return cmd
}

func printResult(cmd *cobra.Command, r mailsync.Result) {
	status := "ok"
	if r.Err != nil {
		status = "failed: " + r.Error
	}
	cmd.Printf("%s\t%s\tfetched=%d created=%d updated=%d skipped=%d malformed=%d\t%s\n",
		r.AccountID, r.Strategy, r.Fetched, r.Created, r.Updated, r.Skipped, r.Malformed, status)
}

func newSubscribeCmd() *cobra.Command {
	var accountID, callbackURL string

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Register the webhook for a provider account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			account, err := a.store.FindAccountByID(ctx, accountID)
			if err != nil {
				return err
			}
			if account.Kind != models.AccountKindProvider {
				return fmt.Errorf("account %s is not a provider account", accountID)
			}
			token, err := a.encryptor.Decrypt(account.EncryptedAccessToken)
			if err != nil {
				return err
			}

			sub, err := a.provider.CreateSubscription(ctx, token, callbackURL)
			if err != nil {
				return err
			}
			cmd.Printf("subscription %d for %s -> %s\n", sub.ID, sub.Resource, sub.NotificationURL)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "ID of the provider account")
	cmd.Flags().StringVar(&callbackURL, "callback", "", "Public URL of /api/v1/webhooks/provider")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("callback")
	return cmd
}

// linkOptions describe an account to link from the command line.
type linkOptions struct {
	id        string
	userEmail string
	email     string
	kind      string
	host      string
	port      int
	username  string
	secretEnv string
}

func newLinkCmd() *cobra.Command {
	var opts linkOptions

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link an IMAP or provider account",
		Long: "Stores an account with its encrypted credential. The password or access token\n" +
			"is read from the environment variable named by --secret-env.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			account, err := opts.account(os.Getenv(opts.secretEnv), a.encryptor.Encrypt)
			if err != nil {
				return err
			}
			account.UserID, err = a.store.GetOrCreateUser(ctx, opts.userEmail)
			if err != nil {
				return err
			}
			if err := db.SaveAccount(ctx, a.pool, account); err != nil {
				return err
			}
			cmd.Printf("linked %s account %s (%s)\n", account.Kind, account.ID, account.EmailAddress)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.id, "id", "", "Account ID (default: random; provider accounts use the provider's account id)")
	flags.StringVar(&opts.userEmail, "user", "", "Email of the owning user")
	flags.StringVar(&opts.email, "email", "", "Address of the mailbox")
	flags.StringVar(&opts.kind, "kind", string(models.AccountKindIMAP), "imap or provider")
	flags.StringVar(&opts.host, "host", "", "IMAP host")
	flags.IntVar(&opts.port, "port", 993, "IMAP port")
	flags.StringVar(&opts.username, "username", "", "IMAP username (default: --email)")
	flags.StringVar(&opts.secretEnv, "secret-env", "MAILSYNC_LINK_SECRET", "Environment variable holding the password or access token")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (o linkOptions) account(secret string, encrypt func(string) ([]byte, error)) (*models.Account, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s is empty", o.secretEnv)
	}
	ciphertext, err := encrypt(secret)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		ID:           o.id,
		EmailAddress: o.email,
		Kind:         models.AccountKind(o.kind),
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	switch account.Kind {
	case models.AccountKindIMAP:
		if o.host == "" {
			return nil, errors.New("--host is required for IMAP accounts")
		}
		account.IMAPHost = o.host
		account.IMAPPort = o.port
		account.IMAPUsername = o.username
		account.EncryptedPassword = ciphertext
	case models.AccountKindProvider:
		if o.id == "" {
			return nil, errors.New("--id is required for provider accounts")
		}
		account.EncryptedAccessToken = ciphertext
	default:
		return nil, fmt.Errorf("unknown account kind %q", o.kind)
	}
	return account, nil
}

func newStatusCmd() *cobra.Command {
	var accountID string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an account's cursor, recent runs and newest threads",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			account, err := a.store.FindAccountByID(ctx, accountID)
			if err != nil {
				return err
			}
			logs, err := db.GetSyncLogs(ctx, a.pool, accountID)
			if err != nil {
				return err
			}
			threads, err := db.GetThreadsForAccount(ctx, a.pool, accountID, limit, 0)
			if err != nil {
				return err
			}

			printStatus(cmd, account, logs, threads, limit)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "ID of the account")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of runs and threads to show")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func printStatus(cmd *cobra.Command, account *models.Account, logs []*models.SyncLog, threads []*models.Thread, limit int) {
	cursor := "-"
	if account.Cursor != nil {
		cursor = *account.Cursor
	}
	lastSynced := "never"
	if account.LastSyncedAt != nil {
		lastSynced = account.LastSyncedAt.Format(time.RFC3339)
	}
	cmd.Printf("%s (%s, %s)\tcursor=%s last_synced=%s needs_attention=%t\n",
		account.ID, account.EmailAddress, account.Kind, cursor, lastSynced, account.NeedsAttention)

	cmd.Println("runs:")
	for i, l := range logs {
		if i == limit {
			break
		}
		cmd.Printf("  %s\t%s\tmessages=%d\t%s\n", l.StartedAt.Format(time.RFC3339), l.Status, l.MessagesSynced, l.Error)
	}

	cmd.Println("threads:")
	for _, t := range threads {
		last := "-"
		if t.LastMessageAt != nil {
			last = t.LastMessageAt.Format(time.RFC3339)
		}
		cmd.Printf("  %s\t%s\t%s\n", last, t.ID, t.Subject)
	}
}
