package mailsync

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/normalize"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
	"go.uber.org/zap"
)

var (
	// ErrInitializationTimeout is returned when the provider never became ready.
	ErrInitializationTimeout = errors.New("provider account failed to initialize")
	// ErrSyncInProgress is returned when the account is already being synced.
	ErrSyncInProgress = errors.New("sync already in progress for account")
	// ErrBatchIncomplete is returned when some messages could not be stored.
	// The cursor is not advanced, so the next run retries the same window.
	ErrBatchIncomplete = errors.New("batch incomplete")
	// ErrCursorCommit is returned when the cursor could not be persisted.
	ErrCursorCommit = errors.New("failed to commit cursor")
	// ErrNoStrategy is returned for an account kind without a fetch strategy.
	ErrNoStrategy = errors.New("no fetch strategy for account kind")
)

// ErrorClass groups failures by how the engine reacts to them.
type ErrorClass string

const (
	ClassTransient      ErrorClass = "transient"
	ClassAuthentication ErrorClass = "authentication"
	ClassMalformed      ErrorClass = "malformed"
	ClassAddress        ErrorClass = "address"
	ClassStore          ErrorClass = "store"
	ClassCursor         ErrorClass = "cursor"
	ClassDecryption     ErrorClass = "decryption"
	ClassUnknown        ErrorClass = "unknown"
)

// Classify maps an error to its class.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	var apiErr *provider.APIError
	var netErr net.Error

	switch {
	case errors.Is(err, crypto.ErrDecrypt):
		return ClassDecryption
	case errors.Is(err, imap.ErrAuthentication), errors.Is(err, provider.ErrUnauthorized):
		return ClassAuthentication
	case errors.Is(err, normalize.ErrMalformed):
		return ClassMalformed
	case errors.Is(err, reconcile.ErrAddressResolution):
		return ClassAddress
	case errors.Is(err, ErrCursorCommit):
		return ClassCursor
	case errors.Is(err, ErrBatchIncomplete), errors.As(err, &pgErr):
		return ClassStore
	case errors.Is(err, provider.ErrNotReady), errors.Is(err, ErrInitializationTimeout):
		return ClassTransient
	case errors.As(err, &apiErr):
		if apiErr.Temporary() {
			return ClassTransient
		}
		return ClassUnknown
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.As(err, &netErr):
		return ClassTransient
	default:
		return ClassUnknown
	}
}

// storeErrorFields describes a store failure for the log, separating known
// database errors from everything else.
func storeErrorFields(err error) []zap.Field {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return []zap.Field{
			zap.String("error_kind", "database"),
			zap.String("pg_code", pgErr.Code),
			zap.String("pg_constraint", pgErr.ConstraintName),
			zap.Error(err),
		}
	}
	return []zap.Field{zap.String("error_kind", "unknown"), zap.Error(err)}
}
