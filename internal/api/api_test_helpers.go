package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/mailsync"
)

// createRequestWithUser creates an HTTP request with user email in context.
func createRequestWithUser(method, url, email string) *http.Request {
	req := httptest.NewRequest(method, url, nil)
	ctx := context.WithValue(req.Context(), auth.UserEmailKey, email)
	return req.WithContext(ctx)
}

// VerifyAuthCheck verifies that the handler returns 401 Unauthorized when no user is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no user email in context")
}

type fakeSyncer struct {
	mu     sync.Mutex
	calls  []string
	result *mailsync.Result
	err    error
}

func (f *fakeSyncer) SyncAccount(_ context.Context, accountID string) (*mailsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, accountID)
	if f.result != nil {
		return f.result, f.err
	}
	return &mailsync.Result{AccountID: accountID}, f.err
}

type fakeTrigger struct {
	mu      sync.Mutex
	sources []string
	ids     []string
}

func (f *fakeTrigger) Trigger(source, accountID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	f.ids = append(f.ids, accountID)
	return true
}
