package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"subtrack/internal/handlers"
	"subtrack/internal/infra/logger"
	"subtrack/internal/localcache"
	"subtrack/internal/remote"
	"subtrack/internal/session"
	"subtrack/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter(t *testing.T) {
	// Setup dependencies. The remote client points nowhere; no route under
	// test reaches it because no session is established.
	log := logger.New("dev")

	cache, err := localcache.NewCache(":memory:")
	require.NoError(t, err, "failed to create cache")
	defer cache.Close()

	rc := remote.NewSupabase("http://127.0.0.1:1", "test-key", log)
	st := store.New(rc, cache, log)
	sm := session.New(rc, log, nil)
	defer sm.Close()

	mux := setupRouter(handlers.NewHandlers(sm, st, log))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"session state is public", http.MethodGet, "/api/session", http.StatusOK},
		{"list requires auth", http.MethodGet, "/api/subscriptions", http.StatusUnauthorized},
		{"create requires auth", http.MethodPost, "/api/subscriptions", http.StatusUnauthorized},
		{"refresh requires auth", http.MethodPost, "/api/subscriptions/refresh", http.StatusUnauthorized},
		{"update requires auth", http.MethodPut, "/api/subscriptions/abc", http.StatusUnauthorized},
		{"delete requires auth", http.MethodDelete, "/api/subscriptions/abc", http.StatusUnauthorized},
		{"stats requires auth", http.MethodGet, "/api/stats", http.StatusUnauthorized},
		{"signout requires auth", http.MethodPost, "/api/signout", http.StatusUnauthorized},
		{"unknown route", http.MethodGet, "/api/nope", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/session", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}
