package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/middleware"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
)

func newTestRouter(t *testing.T, rl *middleware.RateLimiter) http.Handler {
	t.Helper()
	e, err := optimizer.New(config.DefaultOptimization())
	require.NoError(t, err)
	return NewRouter(Deps{Engine: e, RateLimiter: rl})
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.RemoteAddr = "198.51.100.7:4000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRoutesRegistered(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		method, path, body string
	}{
		{http.MethodGet, "/health", ""},
		{http.MethodGet, "/metrics", ""},
		{http.MethodGet, "/api/performance/health", ""},
		{http.MethodGet, "/api/performance/report", ""},
		{http.MethodPost, "/api/performance/optimize-memory", ""},
		{http.MethodPost, "/api/performance/reset", ""},
		{http.MethodGet, "/api/performance/config", ""},
		{http.MethodPatch, "/api/performance/config", `{"enable_metrics":true}`},
		{http.MethodGet, "/api/performance/cache/stats", ""},
		{http.MethodPost, "/api/performance/cache/invalidate", ""},
		{http.MethodGet, "/api/performance/rules", ""},
		{http.MethodPut, "/api/performance/rules/memory-cleanup", `{"enabled":true}`},
		{http.MethodGet, "/api/errors", ""},
		{http.MethodPost, "/api/errors", `{"type":"network","message":"offline"}`},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(router, tt.method, tt.path, tt.body)
			assert.Less(t, rr.Code, 300, "body: %s", rr.Body.String())
			assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func decodeAPIError(t *testing.T, rr *httptest.ResponseRecorder) *apierr.Error {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), "body: %s", rr.Body.String())
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/api/performance/reset", "/api/errors", "/health"} {
		t.Run(path, func(t *testing.T) {
			rr := serve(router, http.MethodDelete, path, "")
			require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			apiErr := decodeAPIError(t, rr)
			assert.Equal(t, apierr.ErrResourceMethodNotAllowed, apiErr.Code)
			assert.Equal(t, http.MethodDelete, apiErr.Details["method"])
		})
	}
}

func TestRoutes_NotFound(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/api/nope", "/nope"} {
		rr := serve(router, http.MethodGet, path, "")
		require.Equal(t, http.StatusNotFound, rr.Code, path)
		assert.Equal(t, apierr.ErrResourceNotFound, decodeAPIError(t, rr).Code, path)
	}
}

func TestRoutes_WebSocketOnlyWithHub(t *testing.T) {
	router := newTestRouter(t, nil)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/performance/ws", "").Code)
}

func TestRoutes_RateLimitAppliesToAPIOnly(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimitConfig{GlobalRate: 100, GlobalBurst: 100, PerIPRate: 0.1, PerIPBurst: 1})
	defer rl.Stop()
	router := newTestRouter(t, rl)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/performance/rules", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "/api/performance/rules", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code, "liveness is not rate limited")
}
