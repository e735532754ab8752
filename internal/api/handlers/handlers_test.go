package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/health"
	"github.com/anmar534/desktop-management-system/internal/metrics"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
	"github.com/anmar534/desktop-management-system/internal/storage"
)

func newEngine(t *testing.T) *optimizer.Engine {
	t.Helper()
	e, err := optimizer.New(config.DefaultOptimization(),
		optimizer.WithMemoryReader(func() uint64 { return 10 << 20 }))
	require.NoError(t, err)
	return e
}

func do(h http.HandlerFunc, method, target, body string, vars map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) apierr.ErrorCode {
	t.Helper()
	var resp apierr.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error, "body: %s", rr.Body.String())
	return resp.Error.Code
}

func TestPerformance_GetHealth(t *testing.T) {
	h := NewPerformanceHandler(newEngine(t))

	rr := do(h.GetHealth, http.MethodGet, "/api/performance/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got health.SystemHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, health.StatusExcellent, got.Overall)
	assert.Equal(t, 90, got.Performance.Score)
}

func TestPerformance_GetReport(t *testing.T) {
	e := newEngine(t)
	_, err := optimizer.OptimizeQuery(context.Background(), e, "users", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	h := NewPerformanceHandler(e)

	rr := do(h.GetReport, http.MethodGet, "/api/performance/report", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got struct {
		Metrics []json.RawMessage     `json:"metrics"`
		Config  config.Optimization   `json:"config"`
		Rules   []optimizer.Rule      `json:"rules"`
		Cache   optimizer.CacheReport `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Len(t, got.Metrics, 1)
	assert.Equal(t, config.DefaultOptimization(), got.Config)
	assert.Len(t, got.Rules, 4)
	assert.Equal(t, 1, got.Cache.Size)
}

func TestPerformance_UpdateConfig(t *testing.T) {
	e := newEngine(t)
	h := NewPerformanceHandler(e)

	rr := do(h.UpdateConfig, http.MethodPatch, "/api/performance/config", `{"cache_ttl_ms":2000,"max_cache_size":5}`, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 2*time.Second, e.Config().CacheTTL)
	assert.Equal(t, 5, e.Config().MaxCacheSize)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, float64(2000), got["cache_ttl_ms"])
}

func TestPerformance_UpdateConfigErrors(t *testing.T) {
	e := newEngine(t)
	h := NewPerformanceHandler(e)

	tests := []struct {
		name   string
		body   string
		status int
		code   apierr.ErrorCode
	}{
		{"invalid value", `{"max_cache_size":0}`, http.StatusBadRequest, apierr.ErrConfigInvalid},
		{"negative ttl", `{"cache_ttl_ms":-1}`, http.StatusBadRequest, apierr.ErrConfigInvalid},
		{"malformed json", `{"max_cache_size":`, http.StatusBadRequest, apierr.ErrValidationInvalidJSON},
		{"empty patch", `{}`, http.StatusBadRequest, apierr.ErrValidationInvalidFormat},
		{"missing body", ``, http.StatusBadRequest, apierr.ErrValidationInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(h.UpdateConfig, http.MethodPatch, "/api/performance/config", tt.body, nil)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, errorCode(t, rr))
		})
	}
	assert.Equal(t, config.DefaultOptimization(), e.Config(), "rejected patches leave the config alone")
}

func TestPerformance_OptimizeMemoryAndReset(t *testing.T) {
	e := newEngine(t)
	h := NewPerformanceHandler(e)
	_, err := optimizer.OptimizeQuery(context.Background(), e, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	rr := do(h.OptimizeMemory, http.MethodPost, "/api/performance/optimize-memory", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report optimizer.MemoryReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, 0, report.ExpiredEntries)

	rr = do(h.Reset, http.MethodPost, "/api/performance/reset", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, e.CacheStats().Size)
	assert.Empty(t, e.Samples())
}

func TestPerformance_Cache(t *testing.T) {
	e := newEngine(t)
	h := NewPerformanceHandler(e)
	ctx := context.Background()
	for _, key := range []string{"users:1", "users:2", "orders:1"} {
		_, err := optimizer.OptimizeQuery(ctx, e, key, func(context.Context) (string, error) { return key, nil })
		require.NoError(t, err)
	}

	rr := do(h.GetCacheStats, http.MethodGet, "/api/performance/cache/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats optimizer.CacheReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 100, stats.MaxSize)

	rr = do(h.InvalidateCache, http.MethodPost, "/api/performance/cache/invalidate", `{"prefix":"users:"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"removed":2`)
	assert.Equal(t, 1, e.CacheStats().Size)

	rr = do(h.InvalidateCache, http.MethodPost, "/api/performance/cache/invalidate", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, e.CacheStats().Size)
}

func TestPerformance_Rules(t *testing.T) {
	e := newEngine(t)
	h := NewPerformanceHandler(e)

	rr := do(h.ListRules, http.MethodGet, "/api/performance/rules", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Rules []optimizer.Rule `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Rules, 4)
	assert.Equal(t, optimizer.RuleQueryCaching, list.Rules[0].ID)

	rr = do(h.SetRule, http.MethodPut, "/api/performance/rules/query-caching", `{"enabled":false}`,
		map[string]string{"id": optimizer.RuleQueryCaching})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, e.RuleEnabled(optimizer.RuleQueryCaching))
	assert.False(t, e.Config().CacheEnabled)

	rr = do(h.SetRule, http.MethodPut, "/api/performance/rules/nope", `{"enabled":true}`, map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, apierr.ErrRuleNotFound, errorCode(t, rr))

	rr = do(h.SetRule, http.MethodPut, "/api/performance/rules/memory-cleanup", `{}`,
		map[string]string{"id": optimizer.RuleMemoryCleanup})
	assert.Equal(t, apierr.ErrValidationMissingField, errorCode(t, rr))
}

func newErrorLogHandler(t *testing.T, errs *errorlog.Log) (*ErrorLogHandler, *optimizer.Engine) {
	t.Helper()
	e, err := optimizer.New(config.DefaultOptimization(), optimizer.WithErrorLog(errs))
	require.NoError(t, err)
	return NewErrorLogHandler(e), e
}

func TestErrorLog_ReportListResolve(t *testing.T) {
	h, _ := newErrorLogHandler(t, errorlog.New(storage.NewMemoryKV()))

	rr := do(h.Report, http.MethodPost, "/api/errors", `{"type":"network","message":"timeout","component":"sync","severity":"LOW"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var rec errorlog.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, errorlog.SeverityLow, rec.Severity)

	rr = do(h.Report, http.MethodPost, "/api/errors", `{"type":"render","message":"bad props"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(h.Resolve, http.MethodPost, "/api/errors/"+rec.ID+"/resolve", "", map[string]string{"id": rec.ID})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(h.List, http.MethodGet, "/api/errors", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list errorListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.Pending)
	assert.Len(t, list.Errors, 2)

	rr = do(h.List, http.MethodGet, "/api/errors?status=pending", "", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Errors, 1)
	assert.Equal(t, "render", list.Errors[0].Type)
	assert.Equal(t, errorlog.SeverityMedium, list.Errors[0].Severity, "severity defaults to medium")

	rr = do(h.List, http.MethodGet, "/api/errors?severity=low", "", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Errors, 1)
	assert.Equal(t, rec.ID, list.Errors[0].ID)
}

func TestErrorLog_Validation(t *testing.T) {
	h, _ := newErrorLogHandler(t, errorlog.New(nil))

	tests := []struct {
		name string
		call func() *httptest.ResponseRecorder
		code apierr.ErrorCode
	}{
		{"missing type", func() *httptest.ResponseRecorder {
			return do(h.Report, http.MethodPost, "/api/errors", `{"message":"x"}`, nil)
		}, apierr.ErrValidationMissingField},
		{"missing message", func() *httptest.ResponseRecorder {
			return do(h.Report, http.MethodPost, "/api/errors", `{"type":"x"}`, nil)
		}, apierr.ErrValidationMissingField},
		{"bad severity", func() *httptest.ResponseRecorder {
			return do(h.Report, http.MethodPost, "/api/errors", `{"type":"x","message":"y","severity":"fatal"}`, nil)
		}, apierr.ErrValidationInvalidValue},
		{"unknown field", func() *httptest.ResponseRecorder {
			return do(h.Report, http.MethodPost, "/api/errors", `{"type":"x","message":"y","stack":"z"}`, nil)
		}, apierr.ErrValidationInvalidJSON},
		{"bad status filter", func() *httptest.ResponseRecorder {
			return do(h.List, http.MethodGet, "/api/errors?status=open", "", nil)
		}, apierr.ErrValidationInvalidValue},
		{"unknown id", func() *httptest.ResponseRecorder {
			return do(h.Resolve, http.MethodPost, "/api/errors/x/resolve", "", map[string]string{"id": "x"})
		}, apierr.ErrErrorLogNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(t, tt.call()))
		})
	}
}

func TestErrorLog_ListReadsThroughQueryCache(t *testing.T) {
	h, e := newErrorLogHandler(t, errorlog.New(storage.NewMemoryKV()))
	countHits := func() int {
		n := 0
		for _, s := range e.Samples() {
			if s.Operation == metrics.OpCacheHit {
				n++
			}
		}
		return n
	}
	list := func() errorListResponse {
		rr := do(h.List, http.MethodGet, "/api/errors", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var out errorListResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
		return out
	}

	assert.Equal(t, 0, list().Total)
	assert.Equal(t, 0, list().Total)
	assert.Equal(t, 1, countHits(), "an unchanged log is served from the cache")

	rr := do(h.Report, http.MethodPost, "/api/errors", `{"type":"network","message":"offline"}`, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	got := list()
	assert.Equal(t, 1, got.Total, "a new report is visible immediately")
	assert.Equal(t, 1, got.Pending)
	assert.Equal(t, 1, countHits())
}

func TestToAPIError(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, toAPIError(storage.ErrUnavailable, "").Status())
	assert.Equal(t, apierr.ErrSystemTimeout, toAPIError(context.DeadlineExceeded, "").Code)
	assert.Equal(t, apierr.ErrSystemInternal, toAPIError(assert.AnError, "").Code)
}

func TestHealth(t *testing.T) {
	rr := do(Health, http.MethodGet, "/health", "", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
