package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
)

// PerformanceHandler exposes the optimization engine to dashboards.
type PerformanceHandler struct {
	engine *optimizer.Engine
	log    *slog.Logger
}

// NewPerformanceHandler creates a handler over e.
func NewPerformanceHandler(e *optimizer.Engine) *PerformanceHandler {
	return &PerformanceHandler{engine: e, log: logger.WithComponent("api")}
}

// GetHealth runs a health check.
// GET /api/performance/health
func (h *PerformanceHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CheckSystemHealth(r.Context()))
}

// GetReport returns health, samples, config, rules and cache statistics.
// GET /api/performance/report
func (h *PerformanceHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetPerformanceReport(r.Context()))
}

// OptimizeMemory evicts expired entries and prunes old samples.
// POST /api/performance/optimize-memory
func (h *PerformanceHandler) OptimizeMemory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.OptimizeMemory())
}

// Reset clears the cache, samples and error log.
// POST /api/performance/reset
func (h *PerformanceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset(r.Context())
	h.log.InfoContext(r.Context(), "Engine reset via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetConfig returns the current configuration.
// GET /api/performance/config
func (h *PerformanceHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Config())
}

// UpdateConfig applies a partial configuration update. Durations are given
// in milliseconds.
// PATCH /api/performance/config
func (h *PerformanceHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.OptimizationPatch
	if apiErr := decodeJSON(w, r, &patch, false); apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	if patch.Empty() {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidFormat("No configuration fields provided"))
		return
	}
	if err := h.engine.UpdateConfig(patch); err != nil {
		apierr.WriteErrorWithContext(w, r, toAPIError(err, ""))
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Config())
}

// GetCacheStats returns query cache statistics.
// GET /api/performance/cache/stats
func (h *PerformanceHandler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CacheStats())
}

type invalidateRequest struct {
	Prefix string `json:"prefix"`
}

// InvalidateCache drops cache entries by key prefix, or all of them when no
// prefix is given.
// POST /api/performance/cache/invalidate
func (h *PerformanceHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if apiErr := decodeJSON(w, r, &req, true); apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	removed := h.engine.InvalidateCache(req.Prefix)
	h.log.InfoContext(r.Context(), "Cache invalidated", "prefix", req.Prefix, "removed", removed)
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "prefix": req.Prefix})
}

// ListRules returns the optimization rules by priority.
// GET /api/performance/rules
func (h *PerformanceHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": h.engine.Rules()})
}

type ruleRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetRule enables or disables one rule.
// PUT /api/performance/rules/{id}
func (h *PerformanceHandler) SetRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ruleRequest
	if apiErr := decodeJSON(w, r, &req, false); apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	if req.Enabled == nil {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("enabled"))
		return
	}
	if err := h.engine.SetRuleEnabled(id, *req.Enabled); err != nil {
		apierr.WriteErrorWithContext(w, r, toAPIError(err, id))
		return
	}
	for _, rule := range h.engine.Rules() {
		if rule.ID == id {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	apierr.WriteErrorWithContext(w, r, apierr.RuleNotFound(id))
}
