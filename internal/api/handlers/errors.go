package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
)

// errorListTTL bounds how long a listing read from storage is reused. Local
// changes bump the log version and so miss the cache immediately.
const errorListTTL = 5 * time.Second

// errorListCachePrefix keys cached listings by error log version.
const errorListCachePrefix = "errors:list:v"

// ErrorLogHandler serves the engine's error log. Listings are read through
// the engine's query cache.
type ErrorLogHandler struct {
	engine *optimizer.Engine
	log    *errorlog.Log
}

// NewErrorLogHandler creates a handler over e's error log.
func NewErrorLogHandler(e *optimizer.Engine) *ErrorLogHandler {
	return &ErrorLogHandler{engine: e, log: e.Errors()}
}

type errorSnapshot struct {
	records  []errorlog.Record
	degraded bool
}

func (h *ErrorLogHandler) records(ctx context.Context) (errorSnapshot, error) {
	key := errorListCachePrefix + strconv.FormatUint(h.log.Version(), 10)
	return optimizer.OptimizeQuery(ctx, h.engine, key, func(ctx context.Context) (errorSnapshot, error) {
		records, degraded := h.log.Records(ctx)
		return errorSnapshot{records: records, degraded: degraded}, nil
	}, optimizer.WithTTL(errorListTTL))
}

type errorListResponse struct {
	Errors   []errorlog.Record `json:"errors"`
	Total    int               `json:"total"`
	Pending  int               `json:"pending"`
	Degraded bool              `json:"degraded,omitempty"`
}

// List returns error records oldest first, optionally filtered by
// ?status=pending|resolved and ?severity=.
// GET /api/errors
func (h *ErrorLogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := strings.ToLower(q.Get("status"))
	if status != "" && status != "pending" && status != "resolved" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("status", "status must be pending or resolved"))
		return
	}
	var severity errorlog.Severity
	if s := q.Get("severity"); s != "" {
		sev, err := errorlog.ParseSeverity(s)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("severity", err.Error()))
			return
		}
		severity = sev
	}

	snap, err := h.records(r.Context())
	if err != nil {
		apierr.WriteErrorWithContext(w, r, toAPIError(err, ""))
		return
	}
	records := snap.records
	resp := errorListResponse{Errors: make([]errorlog.Record, 0, len(records)), Degraded: snap.degraded}
	for _, rec := range records {
		if !rec.Resolved {
			resp.Pending++
		}
		if status == "pending" && rec.Resolved || status == "resolved" && !rec.Resolved {
			continue
		}
		if severity != "" && rec.Severity != severity {
			continue
		}
		resp.Errors = append(resp.Errors, rec)
	}
	resp.Total = len(records)
	writeJSON(w, http.StatusOK, resp)
}

type reportRequest struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Severity  string `json:"severity"`
}

// Report records a new error.
// POST /api/errors
func (h *ErrorLogHandler) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if apiErr := decodeJSON(w, r, &req, false); apiErr != nil {
		apierr.WriteErrorWithContext(w, r, apiErr)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("type"))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		apierr.WriteErrorWithContext(w, r, apierr.ValidationMissingField("message"))
		return
	}
	var severity errorlog.Severity
	if req.Severity != "" {
		sev, err := errorlog.ParseSeverity(req.Severity)
		if err != nil {
			apierr.WriteErrorWithContext(w, r, apierr.ValidationInvalidValue("severity", err.Error()))
			return
		}
		severity = sev
	}

	rec := h.log.Report(r.Context(), errorlog.Input{
		Type:      req.Type,
		Message:   req.Message,
		Component: req.Component,
		Severity:  severity,
	})
	writeJSON(w, http.StatusCreated, rec)
}

// Resolve marks a record resolved.
// POST /api/errors/{id}/resolve
func (h *ErrorLogHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.log.Resolve(r.Context(), id); err != nil {
		apierr.WriteErrorWithContext(w, r, toAPIError(err, id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}
