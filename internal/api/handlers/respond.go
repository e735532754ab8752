package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/config"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/optimizer"
	"github.com/anmar534/desktop-management-system/internal/storage"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set and leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) *apierr.Error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return apierr.ValidationInvalidFormat("Request body is required")
		}
		return apierr.ValidationInvalidJSON()
	}
	return nil
}

// toAPIError maps engine and storage errors to API errors. id names the
// resource the request addressed, if any.
func toAPIError(err error, id string) *apierr.Error {
	var verr *config.ValidationError
	switch {
	case errors.As(err, &verr):
		return apierr.ConfigInvalid(verr.Field, verr.Reason)
	case errors.Is(err, optimizer.ErrRuleNotFound):
		return apierr.RuleNotFound(id)
	case errors.Is(err, errorlog.ErrNotFound):
		return apierr.ErrorLogNotFound(id)
	case errors.Is(err, storage.ErrUnavailable):
		return apierr.SystemUnavailable("Storage is temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return apierr.SystemTimeout("")
	default:
		return apierr.SystemInternal("")
	}
}
