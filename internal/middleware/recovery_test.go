package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
)

func TestRecover_NoPanic(t *testing.T) {
	h := Recover(nil)(okHandler())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRecover_WritesStructuredError(t *testing.T) {
	h := RequestID(Recover(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	})))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, apierr.ErrSystemInternal, decodeCode(t, rr))
}

func TestRecover_RecordsPanicInErrorLog(t *testing.T) {
	errs := errorlog.New(nil)
	h := Recover(errs)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("test panic")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/performance/reset", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	records, degraded := errs.Records(context.Background())
	assert.False(t, degraded)
	require.Len(t, records, 1)
	assert.Equal(t, PanicErrorType, records[0].Type)
	assert.Equal(t, errorlog.SeverityCritical, records[0].Severity)
	assert.Equal(t, "http", records[0].Component)
	assert.Contains(t, records[0].Message, "POST /api/performance/reset: test panic")
}

func TestRecover_AbortHandlerPropagates(t *testing.T) {
	h := Recover(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}
