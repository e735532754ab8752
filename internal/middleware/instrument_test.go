package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

func TestInstrument_RouteTemplateAndStatus(t *testing.T) {
	var route string
	r := mux.NewRouter()
	r.Use(Instrument)
	r.HandleFunc("/api/errors/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		route = routeTemplate(r)
		w.WriteHeader(http.StatusNotFound)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/errors/abc/resolve", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "/api/errors/{id}/resolve", route)
	assert.Equal(t, "unmatched", routeTemplate(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestStatusRecorder_Hijack(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rec.Hijack()
	assert.Error(t, err, "httptest recorders cannot be hijacked")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusNoContent))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
}
