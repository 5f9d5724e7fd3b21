package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/audiohls/internal/config"
)

func TestServerRoutes(t *testing.T) {
	s := New(&config.Server{Bind: "127.0.0.1:0", Metrics: true})

	sub := chi.NewRouter()
	sub.Get("/{resource}/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(chi.URLParam(r, "resource")))
	})
	s.Handle("/audio", sub)

	tests := []struct {
		target string
		code   int
		body   string
	}{
		{"/ping", http.StatusOK, "pong"},
		{"/audio/track.flac/status", http.StatusOK, "track.flac"},
		{"/unknown", http.StatusOK, "404"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerWithoutMetrics(t *testing.T) {
	s := New(&config.Server{Bind: "127.0.0.1:0"})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "404", rec.Body.String())
}
