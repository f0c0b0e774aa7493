package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mybillbook/reconciler/internal/api/middleware"
	"github.com/mybillbook/reconciler/internal/infrastructure/metrics"
)

func TestLogging(t *testing.T) {
	t.Run("logs request and passes through", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})

		wrapped := middleware.Logging(logger)(handler)

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
		assert.Contains(t, buf.String(), "level=INFO")
		assert.Contains(t, buf.String(), "path=/test")
		assert.Contains(t, buf.String(), "status=200")
	})

	t.Run("captures non-200 status codes", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		wrapped := middleware.Logging(logger)(handler)

		req := httptest.NewRequest(http.MethodGet, "/notfound", nil)
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, buf.String(), "level=WARN")
		assert.Contains(t, buf.String(), "status=404")
	})

	t.Run("server errors log at error", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		wrapped := middleware.Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))

		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/reconciliation/run", nil))

		assert.Contains(t, buf.String(), "level=ERROR")
		assert.Contains(t, buf.String(), "status=502")
	})
}

func TestMetrics(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.Metrics)
	r.Post("/confirm/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	counter := metrics.HTTPRequests.WithLabelValues("/confirm/{id}", http.MethodPost, "200")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/confirm/7", "/confirm/8"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, before+2, testutil.ToFloat64(counter), "both ids share the route pattern series")
}

func TestCORS(t *testing.T) {
	cfg := middleware.CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         60,
	}

	var reached int
	wrapped := middleware.CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "X-Request-Id", rec.Header().Get("Access-Control-Expose-Headers"))
	})

	t.Run("disallowed origin still reaches handler without headers", func(t *testing.T) {
		before := reached
		req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, before+1, reached)
	})

	t.Run("preflight is answered without the handler", func(t *testing.T) {
		before := reached
		req := httptest.NewRequest(http.MethodOptions, "/api/reconciliation/run", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, before, reached)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, http.MethodPost, rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "60", rec.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("preflight for a method outside the policy", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/invoices", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		rec := httptest.NewRecorder()

		wrapped.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := middleware.DefaultCORSConfig()

	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:3000")
	assert.Contains(t, cfg.AllowedMethods, http.MethodPost)
	assert.NotContains(t, cfg.AllowedMethods, http.MethodDelete)
	assert.Contains(t, cfg.AllowedHeaders, "Content-Type")
	assert.Positive(t, cfg.MaxAge)
}
