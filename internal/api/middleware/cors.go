package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig is the cross-origin policy for the API.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// MaxAge is how long, in seconds, a browser may cache a preflight answer.
	MaxAge int
}

// DefaultCORSConfig allows the local dashboard dev servers.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}
}

// CORS answers preflight requests and marks responses to allowed origins.
// The request id is exposed so the dashboard can quote it in bug reports.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           cfg.MaxAge,
	})
}
