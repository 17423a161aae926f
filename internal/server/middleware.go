package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zaigate/internal/codec"
	"zaigate/internal/config"
	"zaigate/internal/stats"
)

const accessTokenError = "Invalid or missing server access token"

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqHeaders := r.Header.Get("Access-Control-Request-Headers")
		if reqHeaders == "" {
			reqHeaders = "Authorization, Content-Type, Accept"
		}
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authMiddleware(cfg *config.ServerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := strings.TrimSpace(cfg.AccessToken)
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := clientToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				if isAnthropicRequest(r) {
					codec.WriteAnthropicError(w, http.StatusUnauthorized, "authentication_error", accessTokenError)
				} else {
					codec.WriteOpenAIError(w, http.StatusUnauthorized, accessTokenError)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientToken accepts both auth conventions: OpenAI-style Bearer and
// Anthropic-style x-api-key.
func clientToken(r *http.Request) (string, bool) {
	if key := strings.TrimSpace(r.Header.Get("x-api-key")); key != "" {
		return key, true
	}
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func isAnthropicRequest(r *http.Request) bool {
	return strings.TrimSpace(r.Header.Get("anthropic-version")) != "" ||
		strings.TrimSpace(r.Header.Get("x-api-key")) != "" ||
		strings.HasSuffix(r.URL.Path, "/messages")
}

func statsMiddleware(rec stats.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			// Label by route pattern, not raw path: path-scanning clients
			// must not mint unbounded metric label values.
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			rec.RequestFinished(route, ww.Status(), time.Since(start))
		})
	}
}

func logMiddleware(cfg *config.ServerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Verbose {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slog.Info("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
}
