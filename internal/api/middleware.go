// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/airwavehq/airwave/internal/log"
	"github.com/airwavehq/airwave/internal/metrics"
)

// requestLogger assigns a request id, logs the request line, and records the
// latency histogram.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()
		ctx := log.ContextWithRequestID(r.Context(), reqID)
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r.WithContext(ctx))

		route := chi.RouteContext(ctx).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).
			Observe(time.Since(start).Seconds())
		s.logger.Info().
			Str("event", "http.request").
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// authMiddleware enforces the static bearer token. An empty configured token
// fails closed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.deps.Config.Current().App.APIToken
		if token == "" {
			s.logger.Error().Str("event", "auth.fail_closed").Msg("no api token configured, denying access")
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			s.logger.Warn().Str("event", "auth.invalid_token").Msg("missing or invalid api token")
			respondError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actor identifies the operator for audit entries; falls back to "api".
func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Airwave-Actor")); a != "" {
		return a
	}
	return "api"
}
