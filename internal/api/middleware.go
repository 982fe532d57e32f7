package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/baduk1/threadsync/internal/auth"
)

type claimsKey struct{}

func claimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

// withAuth requires a Bearer token and stores its claims on the request
// context.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided")
			return
		}

		claims, err := s.issuer.Verify(token)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Rejected token")
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(writer, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.requests.WithLabelValues(route, strconv.Itoa(writer.status)).Inc()

		event := s.logger.Info()
		if writer.status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", time.Since(started)).
			Msg("Request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
