package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/session"
)

type contextKey string

const guardContextKey contextKey = "guard"

// consoleCookieName holds the console token that identifies a tab.
const consoleCookieName = "hireflow_console"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// consoleToken returns the tab's console token from the Bearer header or
// the console cookie.
func consoleToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}

	if cookie, err := r.Cookie(consoleCookieName); err == nil {
		return cookie.Value
	}

	return ""
}

// requireSession resolves the tab's guard, counts the request as activity
// and rejects tabs without a live session.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := consoleToken(r)
		if token == "" {
			s.writeUnauthorized(w, "authentication required")

			return
		}

		guard := s.registry.GetOrCreate(token)
		guard.EnsureInitialized(r.Context())

		if err := guard.RecordActivity(r.Context(), session.SignalRequest); err != nil {
			s.writeSessionError(w, guard, err)

			return
		}

		ctx := context.WithValue(r.Context(), guardContextKey, guard)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole checks that the signed-in admin holds one of the allowed
// console roles.
func (s *server) requireRole(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile := guardFromContext(r.Context()).AdminProfile()
		if profile == nil || !s.cfg.Auth.IsAllowedRole(profile.Role) {
			writeJSON(w, http.StatusForbidden,
				errorResponse{Error: "insufficient permissions"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeSessionError answers a request whose session is gone. A pending
// notice, such as an expiry found by the background sweep, wins over the
// generic message.
func (s *server) writeSessionError(w http.ResponseWriter, guard *session.Guard, err error) {
	if notice := guard.TakeNotice(); notice != "" {
		s.writeUnauthorized(w, notice)

		return
	}

	if errors.Is(err, session.ErrSessionExpired) {
		s.writeUnauthorized(w, session.ExpiredNotice)

		return
	}

	s.writeUnauthorized(w, "authentication required")
}

func (s *server) writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error:    message,
		Redirect: s.cfg.Auth.LoginRedirect,
	})
}

// guardFromContext extracts the tab's guard from the request context.
func guardFromContext(ctx context.Context) *session.Guard {
	guard, _ := ctx.Value(guardContextKey).(*session.Guard)

	return guard
}
