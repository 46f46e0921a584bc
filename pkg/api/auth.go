package api

import (
	"errors"
	"net/http"

	"github.com/hireflow/hireflow-admin/pkg/session"
	"github.com/hireflow/hireflow-admin/pkg/store"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type activityRequest struct {
	Signal string `json:"signal" validate:"required,oneof=pointerdown keydown touchstart scroll"`
}

// sessionResponse carries the tab's session snapshot. Token is set when
// the server issued a new console token.
type sessionResponse struct {
	Token string `json:"token,omitempty"`
	session.Snapshot
}

func (s *server) setConsoleCookie(w http.ResponseWriter, r *http.Request, token string) {
	// No MaxAge: the cookie lives as long as the browser session, and the
	// inactivity window is enforced server-side.
	http.SetCookie(w, &http.Cookie{
		Name:     consoleCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func clearConsoleCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     consoleCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// handleLogin signs an admin in on a freshly issued console token.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	token, err := session.NewConsoleToken()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate console token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: "internal error"})

		return
	}

	guard := s.registry.GetOrCreate(token)
	guard.EnsureInitialized(r.Context())

	if err := guard.SignIn(r.Context(), session.Credentials{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: r.UserAgent(),
	}); err != nil {
		s.writeSignInError(w, err)

		return
	}

	// The previous token of this tab must not stay signed in next to the
	// new one.
	if previous := consoleToken(r); previous != "" {
		if old, ok := s.registry.Get(previous); ok && old.IsAuthenticated() {
			_ = old.SignOut(r.Context())
		}
	}

	s.setConsoleCookie(w, r, token)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:    token,
		Snapshot: guard.Snapshot(),
	})
}

func (s *server) writeSignInError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{Error: "invalid credentials"})
	case errors.Is(err, session.ErrNotAuthorized):
		writeJSON(w, http.StatusForbidden,
			errorResponse{Error: "this account does not have admin access"})
	case errors.Is(err, session.ErrDeactivated):
		writeJSON(w, http.StatusForbidden,
			errorResponse{Error: "this admin account has been deactivated"})
	case errors.Is(err, store.ErrUnavailable):
		s.log.WithError(err).Warn("Sign-in failed, account store unavailable")
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{Error: "account store unavailable"})
	default:
		s.log.WithError(err).Error("Sign-in failed")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{Error: "internal error"})
	}
}

// handleLogout ends the tab's session. Tabs without a session get the
// same answer.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := consoleToken(r); token != "" {
		guard := s.registry.GetOrCreate(token)
		guard.EnsureInitialized(r.Context())

		if err := guard.SignOut(r.Context()); err != nil {
			s.log.WithError(err).Warn("Sign-out failed")
		}
	}

	clearConsoleCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"redirect": s.cfg.Auth.LoginRedirect,
	})
}

// handleSession reports the tab's session, restoring a persisted one for
// tabs this process has not seen yet. It does not count as activity.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	token := consoleToken(r)
	issued := ""

	if token == "" {
		var err error

		token, err = session.NewConsoleToken()
		if err != nil {
			s.log.WithError(err).Error("Failed to generate console token")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{Error: "internal error"})

			return
		}

		issued = token
		s.setConsoleCookie(w, r, token)
	}

	guard := s.registry.GetOrCreate(token)
	guard.EnsureInitialized(r.Context())
	guard.CheckExpiry(r.Context())

	snap := guard.Snapshot()
	guard.TakeNotice()

	writeJSON(w, http.StatusOK, sessionResponse{Token: issued, Snapshot: snap})
}

// handleActivity records an interaction signal from the console.
func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	token := consoleToken(r)
	if token == "" {
		s.writeUnauthorized(w, "authentication required")

		return
	}

	guard := s.registry.GetOrCreate(token)
	guard.EnsureInitialized(r.Context())

	if err := guard.RecordActivity(r.Context(), session.Signal(req.Signal)); err != nil {
		s.writeSessionError(w, guard, err)

		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Snapshot: guard.Snapshot()})
}
