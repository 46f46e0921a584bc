package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/control"
	"github.com/hireflow/hireflow-admin/pkg/store"
)

const maxActivityLimit = 100

type setSwitchRequest struct {
	Active  *bool `json:"active" validate:"required"`
	Confirm bool  `json:"confirm"`
}

type confirmationResponse struct {
	Error                string `json:"error"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

type setUserAutomationRequest struct {
	Action    string `json:"action" validate:"required,oneof=pause resume stop reinstate"`
	UserEmail string `json:"user_email" validate:"omitempty,email"`
}

type userAutomationResponse struct {
	Automation *control.UserAutomation `json:"automation"`
	Changed    bool                    `json:"changed"`
}

// handleControlStatus returns both global kill switches.
func (s *server) handleControlStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.control.Status(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Failed to read kill switches")

		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleSetEmergencyStop toggles the platform-wide emergency stop.
func (s *server) handleSetEmergencyStop(w http.ResponseWriter, r *http.Request) {
	s.setSwitch(w, r, s.control.GetEmergencyStop, s.control.SetEmergencyStop)
}

// handleSetAllAutomations toggles the global automation stop.
func (s *server) handleSetAllAutomations(w http.ResponseWriter, r *http.Request) {
	s.setSwitch(w, r, s.control.GetAllAutomationsStopped, s.control.SetAllAutomationsStopped)
}

// setSwitch applies a global switch change. Activation without an explicit
// confirm is refused before anything is written.
func (s *server) setSwitch(
	w http.ResponseWriter,
	r *http.Request,
	get func(ctx context.Context) (bool, error),
	set func(ctx context.Context, active bool, actor control.Actor) error,
) {
	var req setSwitchRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	current, err := get(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Failed to read kill switch")

		return
	}

	if control.RequiresConfirmation(current, *req.Active) && !req.Confirm {
		writeJSON(w, http.StatusPreconditionRequired, confirmationResponse{
			Error:                "activation affects every user immediately and must be confirmed",
			RequiresConfirmation: true,
		})

		return
	}

	actor := actorFromGuard(guardFromContext(r.Context()))

	if err := set(r.Context(), *req.Active, actor); err != nil {
		s.writeStoreError(w, err, "Failed to change kill switch")

		return
	}

	status, err := s.control.Status(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Failed to read kill switches")

		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleGetUserAutomation returns one user's automation state.
func (s *server) handleGetUserAutomation(w http.ResponseWriter, r *http.Request) {
	ua, err := s.control.GetUserAutomation(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeControlError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, ua)
}

// handleSetUserAutomation pauses, resumes, stops or reinstates a user.
func (s *server) handleSetUserAutomation(w http.ResponseWriter, r *http.Request) {
	var req setUserAutomationRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	action, err := control.ParseAction(req.Action)
	if err != nil {
		s.writeControlError(w, err)

		return
	}

	target := control.Target{
		UserID: chi.URLParam(r, "userID"),
		Email:  req.UserEmail,
	}

	ua, changed, err := s.control.SetUserAutomation(
		r.Context(), target, action, actorFromGuard(guardFromContext(r.Context())),
	)
	if err != nil {
		s.writeControlError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, userAutomationResponse{Automation: ua, Changed: changed})
}

func (s *server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, control.ErrUserStopped):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, control.ErrUnknownAction), errors.Is(err, control.ErrMissingUserID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.writeStoreError(w, err, "Failed to change user automation")
	}
}

// handleListActivity returns recent activity log entries, newest first.
// Without an action_type filter it lists the control panel action types.
func (s *server) handleListActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := store.ActivityLogFilter{
		AdminID:      q.Get("admin_id"),
		TargetUserID: q.Get("target_user_id"),
	}

	for _, v := range q["action_type"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.ActionTypes = append(filter.ActionTypes, t)
			}
		}
	}

	if len(filter.ActionTypes) == 0 {
		filter.ActionTypes = append([]string(nil), audit.ControlActionTypes...)
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxActivityLimit {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{Error: "limit must be between 1 and 100"})

			return
		}

		filter.Limit = limit
	}

	logs, err := s.store.ListActivityLogs(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err, "Failed to list activity")

		return
	}

	if logs == nil {
		logs = []store.ActivityLog{}
	}

	writeJSON(w, http.StatusOK, logs)
}
