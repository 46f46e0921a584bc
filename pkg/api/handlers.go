package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hireflow/hireflow-admin/pkg/accounts"
	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/control"
	"github.com/hireflow/hireflow-admin/pkg/session"
	"github.com/hireflow/hireflow-admin/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// newValidator reports request fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// decodeRequest decodes and validates a JSON body, answering 400 on
// failure.
func (s *server) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "invalid request body"})

		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: validationMessage(err)})

		return false
	}

	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}

	msgs := make([]string, 0, len(verrs))

	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}

	return strings.Join(msgs, "; ")
}

// writeStoreError maps a store failure to 503 or 500.
func (s *server) writeStoreError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, store.ErrUnavailable) {
		s.log.WithError(err).Warn(msg)
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{Error: "store unavailable, nothing was changed"})

		return
	}

	s.log.WithError(err).Error(msg)
	writeJSON(w, http.StatusInternalServerError,
		errorResponse{Error: "internal error"})
}

func actorFromGuard(g *session.Guard) control.Actor {
	p := g.AdminProfile()
	if p == nil {
		return control.Actor{}
	}

	return control.Actor{ID: p.ID, Email: p.Email}
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Profile handlers ---

type updateProfileRequest struct {
	FullName        *string `json:"full_name" validate:"omitempty,max=200"`
	FirstName       *string `json:"first_name" validate:"omitempty,max=100"`
	LastName        *string `json:"last_name" validate:"omitempty,max=100"`
	ProfilePhotoURL *string `json:"profile_photo_url" validate:"omitempty,url"`
}

func (u updateProfileRequest) changed() []string {
	var fields []string

	if u.FullName != nil {
		fields = append(fields, "full_name")
	}

	if u.FirstName != nil {
		fields = append(fields, "first_name")
	}

	if u.LastName != nil {
		fields = append(fields, "last_name")
	}

	if u.ProfilePhotoURL != nil {
		fields = append(fields, "profile_photo_url")
	}

	return fields
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,nefield=CurrentPassword"`
}

// handleGetMe returns the signed-in admin's profile.
func (s *server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, guardFromContext(r.Context()).AdminProfile())
}

// handleUpdateMe edits the signed-in admin's own profile.
func (s *server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	fields := req.changed()
	if len(fields) == 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{Error: "no fields to update"})

		return
	}

	guard := guardFromContext(r.Context())
	actor := actorFromGuard(guard)

	if err := s.accounts.UpdateAdminRecord(r.Context(), actor.ID, store.AdminUserUpdate{
		FullName:        req.FullName,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		ProfilePhotoURL: req.ProfilePhotoURL,
	}); err != nil {
		s.writeStoreError(w, err, "Failed to update admin profile")

		return
	}

	s.recorder.Record(audit.Entry{
		AdminID:     actor.ID,
		AdminEmail:  actor.Email,
		ActionType:  audit.ActionUpdateProfile,
		Description: fmt.Sprintf("Admin %s updated their profile", actor.Email),
		Metadata:    map[string]any{"fields": fields},
	})

	if err := guard.RefreshAdminProfile(r.Context()); err != nil {
		if errors.Is(err, session.ErrNotAuthorized) || errors.Is(err, session.ErrDeactivated) {
			s.writeUnauthorized(w, err.Error())

			return
		}

		s.writeStoreError(w, err, "Failed to refresh admin profile")

		return
	}

	writeJSON(w, http.StatusOK, guard.AdminProfile())
}

// handleChangePassword replaces the signed-in admin's password.
func (s *server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	actor := actorFromGuard(guardFromContext(r.Context()))

	err := s.accounts.ChangePassword(r.Context(), actor.ID, req.CurrentPassword, req.NewPassword)

	switch {
	case errors.Is(err, accounts.ErrInvalidCredentials):
		writeJSON(w, http.StatusForbidden,
			errorResponse{Error: "current password is incorrect"})

		return
	case errors.Is(err, accounts.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})

		return
	case err != nil:
		s.writeStoreError(w, err, "Failed to change password")

		return
	}

	s.recorder.Record(audit.Entry{
		AdminID:     actor.ID,
		AdminEmail:  actor.Email,
		ActionType:  audit.ActionChangePassword,
		Description: fmt.Sprintf("Admin %s changed their password", actor.Email),
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
