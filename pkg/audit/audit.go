// Package audit records administrative actions in the append-only activity
// log. Writes are best-effort: callers enqueue entries and never wait for,
// or fail because of, the underlying insert.
package audit

import (
	"time"

	"github.com/hireflow/hireflow-admin/pkg/store"
)

// Action types written to the activity log.
const (
	ActionLogin                   = "login"
	ActionLogout                  = "logout"
	ActionSessionTimeout          = "session_timeout"
	ActionEmergencyStop           = "emergency_stop"
	ActionStopAllAutomations      = "stop_all_automations"
	ActionPauseUserAutomation     = "pause_user_automation"
	ActionResumeUserAutomation    = "resume_user_automation"
	ActionStopUserAutomation      = "stop_user_automation"
	ActionReinstateUserAutomation = "reinstate_user_automation"
	ActionUpdateProfile           = "update_profile"
	ActionChangePassword          = "change_password"
)

// ControlActionTypes are the entries shown on the automation control panel.
var ControlActionTypes = []string{
	ActionEmergencyStop,
	ActionStopAllAutomations,
	ActionLogin,
	ActionLogout,
	ActionSessionTimeout,
}

// Entry is one administrative action.
type Entry struct {
	AdminID         string
	AdminEmail      string
	ActionType      string
	Description     string
	TargetUserID    string
	TargetUserEmail string
	Metadata        map[string]any
	CreatedAt       time.Time
}

// Recorder accepts entries without blocking.
type Recorder interface {
	Record(entry Entry)
}

// toModel converts an entry into its persisted form.
func (e Entry) toModel() *store.ActivityLog {
	row := &store.ActivityLog{
		AdminID:           e.AdminID,
		AdminEmail:        e.AdminEmail,
		ActionType:        e.ActionType,
		ActionDescription: e.Description,
		CreatedAt:         e.CreatedAt.UTC(),
	}

	if e.TargetUserID != "" {
		id := e.TargetUserID
		row.TargetUserID = &id
	}

	if e.TargetUserEmail != "" {
		email := e.TargetUserEmail
		row.TargetUserEmail = &email
	}

	if len(e.Metadata) > 0 {
		row.Metadata = e.Metadata
	}

	return row
}
