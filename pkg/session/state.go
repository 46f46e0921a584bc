// Package session implements the console session guard: sliding inactivity
// expiry, tab-scoped persistence of the identity token and admin-role
// gating.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/accounts"
)

// State is the lifecycle state of a Guard.
type State int

// Guard states. Expiring is transient and always resolves to
// Unauthenticated.
const (
	StateUninitialized State = iota
	StateLoading
	StateUnauthenticated
	StateAuthenticated
	StateExpiring
)

var stateNames = map[State]string{
	StateUninitialized:   "uninitialized",
	StateLoading:         "loading",
	StateUnauthenticated: "unauthenticated",
	StateAuthenticated:   "authenticated",
	StateExpiring:        "expiring",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state

			return nil
		}
	}

	return fmt.Errorf("unknown session state %q", text)
}

// Signal is an interaction that counts as activity.
type Signal string

// Tracked interaction signals. SignalRequest is recorded implicitly by
// every authenticated call.
const (
	SignalPointerDown Signal = "pointerdown"
	SignalKeyDown     Signal = "keydown"
	SignalTouchStart  Signal = "touchstart"
	SignalScroll      Signal = "scroll"
	SignalRequest     Signal = "request"
)

// Valid reports whether s is a tracked signal.
func (s Signal) Valid() bool {
	switch s {
	case SignalPointerDown, SignalKeyDown, SignalTouchStart, SignalScroll, SignalRequest:
		return true
	default:
		return false
	}
}

// ExpiredNotice is shown after a session times out.
const ExpiredNotice = "Your session expired due to inactivity. Please sign in again."

var (
	// ErrInvalidCredentials is returned by SignIn for a bad email or password.
	ErrInvalidCredentials = accounts.ErrInvalidCredentials

	// ErrNotAuthorized is returned when an identity has no admin record.
	ErrNotAuthorized = errors.New("not authorized: no admin record for this account")

	// ErrDeactivated is returned when the admin record is inactive.
	ErrDeactivated = errors.New("admin account is deactivated")

	// ErrSessionExpired is returned when activity arrives after the timeout.
	ErrSessionExpired = errors.New("session expired due to inactivity")

	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrUnknownSignal is returned for untracked activity signals.
	ErrUnknownSignal = errors.New("unknown activity signal")
)

// Credentials are the sign-in form values.
type Credentials struct {
	Email     string
	Password  string
	UserAgent string
}

// Snapshot is a point-in-time copy of a guard's observable state.
type Snapshot struct {
	State           State                  `json:"state"`
	IsAuthenticated bool                   `json:"is_authenticated"`
	Admin           *accounts.AdminProfile `json:"admin,omitempty"`
	LastActivityAt  *time.Time             `json:"last_activity_at,omitempty"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
	Notice          string                 `json:"notice,omitempty"`
	Redirect        string                 `json:"redirect,omitempty"`
}
