// Package control implements the automation kill switches: the global
// emergency stop, the global automation stop and per-user pause, resume,
// stop and reinstate.
package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/store"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUserStopped is returned for pause or resume on a stopped user.
	ErrUserStopped = errors.New("user automation is stopped; reinstate it first")

	// ErrUnknownAction is returned for an unrecognized per-user action.
	ErrUnknownAction = errors.New("unknown automation action")

	// ErrMissingUserID is returned when a per-user action has no target.
	ErrMissingUserID = errors.New("target user id is required")
)

// Actor is the admin performing an action.
type Actor struct {
	ID    string
	Email string
}

// Target is the user a per-user action applies to.
type Target struct {
	UserID string
	Email  string
}

func (t Target) label() string {
	if t.Email != "" {
		return t.Email
	}

	return t.UserID
}

// Status is the state of both global switches.
type Status struct {
	EmergencyStop         bool `json:"emergency_stop"`
	AllAutomationsStopped bool `json:"all_automations_stopped"`
}

// RequiresConfirmation reports whether moving a global switch from current
// to next needs an explicit confirmation. Only activation does.
func RequiresConfirmation(current, next bool) bool {
	return !current && next
}

// Options configures a Controller.
type Options struct {
	Now func() time.Time
}

// Controller reads and changes kill-switch state. Every effective change
// is recorded in the activity log after the store accepted it.
type Controller struct {
	log      logrus.FieldLogger
	store    store.SettingsStore
	recorder audit.Recorder
	now      func() time.Time
}

// NewController creates a Controller.
func NewController(
	log logrus.FieldLogger,
	st store.SettingsStore,
	recorder audit.Recorder,
	opts Options,
) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Controller{
		log:      log.WithField("component", "control"),
		store:    st,
		recorder: recorder,
		now:      opts.Now,
	}
}

// GetEmergencyStop returns the emergency stop flag. A missing row is false.
func (c *Controller) GetEmergencyStop(ctx context.Context) (bool, error) {
	return c.getFlag(ctx, store.SettingEmergencyStop)
}

// GetAllAutomationsStopped returns the global automation stop flag.
func (c *Controller) GetAllAutomationsStopped(ctx context.Context) (bool, error) {
	return c.getFlag(ctx, store.SettingAllAutomationsStopped)
}

// Status returns both global switches.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	emergency, err := c.GetEmergencyStop(ctx)
	if err != nil {
		return nil, err
	}

	all, err := c.GetAllAutomationsStopped(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{EmergencyStop: emergency, AllAutomationsStopped: all}, nil
}

// SetEmergencyStop turns the platform-wide emergency stop on or off.
func (c *Controller) SetEmergencyStop(ctx context.Context, active bool, actor Actor) error {
	description := fmt.Sprintf("Emergency stop deactivated by %s", actor.Email)
	if active {
		description = fmt.Sprintf("Emergency stop ACTIVATED by %s", actor.Email)
	}

	return c.setFlag(ctx, store.SettingEmergencyStop, active, actor,
		audit.ActionEmergencyStop, description)
}

// SetAllAutomationsStopped stops or restarts every automation.
func (c *Controller) SetAllAutomationsStopped(ctx context.Context, active bool, actor Actor) error {
	description := fmt.Sprintf("All automations resumed by %s", actor.Email)
	if active {
		description = fmt.Sprintf("All automations STOPPED by %s", actor.Email)
	}

	return c.setFlag(ctx, store.SettingAllAutomationsStopped, active, actor,
		audit.ActionStopAllAutomations, description)
}

func (c *Controller) getFlag(ctx context.Context, key string) (bool, error) {
	setting, err := c.store.GetSystemSetting(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("reading %s: %w", key, err)
	}

	active, err := strconv.ParseBool(setting.SettingValue)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"setting": key,
			"value":   setting.SettingValue,
		}).Warn("Unparseable setting value, treating as false")

		return false, nil
	}

	return active, nil
}

func (c *Controller) setFlag(
	ctx context.Context,
	key string,
	active bool,
	actor Actor,
	actionType, description string,
) error {
	if err := c.store.UpsertSystemSetting(ctx, &store.SystemSetting{
		SettingKey:   key,
		SettingValue: strconv.FormatBool(active),
		UpdatedBy:    actor.ID,
		UpdatedAt:    c.now().UTC(),
	}); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	c.recorder.Record(audit.Entry{
		AdminID:     actor.ID,
		AdminEmail:  actor.Email,
		ActionType:  actionType,
		Description: description,
		Metadata:    map[string]any{"setting": key, "active": active},
	})

	changesTotal.WithLabelValues(key, strconv.FormatBool(active)).Inc()

	c.log.WithFields(logrus.Fields{
		"setting": key,
		"active":  active,
		"admin":   actor.Email,
	}).Warn("Kill switch changed")

	return nil
}
