package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/store"
	"github.com/sirupsen/logrus"
)

// Action is a per-user automation transition.
type Action string

// Per-user actions. Stop is terminal for pause and resume; only Reinstate
// leaves the stopped state.
const (
	ActionPause     Action = "pause"
	ActionResume    Action = "resume"
	ActionStop      Action = "stop"
	ActionReinstate Action = "reinstate"
)

// ParseAction validates a per-user action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPause, ActionResume, ActionStop, ActionReinstate:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

var (
	pauseColumns = []string{"paused", "paused_at", "paused_by", "updated_at"}
	stopColumns  = []string{
		"stopped", "stopped_at", "stopped_by", "paused", "paused_at", "updated_at",
	}
)

// UserAutomation is the automation state of one user. A stopped user never
// reports Paused.
type UserAutomation struct {
	UserID    string     `json:"user_id"`
	Paused    bool       `json:"paused"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`
	PausedBy  *string    `json:"paused_by,omitempty"`
	Stopped   bool       `json:"stopped"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	StoppedBy *string    `json:"stopped_by,omitempty"`
}

// GetUserAutomation returns the user's state; users never controlled
// before are neither paused nor stopped.
func (c *Controller) GetUserAutomation(ctx context.Context, userID string) (*UserAutomation, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	row, err := c.store.GetUserAutomationStatus(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &UserAutomation{UserID: userID}, nil
		}

		return nil, fmt.Errorf("reading automation status of %s: %w", userID, err)
	}

	ua := &UserAutomation{
		UserID:    row.UserID,
		Paused:    row.Paused && !row.Stopped,
		Stopped:   row.Stopped,
		StoppedAt: row.StoppedAt,
		StoppedBy: row.StoppedBy,
	}

	if ua.Paused {
		ua.PausedAt = row.PausedAt
		ua.PausedBy = row.PausedBy
	}

	return ua, nil
}

// SetUserAutomation applies action to target. It returns the resulting
// state and whether anything changed; repeating an action that already
// holds is a no-op that writes nothing.
func (c *Controller) SetUserAutomation(
	ctx context.Context,
	target Target,
	action Action,
	actor Actor,
) (*UserAutomation, bool, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return nil, false, err
	}

	current, err := c.GetUserAutomation(ctx, target.UserID)
	if err != nil {
		return nil, false, err
	}

	now := c.now().UTC()
	actorID := actor.ID
	row := &store.UserAutomationStatus{UserID: target.UserID, UpdatedAt: now}

	var (
		columns       []string
		unlessStopped bool
		actionType    string
		description   string
	)

	switch action {
	case ActionPause:
		if current.Stopped {
			return current, false, ErrUserStopped
		}

		if current.Paused {
			return current, false, nil
		}

		row.Paused, row.PausedAt, row.PausedBy = true, &now, &actorID
		columns, unlessStopped = pauseColumns, true
		actionType = audit.ActionPauseUserAutomation
		description = fmt.Sprintf("Paused automation for %s", target.label())
	case ActionResume:
		if current.Stopped {
			return current, false, ErrUserStopped
		}

		if !current.Paused {
			return current, false, nil
		}

		row.PausedBy = current.PausedBy
		columns, unlessStopped = pauseColumns, true
		actionType = audit.ActionResumeUserAutomation
		description = fmt.Sprintf("Resumed automation for %s", target.label())
	case ActionStop:
		if current.Stopped {
			return current, false, nil
		}

		row.Stopped, row.StoppedAt, row.StoppedBy = true, &now, &actorID
		columns = stopColumns
		actionType = audit.ActionStopUserAutomation
		description = fmt.Sprintf("Stopped automation for %s", target.label())
	case ActionReinstate:
		if !current.Stopped {
			return current, false, nil
		}

		columns = stopColumns
		actionType = audit.ActionReinstateUserAutomation
		description = fmt.Sprintf("Reinstated automation for %s", target.label())
	}

	applied, err := c.store.UpsertUserAutomationStatus(ctx, row, columns, unlessStopped)
	if err != nil {
		return nil, false, fmt.Errorf("writing automation status of %s: %w", target.UserID, err)
	}

	if !applied {
		// A concurrent stop landed between the read and the write.
		return nil, false, ErrUserStopped
	}

	c.recorder.Record(audit.Entry{
		AdminID:         actor.ID,
		AdminEmail:      actor.Email,
		ActionType:      actionType,
		Description:     fmt.Sprintf("%s by %s", description, actor.Email),
		TargetUserID:    target.UserID,
		TargetUserEmail: target.Email,
		Metadata:        map[string]any{"action": string(action)},
	})

	changesTotal.WithLabelValues("user_"+string(action), "true").Inc()

	c.log.WithFields(logrus.Fields{
		"user":   target.UserID,
		"action": action,
		"admin":  actor.Email,
	}).Info("User automation changed")

	next, err := c.GetUserAutomation(ctx, target.UserID)
	if err != nil {
		return nil, true, err
	}

	return next, true, nil
}
