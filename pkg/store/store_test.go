package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow-admin/pkg/config"
	"github.com/hireflow/hireflow-admin/pkg/store"
)

func setupTestStore(t *testing.T) store.Store {
	t.Helper()

	cfg := &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_StartWithoutDriver(t *testing.T) {
	s := store.NewStore(logrus.New(), &config.APIDatabaseConfig{})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, store.ErrNotConfigured)
	require.NoError(t, s.Stop())
}

func TestStore_AccountsAndAdmins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	account := &store.Account{Email: "admin@x.com", PasswordHash: "hash"}
	require.NoError(t, s.CreateAccount(ctx, account))
	require.NotEmpty(t, account.ID, "BeforeCreate assigns an id")

	got, err := s.GetAccountByEmail(ctx, "admin@x.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)

	_, err = s.GetAccountByEmail(ctx, "nobody@x.com")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateAdminUser(ctx, &store.AdminUser{
		ID:       account.ID,
		Email:    account.Email,
		Role:     "admin",
		IsActive: false,
	}))

	admin, err := s.GetAdminUser(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, admin.IsActive, "false must persist, not fall back to a default")

	name := "Ada Admin"
	require.NoError(t, s.UpdateAdminUser(ctx, account.ID, store.AdminUserUpdate{
		FullName: &name,
	}))

	admin, err = s.GetAdminUser(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, admin.FullName)
	assert.Equal(t, name, *admin.FullName)

	err = s.UpdateAdminUser(ctx, "missing", store.AdminUserUpdate{FullName: &name})
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.UpdateAccountPassword(ctx, account.ID, "new-hash"))
	got, err = s.GetAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
}

func TestStore_IdentitySessions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	live := &store.IdentitySession{
		Token:     "live",
		AccountID: "acc-1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	dead := &store.IdentitySession{
		Token:     "dead",
		AccountID: "acc-1",
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}

	require.NoError(t, s.CreateIdentitySession(ctx, live))
	require.NoError(t, s.CreateIdentitySession(ctx, dead))
	require.NoError(t, s.DeleteExpiredIdentitySessions(ctx))

	_, err := s.GetIdentitySession(ctx, "dead")
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.GetIdentitySession(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.AccountID)

	require.NoError(t, s.DeleteIdentitySession(ctx, "live"))
	require.NoError(t, s.DeleteIdentitySession(ctx, "live"), "deleting twice is a no-op")
}

func TestStore_UpsertSystemSettingLastWriteWins(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetSystemSetting(ctx, store.SettingEmergencyStop)
	require.ErrorIs(t, err, store.ErrNotFound)

	t0 := time.Now().UTC()

	require.NoError(t, s.UpsertSystemSetting(ctx, &store.SystemSetting{
		SettingKey:   store.SettingEmergencyStop,
		SettingValue: "true",
		UpdatedBy:    "admin-a",
		UpdatedAt:    t0,
	}))
	require.NoError(t, s.UpsertSystemSetting(ctx, &store.SystemSetting{
		SettingKey:   store.SettingEmergencyStop,
		SettingValue: "false",
		UpdatedBy:    "admin-b",
		UpdatedAt:    t0.Add(time.Second),
	}))

	setting, err := s.GetSystemSetting(ctx, store.SettingEmergencyStop)
	require.NoError(t, err)
	assert.Equal(t, "false", setting.SettingValue)
	assert.Equal(t, "admin-b", setting.UpdatedBy)
}

func TestStore_UpsertUserAutomationStatusUnlessStopped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	actor := "admin-a"

	// First pause inserts the row.
	applied, err := s.UpsertUserAutomationStatus(ctx, &store.UserAutomationStatus{
		UserID:    "u1",
		Paused:    true,
		PausedAt:  &now,
		PausedBy:  &actor,
		UpdatedAt: now,
	}, []string{"paused", "paused_at", "paused_by", "updated_at"}, true)
	require.NoError(t, err)
	assert.True(t, applied)

	// Stop overwrites unconditionally and clears pause.
	applied, err = s.UpsertUserAutomationStatus(ctx, &store.UserAutomationStatus{
		UserID:    "u1",
		Stopped:   true,
		StoppedAt: &now,
		StoppedBy: &actor,
		UpdatedAt: now,
	}, []string{"paused", "paused_at", "stopped", "stopped_at", "stopped_by", "updated_at"}, false)
	require.NoError(t, err)
	assert.True(t, applied)

	// A pause against the stopped row is refused at the store.
	applied, err = s.UpsertUserAutomationStatus(ctx, &store.UserAutomationStatus{
		UserID:    "u1",
		Paused:    true,
		PausedAt:  &now,
		UpdatedAt: now,
	}, []string{"paused", "paused_at", "updated_at"}, true)
	require.NoError(t, err)
	assert.False(t, applied)

	status, err := s.GetUserAutomationStatus(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, status.Stopped)
	assert.False(t, status.Paused)
	assert.Nil(t, status.PausedAt)
}

func TestStore_ActivityLogs(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	target := "u1"

	entries := []*store.ActivityLog{
		{AdminID: "a", ActionType: "login", CreatedAt: base},
		{AdminID: "a", ActionType: "emergency_stop", CreatedAt: base.Add(time.Second)},
		{
			AdminID:      "b",
			ActionType:   "stop_user_automation",
			TargetUserID: &target,
			Metadata:     map[string]any{"action": "stop"},
			CreatedAt:    base.Add(2 * time.Second),
		},
	}

	for _, e := range entries {
		require.NoError(t, s.AppendActivityLog(ctx, e))
	}

	all, err := s.ListActivityLogs(ctx, store.ActivityLogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "stop_user_automation", all[0].ActionType, "newest first")
	assert.Equal(t, "stop", all[0].Metadata["action"])

	stops, err := s.ListActivityLogs(ctx, store.ActivityLogFilter{
		ActionTypes: []string{"emergency_stop", "login"},
	})
	require.NoError(t, err)
	require.Len(t, stops, 2)
	assert.Equal(t, "emergency_stop", stops[0].ActionType)

	byTarget, err := s.ListActivityLogs(ctx, store.ActivityLogFilter{TargetUserID: "u1"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)

	limited, err := s.ListActivityLogs(ctx, store.ActivityLogFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
