package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow-admin/pkg/accounts"
	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/session"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestGuard_InitializeFreshTab(t *testing.T) {
	env := newTestEnv(t)
	storage := session.NewMemoryStorage()
	g := env.newGuard(t, storage)

	require.Equal(t, session.StateUninitialized, g.State())

	start := time.Now()
	state := g.Initialize(context.Background())

	assert.Equal(t, session.StateUnauthenticated, state)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, g.IsAuthenticated())
	assert.Nil(t, g.AdminProfile())
	assert.Zero(t, env.recorder.len())
}

func TestGuard_SignIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	g := env.newGuard(t, storage)
	g.Initialize(ctx)

	require.NoError(t, g.SignIn(ctx, session.Credentials{
		Email:     "admin@x.com",
		Password:  testPassword,
		UserAgent: chromeUA,
	}))

	assert.Equal(t, session.StateAuthenticated, g.State())
	require.NotNil(t, g.AdminProfile())
	assert.Equal(t, "admin@x.com", g.AdminProfile().Email)

	logins := env.recorder.ofType(audit.ActionLogin)
	require.Len(t, logins, 1)
	assert.Equal(t, admin.ID, logins[0].AdminID)
	assert.Equal(t, "desktop", logins[0].Metadata["device"])
	assert.Contains(t, logins[0].Metadata["browser"], "Chrome")

	assert.Len(t, artifactKeys(t, storage), 2, "identity token and activity marker")

	row, err := env.store.GetAdminUser(ctx, admin.ID)
	require.NoError(t, err)
	assert.NotNil(t, row.LastLogin)

	snap := g.Snapshot()
	require.NotNil(t, snap.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(session.DefaultTimeout), *snap.ExpiresAt)
}

func TestGuard_SignInRejected(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *testEnv)
		email   string
		pass    string
		wantErr error
		revoked bool
	}{
		{
			name:    "wrong password",
			setup:   func(t *testing.T, env *testEnv) { env.createAdmin(t, "admin@x.com", true) },
			email:   "admin@x.com",
			pass:    "wrong",
			wantErr: session.ErrInvalidCredentials,
		},
		{
			name:    "no admin record",
			setup:   func(t *testing.T, env *testEnv) { env.createAccountWithoutAdmin(t, "user@x.com") },
			email:   "user@x.com",
			pass:    testPassword,
			wantErr: session.ErrNotAuthorized,
			revoked: true,
		},
		{
			name:    "deactivated admin",
			setup:   func(t *testing.T, env *testEnv) { env.createAdmin(t, "gone@x.com", false) },
			email:   "gone@x.com",
			pass:    testPassword,
			wantErr: session.ErrDeactivated,
			revoked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			tt.setup(t, env)

			storage := session.NewMemoryStorage()
			g := env.newGuard(t, storage)
			g.Initialize(ctx)

			err := g.SignIn(ctx, session.Credentials{Email: tt.email, Password: tt.pass})
			require.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, session.StateUnauthenticated, g.State())
			assert.Empty(t, artifactKeys(t, storage))
			assert.Empty(t, env.recorder.ofType(audit.ActionLogin))

			if tt.revoked {
				token := env.accounts.lastIssued()
				require.NotEmpty(t, token)

				identity, err := env.accounts.GetSession(ctx, token)
				require.NoError(t, err)
				assert.Nil(t, identity, "identity must be revoked at the account store")
			}
		})
	}
}

func TestGuard_CheckExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	g := env.newGuard(t, storage)
	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	token := env.accounts.lastIssued()

	env.clock.Advance(31 * time.Minute)

	require.True(t, g.CheckExpiry(ctx))
	assert.Equal(t, session.StateUnauthenticated, g.State())
	assert.Len(t, env.recorder.ofType(audit.ActionSessionTimeout), 1)
	assert.Empty(t, artifactKeys(t, storage))

	snap := g.Snapshot()
	assert.Equal(t, session.ExpiredNotice, snap.Notice)
	assert.Equal(t, session.DefaultLoginRedirect, snap.Redirect)

	identity, err := env.accounts.GetSession(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, identity)

	require.False(t, g.CheckExpiry(ctx), "timeout path runs once")
	assert.Len(t, env.recorder.ofType(audit.ActionSessionTimeout), 1)

	assert.Equal(t, session.ExpiredNotice, g.TakeNotice())
	assert.Empty(t, g.TakeNotice())
}

func TestGuard_SlidingWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	g := env.newGuard(t, session.NewMemoryStorage())
	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	env.clock.Advance(29 * time.Minute)
	require.False(t, g.CheckExpiry(ctx))
	require.NoError(t, g.RecordActivity(ctx, session.SignalKeyDown))

	env.clock.Advance(29 * time.Minute)
	require.False(t, g.CheckExpiry(ctx))

	env.clock.Advance(time.Minute)
	require.False(t, g.CheckExpiry(ctx), "exactly at the timeout is still valid")

	env.clock.Advance(time.Second)
	require.True(t, g.CheckExpiry(ctx))
}

func TestGuard_RecordActivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	g := env.newGuard(t, session.NewMemoryStorage())

	err := g.RecordActivity(ctx, session.SignalScroll)
	require.ErrorIs(t, err, session.ErrNotAuthenticated)

	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	err = g.RecordActivity(ctx, session.Signal("mousemove"))
	require.ErrorIs(t, err, session.ErrUnknownSignal)

	env.clock.Advance(45 * time.Minute)

	err = g.RecordActivity(ctx, session.SignalRequest)
	require.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Equal(t, session.StateUnauthenticated, g.State())
	assert.Len(t, env.recorder.ofType(audit.ActionSessionTimeout), 1)
}

func TestGuard_SignOutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	g := env.newGuard(t, storage)
	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	token := env.accounts.lastIssued()

	require.NoError(t, g.SignOut(ctx))
	first := g.Snapshot()

	require.NoError(t, g.SignOut(ctx))
	second := g.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, session.StateUnauthenticated, second.State)
	assert.Equal(t, session.DefaultLoginRedirect, second.Redirect)
	assert.Empty(t, artifactKeys(t, storage))

	logouts := env.recorder.ofType(audit.ActionLogout)
	require.Len(t, logouts, 1)
	assert.Equal(t, "admin@x.com", logouts[0].AdminEmail)

	identity, err := env.accounts.GetSession(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestGuard_InitializeRestoresPersistedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	first := env.newGuard(t, storage)
	require.NoError(t, first.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))
	first.Close()

	env.clock.Advance(10 * time.Minute)

	restored := env.newGuard(t, storage)
	require.Equal(t, session.StateAuthenticated, restored.Initialize(ctx))
	assert.Equal(t, "admin@x.com", restored.AdminProfile().Email)

	// The window slides from the persisted marker, not from restore time.
	env.clock.Advance(21 * time.Minute)
	assert.True(t, restored.CheckExpiry(ctx))
}

func TestGuard_InitializeRejectsStaleArtifacts(t *testing.T) {
	tests := []struct {
		name  string
		stale func(t *testing.T, env *testEnv, token string)
	}{
		{
			name: "activity marker expired",
			stale: func(_ *testing.T, env *testEnv, _ string) {
				env.clock.Advance(31 * time.Minute)
			},
		},
		{
			name: "identity revoked",
			stale: func(t *testing.T, env *testEnv, token string) {
				require.NoError(t, env.accounts.SignOut(context.Background(), token))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			env.createAdmin(t, "admin@x.com", true)

			storage := session.NewMemoryStorage()
			first := env.newGuard(t, storage)
			require.NoError(t, first.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))
			first.Close()

			tt.stale(t, env, env.accounts.lastIssued())

			g := env.newGuard(t, storage)
			assert.Equal(t, session.StateUnauthenticated, g.Initialize(ctx))
			assert.Empty(t, artifactKeys(t, storage))
		})
	}
}

// blockingAccounts stalls identity resolution until released.
type blockingAccounts struct {
	session.Accounts

	release chan struct{}
}

func (b *blockingAccounts) GetSession(
	ctx context.Context, token string,
) (*accounts.Identity, error) {
	<-b.release

	return b.Accounts.GetSession(context.WithoutCancel(ctx), token)
}

func TestGuard_InitializeTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	first := env.newGuard(t, storage)
	require.NoError(t, first.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))
	first.Close()

	blocking := &blockingAccounts{Accounts: env.accounts, release: make(chan struct{})}
	opts := env.guardOptions()
	opts.InitializeTimeout = 50 * time.Millisecond

	g := session.NewGuard(env.log, blocking, env.recorder, storage, opts)
	defer g.Close()

	require.Equal(t, session.StateUnauthenticated, g.Initialize(ctx))

	close(blocking.release)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, session.StateUnauthenticated, g.State(), "late resolution must not authenticate")
	assert.NotEmpty(t, artifactKeys(t, storage), "a timeout does not purge")

	require.Equal(t, session.StateAuthenticated, g.EnsureInitialized(ctx),
		"a timed-out restore is retried on the next access")
	assert.Equal(t, "admin@x.com", g.AdminProfile().Email)
	assert.Equal(t, session.StateAuthenticated, g.EnsureInitialized(ctx))
}

func TestGuard_InitializeTimeoutRetryPurgesStaleArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	first := env.newGuard(t, storage)
	require.NoError(t, first.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))
	first.Close()

	blocking := &blockingAccounts{Accounts: env.accounts, release: make(chan struct{})}
	opts := env.guardOptions()
	opts.InitializeTimeout = 50 * time.Millisecond

	g := session.NewGuard(env.log, blocking, env.recorder, storage, opts)
	defer g.Close()

	require.Equal(t, session.StateUnauthenticated, g.EnsureInitialized(ctx))
	close(blocking.release)

	env.clock.Advance(31 * time.Minute)

	require.Equal(t, session.StateUnauthenticated, g.EnsureInitialized(ctx))
	assert.Empty(t, artifactKeys(t, storage), "the retry discards expired artifacts")

	identity, err := env.accounts.GetSession(ctx, env.accounts.lastIssued())
	require.NoError(t, err)
	assert.Nil(t, identity, "the stale identity is revoked")
}

func TestGuard_RemoteSignOutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	storage := session.NewMemoryStorage()
	g := env.newGuard(t, storage)
	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	require.NoError(t, env.accounts.SignOut(ctx, env.accounts.lastIssued()))

	require.Eventually(t, func() bool {
		return g.State() == session.StateUnauthenticated
	}, time.Second, 10*time.Millisecond)

	assert.Empty(t, artifactKeys(t, storage))
	assert.Empty(t, env.recorder.ofType(audit.ActionLogout))
}

func TestGuard_RefreshAdminProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createAdmin(t, "admin@x.com", true)

	g := env.newGuard(t, session.NewMemoryStorage())
	require.ErrorIs(t, g.RefreshAdminProfile(ctx), session.ErrNotAuthenticated)

	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))
	assert.Equal(t, "Test Admin", g.AdminProfile().DisplayName)

	name := "Renamed Admin"
	require.NoError(t, env.accounts.UpdateAdminRecord(ctx, admin.ID, storeUpdate(name)))
	assert.Equal(t, "Test Admin", g.AdminProfile().DisplayName, "profile is resolved once per identity")

	require.NoError(t, g.RefreshAdminProfile(ctx))
	assert.Equal(t, name, g.AdminProfile().DisplayName)
}

func TestGuard_Subscribe(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	g := env.newGuard(t, session.NewMemoryStorage())

	var (
		mu     sync.Mutex
		states []session.State
	)

	unsubscribe := g.Subscribe(func(s session.Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	g.Initialize(ctx)
	require.NoError(t, g.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	unsubscribe()
	require.NoError(t, g.SignOut(ctx))

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []session.State{
		session.StateLoading,
		session.StateUnauthenticated,
		session.StateAuthenticated,
	}, states)
}
