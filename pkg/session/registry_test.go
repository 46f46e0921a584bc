package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/session"
)

func newTestRegistry(t *testing.T, env *testEnv) *session.Registry {
	t.Helper()

	r := session.NewRegistry(env.log, env.accounts, env.recorder, session.RegistryOptions{
		Guard:         env.guardOptions(),
		CheckInterval: time.Hour,
		IdleEviction:  10 * time.Minute,
	})
	t.Cleanup(func() { _ = r.Stop() })

	return r
}

func TestNewConsoleToken(t *testing.T) {
	a, err := session.NewConsoleToken()
	require.NoError(t, err)

	b, err := session.NewConsoleToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}

func TestRegistry_GetOrCreate(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRegistry(t, env)

	_, ok := r.Get("tab-1")
	require.False(t, ok)

	g := r.GetOrCreate("tab-1")
	assert.Same(t, g, r.GetOrCreate("tab-1"))
	assert.NotSame(t, g, r.GetOrCreate("tab-2"))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("tab-1")
	require.True(t, ok)
	assert.Same(t, g, got)
}

func TestRegistry_TabsExpireIndependently(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	r := newTestRegistry(t, env)

	idle := r.GetOrCreate("idle-tab")
	busy := r.GetOrCreate("busy-tab")

	creds := session.Credentials{Email: "admin@x.com", Password: testPassword}
	require.NoError(t, idle.SignIn(ctx, creds))
	require.NoError(t, busy.SignIn(ctx, creds))

	env.clock.Advance(20 * time.Minute)
	require.NoError(t, busy.RecordActivity(ctx, session.SignalPointerDown))

	env.clock.Advance(15 * time.Minute)
	r.Sweep(ctx)

	assert.Equal(t, session.StateUnauthenticated, idle.State())
	assert.Equal(t, session.StateAuthenticated, busy.State())
	assert.Len(t, env.recorder.ofType(audit.ActionSessionTimeout), 1)

	kept, ok := r.Get("idle-tab")
	require.True(t, ok, "an expired tab outlives the idle grace period once")
	assert.Equal(t, session.ExpiredNotice, kept.TakeNotice())
}

func TestRegistry_EvictsIdleGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createAdmin(t, "admin@x.com", true)

	r := newTestRegistry(t, env)

	anon := r.GetOrCreate("anonymous")
	anon.Initialize(ctx)

	signedIn := r.GetOrCreate("signed-in")
	require.NoError(t, signedIn.SignIn(ctx, session.Credentials{Email: "admin@x.com", Password: testPassword}))

	env.clock.Advance(5 * time.Minute)
	r.Sweep(ctx)
	assert.Equal(t, 2, r.Len(), "grace period not over yet")

	env.clock.Advance(6 * time.Minute)
	require.NoError(t, signedIn.RecordActivity(ctx, session.SignalKeyDown))
	r.Sweep(ctx)

	_, ok := r.Get("anonymous")
	assert.False(t, ok)

	_, ok = r.Get("signed-in")
	assert.True(t, ok, "authenticated guards are never evicted")
}

func TestRegistry_StartStop(t *testing.T) {
	env := newTestEnv(t)

	r := session.NewRegistry(env.log, env.accounts, env.recorder, session.RegistryOptions{
		CheckInterval: 10 * time.Millisecond,
	})

	require.NoError(t, r.Start(context.Background()))
	r.GetOrCreate("tab")

	time.Sleep(30 * time.Millisecond)

	require.NoError(t, r.Stop())
	assert.Zero(t, r.Len())
}
