package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hireflow/hireflow-admin/pkg/accounts"
	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/config"
	"github.com/hireflow/hireflow-admin/pkg/session"
	"github.com/hireflow/hireflow-admin/pkg/store"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct-pass"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memoryRecorder) Record(e audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, e)
}

func (m *memoryRecorder) ofType(actionType string) []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []audit.Entry

	for _, e := range m.entries {
		if e.ActionType == actionType {
			out = append(out, e)
		}
	}

	return out
}

func (m *memoryRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// issuingAccounts remembers every identity token handed out.
type issuingAccounts struct {
	*accounts.Service

	mu     sync.Mutex
	issued []string
}

func (a *issuingAccounts) SignInWithPassword(
	ctx context.Context, email, password string,
) (*accounts.Identity, error) {
	identity, err := a.Service.SignInWithPassword(ctx, email, password)
	if err == nil {
		a.mu.Lock()
		a.issued = append(a.issued, identity.Token)
		a.mu.Unlock()
	}

	return identity, err
}

func (a *issuingAccounts) lastIssued() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.issued) == 0 {
		return ""
	}

	return a.issued[len(a.issued)-1]
}

type testEnv struct {
	log      logrus.FieldLogger
	store    store.Store
	accounts *issuingAccounts
	clock    *fakeClock
	recorder *memoryRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &config.APIDatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	svc := accounts.NewService(log, st, accounts.Options{
		Secret:      testSecret,
		IdentityTTL: 24 * time.Hour,
		BcryptCost:  bcrypt.MinCost,
		Now:         clock.Now,
	})

	return &testEnv{
		log:      log,
		store:    st,
		accounts: &issuingAccounts{Service: svc},
		clock:    clock,
		recorder: &memoryRecorder{},
	}
}

func (e *testEnv) guardOptions() session.GuardOptions {
	return session.GuardOptions{Now: e.clock.Now}
}

func (e *testEnv) newGuard(t *testing.T, storage session.Storage) *session.Guard {
	t.Helper()

	g := session.NewGuard(e.log, e.accounts, e.recorder, storage, e.guardOptions())
	t.Cleanup(g.Close)

	return g
}

func (e *testEnv) createAdmin(t *testing.T, email string, active bool) *accounts.AdminProfile {
	t.Helper()

	admin, err := e.accounts.CreateAdmin(context.Background(), accounts.NewAdmin{
		Email:    email,
		Password: testPassword,
		FullName: "Test Admin",
		Role:     "admin",
		Inactive: !active,
	})
	require.NoError(t, err)

	return admin
}

// createAccountWithoutAdmin creates credentials that authenticate but have
// no admin record.
func (e *testEnv) createAccountWithoutAdmin(t *testing.T, email string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	require.NoError(t, e.store.CreateAccount(context.Background(), &store.Account{
		Email:        email,
		PasswordHash: string(hash),
	}))
}

func artifactKeys(t *testing.T, s session.Storage) []string {
	t.Helper()

	keys, err := s.Keys(context.Background(), session.ArtifactPrefix)
	require.NoError(t, err)

	return keys
}

func storeUpdate(fullName string) store.AdminUserUpdate {
	return store.AdminUserUpdate{FullName: &fullName}
}
