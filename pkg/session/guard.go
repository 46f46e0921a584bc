package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/accounts"
	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/mileusna/useragent"
	"github.com/sirupsen/logrus"
)

// Guard defaults.
const (
	DefaultTimeout           = 30 * time.Minute
	DefaultInitializeTimeout = 5 * time.Second
	DefaultLoginRedirect     = "/login"
)

// Accounts is the account store as used by a Guard.
type Accounts interface {
	SignInWithPassword(ctx context.Context, email, password string) (*accounts.Identity, error)
	GetSession(ctx context.Context, token string) (*accounts.Identity, error)
	SignOut(ctx context.Context, token string) error
	OnAuthStateChange(fn func(accounts.AuthStateChange)) (unsubscribe func())
	GetAdminRecordByID(ctx context.Context, id string) (*accounts.AdminProfile, error)
	TouchLastLogin(ctx context.Context, id string) error
}

// GuardOptions configures a Guard. Zero values take defaults.
type GuardOptions struct {
	Timeout           time.Duration
	InitializeTimeout time.Duration
	Provider          string
	LoginRedirect     string
	Now               func() time.Time
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.InitializeTimeout <= 0 {
		o.InitializeTimeout = DefaultInitializeTimeout
	}

	if o.Provider == "" {
		o.Provider = DefaultProvider
	}

	if o.LoginRedirect == "" {
		o.LoginRedirect = DefaultLoginRedirect
	}

	if o.Now == nil {
		o.Now = time.Now
	}

	return o
}

// Guard owns one console tab's session. Transitions are serialized by
// opMu; mu only guards the fields read by accessors.
type Guard struct {
	log      logrus.FieldLogger
	accounts Accounts
	recorder audit.Recorder
	storage  Storage
	opts     GuardOptions

	opMu sync.Mutex

	mu             sync.RWMutex
	state          State
	identity       *accounts.Identity
	profile        *accounts.AdminProfile
	lastActivityAt time.Time
	notice         string
	redirect       string
	generation     uint64
	initTimedOut   bool

	subMu   sync.Mutex
	subs    map[uint64]func(Snapshot)
	nextSub uint64

	unsubscribeAuth func()
}

// NewGuard creates a guard in StateUninitialized and subscribes it to the
// account store's auth-state events. Call Close to unsubscribe.
func NewGuard(
	log logrus.FieldLogger,
	accts Accounts,
	recorder audit.Recorder,
	storage Storage,
	opts GuardOptions,
) *Guard {
	g := &Guard{
		log:      log.WithField("component", "session-guard"),
		accounts: accts,
		recorder: recorder,
		storage:  storage,
		opts:     opts.withDefaults(),
		state:    StateUninitialized,
		subs:     make(map[uint64]func(Snapshot), 1),
	}

	g.unsubscribeAuth = accts.OnAuthStateChange(g.onAuthStateChange)

	return g
}

// Close detaches the guard from the account store.
func (g *Guard) Close() {
	if g.unsubscribeAuth != nil {
		g.unsubscribeAuth()
	}
}

// resolution is the outcome of restoring a persisted session.
type resolution struct {
	identity       *accounts.Identity
	profile        *accounts.AdminProfile
	lastActivityAt time.Time
	dangling       string
	reason         string
	err            error
}

// Initialize restores a persisted session. It returns within the
// initialize timeout; a resolution that arrives later is discarded.
func (g *Guard) Initialize(ctx context.Context) State {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	return g.initializeLocked(ctx)
}

// EnsureInitialized runs Initialize for a fresh guard, and again for a
// guard whose last restore timed out.
func (g *Guard) EnsureInitialized(ctx context.Context) State {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.RLock()
	state, retry := g.state, g.initTimedOut
	g.mu.RUnlock()

	if state != StateUninitialized && !(state == StateUnauthenticated && retry) {
		return state
	}

	return g.initializeLocked(ctx)
}

func (g *Guard) initializeLocked(ctx context.Context) State {
	g.mu.Lock()
	g.generation++
	gen := g.generation
	g.state = StateLoading
	g.initTimedOut = false
	g.mu.Unlock()
	g.notify()

	ctx, cancel := context.WithTimeout(ctx, g.opts.InitializeTimeout)
	defer cancel()

	done := make(chan resolution, 1)

	go func() {
		done <- g.resolve(ctx)
	}()

	select {
	case res := <-done:
		g.apply(ctx, gen, res)
	case <-ctx.Done():
		g.log.WithError(ctx.Err()).Warn("Session initialization timed out")

		g.mu.Lock()
		if g.generation == gen {
			g.generation++
			g.clearLocked()
			g.state = StateUnauthenticated
			g.initTimedOut = true
		}
		g.mu.Unlock()
	}

	g.notify()

	return g.State()
}

func (g *Guard) resolve(ctx context.Context) resolution {
	marker, ok, err := g.storage.Get(ctx, activityKey())
	if err != nil {
		return resolution{reason: "reading activity marker", err: err}
	}

	if !ok {
		return resolution{reason: "no activity marker"}
	}

	last, err := time.Parse(time.RFC3339Nano, marker)
	if err != nil {
		return resolution{reason: "malformed activity marker", err: err}
	}

	if g.opts.Now().Sub(last) > g.opts.Timeout {
		token, _, _ := g.storage.Get(ctx, tokenKey(g.opts.Provider))

		return resolution{reason: "activity marker expired", dangling: token}
	}

	token, ok, err := g.storage.Get(ctx, tokenKey(g.opts.Provider))
	if err != nil {
		return resolution{reason: "reading identity token", err: err}
	}

	if !ok || token == "" {
		return resolution{reason: "no persisted identity"}
	}

	identity, err := g.accounts.GetSession(ctx, token)
	if err != nil {
		return resolution{reason: "resolving identity", err: err}
	}

	if identity == nil {
		return resolution{reason: "identity expired or revoked"}
	}

	profile, err := g.accounts.GetAdminRecordByID(ctx, identity.AccountID)

	switch {
	case err != nil:
		return resolution{reason: "resolving admin record", dangling: token, err: err}
	case profile == nil:
		return resolution{reason: "no admin record", dangling: token}
	case !profile.IsActive:
		return resolution{reason: "admin record inactive", dangling: token}
	}

	return resolution{identity: identity, profile: profile, lastActivityAt: last}
}

func (g *Guard) apply(ctx context.Context, gen uint64, res resolution) {
	g.mu.RLock()
	current := g.generation == gen
	g.mu.RUnlock()

	if !current {
		return
	}

	if res.identity == nil {
		g.log.WithError(res.err).WithField("reason", res.reason).Debug("No session restored")

		if err := purge(ctx, g.storage); err != nil {
			g.log.WithError(err).Warn("Failed to purge session artifacts")
		}

		if res.dangling != "" {
			g.revoke(ctx, res.dangling)
		}

		g.mu.Lock()
		g.clearLocked()
		g.state = StateUnauthenticated
		g.mu.Unlock()

		return
	}

	g.mu.Lock()
	g.identity = res.identity
	g.profile = res.profile
	g.lastActivityAt = res.lastActivityAt
	g.state = StateAuthenticated
	g.mu.Unlock()

	g.log.WithField("admin", res.profile.Email).Debug("Session restored")
}

// SignIn authenticates an admin. It fails with ErrInvalidCredentials,
// ErrNotAuthorized, ErrDeactivated or a wrapped store error; on
// ErrNotAuthorized and ErrDeactivated the new identity is revoked at once.
func (g *Guard) SignIn(ctx context.Context, creds Credentials) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	identity, err := g.accounts.SignInWithPassword(ctx, creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			signInsTotal.WithLabelValues("invalid_credentials").Inc()

			return ErrInvalidCredentials
		}

		signInsTotal.WithLabelValues("error").Inc()

		return fmt.Errorf("signing in: %w", err)
	}

	profile, err := g.accounts.GetAdminRecordByID(ctx, identity.AccountID)

	switch {
	case err != nil:
		g.revoke(ctx, identity.Token)
		signInsTotal.WithLabelValues("error").Inc()

		return fmt.Errorf("resolving admin record: %w", err)
	case profile == nil:
		g.revoke(ctx, identity.Token)
		signInsTotal.WithLabelValues("not_authorized").Inc()

		return ErrNotAuthorized
	case !profile.IsActive:
		g.revoke(ctx, identity.Token)
		signInsTotal.WithLabelValues("deactivated").Inc()

		return ErrDeactivated
	}

	g.mu.RLock()
	previous := g.identity
	g.mu.RUnlock()

	if previous != nil && previous.Token != identity.Token {
		g.revoke(ctx, previous.Token)
	}

	now := g.opts.Now()

	if err := g.persist(ctx, identity.Token, now); err != nil {
		g.log.WithError(err).Warn("Failed to persist session artifacts")
	}

	g.mu.Lock()
	g.identity = identity
	g.profile = profile
	g.lastActivityAt = now
	g.notice = ""
	g.redirect = ""
	g.initTimedOut = false
	g.state = StateAuthenticated
	g.mu.Unlock()

	if err := g.accounts.TouchLastLogin(ctx, profile.ID); err != nil {
		g.log.WithError(err).Warn("Failed to update last login")
	}

	g.recorder.Record(audit.Entry{
		AdminID:     profile.ID,
		AdminEmail:  profile.Email,
		ActionType:  audit.ActionLogin,
		Description: fmt.Sprintf("Admin %s signed in", profile.Email),
		Metadata:    userAgentMetadata(creds.UserAgent),
	})

	signInsTotal.WithLabelValues("success").Inc()
	g.log.WithField("admin", profile.Email).Info("Admin signed in")
	g.notify()

	return nil
}

// SignOut ends the session and points the tab at the sign-in page.
// Signing out without a session is a no-op apart from the redirect.
func (g *Guard) SignOut(ctx context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.RLock()
	profile := g.profile
	g.mu.RUnlock()

	if profile != nil {
		g.recorder.Record(audit.Entry{
			AdminID:     profile.ID,
			AdminEmail:  profile.Email,
			ActionType:  audit.ActionLogout,
			Description: fmt.Sprintf("Admin %s signed out", profile.Email),
		})

		endedTotal.WithLabelValues("sign_out").Inc()
	}

	g.endLocked(ctx, true, "")

	return nil
}

// RecordActivity slides the inactivity window. Activity that arrives after
// the window closed runs the timeout path and returns ErrSessionExpired.
func (g *Guard) RecordActivity(ctx context.Context, signal Signal) error {
	if !signal.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSignal, signal)
	}

	g.opMu.Lock()
	defer g.opMu.Unlock()

	if g.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}

	if g.expireLocked(ctx) {
		return ErrSessionExpired
	}

	now := g.opts.Now()

	if err := g.storage.Set(ctx, activityKey(), now.UTC().Format(time.RFC3339Nano)); err != nil {
		g.log.WithError(err).Warn("Failed to persist activity marker")
	}

	g.mu.Lock()
	g.lastActivityAt = now
	g.mu.Unlock()

	return nil
}

// CheckExpiry runs the timeout path when the inactivity window has closed.
// It reports whether the session expired on this call.
func (g *Guard) CheckExpiry(ctx context.Context) bool {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	if g.State() != StateAuthenticated {
		return false
	}

	return g.expireLocked(ctx)
}

func (g *Guard) expireLocked(ctx context.Context) bool {
	g.mu.Lock()
	if g.opts.Now().Sub(g.lastActivityAt) <= g.opts.Timeout {
		g.mu.Unlock()

		return false
	}

	profile := g.profile
	idle := g.opts.Now().Sub(g.lastActivityAt)
	g.state = StateExpiring
	g.mu.Unlock()
	g.notify()

	g.recorder.Record(audit.Entry{
		AdminID:     profile.ID,
		AdminEmail:  profile.Email,
		ActionType:  audit.ActionSessionTimeout,
		Description: fmt.Sprintf("Session for %s expired due to inactivity", profile.Email),
		Metadata:    map[string]any{"idle_seconds": int64(idle.Seconds())},
	})

	endedTotal.WithLabelValues("timeout").Inc()
	g.log.WithField("admin", profile.Email).Info("Session expired due to inactivity")
	g.endLocked(ctx, true, ExpiredNotice)

	return true
}

// RefreshAdminProfile re-reads the admin record for the current identity.
// A record that disappeared or was deactivated ends the session.
func (g *Guard) RefreshAdminProfile(ctx context.Context) error {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.RLock()
	identity := g.identity
	authenticated := g.state == StateAuthenticated
	g.mu.RUnlock()

	if !authenticated || identity == nil {
		return ErrNotAuthenticated
	}

	profile, err := g.accounts.GetAdminRecordByID(ctx, identity.AccountID)
	if err != nil {
		return fmt.Errorf("refreshing admin profile: %w", err)
	}

	if profile == nil || !profile.IsActive {
		endedTotal.WithLabelValues("unauthorized").Inc()
		g.endLocked(ctx, true, "")

		if profile == nil {
			return ErrNotAuthorized
		}

		return ErrDeactivated
	}

	g.mu.Lock()
	g.profile = profile
	g.mu.Unlock()
	g.notify()

	return nil
}

// endLocked revokes the identity when asked, purges persisted artifacts
// and leaves the guard Unauthenticated. Safe to repeat.
func (g *Guard) endLocked(ctx context.Context, revoke bool, notice string) {
	g.mu.RLock()
	identity := g.identity
	g.mu.RUnlock()

	if revoke && identity != nil {
		g.revoke(ctx, identity.Token)
	}

	if err := purge(ctx, g.storage); err != nil {
		g.log.WithError(err).Warn("Failed to purge session artifacts")
	}

	g.mu.Lock()
	g.clearLocked()
	g.state = StateUnauthenticated
	g.initTimedOut = false
	g.redirect = g.opts.LoginRedirect

	if notice != "" {
		g.notice = notice
	}
	g.mu.Unlock()

	g.notify()
}

// clearLocked drops the in-memory session. Callers hold mu.
func (g *Guard) clearLocked() {
	g.identity = nil
	g.profile = nil
	g.lastActivityAt = time.Time{}
}

func (g *Guard) revoke(ctx context.Context, token string) {
	if err := g.accounts.SignOut(ctx, token); err != nil {
		g.log.WithError(err).Warn("Failed to revoke identity")
	}
}

func (g *Guard) persist(ctx context.Context, token string, at time.Time) error {
	if err := g.storage.Set(ctx, tokenKey(g.opts.Provider), token); err != nil {
		return err
	}

	return g.storage.Set(ctx, activityKey(), at.UTC().Format(time.RFC3339Nano))
}

// onAuthStateChange runs on the goroutine that emitted the event, which
// may hold opMu, so the transition itself is handed off.
func (g *Guard) onAuthStateChange(change accounts.AuthStateChange) {
	if change.Event != accounts.EventSignedOut {
		return
	}

	g.mu.RLock()
	ours := g.identity != nil && g.identity.Token == change.Token
	g.mu.RUnlock()

	if !ours {
		return
	}

	go g.handleRemoteSignOut(change.Token)
}

func (g *Guard) handleRemoteSignOut(token string) {
	g.opMu.Lock()
	defer g.opMu.Unlock()

	g.mu.RLock()
	ours := g.identity != nil && g.identity.Token == token
	g.mu.RUnlock()

	if !ours {
		return
	}

	g.log.Info("Identity signed out elsewhere, clearing session")
	endedTotal.WithLabelValues("revoked").Inc()
	g.endLocked(context.Background(), false, "")
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.state
}

// IsAuthenticated reports whether the guard holds a valid session.
func (g *Guard) IsAuthenticated() bool {
	return g.State() == StateAuthenticated
}

// AdminProfile returns a copy of the signed-in admin's profile, or nil.
func (g *Guard) AdminProfile() *accounts.AdminProfile {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.profile == nil {
		return nil
	}

	p := *g.profile

	return &p
}

// Snapshot returns the guard's observable state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.snapshotLocked()
}

func (g *Guard) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           g.state,
		IsAuthenticated: g.state == StateAuthenticated,
		Notice:          g.notice,
		Redirect:        g.redirect,
	}

	if g.profile != nil {
		p := *g.profile
		snap.Admin = &p
	}

	if !g.lastActivityAt.IsZero() {
		last := g.lastActivityAt
		expires := last.Add(g.opts.Timeout)
		snap.LastActivityAt = &last
		snap.ExpiresAt = &expires
	}

	return snap
}

// TakeNotice returns the pending user-visible notice and clears it.
func (g *Guard) TakeNotice() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	notice := g.notice
	g.notice = ""

	return notice
}

// Subscribe registers fn to receive a snapshot after every transition.
// fn must not call back into the guard's transitions.
func (g *Guard) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	g.subMu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.subMu.Unlock()

	return func() {
		g.subMu.Lock()
		delete(g.subs, id)
		g.subMu.Unlock()
	}
}

func (g *Guard) notify() {
	g.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(g.subs))

	for _, fn := range g.subs {
		fns = append(fns, fn)
	}
	g.subMu.Unlock()

	if len(fns) == 0 {
		return
	}

	snap := g.Snapshot()

	for _, fn := range fns {
		fn(snap)
	}
}

// userAgentMetadata describes the signing-in device for the login entry.
func userAgentMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}

	ua := useragent.Parse(raw)

	device := "desktop"

	switch {
	case ua.Bot:
		device = "bot"
	case ua.Tablet:
		device = "tablet"
	case ua.Mobile:
		device = "mobile"
	}

	meta := map[string]any{
		"user_agent": raw,
		"device":     device,
	}

	if ua.Name != "" {
		meta["browser"] = strings.TrimSpace(ua.Name + " " + ua.Version)
	}

	if ua.OS != "" {
		meta["os"] = strings.TrimSpace(ua.OS + " " + ua.OSVersion)
	}

	return meta
}
