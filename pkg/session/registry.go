package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/sirupsen/logrus"
)

// Registry defaults.
const (
	DefaultCheckInterval = 60 * time.Second
	DefaultIdleEviction  = 10 * time.Minute

	consoleTokenBytes = 32
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Guard         GuardOptions
	CheckInterval time.Duration
	IdleEviction  time.Duration

	// NewStorage returns the artifact storage for a console token.
	// Defaults to a fresh MemoryStorage per token.
	NewStorage func(consoleToken string) Storage
}

type registryEntry struct {
	guard    *Guard
	lastSeen time.Time
}

// Registry maps console tokens to guards and runs the periodic expiry
// sweep.
type Registry struct {
	log      logrus.FieldLogger
	accounts Accounts
	recorder audit.Recorder
	opts     RegistryOptions

	mu     sync.Mutex
	guards map[string]*registryEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(
	log logrus.FieldLogger,
	accts Accounts,
	recorder audit.Recorder,
	opts RegistryOptions,
) *Registry {
	opts.Guard = opts.Guard.withDefaults()

	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}

	if opts.IdleEviction <= 0 {
		opts.IdleEviction = DefaultIdleEviction
	}

	if opts.NewStorage == nil {
		opts.NewStorage = func(string) Storage { return NewMemoryStorage() }
	}

	return &Registry{
		log:      log.WithField("component", "session-registry"),
		accounts: accts,
		recorder: recorder,
		opts:     opts,
		guards:   make(map[string]*registryEntry, 16),
	}
}

// NewConsoleToken returns a random console token.
func NewConsoleToken() (string, error) {
	b := make([]byte, consoleTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating console token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Get returns the guard for token, if one is registered.
func (r *Registry) Get(token string) (*Guard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.guards[token]
	if !ok {
		return nil, false
	}

	e.lastSeen = r.opts.Guard.Now()

	return e.guard, true
}

// GetOrCreate returns the guard for token, creating an uninitialized one
// when none exists.
func (r *Registry) GetOrCreate(token string) *Guard {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Guard.Now()

	if e, ok := r.guards[token]; ok {
		e.lastSeen = now

		return e.guard
	}

	g := NewGuard(
		r.log, r.accounts, r.recorder, r.opts.NewStorage(token), r.opts.Guard,
	)
	r.guards[token] = &registryEntry{guard: g, lastSeen: now}

	return g
}

// Len returns the number of registered guards.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.guards)
}

// Start launches the sweep loop.
func (r *Registry) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.sweepLoop(ctx)

	r.log.WithField("interval", r.opts.CheckInterval).Info("Session sweep started")

	return nil
}

// Stop cancels the sweep loop and detaches every guard.
func (r *Registry) Stop() error {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for token, e := range r.guards {
		e.guard.Close()
		delete(r.guards, token)
	}

	return nil
}

func (r *Registry) sweepLoop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep expires idle authenticated sessions and evicts guards that have
// been unauthenticated and unseen for longer than the idle eviction period.
func (r *Registry) Sweep(ctx context.Context) {
	r.mu.Lock()
	entries := make(map[string]*registryEntry, len(r.guards))

	for token, e := range r.guards {
		entries[token] = e
	}
	r.mu.Unlock()

	expired := 0
	now := r.opts.Guard.Now()

	for _, e := range entries {
		if e.guard.CheckExpiry(ctx) {
			expired++

			// Keep the guard around long enough to deliver its notice.
			r.mu.Lock()
			e.lastSeen = now
			r.mu.Unlock()
		}
	}

	counts := make(map[State]int, len(stateNames))
	evicted := 0

	r.mu.Lock()
	for token, e := range r.guards {
		state := e.guard.State()

		if state != StateAuthenticated && state != StateLoading &&
			now.Sub(e.lastSeen) > r.opts.IdleEviction {
			e.guard.Close()
			delete(r.guards, token)
			evicted++

			continue
		}

		counts[state]++
	}
	r.mu.Unlock()

	for state := range stateNames {
		guardsActive.WithLabelValues(state.String()).Set(float64(counts[state]))
	}

	if expired > 0 || evicted > 0 {
		r.log.WithFields(logrus.Fields{
			"expired": expired,
			"evicted": evicted,
		}).Debug("Session sweep finished")
	}
}
