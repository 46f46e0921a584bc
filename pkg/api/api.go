package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hireflow/hireflow-admin/pkg/accounts"
	"github.com/hireflow/hireflow-admin/pkg/audit"
	"github.com/hireflow/hireflow-admin/pkg/config"
	"github.com/hireflow/hireflow-admin/pkg/control"
	"github.com/hireflow/hireflow-admin/pkg/session"
	"github.com/hireflow/hireflow-admin/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout                = 10 * time.Second
	identitySessionCleanupInterval = 15 * time.Minute
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      store.Store
	accounts   *accounts.Service
	dispatcher audit.Dispatcher
	recorder   audit.Recorder
	registry   *session.Registry
	control    *control.Controller
	redis      *redis.Client
	validate   *validator.Validate
	now        func() time.Time
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
) Server {
	return &server{
		log:      log.WithField("component", "api"),
		cfg:      cfg,
		validate: newValidator(),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start connects the store, seeds config admins, starts the audit writer
// and the session sweep, then starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.setup(ctx); err != nil {
		return err
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(identitySessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.store.DeleteExpiredIdentitySessions(ctx); err != nil {
					s.log.WithError(err).
						Warn("Failed to clean expired identity sessions")
				}
			case <-s.done:
				return
			}
		}
	}()

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// setup builds every component behind the HTTP surface.
func (s *server) setup(ctx context.Context) error {
	s.store = store.NewStore(s.log, &s.cfg.Database)
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.accounts = accounts.NewService(s.log, s.store, accounts.Options{
		Secret:      s.cfg.Auth.JWTSecret,
		IdentityTTL: s.cfg.Auth.IdentityTTLDuration(),
		Now:         s.now,
	})

	if err := s.accounts.SeedAdmins(ctx, s.cfg.Auth.Admins); err != nil {
		return fmt.Errorf("seeding admins: %w", err)
	}

	s.dispatcher = audit.NewDispatcher(s.log, s.store, audit.Options{
		QueueSize:    s.cfg.Audit.QueueSize,
		Workers:      s.cfg.Audit.Workers,
		WriteTimeout: s.cfg.Audit.WriteTimeoutDuration(),
	})

	if err := s.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting audit dispatcher: %w", err)
	}

	s.recorder = s.dispatcher

	newStorage, err := s.storageFactory(ctx)
	if err != nil {
		return err
	}

	s.registry = session.NewRegistry(s.log, s.accounts, s.recorder, session.RegistryOptions{
		Guard: session.GuardOptions{
			Timeout:           s.cfg.Session.TimeoutDuration(),
			InitializeTimeout: s.cfg.Session.InitializeTimeoutDuration(),
			LoginRedirect:     s.cfg.Auth.LoginRedirect,
			Now:               s.now,
		},
		CheckInterval: s.cfg.Session.CheckIntervalDuration(),
		IdleEviction:  s.cfg.Session.IdleEvictionDuration(),
		NewStorage:    newStorage,
	})

	if err := s.registry.Start(ctx); err != nil {
		return fmt.Errorf("starting session registry: %w", err)
	}

	s.control = control.NewController(s.log, s.store, s.recorder, control.Options{Now: s.now})

	return nil
}

// storageFactory returns the per-tab artifact storage constructor for the
// configured driver.
func (s *server) storageFactory(ctx context.Context) (func(string) session.Storage, error) {
	storageCfg := s.cfg.Session.Storage

	switch storageCfg.Driver {
	case "", "memory":
		return nil, nil
	case "redis":
		client, err := session.NewRedisClient(ctx, storageCfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting session redis: %w", err)
		}

		s.redis = client
		ttl := s.cfg.Session.TimeoutDuration()

		s.log.Info("Session artifacts stored in redis")

		return func(token string) session.Storage {
			return session.NewRedisStorage(client, storageCfg.Redis.KeyPrefix, token, ttl)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported session storage driver: %s", storageCfg.Driver)
	}
}

// Stop gracefully shuts down the HTTP server, drains the audit queue and
// closes the store.
func (s *server) Stop() error {
	var stopErr error

	s.stopOnce.Do(func() {
		stopErr = s.stop()
	})

	return stopErr
}

func (s *server) stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.registry != nil {
		if err := s.registry.Stop(); err != nil {
			s.log.WithError(err).Warn("Session registry stop error")
		}
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Stop(); err != nil {
			s.log.WithError(err).Warn("Audit dispatcher stop error")
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.log.WithError(err).Warn("Redis close error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
