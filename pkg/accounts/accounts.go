// Package accounts is the account store: it checks credentials, issues and
// revokes identity tokens, and resolves admin authorization records.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hireflow/hireflow-admin/pkg/config"
	"github.com/hireflow/hireflow-admin/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer       = "hireflow-admin"
	minPasswordLength = 8
)

var (
	// ErrInvalidCredentials is returned when email or password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountExists is returned when creating an account for a taken email.
	ErrAccountExists = errors.New("account already exists")

	// ErrWeakPassword is returned when a new password is too short.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
)

// AuthEvent names an identity lifecycle change.
type AuthEvent string

// Auth events delivered to OnAuthStateChange listeners.
const (
	EventSignedIn  AuthEvent = "SIGNED_IN"
	EventSignedOut AuthEvent = "SIGNED_OUT"
)

// AuthStateChange is delivered to listeners after an identity is issued or
// revoked.
type AuthStateChange struct {
	Event     AuthEvent
	Token     string
	AccountID string
}

// Identity is an authenticated principal issued by the account store.
type Identity struct {
	Token     string    `json:"-"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminProfile is the resolved authorization record of an identity.
type AdminProfile struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	DisplayName     string `json:"display_name"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	ProfilePhotoURL string `json:"profile_photo_url,omitempty"`
	Role            string `json:"role"`
	IsActive        bool   `json:"is_active"`
}

// NewAdmin describes an admin account to create.
type NewAdmin struct {
	Email    string
	Password string
	FullName string
	Role     string
	Inactive bool
}

// Options configures a Service.
type Options struct {
	Secret      string
	IdentityTTL time.Duration
	BcryptCost  int
	Now         func() time.Time
}

// Service implements the account store on top of a store.AccountStore.
type Service struct {
	log        logrus.FieldLogger
	store      store.AccountStore
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time

	mu        sync.RWMutex
	listeners map[uint64]func(AuthStateChange)
	nextID    uint64
}

// NewService creates an account store service.
func NewService(
	log logrus.FieldLogger,
	st store.AccountStore,
	opts Options,
) *Service {
	if opts.IdentityTTL <= 0 {
		opts.IdentityTTL = 24 * time.Hour
	}

	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		log:        log.WithField("component", "accounts"),
		store:      st,
		secret:     []byte(opts.Secret),
		ttl:        opts.IdentityTTL,
		bcryptCost: opts.BcryptCost,
		now:        opts.Now,
		listeners:  make(map[uint64]func(AuthStateChange), 8),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignInWithPassword checks credentials and issues a new identity.
func (s *Service) SignInWithPassword(
	ctx context.Context, email, password string,
) (*Identity, error) {
	account, err := s.store.GetAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}

		return nil, err
	}

	if !checkPassword(account.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	if err := s.store.CreateIdentitySession(ctx, &store.IdentitySession{
		Token:     sessionID,
		AccountID: account.ID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, err
	}

	token, err := s.signToken(account.ID, account.Email, sessionID, now, expiresAt)
	if err != nil {
		return nil, err
	}

	identity := &Identity{
		Token:     token,
		AccountID: account.ID,
		Email:     account.Email,
		ExpiresAt: expiresAt,
	}

	s.emit(AuthStateChange{
		Event:     EventSignedIn,
		Token:     token,
		AccountID: account.ID,
	})

	return identity, nil
}

// GetSession resolves token to a live identity. Invalid, expired and
// revoked tokens yield (nil, nil); only store faults return an error.
func (s *Service) GetSession(
	ctx context.Context, token string,
) (*Identity, error) {
	if token == "" {
		return nil, nil
	}

	claims, err := s.parseToken(token, true)
	if err != nil {
		s.log.WithError(err).Debug("Rejected identity token")

		return nil, nil
	}

	row, err := s.store.GetIdentitySession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	if row.AccountID != claims.Subject || s.now().UTC().After(row.ExpiresAt) {
		return nil, nil
	}

	return &Identity{
		Token:     token,
		AccountID: row.AccountID,
		Email:     claims.Email,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// SignOut revokes the identity behind token. Unknown or already revoked
// tokens are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	claims, err := s.parseToken(token, false)
	if err != nil {
		return nil
	}

	if err := s.store.DeleteIdentitySession(ctx, claims.SessionID); err != nil {
		return err
	}

	s.emit(AuthStateChange{
		Event:     EventSignedOut,
		Token:     token,
		AccountID: claims.Subject,
	})

	return nil
}

// OnAuthStateChange registers fn for identity events. Listeners run on the
// goroutine that caused the event and must not block.
func (s *Service) OnAuthStateChange(fn func(AuthStateChange)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(change AuthStateChange) {
	s.mu.RLock()
	fns := make([]func(AuthStateChange), 0, len(s.listeners))

	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// GetAdminRecordByID returns the admin profile for an account, or nil when
// the account has no admin record.
func (s *Service) GetAdminRecordByID(
	ctx context.Context, id string,
) (*AdminProfile, error) {
	admin, err := s.store.GetAdminUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return toAdminProfile(admin), nil
}

// UpdateAdminRecord changes self-service profile fields.
func (s *Service) UpdateAdminRecord(
	ctx context.Context, id string, update store.AdminUserUpdate,
) error {
	return s.store.UpdateAdminUser(ctx, id, update)
}

// TouchLastLogin stamps the admin's last login time.
func (s *Service) TouchLastLogin(ctx context.Context, id string) error {
	return s.store.UpdateAdminLastLogin(ctx, id, s.now().UTC())
}

// ChangePassword replaces the password after verifying the current one.
func (s *Service) ChangePassword(
	ctx context.Context, accountID, current, next string,
) error {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}

	if !checkPassword(account.PasswordHash, current) {
		return ErrInvalidCredentials
	}

	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	return s.store.UpdateAccountPassword(ctx, accountID, string(hash))
}

// CreateAdmin creates an account and its admin record.
func (s *Service) CreateAdmin(
	ctx context.Context, req NewAdmin,
) (*AdminProfile, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Role == "" {
		return nil, fmt.Errorf("email and role are required")
	}

	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password for %q: %w", email, err)
	}

	account := &store.Account{Email: email, PasswordHash: string(hash)}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	admin := &store.AdminUser{
		ID:       account.ID,
		Email:    email,
		Role:     req.Role,
		IsActive: !req.Inactive,
	}

	if req.FullName != "" {
		name := req.FullName
		admin.FullName = &name
	}

	if err := s.store.CreateAdminUser(ctx, admin); err != nil {
		return nil, err
	}

	return toAdminProfile(admin), nil
}

// SeedAdmins creates config-defined admins that do not exist yet. Existing
// accounts are left untouched so console password changes survive restarts.
func (s *Service) SeedAdmins(ctx context.Context, admins []config.SeedAdmin) error {
	created := 0

	for _, a := range admins {
		_, err := s.CreateAdmin(ctx, NewAdmin{
			Email:    a.Email,
			Password: a.Password,
			FullName: a.FullName,
			Role:     a.Role,
		})

		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrAccountExists):
			s.log.WithField("email", a.Email).Debug("Seed admin already exists")
		default:
			return fmt.Errorf("seeding admin %q: %w", a.Email, err)
		}
	}

	if created > 0 {
		s.log.WithField("count", created).Info("Seeded admins from config")
	}

	return nil
}

func toAdminProfile(a *store.AdminUser) *AdminProfile {
	p := &AdminProfile{
		ID:       a.ID,
		Email:    a.Email,
		Role:     a.Role,
		IsActive: a.IsActive,
	}

	if a.FirstName != nil {
		p.FirstName = *a.FirstName
	}

	if a.LastName != nil {
		p.LastName = *a.LastName
	}

	if a.ProfilePhotoURL != nil {
		p.ProfilePhotoURL = *a.ProfilePhotoURL
	}

	switch {
	case a.FullName != nil && *a.FullName != "":
		p.DisplayName = *a.FullName
	case p.FirstName != "" || p.LastName != "":
		p.DisplayName = strings.TrimSpace(p.FirstName + " " + p.LastName)
	default:
		p.DisplayName = a.Email
	}

	return p
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}
