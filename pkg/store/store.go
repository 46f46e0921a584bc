package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/hireflow/hireflow-admin/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable wraps every database fault other than a missing row.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotConfigured is returned by Start when no database is configured.
	ErrNotConfigured = errors.New("store not configured")
)

// defaultActivityLimit caps ListActivityLogs when no limit is given.
const defaultActivityLimit = 20

// AccountStore holds credentials, issued identities and admin records.
type AccountStore interface {
	GetAccountByID(ctx context.Context, id string) (*Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) error
	UpdateAccountPassword(ctx context.Context, id, passwordHash string) error

	CreateIdentitySession(ctx context.Context, session *IdentitySession) error
	GetIdentitySession(ctx context.Context, token string) (*IdentitySession, error)
	DeleteIdentitySession(ctx context.Context, token string) error
	DeleteExpiredIdentitySessions(ctx context.Context) error

	GetAdminUser(ctx context.Context, id string) (*AdminUser, error)
	CreateAdminUser(ctx context.Context, admin *AdminUser) error
	UpdateAdminUser(ctx context.Context, id string, update AdminUserUpdate) error
	UpdateAdminLastLogin(ctx context.Context, id string, t time.Time) error
}

// SettingsStore holds kill-switch settings and per-user automation status.
type SettingsStore interface {
	GetSystemSetting(ctx context.Context, key string) (*SystemSetting, error)
	UpsertSystemSetting(ctx context.Context, setting *SystemSetting) error

	GetUserAutomationStatus(ctx context.Context, userID string) (*UserAutomationStatus, error)
	// UpsertUserAutomationStatus inserts status or, on conflict, overwrites
	// the named columns. With unlessStopped set, an existing stopped row is
	// left untouched and false is returned.
	UpsertUserAutomationStatus(
		ctx context.Context,
		status *UserAutomationStatus,
		columns []string,
		unlessStopped bool,
	) (bool, error)
}

// ActivityStore is the append-only activity log.
type ActivityStore interface {
	AppendActivityLog(ctx context.Context, entry *ActivityLog) error
	ListActivityLogs(ctx context.Context, filter ActivityLogFilter) ([]ActivityLog, error)
}

// Store provides persistence for the admin console.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	AccountStore
	SettingsStore
	ActivityStore
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
// No connection is made until Start.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	if s.cfg == nil || s.cfg.Driver == "" {
		return ErrNotConfigured
	}

	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w: %w", ErrUnavailable, err)
	}

	if s.cfg.Driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and avoids
		// SQLITE_BUSY between the request path and the audit writer.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Account{},
		&IdentitySession{},
		&AdminUser{},
		&SystemSetting{},
		&UserAutomationStatus{},
		&ActivityLog{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// wrapErr classifies a gorm error as ErrNotFound or ErrUnavailable.
func wrapErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// --- Accounts ---

func (s *store) GetAccountByID(
	ctx context.Context, id string,
) (*Account, error) {
	var account Account
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error; err != nil {
		return nil, wrapErr("getting account by id", err)
	}

	return &account, nil
}

func (s *store) GetAccountByEmail(
	ctx context.Context, email string,
) (*Account, error) {
	var account Account
	if err := s.db.WithContext(ctx).
		Where("email = ?", email).
		First(&account).Error; err != nil {
		return nil, wrapErr("getting account by email", err)
	}

	return &account, nil
}

func (s *store) CreateAccount(ctx context.Context, account *Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return wrapErr("creating account", err)
	}

	return nil
}

func (s *store) UpdateAccountPassword(
	ctx context.Context, id, passwordHash string,
) error {
	result := s.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", id).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return wrapErr("updating account password", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating account password: %w", ErrNotFound)
	}

	return nil
}

// --- Identity sessions ---

func (s *store) CreateIdentitySession(
	ctx context.Context, session *IdentitySession,
) error {
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return wrapErr("creating identity session", err)
	}

	return nil
}

func (s *store) GetIdentitySession(
	ctx context.Context, token string,
) (*IdentitySession, error) {
	var session IdentitySession
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error; err != nil {
		return nil, wrapErr("getting identity session", err)
	}

	return &session, nil
}

// DeleteIdentitySession removes a session; deleting a missing one is a no-op.
func (s *store) DeleteIdentitySession(ctx context.Context, token string) error {
	if err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&IdentitySession{}).Error; err != nil {
		return wrapErr("deleting identity session", err)
	}

	return nil
}

func (s *store) DeleteExpiredIdentitySessions(ctx context.Context) error {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&IdentitySession{})
	if result.Error != nil {
		return wrapErr("deleting expired identity sessions", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Debug("Cleaned up expired identity sessions")
	}

	return nil
}

// --- Admin users ---

func (s *store) GetAdminUser(
	ctx context.Context, id string,
) (*AdminUser, error) {
	var admin AdminUser
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&admin).Error; err != nil {
		return nil, wrapErr("getting admin user", err)
	}

	return &admin, nil
}

func (s *store) CreateAdminUser(ctx context.Context, admin *AdminUser) error {
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		return wrapErr("creating admin user", err)
	}

	return nil
}

func (s *store) UpdateAdminUser(
	ctx context.Context, id string, update AdminUserUpdate,
) error {
	fields := make(map[string]any, 4)

	if update.FullName != nil {
		fields["full_name"] = *update.FullName
	}

	if update.FirstName != nil {
		fields["first_name"] = *update.FirstName
	}

	if update.LastName != nil {
		fields["last_name"] = *update.LastName
	}

	if update.ProfilePhotoURL != nil {
		fields["profile_photo_url"] = *update.ProfilePhotoURL
	}

	if len(fields) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&AdminUser{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return wrapErr("updating admin user", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating admin user: %w", ErrNotFound)
	}

	return nil
}

func (s *store) UpdateAdminLastLogin(
	ctx context.Context, id string, t time.Time,
) error {
	if err := s.db.WithContext(ctx).
		Model(&AdminUser{}).
		Where("id = ?", id).
		Update("last_login", t).Error; err != nil {
		return wrapErr("updating admin last login", err)
	}

	return nil
}

// --- Settings ---

func (s *store) GetSystemSetting(
	ctx context.Context, key string,
) (*SystemSetting, error) {
	var setting SystemSetting
	if err := s.db.WithContext(ctx).
		Where("setting_key = ?", key).
		First(&setting).Error; err != nil {
		return nil, wrapErr("getting system setting", err)
	}

	return &setting, nil
}

// UpsertSystemSetting writes the setting atomically; concurrent writers
// resolve last-write-wins.
func (s *store) UpsertSystemSetting(
	ctx context.Context, setting *SystemSetting,
) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "setting_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"setting_value", "updated_by", "updated_at",
			}),
		}).
		Create(setting).Error; err != nil {
		return wrapErr("upserting system setting", err)
	}

	return nil
}

func (s *store) GetUserAutomationStatus(
	ctx context.Context, userID string,
) (*UserAutomationStatus, error) {
	var status UserAutomationStatus
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&status).Error; err != nil {
		return nil, wrapErr("getting user automation status", err)
	}

	return &status, nil
}

func (s *store) UpsertUserAutomationStatus(
	ctx context.Context,
	status *UserAutomationStatus,
	columns []string,
	unlessStopped bool,
) (bool, error) {
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}

	if unlessStopped {
		conflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: clause.CurrentTable, Name: "stopped"},
				Value:  false,
			},
		}}
	}

	result := s.db.WithContext(ctx).Clauses(conflict).Create(status)
	if result.Error != nil {
		return false, wrapErr("upserting user automation status", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// --- Activity log ---

func (s *store) AppendActivityLog(
	ctx context.Context, entry *ActivityLog,
) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return wrapErr("appending activity log", err)
	}

	return nil
}

// ListActivityLogs returns matching entries, newest first.
func (s *store) ListActivityLogs(
	ctx context.Context, filter ActivityLogFilter,
) ([]ActivityLog, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}

	q := s.db.WithContext(ctx).Model(&ActivityLog{})

	if len(filter.ActionTypes) > 0 {
		q = q.Where("action_type IN ?", filter.ActionTypes)
	}

	if filter.AdminID != "" {
		q = q.Where("admin_id = ?", filter.AdminID)
	}

	if filter.TargetUserID != "" {
		q = q.Where("target_user_id = ?", filter.TargetUserID)
	}

	var logs []ActivityLog
	if err := q.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, wrapErr("listing activity logs", err)
	}

	return logs, nil
}
