package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Kill-switch setting keys.
const (
	SettingEmergencyStop         = "emergency_stop"
	SettingAllAutomationsStopped = "all_automations_stopped"
)

// Account is a raw authentication credential held by the account store.
type Account struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BeforeCreate assigns a random id to new accounts.
func (a *Account) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	return nil
}

// IdentitySession is an issued identity. Token is the opaque session id
// embedded in the signed identity token handed to clients.
type IdentitySession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	AccountID string    `gorm:"index;not null" json:"account_id"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// AdminUser is the authorization record of an account. Its id equals the
// account id.
type AdminUser struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	Email           string     `gorm:"not null" json:"email"`
	FullName        *string    `json:"full_name"`
	FirstName       *string    `json:"first_name"`
	LastName        *string    `json:"last_name"`
	ProfilePhotoURL *string    `json:"profile_photo_url"`
	Role            string     `gorm:"not null" json:"role"`
	IsActive        bool       `gorm:"not null" json:"is_active"`
	LastLogin       *time.Time `json:"last_login"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// AdminUserUpdate lists the self-service profile fields. Nil fields are
// left unchanged.
type AdminUserUpdate struct {
	FullName        *string
	FirstName       *string
	LastName        *string
	ProfilePhotoURL *string
}

// SystemSetting is a global key/value setting. Values are stored as strings.
type SystemSetting struct {
	SettingKey   string    `gorm:"primaryKey" json:"setting_key"`
	SettingValue string    `gorm:"not null" json:"setting_value"`
	UpdatedBy    string    `json:"updated_by"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// UserAutomationStatus holds the per-user automation kill switches.
type UserAutomationStatus struct {
	UserID    string     `gorm:"primaryKey" json:"user_id"`
	Paused    bool       `gorm:"not null" json:"paused"`
	PausedAt  *time.Time `json:"paused_at"`
	PausedBy  *string    `json:"paused_by"`
	Stopped   bool       `gorm:"not null" json:"stopped"`
	StoppedAt *time.Time `json:"stopped_at"`
	StoppedBy *string    `json:"stopped_by"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// ActivityLog is an append-only record of an administrative action.
type ActivityLog struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	AdminID           string            `gorm:"index" json:"admin_id"`
	AdminEmail        string            `json:"admin_email"`
	ActionType        string            `gorm:"index;not null" json:"action_type"`
	ActionDescription string            `json:"action_description"`
	TargetUserID      *string           `gorm:"index" json:"target_user_id,omitempty"`
	TargetUserEmail   *string           `json:"target_user_email,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"index;autoCreateTime:false" json:"created_at"`
}

// ActivityLogFilter narrows ListActivityLogs. Zero values match everything.
type ActivityLogFilter struct {
	ActionTypes  []string
	AdminID      string
	TargetUserID string
	Limit        int
}
