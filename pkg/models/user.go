package models

import (
	"fmt"
	"strings"
	"time"
)

// AccountStatus represents the lifecycle state of a user account.
type AccountStatus string

const (
	// AccountActive is a normal, usable account.
	AccountActive AccountStatus = "ACTIVE"
	// AccountSuspended blocks logins but keeps data.
	AccountSuspended AccountStatus = "SUSPENDED"
	// AccountDeleted marks the account for removal.
	AccountDeleted AccountStatus = "DELETED"
)

// IsValid checks if the status is a valid AccountStatus.
func (s AccountStatus) IsValid() bool {
	return s == AccountActive || s == AccountSuspended || s == AccountDeleted
}

// DefaultStorageQuota is the per-user byte quota assigned at registration.
const DefaultStorageQuota int64 = 10 * 1024 * 1024 * 1024 // 10 GiB

// User represents a DriftSync account. Each user owns a flat namespace of
// files keyed by relative path; all of the user's devices sync against it.
type User struct {
	ID            string    `gorm:"primaryKey;size:36" json:"user_id"`
	Username      string    `gorm:"uniqueIndex;not null;size:255" json:"username"`
	Email         string    `gorm:"size:255" json:"email,omitempty"`
	PasswordHash  string    `gorm:"not null" json:"-"`
	StorageQuota  int64     `gorm:"not null" json:"storage_quota"`
	UsedStorage   int64     `gorm:"not null;default:0" json:"used_storage"`
	AccountStatus string    `gorm:"default:ACTIVE;size:20" json:"account_status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// IsActive reports whether the account may log in and sync.
func (u *User) IsActive() bool {
	return AccountStatus(u.AccountStatus) == AccountActive
}

// QuotaRemaining returns the bytes the user may still store. Never negative.
func (u *User) QuotaRemaining() int64 {
	if rem := u.StorageQuota - u.UsedStorage; rem > 0 {
		return rem
	}
	return 0
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("password hash is required")
	}
	if u.StorageQuota < 0 {
		return fmt.Errorf("storage quota must be non-negative")
	}
	if u.AccountStatus != "" && !AccountStatus(u.AccountStatus).IsValid() {
		return fmt.Errorf("invalid account status: %s", u.AccountStatus)
	}
	return nil
}
