package entity

import (
	"database/sql"
	"time"
)

const (
	ModeLive = "live"
	ModeTest = "test"
)

type APIKey struct {
	ID          uint64
	Key         string
	SecretHash  sql.NullString
	Description sql.NullString
	IsActive    bool
	ExpiresAt   sql.NullTime
	LastUsedAt  sql.NullTime
	UsageCount  uint64
	Mode        string
	OwnerType   sql.NullString
	OwnerID     sql.NullInt64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   sql.NullTime
}

// Active reports whether the key may be used at the given instant. The
// active flag folds in expiry, matching the gate's message ordering.
func (k *APIKey) Active(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	if k.Expired(now) {
		return false
	}
	return true
}

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt.Valid && k.ExpiresAt.Time.Before(now)
}

func (k *APIKey) RequiresSecret() bool {
	return k.SecretHash.Valid && k.SecretHash.String != ""
}

type APIKeyDomain struct {
	ID        uint64
	APIKeyID  uint64
	Pattern   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
