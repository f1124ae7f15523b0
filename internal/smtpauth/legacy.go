// Package smtpauth implements the unified SMTP auth surface (C7): a single
// (username, password) check that tries the vaultbox SMTP credential table
// first, falling back to the legacy outbound-only credential table kept in
// a separate database (§9's "legacy per-domain" predecessor of vaultboxes).
package smtpauth

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/motorical/encimap/internal/store"
)

// LegacyCredential is the outbound-only credential row kept by the
// pre-vaultbox system (MOTORICAL_DATABASE_URL). It predates per-vaultbox
// SMTP credentials and is authenticated against the same bcrypt scheme
// (§9's open-question resolution: two schemes coexist by channel, never
// migrated).
type LegacyCredential struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	OwnerUserID  string `gorm:"column:owner_user_id;not null"`
	Domain       string `gorm:"column:domain"`
	Username     string `gorm:"column:username;uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
	Enabled      bool   `gorm:"column:enabled;not null;default:true"`
	LastUsedAt   *time.Time `gorm:"column:last_used_at"`
}

func (LegacyCredential) TableName() string { return "legacy_smtp_credentials" }

// LegacyStore wraps the second database connection used only for
// LegacyCredential lookups and last-used bookkeeping.
type LegacyStore struct {
	db *gorm.DB
}

// OpenLegacyStore connects to MOTORICAL_DATABASE_URL and migrates the one
// table it owns. A nil *LegacyStore (returned when dsn is empty) is valid:
// callers fall through to "legacy credential not found" without a second
// connection pool.
func OpenLegacyStore(driver, dsn string, debug bool) (*LegacyStore, error) {
	if dsn == "" {
		return nil, nil
	}
	dialector, err := store.Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	gormCfg := &gorm.Config{}
	if !debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("smtpauth: opening legacy database: %w", err)
	}
	if err := db.AutoMigrate(&LegacyCredential{}); err != nil {
		return nil, fmt.Errorf("smtpauth: auto-migrating legacy database: %w", err)
	}
	return &LegacyStore{db: db}, nil
}

func (l *LegacyStore) findByUsername(ctx context.Context, username string) (LegacyCredential, bool, error) {
	var row LegacyCredential
	tx := l.db.WithContext(ctx).Where("username = ?", username).First(&row)
	if tx.Error != nil {
		if tx.Error == gorm.ErrRecordNotFound {
			return row, false, nil
		}
		return row, false, tx.Error
	}
	return row, true, nil
}

func (l *LegacyStore) touchLastUsed(ctx context.Context, id string) error {
	now := time.Now()
	return l.db.WithContext(ctx).Model(&LegacyCredential{}).Where("id = ?", id).Update("last_used_at", now).Error
}

func (l *LegacyStore) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
