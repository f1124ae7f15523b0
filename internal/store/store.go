// Package store is the persistence layer (C1): typed CRUD and a
// transaction primitive over the mailbox metadata tables, plus constraint
// classification so callers can translate failures to domain errors.
package store

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/motorical/encimap/internal/model"
)

// Store wraps a *gorm.DB and exposes the typed repositories for every
// entity in the data model.
type Store struct {
	db *gorm.DB

	Vaultboxes   *Repo[model.Vaultbox]
	Certificates *Repo[model.Certificate]
	IMAPCreds    *Repo[model.IMAPCredential]
	SMTPCreds    *Repo[model.SMTPCredential]
	Messages     *Repo[model.Message]
	Aliases      *Repo[model.Alias]
	Catchalls    *Repo[model.CatchallBinding]
	Routes       *Repo[model.Route]
}

// Dialector resolves a gorm.Dialector for one of the driver names accepted
// by the teacher's own database layer ("sqlite"/"sqlite3", "postgres",
// "mysql"). Exposed so callers outside this package (C7's legacy
// credential store) can open a second database on the same driver
// vocabulary without duplicating the switch.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("store: unsupported database driver: %s", driver)
	}
}

// Open connects to the backing database identified by driver/dsn, migrates
// every model in the data model, and returns a ready Store.
//
// driver is one of "sqlite", "sqlite3", "postgres", "mysql", matching the
// values accepted by the teacher's own database layer.
func Open(driver, dsn string, debug bool) (*Store, error) {
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{}
	if !debug {
		gormCfg.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Vaultbox{},
		&model.Certificate{},
		&model.IMAPCredential{},
		&model.SMTPCredential{},
		&model.Message{},
		&model.Alias{},
		&model.CatchallBinding{},
		&model.Route{},
	); err != nil {
		return nil, fmt.Errorf("store: auto-migrating: %w", err)
	}

	s := &Store{db: db}
	s.Vaultboxes = newRepo[model.Vaultbox](db)
	s.Certificates = newRepo[model.Certificate](db)
	s.IMAPCreds = newRepo[model.IMAPCredential](db)
	s.SMTPCreds = newRepo[model.SMTPCredential](db)
	s.Messages = newRepo[model.Message](db)
	s.Aliases = newRepo[model.Alias](db)
	s.Catchalls = newRepo[model.CatchallBinding](db)
	s.Routes = newRepo[model.Route](db)
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsolationLevel names a transaction isolation level for Transaction.
type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
	Serializable
)

func (l IsolationLevel) sql() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// Transaction runs fn inside a database transaction at the given isolation
// level. The transaction commits if fn returns nil, rolls back otherwise;
// the original error propagates unchanged.
func (s *Store) Transaction(ctx context.Context, level IsolationLevel, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		if !strings.EqualFold(gtx.Dialector.Name(), "sqlite") {
			if err := gtx.Exec(fmt.Sprintf("SET TRANSACTION ISOLATION LEVEL %s", level.sql())).Error; err != nil {
				// Not every driver supports runtime isolation changes; this is
				// best-effort and not fatal to the transaction itself.
				_ = err
			}
		}
		txStore := &Store{db: gtx}
		txStore.Vaultboxes = newRepo[model.Vaultbox](gtx)
		txStore.Certificates = newRepo[model.Certificate](gtx)
		txStore.IMAPCreds = newRepo[model.IMAPCredential](gtx)
		txStore.SMTPCreds = newRepo[model.SMTPCredential](gtx)
		txStore.Messages = newRepo[model.Message](gtx)
		txStore.Aliases = newRepo[model.Alias](gtx)
		txStore.Catchalls = newRepo[model.CatchallBinding](gtx)
		txStore.Routes = newRepo[model.Route](gtx)
		return fn(txStore)
	})
}

// DB exposes the underlying *gorm.DB for callers (e.g. internal/vaultbox)
// that need to compose queries across repositories within a transaction.
func (s *Store) DB() *gorm.DB { return s.db }
