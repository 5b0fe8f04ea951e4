// Package store persists users, plans, subscriptions and scan reports with
// GORM on SQLite or Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrEmailTaken = errors.New("email already registered")
)

// Store wraps a gorm handle. All methods are safe for concurrent use.
type Store struct {
	db *gorm.DB
}

// Open connects to driver ("sqlite" or "postgres"). For sqlite dsn is a file
// path.
func Open(driver, dsn string, debug bool) (*Store, error) {
	gcfg := &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if debug {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
	case "postgres":
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	if driver != "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// SQLite allows one writer at a time.
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Migrate creates or updates the schema and seeds the plan catalogue.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&User{}, &Plan{}, &ScanReport{}, &Subscription{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return s.SeedPlans(ctx)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
