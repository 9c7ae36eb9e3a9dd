// Package postgres implements every repository on PostgreSQL through gorm.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/weather"
)

var (
	_ weather.Store            = (*Store)(nil)
	_ locations.Store          = (*Store)(nil)
	_ appconfig.Repository     = (*Store)(nil)
	_ admission.ClientStore    = (*Store)(nil)
	_ admission.UsageStore     = (*Store)(nil)
	_ admission.AccessLogStore = (*Store)(nil)
	_ admission.Retention      = (*Store)(nil)
	_ identity.UserStore       = (*Store)(nil)
	_ identity.TokenStore      = (*Store)(nil)
)

const upsertBatchSize = 500

// Options configures the connection pool.
type Options struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	Debug        bool
}

// Store is the gorm-backed repository set.
type Store struct {
	db *gorm.DB
}

// Open connects and configures the pool. Constraint violations surface as
// gorm.ErrDuplicatedKey.
func Open(opts Options) (*Store, error) {
	level := logger.Error
	if opts.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 10
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 50
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// expressionIndexes cannot be declared with struct tags.
var expressionIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_identity ON locations (lower(name), lower(country), lower(region))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_coords ON locations (lat, lon)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (lower(email))`,
}

// Migrate creates or updates every table and index.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(
		&hourlyRow{},
		&locationRow{},
		&configRow{},
		&clientRow{},
		&usageWindowRow{},
		&usageDayRow{},
		&accessLogRow{},
		&userRow{},
		&magicTokenRow{},
		&refreshTokenRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	for _, stmt := range expressionIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
