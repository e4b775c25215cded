// Package store is the single point of SQL access for the tracker. It follows
// the gorm-backed job store layout: rows and transforms live next to the
// store, the constructor migrates the schema, and every mutating method runs
// in one transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/models"
	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

type Option func(*config)

type config struct {
	clock        clock.Clock
	maxOpenConns int
	maxIdleConns int
	gormLogger   gormlogger.Interface
}

func WithClock(c clock.Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

func WithMaxOpenConns(n int) Option {
	return func(cfg *config) { cfg.maxOpenConns = n }
}

func WithGormLogger(l gormlogger.Interface) Option {
	return func(cfg *config) { cfg.gormLogger = l }
}

type Store struct {
	DB    *gorm.DB
	clock clock.Clock
}

// New opens the database, migrates the schema and seeds the Info singleton.
func New(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	cfg := &config{
		clock:        clock.New(),
		maxOpenConns: 25,
		maxIdleConns: 5,
		gormLogger:   gormlogger.Default.LogMode(gormlogger.Silent),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 cfg.gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.maxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.maxIdleConns)

	if err := db.AutoMigrate(
		&User{},
		&Analysis{},
		&Job{},
		&Delivery{},
		&Info{},
	); err != nil {
		return nil, err
	}

	s := &Store{DB: db, clock: cfg.clock}
	if err := s.seedInfo(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) seedInfo() error {
	var count int64
	if err := s.DB.Model(&Info{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	now := s.now()
	return s.DB.Create(&Info{ID: 1, CreatedAt: now, UpdatedAt: now}).Error
}

// now returns the current UTC time at second precision, matching the
// timestamp precision the API serializes.
func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

// GetInfo returns the singleton metadata row.
func (s *Store) GetInfo(ctx context.Context) (*models.Info, error) {
	var info Info
	if err := s.DB.WithContext(ctx).First(&info).Error; err != nil {
		return nil, translate(err, "info row")
	}
	return &models.Info{CreatedAt: info.CreatedAt, UpdatedAt: info.UpdatedAt}, nil
}

// translate folds gorm sentinel errors into the tracker's error taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tberrors.NewNotFound("%s does not exist", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return tberrors.NewConflict("%s already exists", what)
	default:
		return err
	}
}
