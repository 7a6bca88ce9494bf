package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/plant-scan/internal/logging"
)

// Entry is one persisted key.
type Entry struct {
	Key       string    `gorm:"column:entry_key;primaryKey;size:255"`
	Value     string    `gorm:"column:value;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (Entry) TableName() string {
	return "kv_entries"
}

// GormStore persists keys in a relational table.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenGorm connects to a sqlite or postgres database and migrates the schema.
func OpenGorm(ctx context.Context, driver, dsn string, logger *zap.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, logging.NewOperationError("kvstore.open", "", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, logging.NewOperationError("kvstore.open", "", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if driver == DriverSQLite {
		// sqlite serializes writers; one connection also keeps :memory: stable
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, logging.NewOperationError("kvstore.ping", "", err)
	}

	return NewGormStore(ctx, db, logger)
}

// NewGormStore wraps an existing connection and ensures the schema exists.
func NewGormStore(ctx context.Context, db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.WithContext(ctx).AutoMigrate(&Entry{}); err != nil {
		return nil, logging.NewOperationError("kvstore.migrate", "", err)
	}
	return &GormStore{db: db, logger: logger.Named("kvstore.gorm")}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	var e Entry
	err := s.db.WithContext(ctx).First(&e, "entry_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", logging.NewOperationError("kvstore.get", "", err)
	}
	return e.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		s.logger.Error("failed to write key", zap.String("key", key), zap.Error(err))
		return logging.NewOperationError("kvstore.set", "", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*GormStore)(nil)
