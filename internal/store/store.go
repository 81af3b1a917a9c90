// Package store persists transactions in a relational table through gorm.
// SQLite (pure Go, file backed) is the default backend; postgres is
// available through lib/pq.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sales-forecast/internal/config"
	"sales-forecast/internal/models"
	"sales-forecast/internal/observability"
)

const (
	insertBatchSize  = 500
	sqliteBusyPragma = "_pragma=busy_timeout(5000)"
	slowQuery        = 200 * time.Millisecond
)

type Store struct {
	db     *gorm.DB
	system string
	logger *slog.Logger
}

// Open connects to the configured database and creates the transactions
// table if it does not exist yet.
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*Store, error) {
	var (
		dialector gorm.Dialector
		system    string
	)

	switch cfg.Driver {
	case config.DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
		system = "sqlite"
	case config.DriverPostgres:
		dialector = postgres.New(postgres.Config{
			DriverName: "postgres",
			DSN:        cfg.DSN,
		})
		system = "postgresql"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(gormWriter{log}, logger.Config{
			SlowThreshold:             slowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", system, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	if system == "sqlite" {
		// SQLite allows one writer; a single connection serialises access.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&models.Transaction{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate transactions table: %w", err)
	}

	log.Info("record store ready", "driver", system)

	return &Store{db: db, system: system, logger: log}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "transactions.db"
	}
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + sqliteBusyPragma
}

func (s *Store) span(ctx context.Context, name, operation string) (context.Context, func(error)) {
	ctx, span := observability.StartSpan(ctx, "store."+name,
		attribute.String("db.system", s.system),
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", "transactions"),
	)
	return ctx, func(err error) { observability.EndSpan(span, err) }
}

// Insert persists tx and assigns its ID.
func (s *Store) Insert(ctx context.Context, tx *models.Transaction) (err error) {
	ctx, end := s.span(ctx, "Insert", "INSERT")
	defer func() { end(err) }()

	if err = s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// InsertBatch persists all rows inside one database transaction. Either
// every row is stored or none is.
func (s *Store) InsertBatch(ctx context.Context, txs []models.Transaction) (err error) {
	if len(txs) == 0 {
		return nil
	}

	ctx, end := s.span(ctx, "InsertBatch", "INSERT")
	defer func() { end(err) }()

	err = s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return db.CreateInBatches(txs, insertBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("insert %d transactions: %w", len(txs), err)
	}
	return nil
}

// Query returns the rows matching f in insertion order.
func (s *Store) Query(ctx context.Context, f models.Filter) (txs []models.Transaction, err error) {
	ctx, end := s.span(ctx, "Query", "SELECT")
	defer func() { end(err) }()

	txs = []models.Transaction{}
	if err = s.db.WithContext(ctx).Scopes(filter(f)).Order("id").Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return txs, nil
}

// DistinctValues projects column over the rows matching f and returns each
// value once, sorted ascending.
func (s *Store) DistinctValues(ctx context.Context, column models.Column, f models.Filter) (values []string, err error) {
	if !column.Valid() {
		return nil, fmt.Errorf("column %q cannot be projected", column)
	}

	ctx, end := s.span(ctx, "DistinctValues", "SELECT")
	defer func() { end(err) }()

	col := string(column)
	err = s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Scopes(filter(f)).
		Distinct(col).
		Order(col).
		Pluck(col, &values).Error
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func (s *Store) Count(ctx context.Context, f models.Filter) (n int64, err error) {
	ctx, end := s.span(ctx, "Count", "SELECT")
	defer func() { end(err) }()

	if err = s.db.WithContext(ctx).Model(&models.Transaction{}).Scopes(filter(f)).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.logger.Info("closing record store")
	return sqlDB.Close()
}

func filter(f models.Filter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if f.Category != "" {
			db = db.Where("kategori = ?", f.Category)
		}
		if f.ItemName != "" {
			db = db.Where("nama_barang = ?", f.ItemName)
		}
		return db
	}
}

// gormWriter routes gorm's slow query and error lines into slog.
type gormWriter struct {
	logger *slog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}
