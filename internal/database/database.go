// Package database opens and migrates the clip ledger. SQLite with WAL
// is the default for local installs; PostgreSQL and MySQL are supported
// through GORM for shared deployments.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/models"
)

// DB is the ledger connection. The embedded *gorm.DB is handed to
// repositories and handlers directly.
type DB struct {
	*gorm.DB
	logger *slog.Logger
}

// New opens the ledger database, configures the pool, and verifies the
// connection with a ping so a bad DSN fails at startup rather than on
// the first request.
func New(cfg config.DatabaseConfig, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}

	dialector, err := openDialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(cfg.LogLevel, log),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}

	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if cfg.Driver == "sqlite" {
		// WAL allows concurrent readers but a single writer; anything
		// beyond a few connections just queues on the write lock.
		if maxOpen <= 0 || maxOpen > 4 {
			maxOpen = 4
		}
		if maxIdle <= 0 || maxIdle > 2 {
			maxIdle = 2
		}
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Debug("ledger database ready",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", maxOpen),
		slog.Int("max_idle_conns", maxIdle),
	)

	return &DB{DB: db, logger: log}, nil
}

// Migrate brings the schema up to date. The ledger is a single table,
// so AutoMigrate covers it without a migration registry.
func (db *DB) Migrate() error {
	if err := db.DB.AutoMigrate(&models.Clip{}); err != nil {
		return fmt.Errorf("migrating clips table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// openDialector builds the GORM dialector for the configured driver.
func openDialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		// Pure Go SQLite driver; PRAGMAs ride the DSN so they apply to
		// every pooled connection, not just the first.
		dsn := cfg.DSN
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=busy_timeout(30000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=foreign_keys(ON)"
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// queryLogger adapts GORM's logger interface onto slog so query logs
// land in the same stream as everything else.
type queryLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
}

func newQueryLogger(level string, log *slog.Logger) *queryLogger {
	return &queryLogger{logger: log, level: parseGormLevel(level)}
}

func parseGormLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func (l *queryLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &queryLogger{logger: l.logger, level: level}
}

func (l *queryLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

// slowQueryAfter marks queries worth a warning.
const slowQueryAfter = time.Second

// sqlLogMax caps SQL text in log records.
const sqlLogMax = 200

func trimSQL(sql string) string {
	if len(sql) <= sqlLogMax {
		return sql
	}
	return sql[:sqlLogMax] + "... (truncated)"
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil
	slow := elapsed > slowQueryAfter

	// fc() interpolates the full SQL string, so skip it when slog would
	// drop the record anyway.
	var wanted bool
	switch {
	case failed && l.level >= logger.Error:
		wanted = true
	case slow && l.level >= logger.Warn:
		wanted = l.logger.Enabled(ctx, slog.LevelWarn)
	case l.level >= logger.Info:
		wanted = l.logger.Enabled(ctx, slog.LevelDebug)
	}
	if !wanted {
		return
	}

	sqlStr, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", trimSQL(sqlStr)),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}

	switch {
	case failed:
		attrs = append(attrs, slog.String("error", err.Error()))
		l.logger.LogAttrs(ctx, slog.LevelError, "database error", attrs...)
	case slow:
		l.logger.LogAttrs(ctx, slog.LevelWarn, "slow query", attrs...)
	default:
		l.logger.LogAttrs(ctx, slog.LevelDebug, "database query", attrs...)
	}
}
