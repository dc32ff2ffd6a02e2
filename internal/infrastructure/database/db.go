package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"brokle/internal/config"
)

// SQLDB is the GORM-backed relational store behind the persistence and
// rig-config repositories. The rig runs against Postgres in production and
// SQLite in development, dispatched on cfg.Database.Driver.
type SQLDB struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	config *config.Config
	logger *slog.Logger
}

// NewDB opens the configured relational database and configures its
// connection pool.
func NewDB(cfg *config.Config, logger *slog.Logger) (*SQLDB, error) {
	glogger := gormLogger.Default

	gormConfig := &gorm.Config{
		Logger:                 glogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.GetDatabaseURL()), gormConfig)
	default:
		db, err = gorm.Open(postgres.Open(cfg.GetDatabaseURL()), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Database.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Database.Driver, err)
	}

	logger.Info("connected to database", "driver", cfg.Database.Driver)

	return &SQLDB{
		DB:     db,
		SqlDB:  sqlDB,
		config: cfg,
		logger: logger,
	}, nil
}

// Close closes the database connection.
func (d *SQLDB) Close() error {
	d.logger.Info("closing database connection")
	return d.SqlDB.Close()
}

// Health checks database health.
func (d *SQLDB) Health() error {
	return d.SqlDB.Ping()
}

// GetStats returns database connection statistics.
func (d *SQLDB) GetStats() sql.DBStats {
	return d.SqlDB.Stats()
}
