package db

import (
	"fmt"

	"github.com/TheFokysnik/EcoTaleQuests/config"
	dbmysql "github.com/TheFokysnik/EcoTaleQuests/db/mysql"
	dbpostgres "github.com/TheFokysnik/EcoTaleQuests/db/postgres"
	dbsqlite "github.com/TheFokysnik/EcoTaleQuests/db/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode with SQL logging off.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return OpenWithLogger(cfg, nil)
}

// OpenWithLogger is Open with gorm's slow-query and error reports routed to
// log. A nil log keeps gorm silent.
func OpenWithLogger(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Mode {
	case ModeSQLite:
		dialector = dbsqlite.Dialector(cfg.SQLitePath)
	case ModeMySQL:
		dialector = dbmysql.Dialector(cfg.MySQLDSN)
	case ModePostgres:
		dialector = dbpostgres.Dialector(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}

	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if log != nil {
		gcfg.Logger = NewLogger(log, cfg.SlowThreshold)
	}
	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", cfg.Mode, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Mode == ModeSQLite {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.MaxLife)
	return db, nil
}
