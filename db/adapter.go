package db

import (
	"fmt"

	"github.com/kasuganosora/relationd/config"
	dbmysql "github.com/kasuganosora/relationd/db/mysql"
	dbpostgres "github.com/kasuganosora/relationd/db/postgres"
	dbsqlite "github.com/kasuganosora/relationd/db/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode.
// All dialects run with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
//
// When ReplicaDSNs is set, plain reads are spread over the replicas with
// dbresolver. Queries that must observe their own writes pin the primary
// with Clauses(dbresolver.Write).
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := openPrimary(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.ReplicaDSNs) == 0 {
		return db, nil
	}

	replicas := make([]gorm.Dialector, 0, len(cfg.ReplicaDSNs))
	for _, dsn := range cfg.ReplicaDSNs {
		replicas = append(replicas, dialector(cfg.Mode, dsn))
	}
	resolver := dbresolver.Register(dbresolver.Config{
		Replicas: replicas,
		Policy:   dbresolver.RandomPolicy{},
	})
	if cfg.MaxOpen > 0 {
		resolver = resolver.SetMaxOpenConns(cfg.MaxOpen).SetMaxIdleConns(cfg.MaxIdle).SetConnMaxLifetime(cfg.MaxLife)
	}
	if err := db.Use(resolver); err != nil {
		return nil, fmt.Errorf("db: register replicas: %w", err)
	}
	return db, nil
}

func openPrimary(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// dialector is only called after openPrimary accepted mode.
func dialector(mode, dsn string) gorm.Dialector {
	switch mode {
	case ModeMySQL:
		return mysql.Open(dsn)
	case ModePostgres:
		return postgres.Open(dsn)
	default:
		return sqlite.Open(dsn)
	}
}
