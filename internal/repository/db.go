package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/dmayes77/clientflow/internal/config"
	"github.com/dmayes77/clientflow/internal/migrations"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	mysqlmigrate "github.com/golang-migrate/migrate/v4/database/mysql"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ConfigurePool applies pool settings suited to the database type. SQLite gets a single
// connection so writers serialize instead of failing with SQLITE_BUSY.
func ConfigurePool(db *sql.DB) {
	if config.GetSystemSettingString(config.DATABASE_TYPE) == config.DATABASE_TYPE_SQLLITE {
		db.SetMaxOpenConns(1)
		return
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)
}

// RunMigrations applies the embedded migrations for the configured database type to db.
// The migrate instance is not closed because that would close db.
func RunMigrations(db *sql.DB) error {
	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)

	var (
		dir    string
		driver database.Driver
		err    error
	)
	switch databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		dir = "postgres"
		driver, err = pgmigrate.WithInstance(db, &pgmigrate.Config{})
	case config.DATABASE_TYPE_MYSQL:
		dir = "mysql"
		driver, err = mysqlmigrate.WithInstance(db, &mysqlmigrate.Config{})
	case config.DATABASE_TYPE_SQLLITE:
		dir = "sqllite3"
		driver, err = sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	default:
		return fmt.Errorf("unsupported database type %q", databaseType)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	sub, err := fs.Sub(migrations.FS, dir)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, dir, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
