// Package db opens the local store holding credentials and the action journal.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/ember/internal/config"
)

// DSN builds a MySQL-compatible DSN, used when the store lives in a shared
// MySQL or Dolt server.
func DSN(host string, port int, database string) string {
	return fmt.Sprintf("root@tcp(%s:%d)/%s?parseTime=true", host, port, database)
}

// Open connects to the configured store and migrates its tables.
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "mysql":
		gdb, err = ConnectMySQL(cfg.Host, cfg.Port, cfg.Name)
	case "sqlite", "":
		gdb, err = ConnectSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gdb); err != nil {
		return nil, err
	}
	return gdb, nil
}

// ConnectMySQL opens a GORM connection to a MySQL-compatible server.
func ConnectMySQL(host string, port int, database string) (*gorm.DB, error) {
	gdb, err := gorm.Open(mysql.Open(DSN(host, port, database)), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return gdb, nil
}

// ConnectSQLite opens a sqlite database file, creating its directory. The
// path ":memory:" opens a private in-memory database.
func ConnectSQLite(path string) (*gorm.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("db: create dir for %s: %w", path, err)
		}
	}
	gdb, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	// sqlite allows one writer; an in-memory database also exists per connection.
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}
}
