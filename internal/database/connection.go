package database

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

var (
	globalDB *sql.DB
	dbOnce   sync.Once
	dbErr    error

	testDB *sql.DB
)

// GetDB returns the shared database connection, opening it on first use.
// Connection parameters come from DB_DRIVER and DB_DSN.
func GetDB() (*sql.DB, error) {
	if testDB != nil {
		return testDB, nil
	}
	dbOnce.Do(func() {
		globalDB, dbErr = open(GetDBDriver(), os.Getenv("DB_DSN"))
	})
	return globalDB, dbErr
}

// SetTestDB overrides the connection returned by GetDB. Tests pass a sqlmock
// handle here and reset with nil when done.
func SetTestDB(db *sql.DB) {
	testDB = db
}

func open(driver, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is not configured")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	return db, nil
}

// Open opens a connection with the given driver and DSN, bypassing the
// singleton, and pins the dialect helpers to that driver so placeholder
// conversion matches the configured database. The caller owns the returned
// handle.
func Open(driver, dsn string) (*sql.DB, error) {
	setActiveDriver(driver)
	return open(driver, dsn)
}
