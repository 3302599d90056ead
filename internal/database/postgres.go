package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Every ledger mutation runs in its own transaction and serializes on row
// locks, so connections are held briefly but acquired often. The pool is
// sized for that: more open connections than a read-mostly service would
// carry, and a lock_timeout so a wedged transaction surfaces as an error
// instead of a pile-up.

const pingAttempts = 5

func connString() string {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "crowdfactor")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.lock_timeout_ms", 5000)

	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s options='-c lock_timeout=%d'",
		viper.GetString("database.host"),
		viper.GetString("database.port"),
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.name"),
		viper.GetString("database.ssl_mode"),
		viper.GetInt("database.lock_timeout_ms"),
	)
}

// InitDB opens the connection pool and verifies it, retrying the first
// ping so the service survives starting before Postgres does.
func InitDB() (*sql.DB, error) {
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	db, err := sql.Open("postgres", connString())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	db.SetMaxOpenConns(viper.GetInt("database.max_open_conns"))
	db.SetMaxIdleConns(viper.GetInt("database.max_idle_conns"))
	db.SetConnMaxLifetime(viper.GetDuration("database.conn_max_lifetime"))

	for attempt := 1; ; attempt++ {
		err = db.Ping()
		if err == nil {
			break
		}
		if attempt == pingAttempts {
			db.Close()
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		logrus.Warnf("[DB] Postgres not ready (attempt %d/%d): %v", attempt, pingAttempts, err)
		time.Sleep(2 * time.Second)
	}

	logrus.Info("[DB] Database connection established")
	return db, nil
}

// InitDatabase initializes the database or exits.
func InitDatabase() *sql.DB {
	db, err := InitDB()
	if err != nil {
		logrus.Fatalf("[DB] Failed to initialize database: %v", err)
	}
	return db
}
