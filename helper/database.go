package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Database wraps the sql connection pool together with the logger handlers use.
type Database struct {
	Name     string
	Instance *sql.DB
	Logger   *slog.Logger
}

// DatabaseConfiguration holds the connection settings for PostgreSQL.
type DatabaseConfiguration struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	Schema   string
	SSLMode  string
}

// NewDatabaseConfiguration reads the connection settings from the environment.
// A .env file in the working directory is loaded first if it exists.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, NewError("load .env", err)
		}
	}

	config := &DatabaseConfiguration{
		Host:     os.Getenv("RESOLVER_DB_HOST"),
		Port:     os.Getenv("RESOLVER_DB_PORT"),
		Database: os.Getenv("RESOLVER_DB_DATABASE"),
		Username: os.Getenv("RESOLVER_DB_USERNAME"),
		Password: os.Getenv("RESOLVER_DB_PASSWORD"),
		Schema:   os.Getenv("RESOLVER_DB_SCHEMA"),
		SSLMode:  os.Getenv("RESOLVER_DB_SSLMODE"),
	}
	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	var missing []string
	if config.Host == "" {
		missing = append(missing, "RESOLVER_DB_HOST")
	}
	if config.Port == "" {
		missing = append(missing, "RESOLVER_DB_PORT")
	}
	if config.Database == "" {
		missing = append(missing, "RESOLVER_DB_DATABASE")
	}
	if config.Username == "" {
		missing = append(missing, "RESOLVER_DB_USERNAME")
	}
	if len(missing) > 0 {
		return nil, NewError("database configuration", fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", ")))
	}

	return config, nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfiguration) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode, c.Schema,
	)
}

// SetTestDatabaseConfigEnvs sets the environment for a test container on port.
func SetTestDatabaseConfigEnvs(t *testing.T, port string) {
	t.Setenv("RESOLVER_DB_HOST", "localhost")
	t.Setenv("RESOLVER_DB_PORT", port)
	t.Setenv("RESOLVER_DB_DATABASE", "database")
	t.Setenv("RESOLVER_DB_USERNAME", "user")
	t.Setenv("RESOLVER_DB_PASSWORD", "password")
	t.Setenv("RESOLVER_DB_SCHEMA", "public")
	t.Setenv("RESOLVER_DB_SSLMODE", "disable")
}

// NewDatabase opens and pings the connection pool.
// It panics if the database stays unreachable, the process cannot work without it.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := connect(config, 10, time.Second)
	if err != nil {
		log.Panicf("error connecting to database %s: %v", name, err)
	}

	logger.Info("Connected to database", slog.String("name", name), slog.String("host", config.Host), slog.String("port", config.Port))

	return &Database{
		Name:     name,
		Instance: db,
		Logger:   logger,
	}
}

// NewTestDatabase opens a connection with a pretty logger at debug level.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	logger := slog.New(NewPrettyHandler(os.Stdout, PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelDebug},
	}))
	return NewDatabase("test", config, logger)
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d == nil || d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}

func connect(config *DatabaseConfiguration, attempts int, wait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return db, nil
		}
		time.Sleep(wait)
	}

	_ = db.Close()
	return nil, fmt.Errorf("ping after %d attempts: %w", attempts, err)
}
