// Package config defines the resolved runtime configuration for the
// cleansing pipeline and its environment-variable loading rules.
//
// Configuration is resolved once, before the pipeline starts, from
// environment variables with flag overrides applied by the CLI layer. The
// struct is intentionally flat and explicit so tests can construct it
// directly without touching the process environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Defaults applied when neither flag nor environment provides a value. They
// match the contract the schema owner provisions against.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 5432
	DefaultDatabase        = "test_db"
	DefaultUser            = "postgres"
	DefaultSourcePath      = "./source"
	DefaultTargetPath      = "./target"
	DefaultSourceFile      = "scrap.csv"
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 3 * time.Second
)

// DB holds relational-store connection settings.
type DB struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string

	// ConnectAttempts bounds how many times connection acquisition is tried
	// before the sink fails; ConnectDelay is the pause between attempts.
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// DSN renders a pgx/pgxpool connection string. The userinfo segment is
// escaped with url.UserPassword so credentials with reserved characters,
// spaces included, survive the round trip through the URL parser.
func (d DB) DSN() string {
	return fmt.Sprintf("postgresql://%s@%s:%d/%s",
		url.UserPassword(d.User, d.Password).String(), d.Host, d.Port, d.Name)
}

// Config is the full resolved configuration for one pipeline run.
type Config struct {
	DB DB

	// StorageKind selects the registered storage backend ("postgres" by
	// default; "sqlite" is available for local runs without a server).
	StorageKind string

	// SQLiteDSN is used only when StorageKind is "sqlite".
	SQLiteDSN string

	// SourcePath is the directory holding the input file; SourceFile is the
	// file name inside it.
	SourcePath string
	SourceFile string

	// TargetPath is the directory receiving the timestamped backup files.
	TargetPath string
}

// FromEnv resolves a Config from the process environment, applying defaults
// for anything unset. It never fails: malformed numeric variables fall back
// to their defaults, and Validate surfaces anything suspicious afterwards.
func FromEnv() Config {
	return Config{
		DB: DB{
			Host:            getenv("DB_HOST", DefaultHost),
			Port:            getenvInt("DB_PORT", DefaultPort),
			Name:            getenv("DB_NAME", DefaultDatabase),
			User:            getenv("DB_USER", DefaultUser),
			Password:        getenv("DB_PASSWORD", "password"),
			ConnectAttempts: getenvInt("DB_CONNECT_ATTEMPTS", DefaultConnectAttempts),
			ConnectDelay:    getenvDuration("DB_CONNECT_DELAY", DefaultConnectDelay),
		},
		StorageKind: getenv("STORAGE_KIND", "postgres"),
		SQLiteDSN:   getenv("SQLITE_DSN", ""),
		SourcePath:  getenv("SOURCE_PATH", DefaultSourcePath),
		SourceFile:  getenv("SOURCE_FILE", DefaultSourceFile),
		TargetPath:  getenv("TARGET_PATH", DefaultTargetPath),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getenvDuration accepts either a Go duration string ("3s", "500ms") or a
// bare integer interpreted as seconds, the form the original deployment used.
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
