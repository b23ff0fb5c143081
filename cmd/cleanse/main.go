// Command cleanse runs one catalog cleansing pass: it reads the configured
// CSV export, removes duplicate ids, normalizes field encodings, loads the
// accepted and rejected sets into the database, and writes timestamped
// backup files.
//
// Configuration comes from the environment (DB_HOST, DB_PORT, DB_NAME,
// DB_USER, DB_PASSWORD, SOURCE_PATH, TARGET_PATH, ...) with flag overrides.
// The exit status is zero only when every terminal operation succeeded; a
// partial run (say, backups written but the database unreachable) exits
// non-zero with the failed steps named in the log.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cleanse/internal/config"
	"cleanse/internal/metrics"
	"cleanse/internal/metrics/datadog"
	"cleanse/internal/metrics/prompush"
	"cleanse/internal/pipeline"

	// register all backends with the storage factory.
	_ "cleanse/internal/storage/all"
)

func main() {
	// os.Exit skips deferred calls, so the exit code is decided in run and
	// applied here after the metrics flush has had its chance.
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	var (
		metricsBackendFlg string
		pushGatewayURLFlg string
		dogstatsdAddrFlg  string
		validate          bool
	)

	flag.StringVar(&cfg.SourcePath, "source", cfg.SourcePath, "directory containing the input CSV")
	flag.StringVar(&cfg.SourceFile, "file", cfg.SourceFile, "input CSV file name inside the source directory")
	flag.StringVar(&cfg.TargetPath, "target", cfg.TargetPath, "directory receiving the backup files")
	flag.StringVar(&cfg.StorageKind, "storage", cfg.StorageKind, "storage backend kind (postgres, sqlite)")
	flag.StringVar(&cfg.SQLiteDSN, "sqlite_dsn", cfg.SQLiteDSN, "SQLite DSN or file path (sqlite backend only)")
	flag.StringVar(&cfg.DB.Host, "db_host", cfg.DB.Host, "database host")
	flag.IntVar(&cfg.DB.Port, "db_port", cfg.DB.Port, "database port")
	flag.StringVar(&cfg.DB.Name, "db_name", cfg.DB.Name, "database name")
	flag.StringVar(&cfg.DB.User, "db_user", cfg.DB.User, "database user")
	flag.IntVar(&cfg.DB.ConnectAttempts, "db_attempts", cfg.DB.ConnectAttempts, "database connection attempts before giving up")
	flag.DurationVar(&cfg.DB.ConnectDelay, "db_delay", cfg.DB.ConnectDelay, "delay between connection attempts")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none); defaults to env METRICS_BACKEND")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&dogstatsdAddrFlg, "dogstatsd-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")

	flag.Parse()

	// Validate the resolved config; errors block execution, warnings don't.
	issues := config.Validate(cfg)
	hasError := false
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		if iss.Severity == config.SeverityError {
			hasError = true
		}
	}
	if hasError {
		log.Printf("configuration is invalid")
		return 1
	}
	if validate {
		log.Printf("configuration is valid")
		return 0
	}

	initMetrics(metricsBackendFlg, pushGatewayURLFlg, dogstatsdAddrFlg)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()

	summary, err := pipeline.Run(ctx, cfg)
	if err != nil {
		log.Printf("fatal: %v", err)
		return 1
	}
	log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))

	if summary.Failed() {
		return 1
	}
	return 0
}

// initMetrics installs the selected metrics backend; resolution is
// flag → env → default, and an unknown backend just disables metrics.
func initMetrics(backendName, gwURL, ddAddr string) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		if gwURL == "" {
			gwURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(pipeline.Job, gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=pushgateway url=%s", gwURL)
		metrics.SetBackend(b)

	case "datadog":
		if ddAddr == "" {
			ddAddr = os.Getenv("DOGSTATSD_ADDR")
		}
		if ddAddr == "" {
			ddAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: ddAddr, Namespace: "cleanse."})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=datadog addr=%s", ddAddr)
		metrics.SetBackend(b)

	case "", "none":
		// metrics disabled; nop backend remains

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}
