package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Config.
//
// Path is a dotted path into the config (e.g. "db.host", "source.file").
// Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of a resolved Config.
//
// It does not mutate the config. Callers may decide whether to treat
// warnings as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	switch c.StorageKind {
	case "postgres":
		issues = append(issues, validateDB(c.DB)...)
	case "sqlite":
		if strings.TrimSpace(c.SQLiteDSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sqlite.dsn",
				Message:  "SQLITE_DSN must be set when storage kind is sqlite",
			})
		}
	case "":
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage kind must not be empty",
		})
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unrecognized storage kind %q; the run will fail unless a backend registered it", c.StorageKind),
		})
	}

	if strings.TrimSpace(c.SourcePath) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.path",
			Message:  "source directory must not be empty",
		})
	}
	if strings.TrimSpace(c.SourceFile) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "source.file",
			Message:  "source file name must not be empty",
		})
	}
	if strings.TrimSpace(c.TargetPath) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "target.path",
			Message:  "target directory must not be empty",
		})
	}

	return issues
}

// validateDB validates relational connection settings.
func validateDB(d DB) []Issue {
	var issues []Issue

	if strings.TrimSpace(d.Host) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.host",
			Message:  "database host must not be empty",
		})
	}
	if d.Port <= 0 || d.Port > 65535 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.port",
			Message:  fmt.Sprintf("database port %d is out of range", d.Port),
		})
	}
	if strings.TrimSpace(d.Name) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.name",
			Message:  "database name must not be empty",
		})
	}
	if strings.TrimSpace(d.User) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.user",
			Message:  "database user must not be empty",
		})
	}
	if d.Password == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "db.password",
			Message:  "database password is empty",
		})
	}
	if d.ConnectAttempts <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.connect_attempts",
			Message:  fmt.Sprintf("connect attempts must be positive, got %d", d.ConnectAttempts),
		})
	}
	if d.ConnectDelay < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "db.connect_delay",
			Message:  fmt.Sprintf("connect delay must not be negative, got %s", d.ConnectDelay),
		})
	}

	return issues
}
