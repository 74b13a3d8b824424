package turso

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// Options configures the connection.
type Options struct {
	// URL is a libsql:// or https:// Turso URL, or a file: URL for a local database.
	URL       string
	AuthToken string
	Ping      bool
}

// Open connects to libsql. Remote URLs get the auth token appended.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	connStr := opts.URL
	if opts.AuthToken != "" && !strings.HasPrefix(connStr, "file:") {
		sep := "?"
		if strings.Contains(connStr, "?") {
			sep = "&"
		}
		connStr += sep + "authToken=" + opts.AuthToken
	}

	db, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Turso closes idle Hrana streams aggressively; keep no idle connections so
	// stale streams are never reused.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(0)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(0)

	if opts.Ping {
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}
	return db, nil
}

// IsStreamError checks if an error is a Turso "stream not found" error.
func IsStreamError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "stream not found")
}

// WithRetry executes fn again when it fails with a Turso stream error, up to
// maxRetries extra attempts.
func WithRetry[T any](ctx context.Context, maxRetries int, fn func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !IsStreamError(err) || attempt == maxRetries {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	return result, err
}
