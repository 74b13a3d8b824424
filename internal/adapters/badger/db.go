// Package badger stores experiments in an embedded BadgerDB key-value store.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path     string
	InMemory bool

	SyncWrites bool

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often the value log is garbage collected. Zero disables GC.
	GCInterval     time.Duration
	GCDiscardRatio float64
}

// DefaultConfig returns durable settings for a data directory at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an opened BadgerDB together with the settings it was opened with.
type DB struct {
	*badger.DB
	cfg Config
}

// Open opens the database, creating the data directory if needed.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DB{DB: db, cfg: cfg}, nil
}

// InMemory reports whether the database lives only in memory.
func (d *DB) InMemory() bool { return d.cfg.InMemory }

// RunGC collects the value log every GCInterval until ctx is done. It returns
// immediately for in-memory databases or when GC is disabled.
func (d *DB) RunGC(ctx context.Context) error {
	if d.cfg.InMemory || d.cfg.GCInterval <= 0 {
		return nil
	}
	if d.cfg.GCDiscardRatio <= 0 || d.cfg.GCDiscardRatio >= 1 {
		return fmt.Errorf("gc discard ratio must be between 0 and 1, got %v", d.cfg.GCDiscardRatio)
	}

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.collect()
		}
	}
}

func (d *DB) collect() {
	// Keep rewriting while badger finds files worth compacting.
	for {
		err := d.RunValueLogGC(d.cfg.GCDiscardRatio)
		if err == nil {
			continue
		}
		if !errors.Is(err, badger.ErrNoRewrite) && d.cfg.Logger != nil {
			d.cfg.Logger.Warn("badger value log gc failed", slog.String("error", err.Error()))
		}
		return
	}
}

// update runs fn in a read-write transaction and commits it.
func (d *DB) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (d *DB) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := d.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
