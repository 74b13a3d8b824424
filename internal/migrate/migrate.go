// Package migrate applies the embedded SQL migrations to a libsql database.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/emiliopalmerini/mltrackr/migrations"
)

// Migration is one numbered schema change with its optional rollback.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

var upPattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// Migrator tracks the applied version in schema_migrations. A migration that
// fails halfway leaves the dirty flag set and blocks further runs.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	log    *slog.Logger
}

// New returns a Migrator over the embedded migrations.
func New(db *sql.DB, log *slog.Logger) *Migrator {
	return NewWithSource(db, migrations.FS, log)
}

func NewWithSource(db *sql.DB, source fs.FS, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Migrator{db: db, source: source, log: log}
}

// Load reads every *.up.sql file and its matching *.down.sql, sorted by version.
func Load(source fs.FS) ([]Migration, error) {
	var result []Migration

	err := fs.WalkDir(source, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		m := upPattern.FindStringSubmatch(path.Base(p))
		if m == nil {
			return nil
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return fmt.Errorf("parse version of %s: %w", p, err)
		}

		up, err := fs.ReadFile(source, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		down, err := fs.ReadFile(source, path.Join(path.Dir(p), m[1]+"_"+m[2]+".down.sql"))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read down migration for %s: %w", p, err)
		}

		result = append(result, Migration{Version: version, Name: m[2], UpSQL: string(up), DownSQL: string(down)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(result); i++ {
		if result[i].Version == result[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", result[i].Version)
		}
	}
	return result, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			dirty INTEGER NOT NULL DEFAULT 0
		)
	`)
	return err
}

// Current returns the applied version and whether the last run failed midway.
func (m *Migrator) Current(ctx context.Context) (int, bool, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, false, fmt.Errorf("create migrations table: %w", err)
	}

	var version, dirty int
	err := m.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty == 1, nil
}

func (m *Migrator) setVersion(ctx context.Context, version int, dirty bool) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return err
	}
	if version == 0 && !dirty {
		return nil
	}
	d := 0
	if dirty {
		d = 1
	}
	_, err := m.db.ExecContext(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, d)
	return err
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	all, err := Load(m.source)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	if len(all) == 0 {
		return 0, nil
	}
	return m.To(ctx, all[len(all)-1].Version)
}

// To migrates up or down until target is the applied version.
func (m *Migrator) To(ctx context.Context, target int) (int, error) {
	current, dirty, err := m.Current(ctx)
	if err != nil {
		return 0, err
	}
	if dirty {
		return 0, fmt.Errorf("database is in dirty state at version %d", current)
	}

	all, err := Load(m.source)
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}

	applied := 0
	if target >= current {
		for _, mg := range all {
			if mg.Version <= current || mg.Version > target {
				continue
			}
			if err := m.run(ctx, mg, true); err != nil {
				return applied, err
			}
			applied++
		}
	} else {
		for i := len(all) - 1; i >= 0; i-- {
			mg := all[i]
			if mg.Version > current || mg.Version <= target {
				continue
			}
			if strings.TrimSpace(mg.DownSQL) == "" {
				return applied, fmt.Errorf("no down migration for version %d", mg.Version)
			}
			if err := m.run(ctx, mg, false); err != nil {
				return applied, err
			}
			applied++
		}
	}

	if applied > 0 {
		m.log.Info("migrations applied", slog.Int("count", applied), slog.Int("version", target))
	}
	return applied, nil
}

func (m *Migrator) run(ctx context.Context, mg Migration, up bool) error {
	direction, sqlText, after := "up", mg.UpSQL, mg.Version
	if !up {
		direction, sqlText, after = "down", mg.DownSQL, mg.Version-1
	}
	m.log.Debug("running migration", slog.String("direction", direction), slog.Int("version", mg.Version), slog.String("name", mg.Name))

	if err := m.setVersion(ctx, mg.Version, true); err != nil {
		return fmt.Errorf("set dirty flag: %w", err)
	}
	for _, stmt := range SplitSQL(sqlText) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d %s: %w\nSQL: %s", mg.Version, direction, err, stmt)
		}
	}
	if err := m.setVersion(ctx, after, false); err != nil {
		return fmt.Errorf("clear dirty flag: %w", err)
	}
	return nil
}

// SplitSQL splits a script on semicolons and drops empty statements.
// Statements must not contain literal semicolons.
func SplitSQL(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
