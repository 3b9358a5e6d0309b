// Package migrations exposes the embedded rate-limit state schema per SQL
// dialect and hands it to a go-persistence-bun client.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	salla "github.com/goliatone/go-salla"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	// SourceLabel identifies salla migrations in a shared migration table.
	SourceLabel = "go-salla"

	rootPath = "data/sql/migrations"
)

// Migration is one versioned up/down pair.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// Source is the migration set of one dialect.
type Source struct {
	Dialect    string
	Path       string
	FS         fs.FS
	Migrations []Migration
}

// Latest returns the highest version in the set.
func (s Source) Latest() string {
	if len(s.Migrations) == 0 {
		return ""
	}
	return s.Migrations[len(s.Migrations)-1].Version
}

type RegisterFunc func(ctx context.Context, src Source) error

// NormalizeDialect maps driver and DSN scheme spellings onto the dialect
// names used by the embedded tree.
func NormalizeDialect(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", name)
	}
}

// Sources reads the postgres tree at data/sql/migrations and the sqlite tree
// below it. root defaults to the module's embedded filesystem.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = salla.GetMigrationsFS()
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s/%s: %w", rootPath, DialectSQLite, err)
	}

	out := []Source{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: path.Join(rootPath, DialectSQLite), FS: sqliteFS},
	}
	for i := range out {
		migrations, err := scan(out[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s: %w", out[i].Path, err)
		}
		out[i].Migrations = migrations
	}
	if out[0].Latest() != out[1].Latest() {
		return nil, fmt.Errorf("migrations: dialects out of step: postgres at %q, sqlite at %q", out[0].Latest(), out[1].Latest())
	}
	return out, nil
}

// SourceFor returns the embedded migrations of a single dialect.
func SourceFor(dialect string) (Source, error) {
	dialect, err := NormalizeDialect(dialect)
	if err != nil {
		return Source{}, err
	}
	sources, err := Sources(nil)
	if err != nil {
		return Source{}, err
	}
	for _, src := range sources {
		if src.Dialect == dialect {
			return src, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: no migrations for %s", dialect)
}

// Register calls fn for each requested dialect, or for both when none are
// given, and returns the sources it registered.
func Register(ctx context.Context, fn RegisterFunc, dialects ...string) ([]Source, error) {
	if fn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	sources, err := Sources(nil)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, name := range dialects {
		dialect, err := NormalizeDialect(name)
		if err != nil {
			return nil, err
		}
		wanted[dialect] = true
	}

	registered := make([]Source, 0, len(sources))
	for _, src := range sources {
		if len(wanted) > 0 && !wanted[src.Dialect] {
			continue
		}
		if err := fn(ctx, src); err != nil {
			return registered, fmt.Errorf("migrations: register %s: %w", src.Dialect, err)
		}
		registered = append(registered, src)
	}
	return registered, nil
}

// scan pairs NNNNN_name.up.sql with NNNNN_name.down.sql at the top level of
// fsys. Subdirectories belong to other dialects and are skipped.
func scan(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	byStem := map[string]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var stem string
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			stem, up = strings.TrimSuffix(name, ".up.sql"), true
		case strings.HasSuffix(name, ".down.sql"):
			stem = strings.TrimSuffix(name, ".down.sql")
		default:
			continue
		}
		version, label, ok := strings.Cut(stem, "_")
		if !ok || version == "" || strings.Trim(version, "0123456789") != "" {
			return nil, fmt.Errorf("%s: expected NNNNN_name prefix", name)
		}
		m := byStem[stem]
		if m == nil {
			m = &Migration{Version: version, Name: label}
			byStem[stem] = m
		}
		if up {
			m.Up = name
		} else {
			m.Down = name
		}
	}
	if len(byStem) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}

	out := make([]Migration, 0, len(byStem))
	seen := map[string]string{}
	for stem, m := range byStem {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("%s: up and down files must come in pairs", stem)
		}
		if other, dup := seen[m.Version]; dup {
			return nil, fmt.Errorf("version %s used by %s and %s", m.Version, other, stem)
		}
		seen[m.Version] = stem
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
