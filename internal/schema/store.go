package schema

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
)

// Executor is the minimal database surface the migration store needs,
// satisfied by *sql.DB, *sql.Tx, or *sql.Conn (internal/dbhandle's Handle,
// which exposes only Execute, does not satisfy it).
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store applies migration files from a directory to target namespaces,
// tracking applied hashes per-namespace, per §4.3's "Migration application".
type Store struct {
	db             *sql.DB
	migrationsDir  string
	publicPrefix   string
}

// NewStore returns a migration Store reading files from migrationsDir.
func NewStore(db *sql.DB, migrationsDir string) *Store {
	return &Store{db: db, migrationsDir: migrationsDir, publicPrefix: "public."}
}

// Apply ensures namespace exists, ensures its migrations table exists, and
// executes every pending migration file (in lexicographic/chronological
// order) whose hash is not yet recorded. Any statement failure aborts the
// whole migration; everything executes inside one transaction so a partial
// application is rolled back.
func (s *Store) Apply(ctx context.Context, namespace string) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("schema: begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := ensureNamespace(ctx, tx, namespace); err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, tx, namespace); err != nil {
		return err
	}
	if namespace != "public" {
		if err := ensureMigrationsTable(ctx, tx, "public"); err != nil {
			return err
		}
	}

	applied, err := recordedHashes(ctx, tx, namespace)
	if err != nil {
		return err
	}

	names, err := ListMigrationFiles(s.migrationsDir)
	if err != nil {
		return fmt.Errorf("schema: list migration files: %w", err)
	}

	for _, name := range names {
		migration, err := LoadMigrationFile(filepath.Join(s.migrationsDir, name))
		if err != nil {
			return fmt.Errorf("schema: load %s: %w", name, err)
		}
		if applied[migration.Hash] {
			continue
		}
		if err := s.applyMigration(ctx, tx, namespace, migration); err != nil {
			return fmt.Errorf("schema: apply %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schema: commit: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) applyMigration(ctx context.Context, tx *sql.Tx, namespace string, m Migration) error {
	targets := map[string]bool{namespace: true}
	for _, stmt := range m.Statements {
		target := namespace
		body := stmt
		if strings.Contains(stmt, s.publicPrefix) {
			target = "public"
		}
		targets[target] = true
		if _, err := tx.ExecContext(ctx, withSearchPath(target, body)); err != nil {
			return err
		}
	}
	// Record the hash independently in every namespace a statement actually
	// wrote to, plus namespace itself even when every statement happened to
	// be public-scoped: a mixed migration (some statements public-prefixed,
	// some not) must leave a row in the tenant's own migrations table, or a
	// later Apply for that same tenant would see an empty recordedHashes set
	// and try to re-run it. ON CONFLICT DO NOTHING makes the public.migrations
	// row idempotent across every tenant that applies the same migration.
	for target := range targets {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s.migrations (hash, name, applied_at) VALUES ($1, $2, now()) ON CONFLICT (hash) DO NOTHING`, pqIdent(target)),
			m.Hash, m.Filename,
		); err != nil {
			return err
		}
	}
	return nil
}

// withSearchPath is the simplest portable way to scope an arbitrary
// statement to a namespace without rewriting every identifier in it: set
// the session's search_path for the duration of the statement. Statements
// referencing "public.<table>" already carry their own schema-qualification
// and are unaffected by the active search_path.
func withSearchPath(namespace, stmt string) string {
	return fmt.Sprintf("SET LOCAL search_path TO %s, public; %s", pqIdent(namespace), stmt)
}

func pqIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func validateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("schema: namespace must not be empty")
	}
	for _, r := range namespace {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' {
			return fmt.Errorf("schema: namespace %q must be lowercase alphanumeric/underscore", namespace)
		}
	}
	return nil
}

func ensureNamespace(ctx context.Context, tx *sql.Tx, namespace string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pqIdent(namespace)))
	return err
}

func ensureMigrationsTable(ctx context.Context, tx *sql.Tx, namespace string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.migrations (
			hash VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT now()
		)`, pqIdent(namespace)))
	return err
}

func recordedHashes(ctx context.Context, tx *sql.Tx, namespace string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT hash FROM %s.migrations", pqIdent(namespace)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		out[hash] = true
	}
	return out, rows.Err()
}
