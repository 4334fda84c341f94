package schema

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/meridianhq/apprt/internal/entity"
)

func testRegistry() *entity.Registry {
	r := entity.NewRegistry()
	r.Register(entity.Descriptor{
		Name: "account",
		Fields: entity.Compose(
			entity.IDMixin(),
			[]entity.FieldDescriptor{
				entity.String("username").Required().Unique().MaxLen(64).Build(),
			},
		),
	})
	return r
}

func TestDesiredSchemaCreatesTable(t *testing.T) {
	s := Desired(testRegistry())
	table, ok := s.Tables["account"]
	if !ok {
		t.Fatal("expected account table in desired schema")
	}
	if len(table.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(table.Columns))
	}
}

func TestDiffAddedTableEmitsCreate(t *testing.T) {
	old := NewSchema()
	next := Desired(testRegistry())
	diff := Compute(old, next)
	if len(diff.Ops) == 0 {
		t.Fatal("expected at least one op for a newly added table")
	}
	found := false
	for _, stmt := range diff.Ops {
		if stmt == CreateTableSQL(next.Tables["account"]) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CREATE TABLE statement among ops: %v", diff.Ops)
	}
}

func TestDiffRemovedColumnGoesInOps(t *testing.T) {
	old := Desired(testRegistry())
	r2 := entity.NewRegistry()
	r2.Register(entity.Descriptor{Name: "account", Fields: entity.IDMixin()})
	next := Desired(r2)

	diff := Compute(old, next)
	found := false
	for _, stmt := range diff.Ops {
		if stmt == DropColumnSQL("account", "username") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected DROP COLUMN statement among ops: %v", diff.Ops)
	}
}

func TestGenerateRefusesEmptyChanges(t *testing.T) {
	dir := t.TempDir()
	cum := filepath.Join(dir, "cumulative.json")
	desired := Desired(testRegistry())

	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)
	m, err := Generate(desired, dir, cum, "initial", now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if m == nil {
		t.Fatal("expected a migration for the first generation")
	}

	// Second generation with no model changes: nothing to emit.
	m2, err := Generate(desired, dir, cum, "initial_again", now)
	if err != nil {
		t.Fatalf("Generate (no-op): %v", err)
	}
	if m2 != nil {
		t.Fatalf("expected nil migration when schema unchanged, got %v", m2)
	}
}

func TestGenerateFilenameFormat(t *testing.T) {
	dir := t.TempDir()
	cum := filepath.Join(dir, "cumulative.json")
	desired := Desired(testRegistry())
	now := time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)

	m, err := Generate(desired, dir, cum, "initial setup", now)
	if err != nil || m == nil {
		t.Fatalf("Generate: %v, %v", m, err)
	}
	if !matchesMigrationFilename(m.Filename) {
		t.Fatalf("filename %q does not match expected pattern", m.Filename)
	}
	if _, err := os.Stat(filepath.Join(dir, m.Filename)); err != nil {
		t.Fatalf("expected migration file to exist: %v", err)
	}
}

var migrationFilenamePattern = regexp.MustCompile(`^\d{4}_\d{2}_\d{2}_\d{4}_[0-9a-f]{8}_[a-z0-9_]+\.migration$`)

func matchesMigrationFilename(name string) bool {
	return migrationFilenamePattern.MatchString(name)
}
