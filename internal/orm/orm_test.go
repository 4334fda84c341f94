package orm

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/meridianhq/apprt/internal/ambient"
	"github.com/meridianhq/apprt/internal/apperr"
	"github.com/meridianhq/apprt/internal/dbhandle"
	"github.com/meridianhq/apprt/internal/entity"
)

func accountDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name: "account",
		Fields: entity.Compose(
			entity.IDMixin(),
			[]entity.FieldDescriptor{entity.String("username").Required().Build()},
			entity.TimestampsMixin(),
		),
	}
}

func sessionDescriptor() entity.Descriptor {
	return entity.Descriptor{
		Name: "session",
		Fields: entity.Compose(
			entity.IDMixin(),
			[]entity.FieldDescriptor{entity.String("account_id").Required().Build()},
		),
	}
}

type fakeBus struct {
	dispatched []string
	payloads   []map[string]any
}

func (b *fakeBus) Dispatch(name string, payload map[string]any) {
	b.dispatched = append(b.dispatched, name)
	b.payloads = append(b.payloads, payload)
}

// newTestContext acquires a dbhandle.Handle backed by sqlmock (via the
// first-contact migration bootstrap expectations every Acquire triggers for
// an unseen namespace) and installs it plus bus on an ambient scope.
func newTestContext(t *testing.T, mock sqlmock.Sqlmock, pool *dbhandle.Pool, bus ambient.EventBus) context.Context {
	t.Helper()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "acme"\.migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"\.migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT hash FROM "acme"\.migrations`).WillReturnRows(sqlmock.NewRows([]string{"hash"}))
	mock.ExpectCommit()
	mock.ExpectBegin()

	h, err := pool.Acquire(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ctx, _ := ambient.Scope(context.Background(), ambient.Values{DB: h, EventBus: bus, Tenant: "acme"})
	return ctx
}

func TestInsertAssignsIDAndEmitsAuditEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	bus := &fakeBus{}
	ctx := newTestContext(t, mock, pool, bus)

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO account`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("abc123"))

	o := New(entity.NewRegistry(), "audit_log")
	inst := NewInstance(accountDescriptor(), map[string]any{"username": "bob"})

	if err := o.Insert(ctx, inst); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if inst.Get("id") != "abc123" {
		t.Fatalf("expected id abc123, got %v", inst.Get("id"))
	}
	if len(inst.DirtyFields()) != 0 {
		t.Fatalf("expected dirty set cleared after insert")
	}
	if len(bus.dispatched) != 1 || bus.dispatched[0] != "AuditEvent" {
		t.Fatalf("expected one AuditEvent dispatch, got %v", bus.dispatched)
	}
	meta := bus.payloads[0]["meta"].(map[string]any)
	if meta["action"] != "create" || meta["object_type"] != "account" {
		t.Fatalf("unexpected audit meta: %v", meta)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertMapsDuplicateKeyViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	ctx := newTestContext(t, mock, pool, &fakeBus{})

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO account`).WillReturnError(
		&fakePQError{msg: `pq: duplicate key value violates unique constraint "account_username_key"`})

	o := New(entity.NewRegistry(), "audit_log")
	inst := NewInstance(accountDescriptor(), map[string]any{"username": "bob"})

	err = o.Insert(ctx, inst)
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Kind != apperr.KindDuplicateResource {
		t.Fatalf("expected DuplicateResource error, got %v", err)
	}
}

type fakePQError struct{ msg string }

func (e *fakePQError) Error() string { return e.msg }

func TestUpdateIsNoOpWithoutDirtyFields(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	o := New(entity.NewRegistry(), "audit_log")
	inst := NewInstance(accountDescriptor(), map[string]any{"id": "abc123", "username": "bob"})
	inst.clearDirty()

	if err := o.Update(context.Background(), inst); err != nil {
		t.Fatalf("Update on clean instance should be a no-op, got error: %v", err)
	}
}

func TestUpdateEmitsAuditEventForDirtyFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	bus := &fakeBus{}
	ctx := newTestContext(t, mock, pool, bus)

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE account SET username`).WillReturnResult(sqlmock.NewResult(0, 1))

	o := New(entity.NewRegistry(), "audit_log")
	inst := NewInstance(accountDescriptor(), map[string]any{"id": "abc123", "username": "bob"})
	inst.clearDirty()
	inst.Set("username", "alice")

	if err := o.Update(ctx, inst); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(inst.DirtyFields()) != 0 {
		t.Fatalf("expected dirty set cleared after update")
	}
	if len(bus.dispatched) != 1 {
		t.Fatalf("expected one AuditEvent dispatch, got %v", bus.dispatched)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFetchReturnsResourceNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	ctx := newTestContext(t, mock, pool, &fakeBus{})

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, username, created_at, updated_at FROM account`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at", "updated_at"}))

	o := New(entity.NewRegistry(), "audit_log")
	_, err = o.Fetch(ctx, accountDescriptor(), map[string]any{"id": "missing"})
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Kind != apperr.KindResourceNotFound {
		t.Fatalf("expected ResourceNotFound, got %v", err)
	}
}

func TestFetchManyMaterializesHasManyRelation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	ctx := newTestContext(t, mock, pool, &fakeBus{})

	desc := accountDescriptor()
	desc.Relations = []entity.RelationDescriptor{
		entity.Rel("sessions", entity.HasMany, "session"),
	}

	registry := entity.NewRegistry()
	registry.Register(sessionDescriptor())

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, username, created_at, updated_at FROM account`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at", "updated_at"}).
			AddRow("acct1", "bob", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"))

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, account_id FROM session WHERE account_id = \$1`).
		WithArgs("acct1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id"}).AddRow("sess1", "acct1"))

	o := New(registry, "audit_log")
	rows, err := o.FetchMany(ctx, desc, FetchManyOptions{Include: []string{"sessions"}})
	if err != nil {
		t.Fatalf("FetchMany: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	sessions, ok := rows[0].Relation("sessions").([]*Instance)
	if !ok || len(sessions) != 1 {
		t.Fatalf("expected 1 materialised session, got %v", rows[0].Relation("sessions"))
	}
	if sessions[0].Get("id") != "sess1" {
		t.Fatalf("unexpected session id: %v", sessions[0].Get("id"))
	}
}

func TestFirstOrCreateReturnsExistingRowWithoutInserting(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	ctx := newTestContext(t, mock, pool, &fakeBus{})

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, username, created_at, updated_at FROM account`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at", "updated_at"}).
			AddRow("acct1", "bob", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"))

	o := New(entity.NewRegistry(), "audit_log")
	inst, created, err := o.FirstOrCreate(ctx, accountDescriptor(), map[string]any{"username": "bob"})
	if err != nil {
		t.Fatalf("FirstOrCreate: %v", err)
	}
	if created {
		t.Fatal("expected created=false for an existing row")
	}
	if inst.Get("id") != "acct1" {
		t.Fatalf("expected fetched row, got %v", inst.Get("id"))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFirstOrCreateInsertsWhenNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pool := dbhandle.NewPool(db, t.TempDir())
	ctx := newTestContext(t, mock, pool, &fakeBus{})

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, username, created_at, updated_at FROM account`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at", "updated_at"}))

	mock.ExpectExec(`SET LOCAL search_path`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT INTO account`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acct2"))

	o := New(entity.NewRegistry(), "audit_log")
	inst, created, err := o.FirstOrCreate(ctx, accountDescriptor(), map[string]any{"username": "carol"})
	if err != nil {
		t.Fatalf("FirstOrCreate: %v", err)
	}
	if !created {
		t.Fatal("expected created=true when no row matched")
	}
	if inst.Get("id") != "acct2" {
		t.Fatalf("expected inserted row id acct2, got %v", inst.Get("id"))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestToDictOmitsPrivateFieldsByDefault(t *testing.T) {
	desc := entity.Descriptor{
		Name: "account",
		Fields: entity.Compose(
			entity.IDMixin(),
			[]entity.FieldDescriptor{
				entity.String("username").Required().Build(),
				entity.String("password_hash").Required().Private().Build(),
			},
		),
	}
	inst := NewInstance(desc, map[string]any{"id": "abc", "username": "bob", "password_hash": "hash"})

	public := inst.ToDict(false)
	if _, ok := public["password_hash"]; ok {
		t.Fatal("expected password_hash omitted from public projection")
	}
	private := inst.ToDict(true)
	if private["password_hash"] != "hash" {
		t.Fatalf("expected password_hash present when includePrivate, got %v", private["password_hash"])
	}
}
