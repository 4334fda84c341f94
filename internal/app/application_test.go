package app

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhq/apprt/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:                 config.Testing,
		DatabaseURL:         "postgres://test",
		Host:                "127.0.0.1",
		Port:                0,
		DefaultTenant:       "public",
		ScheduledEventsPath: t.TempDir() + "/scheduled_events.json",
		SnapshotSchedule:    "",
		MigrationsDir:       "migrations",
		JWTSigningKey:       "test-secret",
		JWTAudience:         "",
	}
}

func TestNewWiresEveryComponent(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	application, err := New(testConfig(t), db, nil)
	require.NoError(t, err)

	require.NotNil(t, application.Registry)
	_, ok := application.Registry.Get("audit_log")
	assert.True(t, ok, "expected audit_log entity registered")

	assert.NotNil(t, application.Pool)
	assert.NotNil(t, application.ORM)
	assert.NotNil(t, application.Bus)
	assert.NotNil(t, application.Pipeline)
	assert.NotNil(t, application.Oracle, "expected token oracle when JWTSigningKey is set")

	descriptors := application.Descriptors()
	names := map[string]bool{}
	for _, d := range descriptors {
		names[d.Name] = true
	}
	assert.True(t, names["event-bus"], "expected event-bus descriptor, got %v", descriptors)
	assert.True(t, names["http"], "expected http descriptor, got %v", descriptors)
}

func TestNewWithoutSigningKeyLeavesOracleNil(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig(t)
	cfg.JWTSigningKey = ""

	application, err := New(cfg, db, nil)
	require.NoError(t, err)
	assert.Nil(t, application.Oracle, "expected nil oracle without a signing key")
}

func TestApplicationStartAndStop(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	application, err := New(testConfig(t), db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	require.NoError(t, application.Stop(ctx))
}

func TestAttachRegistersAdditionalService(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	application, err := New(testConfig(t), db, nil)
	require.NoError(t, err)

	svc := &stubService{name: "extra"}
	require.NoError(t, application.Attach(svc))

	ctx := context.Background()
	require.NoError(t, application.Start(ctx))
	assert.True(t, svc.started, "expected attached service to start")

	require.NoError(t, application.Stop(ctx))
	assert.True(t, svc.stopped, "expected attached service to stop")
}

type stubService struct {
	name    string
	started bool
	stopped bool
}

func (s *stubService) Name() string { return s.name }
func (s *stubService) Start(ctx context.Context) error {
	s.started = true
	return nil
}
func (s *stubService) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}
