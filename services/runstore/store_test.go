package runstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/backend/sim"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(backend string, created time.Time) *Run {
	return &Run{
		Backend: backend,
		Noise:   "synthetic:depolarizing",
		Levels:  []int{0, 1},
		Circuit: circuit.Bell(),
		Results: []analysis.Result{
			{Level: 0, Fidelity: 0.91, Depth: 3, Size: 3, Ops: map[string]int{"u2": 1, "cx": 1, "measure": 1}, Mode: sim.ModeExact},
			{Level: 1, Fidelity: 0.95, Depth: 2, Size: 2, Ops: map[string]int{"u2": 1, "cx": 1}, Mode: sim.ModeExact},
		},
		CreatedAt: created,
	}
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)

	run := sampleRun("statevector_simulator", time.Time{})
	id, err := s.Save(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, run.ID, id)
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, run.Backend, got.Backend)
	assert.Equal(t, run.Levels, got.Levels)
	assert.Equal(t, run.Circuit, got.Circuit)
	assert.Equal(t, run.Results, got.Results)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))

	_, err = s.Save(ctx, run)
	assert.Error(t, err, "ids are unique")
}

func TestGetUnknown(t *testing.T) {
	s := openSQLite(t)
	_, err := s.Get(context.Background(), "2f1b0c4e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), "2f1b0c4e-0000-4000-8000-000000000000"), ErrNotFound)
}

func TestSaveRejects(t *testing.T) {
	s := openSQLite(t)
	_, err := s.Save(context.Background(), &Run{Backend: "x"})
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	run := sampleRun("x", time.Now())
	run.ID = "not-a-uuid"
	_, err = s.Save(context.Background(), run)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, backend := range []string{"a", "b", "a", "a"} {
		id, err := s.Save(ctx, sampleRun(backend, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.List(ctx, ListRequest{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")
	assert.Equal(t, 1, all[0].BestLevel)
	assert.InDelta(t, 0.95, all[0].BestFidelity, 1e-12)
	assert.Equal(t, "bell", all[0].CircuitName)
	assert.Equal(t, 2, all[0].NumQubits)

	onlyA, err := s.List(ctx, ListRequest{Backend: "a", PageSize: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, ids[0], onlyA[0].ID)

	require.NoError(t, s.Delete(ctx, ids[0]))
	onlyA, err = s.List(ctx, ListRequest{Backend: "a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	_, err = Open(context.Background(), DriverSQLite, "")
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("QTRANSPILE_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("QTRANSPILE_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, DriverPostgres, dsn)
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Save(ctx, sampleRun("pg", time.Now()))
	require.NoError(t, err)
	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "pg", got.Backend)
	require.NoError(t, s.Delete(ctx, id))
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
