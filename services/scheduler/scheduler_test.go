package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/backend/transpile"
	"github.com/perclft/qtranspile/services/runstore"
)

func newEngine(t *testing.T, opts ...analysis.Option) *analysis.Engine {
	t.Helper()
	r := backends.NewRegistry()
	r.RegisterDefaultSimulators()
	t.Cleanup(r.Close)
	return analysis.NewEngine(r, opts...)
}

func waitFor(t *testing.T, s *Scheduler, id string) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	j, err := s.Wait(ctx, id)
	require.NoError(t, err)
	return j
}

func exerciseQueue(t *testing.T, q Queue) {
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, "low", PriorityLow))
	require.NoError(t, q.Push(ctx, "high-1", PriorityHigh))
	require.NoError(t, q.Push(ctx, "normal", PriorityNormal))
	require.NoError(t, q.Push(ctx, "high-2", PriorityHigh))
	assert.Error(t, q.Push(ctx, "low", PriorityLow))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	pos, err := q.Position(ctx, "normal")
	require.NoError(t, err)
	assert.Equal(t, 3, pos)
	pos, err = q.Position(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, pos)

	removed, err := q.Remove(ctx, "normal")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = q.Remove(ctx, "normal")
	require.NoError(t, err)
	assert.False(t, removed)

	var order []string
	for {
		id, ok, err := q.Pop(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []string{"high-1", "high-2", "low"}, order)
}

func TestMemoryQueue(t *testing.T) {
	exerciseQueue(t, NewMemoryQueue())
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("QTRANSPILE_TEST_REDIS")
	if addr == "" {
		t.Skip("QTRANSPILE_TEST_REDIS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	key := "test:queue:" + uuid.NewString()
	defer rdb.Del(context.Background(), key, key+seqKeySuffix)
	exerciseQueue(t, NewRedisQueue(rdb, key))
}

func TestJobCompletesAndPersists(t *testing.T) {
	store, err := runstore.Open(context.Background(), runstore.DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	s := New(newEngine(t), WithStore(store), WithWorkers(2), WithLogger(zaptest.NewLogger(t)))
	s.Start(context.Background())
	defer s.Close()

	j, err := s.Submit(context.Background(), JobRequest{
		Circuit:          circuit.Bell(),
		Backend:          backends.StatevectorSimulator,
		Levels:           []int{0, 1, 2, 3},
		NoiseKind:        "depolarizing",
		NoiseProbability: 0.1,
	})
	require.NoError(t, err)

	done := waitFor(t, s, j.ID)
	assert.Equal(t, StateCompleted, done.State)
	require.Len(t, done.Results, 4)
	assert.InDelta(t, 0.95, done.Results[0].Fidelity, 1e-9)
	assert.False(t, done.CompletedAt.Before(done.StartedAt))
	require.NotEmpty(t, done.RunID)

	run, err := store.Get(context.Background(), done.RunID)
	require.NoError(t, err)
	assert.Equal(t, "synthetic:depolarizing", run.Noise)
	assert.Equal(t, []int{0, 1, 2, 3}, run.Levels)

	assert.Len(t, s.List(), 1)
}

// brokenStrategy fails every transpilation after passing validation.
type brokenStrategy struct{ transpile.Preset }

func (brokenStrategy) Transpile(*circuit.Circuit, transpile.Target, int) (*circuit.Circuit, error) {
	return nil, errors.New("router exploded")
}

func TestJobFailure(t *testing.T) {
	s := New(newEngine(t, analysis.WithStrategy(brokenStrategy{})))
	s.Start(context.Background())
	defer s.Close()

	j, err := s.Submit(context.Background(), JobRequest{Circuit: circuit.Bell(), Backend: backends.StatevectorSimulator, Levels: []int{0}})
	require.NoError(t, err)
	done := waitFor(t, s, j.ID)
	assert.Equal(t, StateFailed, done.State)
	assert.Contains(t, done.ErrorMessage, "router exploded")
	assert.Nil(t, done.Results)
}

func TestSubmitRejects(t *testing.T) {
	s := New(newEngine(t))
	cases := []JobRequest{
		{Backend: backends.QasmSimulator},
		{Circuit: circuit.Bell()},
		{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, NoiseKind: "amplitude"},
		{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, NoiseKind: "bitflip", NoiseProbability: 1.5},
		{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Priority: 9},
		{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Levels: []int{4}},
		{Circuit: circuit.Bell(), Backend: backends.QasmSimulator},
		{Circuit: circuit.GHZ(3).Append("cx", []int{0, 40}), Backend: backends.QasmSimulator, Levels: []int{0}},
	}
	for _, req := range cases {
		_, err := s.Submit(context.Background(), req)
		assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	}

	_, err := s.Submit(context.Background(), JobRequest{Circuit: circuit.Bell(), Backend: "missing", Levels: []int{0}})
	assert.ErrorIs(t, err, qerr.ErrUnknownBackend)
	_, err = s.Submit(context.Background(), JobRequest{Circuit: circuit.GHZ(17), Backend: backends.StatevectorSimulator, Levels: []int{0}})
	assert.ErrorIs(t, err, qerr.ErrResourceExceeded)
	assert.Empty(t, s.List())
	n, err := s.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Status(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueuedPositionsAndCancel(t *testing.T) {
	ctx := context.Background()
	s := New(newEngine(t))

	low, err := s.Submit(ctx, JobRequest{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Levels: []int{0}})
	require.NoError(t, err)
	high, err := s.Submit(ctx, JobRequest{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Levels: []int{0}, Priority: PriorityHigh})
	require.NoError(t, err)

	st, err := s.Status(ctx, low.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, st.State)
	assert.Equal(t, 2, st.Position)
	st, err = s.Status(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Position)

	ok, err := s.Cancel(ctx, low.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	cancelled := waitFor(t, s, low.ID)
	assert.Equal(t, StateCancelled, cancelled.State)
	assert.Zero(t, cancelled.Position)

	ok, err = s.Cancel(ctx, low.ID)
	require.NoError(t, err)
	assert.False(t, ok, "finished jobs cannot be cancelled")

	st, err = s.Status(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Position)
}

// gateStrategy blocks level 0 until released.
type gateStrategy struct {
	started chan struct{}
	release chan struct{}
}

func (g *gateStrategy) MaxLevel() int { return transpile.MaxPresetLevel }

func (g *gateStrategy) Transpile(c *circuit.Circuit, target transpile.Target, level int) (*circuit.Circuit, error) {
	if level == 0 {
		close(g.started)
		<-g.release
	}
	return transpile.Preset{}.Transpile(c, target, level)
}

func TestCancelRunningJob(t *testing.T) {
	g := &gateStrategy{started: make(chan struct{}), release: make(chan struct{})}
	s := New(newEngine(t, analysis.WithStrategy(g)))
	s.Start(context.Background())
	defer s.Close()

	j, err := s.Submit(context.Background(), JobRequest{Circuit: circuit.Bell(), Backend: backends.StatevectorSimulator, Levels: []int{0, 1, 2}})
	require.NoError(t, err)

	select {
	case <-g.started:
	case <-time.After(30 * time.Second):
		t.Fatal("job never started")
	}
	st, err := s.Status(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)

	ok, err := s.Cancel(context.Background(), j.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	close(g.release)

	done := waitFor(t, s, j.ID)
	assert.Equal(t, StateCancelled, done.State)
	assert.Nil(t, done.Results)
}

func TestStateText(t *testing.T) {
	b, err := StateCompleted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "completed", string(b))
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.Equal(t, "unknown", State(42).String())
}
