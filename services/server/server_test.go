package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/services/runstore"
	"github.com/perclft/qtranspile/services/scheduler"
)

func newTestClient(t *testing.T) *AnalysisServiceClient {
	t.Helper()
	ctx := context.Background()

	registry := backends.NewRegistry()
	registry.RegisterDefaultSimulators()
	t.Cleanup(registry.Close)
	engine := analysis.NewEngine(registry)

	store, err := runstore.Open(ctx, runstore.DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := scheduler.New(engine, scheduler.WithStore(store))
	sched.Start(ctx)
	t.Cleanup(sched.Close)

	lis := bufconn.Listen(1 << 20)
	g := NewGRPCServer(New(registry, engine, WithScheduler(sched), WithStore(store)))
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewAnalysisServiceClient(conn)
}

func analyze(t *testing.T, c *AnalysisServiceClient, req AnalyzeRequest) (map[string]any, error) {
	t.Helper()
	in, err := RequestStruct(req)
	require.NoError(t, err)
	out, err := c.Analyze(context.Background(), in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func TestListAndSelectBackends(t *testing.T) {
	c := newTestClient(t)
	out, err := c.ListBackends(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	list := out.AsMap()["backends"].([]any)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, backends.StatevectorSimulator, first["name"])
	assert.Equal(t, true, first["simulator"])
	assert.Equal(t, true, first["active"])

	sel, err := c.SelectBackend(context.Background(), wrapperspb.String(backends.QasmSimulator))
	require.NoError(t, err)
	assert.Equal(t, true, sel.AsMap()["active"])

	_, err = c.SelectBackend(context.Background(), wrapperspb.String("ibm_nowhere"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestAnalyzeAndPersist(t *testing.T) {
	c := newTestClient(t)
	out, err := analyze(t, c, AnalyzeRequest{
		Circuit: circuit.Bell(),
		Backend: backends.StatevectorSimulator,
		Levels:  []int{0, 1, 2, 3},
		Noise:   &NoiseSpec{Kind: "depolarizing", Probability: 0.1},
		Save:    true,
	})
	require.NoError(t, err)
	results := out["results"].([]any)
	require.Len(t, results, 4)
	for i, r := range results {
		m := r.(map[string]any)
		assert.EqualValues(t, i, m["level"])
		assert.InDelta(t, 0.95, m["fidelity"].(float64), 1e-9)
		assert.Equal(t, "exact", m["mode"])
		assert.NotContains(t, m, "transpiled")
	}

	runID, _ := out["run_id"].(string)
	require.NotEmpty(t, runID)
	run, err := c.GetRun(context.Background(), wrapperspb.String(runID))
	require.NoError(t, err)
	assert.Equal(t, "synthetic:depolarizing", run.AsMap()["noise"])

	_, err = c.GetRun(context.Background(), wrapperspb.String("7b0f0a52-0000-4000-8000-000000000000"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestAnalyzeErrorCodes(t *testing.T) {
	c := newTestClient(t)
	cases := []struct {
		name string
		req  AnalyzeRequest
		want codes.Code
	}{
		{"unknown backend", AnalyzeRequest{Circuit: circuit.Bell(), Backend: "nowhere", Levels: []int{0}}, codes.NotFound},
		{"bad level", AnalyzeRequest{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Levels: []int{7}}, codes.InvalidArgument},
		{"bad noise", AnalyzeRequest{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Levels: []int{0}, Noise: &NoiseSpec{Kind: "depolarizing", Probability: 2}}, codes.InvalidArgument},
		{"too wide", AnalyzeRequest{Circuit: circuit.GHZ(17), Backend: backends.StatevectorSimulator, Levels: []int{0}}, codes.ResourceExhausted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := analyze(t, c, tc.req)
			assert.Equal(t, tc.want, status.Code(err), "%v", err)
		})
	}
}

func TestActiveBackendIsDefault(t *testing.T) {
	c := newTestClient(t)
	out, err := analyze(t, c, AnalyzeRequest{Circuit: circuit.Bell(), Levels: []int{0}})
	require.NoError(t, err)
	assert.Equal(t, backends.StatevectorSimulator, out["backend"])

	_, err = c.SelectBackend(context.Background(), wrapperspb.String(backends.QasmSimulator))
	require.NoError(t, err)
	out, err = analyze(t, c, AnalyzeRequest{Circuit: circuit.Bell(), Levels: []int{1}})
	require.NoError(t, err)
	assert.Equal(t, backends.QasmSimulator, out["backend"])
}

func TestJobs(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	in, err := RequestStruct(AnalyzeRequest{Circuit: circuit.GHZ(3), Backend: backends.QasmSimulator, Levels: []int{0, 3}})
	require.NoError(t, err)
	id, err := c.SubmitJob(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, id.GetValue())

	var final map[string]any
	require.Eventually(t, func() bool {
		st, err := c.JobStatus(ctx, id)
		if err != nil {
			return false
		}
		final = st.AsMap()
		return final["state"] == "completed"
	}, 30*time.Second, 20*time.Millisecond)
	assert.Len(t, final["results"], 2)
	assert.NotEmpty(t, final["run_id"])

	ok, err := c.CancelJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok.GetValue())

	_, err = c.JobStatus(ctx, wrapperspb.String("nope"))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestWithoutOptionalServices(t *testing.T) {
	registry := backends.NewRegistry()
	registry.RegisterDefaultSimulators()
	defer registry.Close()
	s := New(registry, analysis.NewEngine(registry))

	_, err := s.JobStatus(context.Background(), wrapperspb.String("x"))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	_, err = s.GetRun(context.Background(), wrapperspb.String("x"))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	in, err := RequestStruct(AnalyzeRequest{Circuit: circuit.Bell(), Backend: backends.QasmSimulator, Levels: []int{0}, Save: true})
	require.NoError(t, err)
	_, err = s.Analyze(context.Background(), in)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", qerr.ErrUnknownBackend), codes.NotFound},
		{qerr.Invalid("bad"), codes.InvalidArgument},
		{&qerr.ResourceError{Resource: "qubits", Required: 20, Limit: 16}, codes.ResourceExhausted},
		{&qerr.LevelError{Level: 2, Err: &qerr.InstabilityError{Value: 1.1, Tolerance: 1e-6}}, codes.Internal},
		{&qerr.LevelError{Level: 1, Err: &qerr.ResourceError{Resource: "memory"}}, codes.ResourceExhausted},
		{context.Canceled, codes.Canceled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{runstore.ErrNotFound, codes.NotFound},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Code(toStatus(tc.err)), "%v", tc.err)
	}
}
