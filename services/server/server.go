// Package server exposes the analysis engine, the background scheduler and
// the run store over gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/perclft/qtranspile/backend/analysis"
	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/services/runstore"
	"github.com/perclft/qtranspile/services/scheduler"
)

// ------------------------------------------------------------------
// Wire shapes
// ------------------------------------------------------------------

// NoiseSpec selects a synthetic noise override.
type NoiseSpec struct {
	Kind        string  `json:"kind"`
	Probability float64 `json:"probability"`
}

// AnalyzeRequest is the JSON shape of the Analyze and SubmitJob payloads.
// An empty backend means the registry's active backend.
type AnalyzeRequest struct {
	Circuit           *circuit.Circuit `json:"circuit"`
	Backend           string           `json:"backend"`
	Levels            []int            `json:"levels"`
	Noise             *NoiseSpec       `json:"noise,omitempty"`
	Save              bool             `json:"save,omitempty"`
	IncludeTranspiled bool             `json:"include_transpiled,omitempty"`
	Priority          int32            `json:"priority,omitempty"`
}

type AnalyzeResponse struct {
	Backend string            `json:"backend"`
	Results []analysis.Result `json:"results"`
	RunID   string            `json:"run_id,omitempty"`
}

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	NumQubits   int      `json:"num_qubits"`
	NativeGates []string `json:"native_gates"`
	MaxLevel    int      `json:"max_level"`
	Simulator   bool     `json:"simulator"`
	Calibrated  bool     `json:"calibrated"`
	Active      bool     `json:"active"`
}

// ------------------------------------------------------------------
// Server
// ------------------------------------------------------------------

// Server implements AnalysisServiceServer. The scheduler and store are
// optional; the calls needing them fail with FailedPrecondition when unset.
type Server struct {
	registry  *backends.Registry
	engine    *analysis.Engine
	scheduler *scheduler.Scheduler
	store     *runstore.Store
	logger    *zap.Logger
}

type Option func(*Server)

func WithScheduler(s *scheduler.Scheduler) Option { return func(srv *Server) { srv.scheduler = s } }
func WithStore(st *runstore.Store) Option { return func(srv *Server) { srv.store = st } }

func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.logger = l
		}
	}
}

func New(registry *backends.Registry, engine *analysis.Engine, opts ...Option) *Server {
	s := &Server{registry: registry, engine: engine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewGRPCServer returns a gRPC server with the analysis service registered
// and request logging installed.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logCalls))
	g := grpc.NewServer(opts...)
	RegisterAnalysisServiceServer(g, s)
	return g
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("elapsed", time.Since(start))}
	if err != nil {
		s.logger.Warn("rpc failed", append(fields, zap.Stringer("code", status.Code(err)), zap.Error(err))...)
		return nil, err
	}
	s.logger.Debug("rpc served", fields...)
	return resp, nil
}

func (s *Server) ListBackends(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	active, _ := s.registry.Active()
	var infos []BackendInfo
	for _, name := range s.registry.List() {
		b, err := s.registry.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, describe(b, active))
	}
	return encode(map[string]any{"backends": infos})
}

func (s *Server) SelectBackend(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	b, err := s.registry.Select(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(describe(b, b))
}

func (s *Server) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req AnalyzeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	areq, err := s.analysisRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}
	results, err := s.engine.Analyze(ctx, areq)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := AnalyzeResponse{Backend: areq.Backend, Results: results}
	if req.Save {
		if s.store == nil {
			return nil, status.Error(codes.FailedPrecondition, "no run store configured")
		}
		noiseSource := "registry"
		if areq.Noise != nil {
			noiseSource = areq.Noise.Source()
		}
		levels := make([]int, len(results))
		for i, r := range results {
			levels[i] = r.Level
		}
		resp.RunID, err = s.store.Save(ctx, &runstore.Run{
			Backend: areq.Backend,
			Noise:   noiseSource,
			Levels:  levels,
			Circuit: req.Circuit,
			Results: results,
		})
		if err != nil {
			return nil, toStatus(err)
		}
	}
	if !req.IncludeTranspiled {
		resp.Results = stripTranspiled(results)
	}
	return encode(resp)
}

func (s *Server) SubmitJob(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	if s.scheduler == nil {
		return nil, status.Error(codes.FailedPrecondition, "no scheduler configured")
	}
	var req AnalyzeRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	jreq := scheduler.JobRequest{
		Circuit:  req.Circuit,
		Backend:  s.resolveBackend(req.Backend),
		Levels:   req.Levels,
		Priority: scheduler.Priority(req.Priority),
	}
	if req.Noise != nil {
		jreq.NoiseKind, jreq.NoiseProbability = req.Noise.Kind, req.Noise.Probability
	}
	j, err := s.scheduler.Submit(ctx, jreq)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(j.ID), nil
}

func (s *Server) JobStatus(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s.scheduler == nil {
		return nil, status.Error(codes.FailedPrecondition, "no scheduler configured")
	}
	j, err := s.scheduler.Status(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	j.Results = stripTranspiled(j.Results)
	return encode(j)
}

func (s *Server) CancelJob(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s.scheduler == nil {
		return nil, status.Error(codes.FailedPrecondition, "no scheduler configured")
	}
	ok, err := s.scheduler.Cancel(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *Server) GetRun(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if s.store == nil {
		return nil, status.Error(codes.FailedPrecondition, "no run store configured")
	}
	run, err := s.store.Get(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(run)
}

func (s *Server) resolveBackend(name string) string {
	if name != "" {
		return name
	}
	if b, ok := s.registry.Active(); ok {
		return b.Name()
	}
	return ""
}

func (s *Server) analysisRequest(req AnalyzeRequest) (analysis.Request, error) {
	areq := analysis.Request{Circuit: req.Circuit, Backend: s.resolveBackend(req.Backend), Levels: req.Levels}
	if req.Noise != nil {
		kind, err := noise.ParseKind(req.Noise.Kind)
		if err != nil {
			return areq, err
		}
		if areq.Noise, err = s.registry.SyntheticNoise(kind, req.Noise.Probability); err != nil {
			return areq, err
		}
	}
	return areq, nil
}

// ------------------------------------------------------------------
// Helpers
// ------------------------------------------------------------------

func describe(b, active *backends.Backend) BackendInfo {
	return BackendInfo{
		Name:        b.Name(),
		Kind:        b.Kind().String(),
		NumQubits:   b.NumQubits(),
		NativeGates: b.NativeGates(),
		MaxLevel:    b.MaxOptimizationLevel(),
		Simulator:   b.IsSimulator(),
		Calibrated:  b.HasCalibration(),
		Active:      active != nil && active.Name() == b.Name(),
	}
}

func stripTranspiled(results []analysis.Result) []analysis.Result {
	out := make([]analysis.Result, len(results))
	for i, r := range results {
		r.Transpiled = nil
		out[i] = r
	}
	return out
}

func decode(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "unreadable payload: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed payload: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to serialize: %v", err)
	}
	return out, nil
}

// toStatus maps engine errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, qerr.ErrUnknownBackend),
		errors.Is(err, runstore.ErrNotFound),
		errors.Is(err, scheduler.ErrJobNotFound):
		code = codes.NotFound
	case errors.Is(err, qerr.ErrInvalidParameter):
		code = codes.InvalidArgument
	case errors.Is(err, qerr.ErrResourceExceeded):
		code = codes.ResourceExhausted
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

var _ AnalysisServiceServer = (*Server)(nil)

// RequestStruct encodes req as an Analyze or SubmitJob payload.
func RequestStruct(req AnalyzeRequest) (*structpb.Struct, error) {
	s, err := encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}
