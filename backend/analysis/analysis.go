// Package analysis benchmarks a circuit on a backend across optimization
// levels: transpile, simulate ideal and noisy, score fidelity, and collect
// structural metrics of the transpiled variant.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/perclft/qtranspile/backend/backends"
	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/backend/sim"
	"github.com/perclft/qtranspile/backend/transpile"
)

// Request is one analysis. The circuit is read-only to the engine.
type Request struct {
	Circuit *circuit.Circuit
	Backend string
	Levels  []int
	// Strategy overrides the engine default when set.
	Strategy transpile.Strategy
	// Noise overrides the backend's registry model when set.
	Noise *noise.Model
}

// Result holds the metrics of one optimization level. Shots and StdErr are
// set for sampled evolution only; StdErr bounds the error from sampling fault
// patterns, since each trajectory's outcome distribution is exact.
type Result struct {
	Level      int              `json:"level"`
	Fidelity   float64          `json:"fidelity"`
	Depth      int              `json:"depth"`
	Size       int              `json:"size"`
	Ops        map[string]int   `json:"ops"`
	Mode       sim.Mode         `json:"mode"`
	Shots      int              `json:"shots,omitempty"`
	StdErr     float64          `json:"stderr,omitempty"`
	NoiseFree  bool             `json:"noise_free"`
	Transpiled *circuit.Circuit `json:"transpiled,omitempty"`
}

// Cache stores finished analyses by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]Result, bool)
	Put(ctx context.Context, key string, results []Result)
}

// Engine runs analyses against a registry.
type Engine struct {
	registry *backends.Registry
	strategy transpile.Strategy
	logger   *zap.Logger
	workers  int
	seed     int64
	limits   sim.Limits
	cache    Cache
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorkers evaluates up to n levels concurrently. Results stay ordered.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithSeed sets the base seed mixed into every per-level sampling seed.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

func WithLimits(l sim.Limits) Option {
	return func(e *Engine) { e.limits = l }
}

func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithStrategy(s transpile.Strategy) Option {
	return func(e *Engine) {
		if s != nil {
			e.strategy = s
		}
	}
}

func NewEngine(registry *backends.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		strategy: transpile.Preset{},
		logger:   zap.NewNop(),
		workers:  1,
		limits:   sim.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// plan is a validated request.
type plan struct {
	circuit  *circuit.Circuit
	backend  *backends.Backend
	strategy transpile.Strategy
	levels   []int
	noise    *noise.Model
}

// Analyze returns one result per distinct requested level, in ascending level
// order. Parameter and lookup errors are reported before any simulation.
// A failing level aborts the analysis with a *qerr.LevelError and no results.
// Cancellation is checked between levels.
func (e *Engine) Analyze(ctx context.Context, req Request) (results []Result, err error) {
	ctx, span := tracer.Start(ctx, "analysis.Analyze",
		trace.WithAttributes(attribute.String("backend", req.Backend)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	p, err := e.prepare(req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.IntSlice("levels", p.levels))

	// custom strategies are not part of the key
	cacheable := e.cache != nil && req.Strategy == nil
	key := ""
	if cacheable {
		key = CacheKey(p.circuit, p.backend, p.levels, p.noise, e.seed, e.limits)
		if cached, ok := e.cache.Get(ctx, key); ok {
			for range cached {
				levelsTotal.WithLabelValues(p.backend.Name(), "none", "cached").Inc()
			}
			e.logger.Debug("analysis served from cache", zap.String("backend", p.backend.Name()), zap.String("key", key))
			return cached, nil
		}
	}

	results = make([]Result, len(p.levels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, level := range p.levels {
		i, level := i, level
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := e.runLevel(gctx, p, level)
			if err != nil {
				levelsTotal.WithLabelValues(p.backend.Name(), "none", "error").Inc()
				return &qerr.LevelError{Level: level, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("analysis aborted", zap.String("backend", p.backend.Name()), zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cacheable {
		e.cache.Put(ctx, key, results)
	}
	e.logger.Info("analysis finished",
		zap.String("backend", p.backend.Name()),
		zap.String("circuit", p.circuit.Name),
		zap.Ints("levels", p.levels),
		zap.String("noise", p.noise.Source()))
	return results, nil
}

// Validate runs the checks Analyze makes before any simulation: circuit,
// backend lookup and target support, levels, qubit bounds and noise model.
func (e *Engine) Validate(req Request) error {
	_, err := e.prepare(req)
	return err
}

func (e *Engine) prepare(req Request) (*plan, error) {
	if req.Circuit == nil {
		return nil, qerr.Invalid("request has no circuit")
	}
	b, err := e.registry.Get(req.Backend)
	if err != nil {
		return nil, err
	}
	strategy := req.Strategy
	if strategy == nil {
		strategy = e.strategy
	}
	if tc, ok := strategy.(transpile.TargetChecker); ok {
		if err := tc.CheckTarget(b); err != nil {
			return nil, fmt.Errorf("backend %s: %w", b.Name(), err)
		}
	}
	maxLevel := min(strategy.MaxLevel(), b.MaxOptimizationLevel())
	levels, err := NormalizeLevels(req.Levels, maxLevel)
	if err != nil {
		return nil, err
	}
	if err := req.Circuit.Validate(b.NumQubits()); err != nil {
		return nil, err
	}
	// routing can only widen the simulated register
	if _, err := sim.Select(b.Preference(), max(1, len(req.Circuit.ActiveQubits())), e.limits); err != nil {
		return nil, err
	}

	nm := req.Noise
	if nm == nil {
		if nm, err = e.registry.NoiseModelFor(b.Name()); err != nil {
			return nil, err
		}
	}
	if err := nm.Validate(); err != nil {
		return nil, err
	}
	return &plan{circuit: req.Circuit, backend: b, strategy: strategy, levels: levels, noise: nm}, nil
}

func (e *Engine) runLevel(ctx context.Context, p *plan, level int) (Result, error) {
	_, span := tracer.Start(ctx, "analysis.level",
		trace.WithAttributes(attribute.Int("level", level)))
	defer span.End()
	start := time.Now()

	out, err := p.strategy.Transpile(p.circuit, p.backend, level)
	if err != nil {
		return Result{}, fmt.Errorf("transpile: %w", err)
	}
	compact := out.Compact()
	mode, err := sim.Select(p.backend.Preference(), compact.NumQubits, e.limits)
	if err != nil {
		return Result{}, err
	}
	ev := sim.NewEvolver(mode, p.backend.Shots(), Seed(p.backend.Name(), level, e.seed))
	est, err := ev.Evolve(compact, p.noise)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	elapsed := time.Since(start)
	levelDuration.WithLabelValues(mode.String()).Observe(elapsed.Seconds())
	levelsTotal.WithLabelValues(p.backend.Name(), mode.String(), "ok").Inc()
	fidelityHistogram.WithLabelValues(p.backend.Name()).Observe(est.Fidelity)
	span.SetAttributes(
		attribute.String("mode", mode.String()),
		attribute.Float64("fidelity", est.Fidelity),
		attribute.Int("qubits", compact.NumQubits))
	e.logger.Debug("level evaluated",
		zap.String("backend", p.backend.Name()),
		zap.Int("level", level),
		zap.String("mode", mode.String()),
		zap.Int("qubits", compact.NumQubits),
		zap.Float64("fidelity", est.Fidelity),
		zap.Duration("elapsed", elapsed))

	return Result{
		Level:      level,
		Fidelity:   est.Fidelity,
		Depth:      out.Depth(),
		Size:       out.Size(),
		Ops:        out.Ops(),
		Mode:       est.Mode,
		Shots:      est.Shots,
		StdErr:     est.StdErr,
		NoiseFree:  p.noise.IsEmpty(),
		Transpiled: out,
	}, nil
}

// CacheKey identifies an analysis by everything that determines its results,
// including the qubit bounds that pick exact or sampled evolution. The memory
// guard only rejects work, so it is left out.
func CacheKey(c *circuit.Circuit, b *backends.Backend, levels []int, nm *noise.Model, seed int64, limits sim.Limits) string {
	h := sha256.New()
	fmt.Fprintf(h, "circuit=%s\nbackend=%s\nshots=%d\nnoise=%s\nseed=%d\nexact=%d\nsampled=%d\nlevels=",
		c.Fingerprint(), b.Name(), b.Shots(), nm.Fingerprint(), seed, limits.ExactQubits, limits.SampledQubits)
	for _, l := range levels {
		h.Write([]byte(strconv.Itoa(l) + ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}
