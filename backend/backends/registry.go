package backends

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
)

// Registry is the catalog of execution targets, the active selection and
// the per-backend noise-model cache. It is safe for concurrent use.
//
// Lifecycle: NewRegistry, RegisterDefaultSimulators, optionally
// DiscoverRemote, then Close.
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]*Backend
	order     []string
	builtins  int
	active    *Backend
	noise     map[string]*noise.Model
	providers []Provider

	logger    *zap.Logger
	simQubits int
	shots     int
}

type Option func(*Registry)

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProvider adds a remote discovery provider used by DiscoverRemote.
func WithProvider(p Provider) Option {
	return func(r *Registry) {
		if p != nil {
			r.providers = append(r.providers, p)
		}
	}
}

// WithSimulatorQubits sets the width of the built-in simulators.
func WithSimulatorQubits(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.simQubits = n
		}
	}
}

// WithShots sets the shot count of the sampling simulator.
func WithShots(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shots = n
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		backends:  make(map[string]*Backend),
		noise:     make(map[string]*noise.Model),
		logger:    zap.NewNop(),
		simQubits: DefaultSimulatorQubits,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterDefaultSimulators installs the exact statevector simulator and the
// sampling simulator ahead of any other backend and makes the statevector
// simulator active when nothing is selected yet. Calling it again is a no-op.
func (r *Registry) RegisterDefaultSimulators() {
	builtins := []*Backend{
		newSimulator(StatevectorSimulator, ExactSimulator, r.simQubits, r.shots),
		newSimulator(QasmSimulator, ApproximateSimulator, r.simQubits, r.shots),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, b := range builtins {
		if _, ok := r.backends[b.name]; ok {
			continue
		}
		r.backends[b.name] = b
		names = append(names, b.name)
	}
	if r.active == nil {
		r.active = r.backends[StatevectorSimulator]
	}
	if len(names) == 0 {
		return
	}
	order := make([]string, 0, len(r.order)+len(names))
	order = append(order, r.order[:r.builtins]...)
	order = append(order, names...)
	order = append(order, r.order[r.builtins:]...)
	r.order = order
	r.builtins += len(names)
	r.logger.Debug("registered default simulators", zap.Strings("backends", names))
}

// Register adds a backend. Names are unique.
func (r *Registry) Register(b *Backend) error {
	if b == nil || b.name == "" {
		return qerr.Invalid("backend is incomplete")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[b.name]; ok {
		return qerr.Invalid("backend %s already registered", b.name)
	}
	r.backends[b.name] = b
	r.order = append(r.order, b.name)
	return nil
}

// DiscoverRemote asks every configured provider for backends and registers
// the complete ones. It never fails: provider faults, including panics, are
// logged and the registry keeps its local simulators. It returns the number
// of backends added.
func (r *Registry) DiscoverRemote(ctx context.Context) int {
	added := 0
	for _, p := range r.providers {
		for _, b := range r.discover(ctx, p) {
			if err := r.Register(b); err != nil {
				r.logger.Warn("skipping discovered backend",
					zap.String("provider", p.Name()),
					zap.Error(fmt.Errorf("%w: %w", qerr.ErrRemoteDiscoveryFailed, err)))
				continue
			}
			added++
		}
	}
	return added
}

func (r *Registry) discover(ctx context.Context, p Provider) (found []*Backend) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("remote discovery panicked",
				zap.String("provider", p.Name()),
				zap.Error(fmt.Errorf("%w: %v", qerr.ErrRemoteDiscoveryFailed, rec)))
			found = nil
		}
	}()
	return p.Discover(ctx)
}

// List returns backend names, built-ins first, in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Get resolves a backend without touching the active selection.
func (r *Registry) Get(name string) (*Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", qerr.ErrUnknownBackend, name)
	}
	return b, nil
}

// Select makes name the active backend. An unknown name leaves the active
// backend unchanged.
func (r *Registry) Select(name string) (*Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", qerr.ErrUnknownBackend, name)
	}
	r.active = b
	return b, nil
}

// Active returns the selected backend, if any.
func (r *Registry) Active() (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.active != nil
}

// NoiseModelFor returns the cached noise model of a backend, deriving it from
// calibration data on first use. Missing or malformed calibration yields the
// empty model; only an unknown name is an error.
func (r *Registry) NoiseModelFor(name string) (*noise.Model, error) {
	r.mu.RLock()
	_, ok := r.backends[name]
	m, cached := r.noise[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", qerr.ErrUnknownBackend, name)
	}
	if cached {
		return m, nil
	}
	return r.RefreshNoiseModel(name)
}

// RefreshNoiseModel re-derives the noise model from the backend's current
// calibration snapshot and replaces the cached one.
func (r *Registry) RefreshNoiseModel(name string) (*noise.Model, error) {
	b, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	m := r.derive(b)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[name]; !ok {
		return nil, fmt.Errorf("%w: %q", qerr.ErrUnknownBackend, name)
	}
	r.noise[name] = m
	return m, nil
}

func (r *Registry) derive(b *Backend) *noise.Model {
	if b.calibration == nil {
		return noise.Empty()
	}
	m, err := noise.FromCalibration(b.calibration)
	if err != nil {
		r.logger.Warn("calibration unusable, falling back to ideal simulation",
			zap.String("backend", b.name), zap.Error(err))
		return noise.Empty()
	}
	r.logger.Debug("derived noise model",
		zap.String("backend", b.name),
		zap.Strings("instructions", m.Instructions()))
	return m
}

// SyntheticNoise builds one of the canonical stress-test models.
func (r *Registry) SyntheticNoise(kind noise.Kind, p float64) (*noise.Model, error) {
	return noise.Synthetic(kind, p)
}

// Close drops every backend, the active selection and the cache.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = make(map[string]*Backend)
	r.noise = make(map[string]*noise.Model)
	r.order = nil
	r.builtins = 0
	r.active = nil
}
