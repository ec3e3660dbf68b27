// Execution backend descriptors
// Local exact and sampling simulators plus remote devices discovered from a
// provider, each with its native gate set and optional calibration data.

package backends

import (
	"context"
	"fmt"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/backend/sim"
)

// ------------------------------------------------------------------
// Backend kinds and built-in names
// ------------------------------------------------------------------

type Kind int

const (
	ExactSimulator Kind = iota
	ApproximateSimulator
	RemoteDevice
)

func (k Kind) String() string {
	switch k {
	case ExactSimulator:
		return "exact_simulator"
	case ApproximateSimulator:
		return "approximate_simulator"
	case RemoteDevice:
		return "remote_device"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

const (
	StatevectorSimulator = "statevector_simulator"
	QasmSimulator        = "qasm_simulator"

	DefaultSimulatorQubits = 32
	DefaultMaxLevel        = 3
)

// SimulatorNativeGates is the instruction set of the built-in simulators.
var SimulatorNativeGates = []string{"u1", "u2", "u3", "cx"}

// ------------------------------------------------------------------
// Backend
// ------------------------------------------------------------------

// Backend is an immutable execution target. Accessors return copies.
type Backend struct {
	name        string
	kind        Kind
	numQubits   int
	native      []string
	coupling    [][2]int
	calibration *noise.Calibration
	maxLevel    int
	shots       int
}

// Spec describes a backend to construct.
type Spec struct {
	Name        string
	Kind        Kind
	NumQubits   int
	NativeGates []string
	CouplingMap [][2]int
	Calibration *noise.Calibration
	MaxLevel    int
	Shots       int
}

// New validates spec and builds the backend.
func New(spec Spec) (*Backend, error) {
	if spec.Name == "" {
		return nil, qerr.Invalid("backend name is empty")
	}
	if spec.NumQubits <= 0 {
		return nil, qerr.Invalid("backend %s has %d qubits", spec.Name, spec.NumQubits)
	}
	if len(spec.NativeGates) == 0 {
		return nil, qerr.Invalid("backend %s has no native gates", spec.Name)
	}
	if spec.MaxLevel < 0 {
		return nil, qerr.Invalid("backend %s max optimization level %d", spec.Name, spec.MaxLevel)
	}
	native := make([]string, 0, len(spec.NativeGates))
	seen := make(map[string]bool)
	for _, g := range spec.NativeGates {
		g = circuit.CanonicalName(g)
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		native = append(native, g)
	}
	for _, e := range spec.CouplingMap {
		if e[0] < 0 || e[1] < 0 || e[0] >= spec.NumQubits || e[1] >= spec.NumQubits || e[0] == e[1] {
			return nil, qerr.Invalid("backend %s coupling %v outside %d qubits", spec.Name, e, spec.NumQubits)
		}
	}
	shots := spec.Shots
	if shots <= 0 {
		shots = sim.DefaultShots
	}
	return &Backend{
		name:        spec.Name,
		kind:        spec.Kind,
		numQubits:   spec.NumQubits,
		native:      native,
		coupling:    append([][2]int(nil), spec.CouplingMap...),
		calibration: spec.Calibration,
		maxLevel:    spec.MaxLevel,
		shots:       shots,
	}, nil
}

func (b *Backend) Name() string { return b.name }
func (b *Backend) Kind() Kind { return b.kind }
func (b *Backend) NumQubits() int { return b.numQubits }
func (b *Backend) MaxOptimizationLevel() int { return b.maxLevel }
func (b *Backend) Shots() int { return b.shots }
func (b *Backend) NativeGates() []string { return append([]string(nil), b.native...) }
func (b *Backend) CouplingMap() [][2]int { return append([][2]int(nil), b.coupling...) }
func (b *Backend) IsSimulator() bool { return b.kind != RemoteDevice }
func (b *Backend) HasCalibration() bool { return b.calibration != nil }
func (b *Backend) String() string { return b.name + " (" + b.kind.String() + ")" }
func (b *Backend) Calibration() *noise.Calibration { return b.calibration }

// Preference is the evolution mode the backend executes with when the
// circuit is small enough. Only the sampling simulator prefers shots.
func (b *Backend) Preference() sim.Mode {
	if b.kind == ApproximateSimulator {
		return sim.ModeSampled
	}
	return sim.ModeExact
}

func newSimulator(name string, kind Kind, qubits, shots int) *Backend {
	b, err := New(Spec{
		Name:        name,
		Kind:        kind,
		NumQubits:   qubits,
		NativeGates: SimulatorNativeGates,
		MaxLevel:    DefaultMaxLevel,
		Shots:       shots,
	})
	if err != nil {
		// built-in specs are constant
		panic(err)
	}
	return b
}

// ------------------------------------------------------------------
// Remote discovery capability
// ------------------------------------------------------------------

// Provider discovers remote backends. Discover never fails: faults are
// logged and yield an empty list.
type Provider interface {
	Name() string
	Discover(ctx context.Context) []*Backend
}

// Credentials identify a remote account. They live only as long as the
// provider holding them.
type Credentials struct {
	Token   string
	Hub     string
	Group   string
	Project string
}

// Instance is the hub/group/project path.
func (c Credentials) Instance() string {
	return c.Hub + "/" + c.Group + "/" + c.Project
}

func (c Credentials) String() string {
	masked := ""
	if c.Token != "" {
		masked = "****"
	}
	return fmt.Sprintf("Credentials{instance=%s token=%s}", c.Instance(), masked)
}
