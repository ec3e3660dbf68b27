// Package transpile lowers circuits onto a backend's native gates and
// coupling map at optimization levels 0 through 3.
package transpile

import (
	"fmt"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
)

// Target is what a strategy needs to know about an execution backend.
type Target interface {
	NumQubits() int
	NativeGates() []string
	// CouplingMap lists the qubit pairs that support two-qubit gates; an
	// empty map means all-to-all.
	CouplingMap() [][2]int
	// Calibration may be nil.
	Calibration() *noise.Calibration
}

// Strategy transpiles a circuit for a target. The result must only use the
// target's native gates and be equivalent to the input under ideal evolution
// (up to the final placement of virtual qubits on physical ones).
// Implementations must be deterministic.
type Strategy interface {
	MaxLevel() int
	Transpile(c *circuit.Circuit, target Target, level int) (*circuit.Circuit, error)
}

// TargetChecker is implemented by strategies that can tell before any work
// whether they are able to lower circuits onto a target.
type TargetChecker interface {
	CheckTarget(target Target) error
}

// MaxPresetLevel is the highest level Preset supports.
const MaxPresetLevel = 3

// Preset is the built-in pass pipeline:
//
//	level 0: unroll, trivial layout, routing, basis translation
//	level 1: + single-qubit fusion and adjacent cx cancellation
//	level 2: + commutation-aware cx cancellation and noise-aware layout
//	level 3: + rotation merging after basis translation
type Preset struct{}

func (Preset) MaxLevel() int { return MaxPresetLevel }

// CheckTarget fails with InvalidParameter when the native gates cannot
// express a general single-qubit rotation or, on multi-qubit targets, an
// entangling gate (cx, cz or ecr).
func (Preset) CheckTarget(target Target) error {
	return newBasisSet(target.NativeGates()).supports(target.NumQubits())
}

func (p Preset) Transpile(c *circuit.Circuit, target Target, level int) (*circuit.Circuit, error) {
	out, _, err := p.run(c, target, level)
	return out, err
}

func (p Preset) run(c *circuit.Circuit, target Target, level int) (*circuit.Circuit, []int, error) {
	if level < 0 || level > MaxPresetLevel {
		return nil, nil, qerr.Invalid("optimization level %d outside [0,%d]", level, MaxPresetLevel)
	}
	if err := p.CheckTarget(target); err != nil {
		return nil, nil, err
	}
	if c.NumQubits > target.NumQubits() {
		return nil, nil, qerr.Invalid("circuit needs %d qubits, target has %d", c.NumQubits, target.NumQubits())
	}

	work := unroll(c)
	graph := newCouplingGraph(target.NumQubits(), target.CouplingMap())
	width := c.NumQubits
	if graph != nil {
		width = target.NumQubits()
	}

	layout := trivialLayout(c.NumQubits)
	if level >= 2 {
		layout = noiseAwareLayout(c.NumQubits, target.Calibration(), graph)
	}
	routed, final, err := route(work, layout, graph, width)
	if err != nil {
		return nil, nil, err
	}
	if level >= 1 {
		optimize(routed, level)
	}

	out, err := translate(routed, target.NativeGates())
	if err != nil {
		return nil, nil, fmt.Errorf("level %d: %w", level, err)
	}
	if level >= 3 {
		for mergeRotations(out) {
		}
	}
	return out, final, nil
}
