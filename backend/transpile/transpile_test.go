package transpile

import (
	"fmt"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
	"github.com/perclft/qtranspile/backend/sim"
)

type testTarget struct {
	qubits   int
	native   []string
	coupling [][2]int
	cal      *noise.Calibration
}

func (t testTarget) NumQubits() int                  { return t.qubits }
func (t testTarget) NativeGates() []string           { return t.native }
func (t testTarget) CouplingMap() [][2]int           { return t.coupling }
func (t testTarget) Calibration() *noise.Calibration { return t.cal }

var (
	uBasis  = []string{"u1", "u2", "u3", "cx"}
	ibmBase = []string{"rz", "sx", "x", "cx"}
	czBasis = []string{"u3", "cz"}
	// echoed cross-resonance devices such as ibm_osaka
	ecrBasis = []string{"ecr", "id", "rz", "sx", "x"}
)

func mixedCircuit() *circuit.Circuit {
	return circuit.New("mixed", 4).
		Append("h", []int{0}).
		Append("t", []int{1}).
		Append("cx", []int{0, 1}).
		Append("rx", []int{2}, 0.42).
		Append("ccx", []int{0, 1, 2}).
		Append("swap", []int{1, 3}).
		Append("cz", []int{2, 3}).
		Append("u3", []int{3}, 1.1, -0.3, 2.2).
		Append("sdg", []int{0}).
		Append("y", []int{2}).
		Append("barrier", []int{0, 1, 2, 3}).
		Append("measure", []int{0})
}

// overlap returns |<a|b>|^2 where b lives on physical qubits and virtual
// qubit v sits on physical final[v].
func overlap(t *testing.T, want, got *circuit.Circuit, final []int) float64 {
	t.Helper()
	a, err := sim.RunStateVector(want)
	require.NoError(t, err)
	b, err := sim.RunStateVector(got)
	require.NoError(t, err)
	av, bv := a.Amplitudes(), b.Amplitudes()
	var ip complex128
	for i := range av {
		j := 0
		for v, p := range final {
			if i&(1<<v) != 0 {
				j |= 1 << p
			}
		}
		ip += cmplx.Conj(av[i]) * bv[j]
	}
	return real(ip)*real(ip) + imag(ip)*imag(ip)
}

func assertNative(t *testing.T, c *circuit.Circuit, native []string) {
	t.Helper()
	allowed := map[string]bool{"measure": true, "barrier": true}
	for _, g := range native {
		allowed[g] = true
	}
	for _, in := range c.Instructions {
		assert.True(t, allowed[in.Name], "instruction %s not native to %v", in.Name, native)
	}
}

func TestPresetPreservesSemantics(t *testing.T) {
	circuits := []*circuit.Circuit{circuit.Bell(), circuit.GHZ(4), mixedCircuit()}
	for _, native := range [][]string{uBasis, ibmBase, czBasis, ecrBasis} {
		for _, c := range circuits {
			for level := 0; level <= MaxPresetLevel; level++ {
				name := fmt.Sprintf("%v/%s/level%d", native, c.Name, level)
				t.Run(name, func(t *testing.T) {
					target := testTarget{qubits: 8, native: native}
					out, final, err := Preset{}.run(c, target, level)
					require.NoError(t, err)
					assertNative(t, out, native)
					assert.InDelta(t, 1.0, overlap(t, c, out, final), 1e-9)
				})
			}
		}
	}
}

func TestPresetRespectsCoupling(t *testing.T) {
	line := [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}}
	c := circuit.New("far", 5).
		Append("h", []int{0}).
		Append("cx", []int{0, 4}).
		Append("cx", []int{4, 1}).
		Append("ry", []int{2}, 0.7).
		Append("cx", []int{2, 0})

	cal := &noise.Calibration{ReadoutError: map[int]float64{0: 0.05, 1: 0.04, 2: 0.01, 3: 0.02, 4: 0.03}}
	for level := 0; level <= MaxPresetLevel; level++ {
		target := testTarget{qubits: 5, native: ibmBase, coupling: line, cal: cal}
		out, final, err := Preset{}.run(c, target, level)
		require.NoError(t, err, "level %d", level)
		assert.Equal(t, 5, out.NumQubits)
		for _, in := range out.Instructions {
			if len(in.Qubits) == 2 {
				d := in.Qubits[0] - in.Qubits[1]
				assert.True(t, d == 1 || d == -1, "level %d: %s on %v is not coupled", level, in.Name, in.Qubits)
			}
		}
		assert.InDelta(t, 1.0, overlap(t, c, out, final), 1e-9, "level %d", level)
	}
}

func TestNoiseAwareLayout(t *testing.T) {
	g := newCouplingGraph(5, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}})
	cal := &noise.Calibration{ReadoutError: map[int]float64{0: 0.05, 1: 0.04, 2: 0.01, 3: 0.02, 4: 0.03}}
	assert.Equal(t, []int{2, 3, 1}, noiseAwareLayout(3, cal, g))
	assert.Equal(t, []int{0, 1, 2}, noiseAwareLayout(3, nil, g))

	disconnected := newCouplingGraph(4, [][2]int{{0, 1}, {2, 3}})
	assert.Equal(t, []int{0, 1, 2}, noiseAwareLayout(3, cal, disconnected))
}

func TestShortestPath(t *testing.T) {
	g := newCouplingGraph(5, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 4}})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, g.shortestPath(0, 4))
	assert.Equal(t, []int{3, 2}, g.shortestPath(3, 2))
	assert.True(t, g.connected(1, 2))
	assert.False(t, g.connected(0, 2))

	split := newCouplingGraph(4, [][2]int{{0, 1}, {2, 3}})
	assert.Nil(t, split.shortestPath(0, 3))
}

func TestOptimizationLevels(t *testing.T) {
	target := testTarget{qubits: 2, native: uBasis}

	// everything cancels from level 1 on
	redundant := circuit.New("redundant", 2).
		Append("h", []int{0}).Append("h", []int{0}).
		Append("x", []int{1}).Append("x", []int{1}).
		Append("cx", []int{0, 1}).Append("cx", []int{0, 1})
	l0, err := Preset{}.Transpile(redundant, target, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, l0.Size())
	l1, err := Preset{}.Transpile(redundant, target, 1)
	require.NoError(t, err)
	assert.Zero(t, l1.Size())

	// cx pair around a diagonal gate on the control needs commutation
	sandwich := circuit.New("sandwich", 2).
		Append("cx", []int{0, 1}).
		Append("rz", []int{0}, 0.3).
		Append("cx", []int{0, 1})
	l1, err = Preset{}.Transpile(sandwich, target, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, l1.Size())
	l2, err := Preset{}.Transpile(sandwich, target, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, l2.Size())
	assert.Equal(t, map[string]int{"u1": 1}, l2.Ops())
}

func TestLevelThreeMergesRotationsThroughControls(t *testing.T) {
	target := testTarget{qubits: 2, native: ibmBase}
	c := circuit.New("rz", 2).
		Append("rz", []int{0}, 0.3).
		Append("cx", []int{0, 1}).
		Append("rz", []int{0}, 0.4)

	l2, err := Preset{}.Transpile(c, target, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, l2.Size())

	l3, err := Preset{}.Transpile(c, target, 3)
	require.NoError(t, err)
	require.Equal(t, 2, l3.Size())
	assert.Equal(t, "rz", l3.Instructions[0].Name)
	assert.InDelta(t, 0.7, l3.Instructions[0].Params[0], 1e-12)
	assert.InDelta(t, 1.0, overlap(t, c, l3, []int{0, 1}), 1e-9)
}

func TestPresetIsDeterministic(t *testing.T) {
	target := testTarget{qubits: 5, native: ibmBase, coupling: [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}}}
	for level := 0; level <= MaxPresetLevel; level++ {
		a, err := Preset{}.Transpile(mixedCircuit(), target, level)
		require.NoError(t, err)
		b, err := Preset{}.Transpile(mixedCircuit(), target, level)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestPresetDoesNotMutateInput(t *testing.T) {
	c := mixedCircuit()
	before := c.Clone()
	_, err := Preset{}.Transpile(c, testTarget{qubits: 4, native: ibmBase}, 3)
	require.NoError(t, err)
	assert.Equal(t, before, c)
}

func TestPresetRejects(t *testing.T) {
	target := testTarget{qubits: 2, native: uBasis}
	_, err := Preset{}.Transpile(circuit.Bell(), target, 4)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	_, err = Preset{}.Transpile(circuit.Bell(), target, -1)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	_, err = Preset{}.Transpile(circuit.GHZ(3), target, 0)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	_, err = Preset{}.Transpile(circuit.Bell(), testTarget{qubits: 2, native: []string{"u3"}}, 0)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
	_, err = Preset{}.Transpile(circuit.Bell(), testTarget{qubits: 2, native: []string{"cx"}}, 0)
	assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
}

func TestECRInputUnrolls(t *testing.T) {
	c := circuit.New("ecr", 3).
		Append("h", []int{0}).
		Append("ry", []int{1}, 0.8).
		Append("ecr", []int{0, 1}).
		Append("ecr", []int{2, 0}).
		Append("t", []int{2})
	for _, native := range [][]string{uBasis, ecrBasis} {
		for level := 0; level <= MaxPresetLevel; level++ {
			out, final, err := Preset{}.run(c, testTarget{qubits: 3, native: native}, level)
			require.NoError(t, err)
			assertNative(t, out, native)
			assert.InDelta(t, 1.0, overlap(t, c, out, final), 1e-9, "%v level %d", native, level)
		}
	}
}

func TestCheckTarget(t *testing.T) {
	tests := []struct {
		name    string
		target  testTarget
		wantErr bool
	}{
		{"u basis", testTarget{qubits: 2, native: uBasis}, false},
		{"ecr basis", testTarget{qubits: 2, native: ecrBasis}, false},
		{"cz basis", testTarget{qubits: 2, native: czBasis}, false},
		{"no entangler", testTarget{qubits: 2, native: []string{"rz", "sx", "x"}}, true},
		{"single qubit device", testTarget{qubits: 1, native: []string{"rz", "sx", "x"}}, false},
		{"no rotations", testTarget{qubits: 2, native: []string{"ecr", "x"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Preset{}.CheckTarget(tt.target)
			if tt.wantErr {
				assert.ErrorIs(t, err, qerr.ErrInvalidParameter)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEulerAngles(t *testing.T) {
	for _, name := range []string{"x", "y", "z", "h", "s", "t", "sx", "sxdg"} {
		m, ok := sim.GateMatrix(name, nil)
		require.True(t, ok)
		e := eulerAngles(m)
		assert.True(t, e.matrix().EqualUpToPhase(m, 1e-9), name)
	}
	for _, a := range []float64{-3, -1, 0.5, 2.9} {
		m := sim.U3(a, a/2, -a).Mul(sim.RZ(a))
		assert.True(t, eulerAngles(m).matrix().EqualUpToPhase(m, 1e-9))
	}
	assert.Equal(t, 0.0, normalizeAngle(2*math.Pi))
	assert.InDelta(t, math.Pi, normalizeAngle(-math.Pi), 1e-12)
}
