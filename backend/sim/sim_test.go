package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
)

const tol = 1e-9

func TestGateIdentities(t *testing.T) {
	h, _ := GateMatrix("h", nil)
	assert.True(t, h.Mul(h).EqualUpToPhase(Identity2, tol))

	sx, _ := GateMatrix("sx", nil)
	x, _ := GateMatrix("x", nil)
	assert.True(t, sx.Mul(sx).EqualUpToPhase(x, tol))

	sxdg, _ := GateMatrix("sxdg", nil)
	assert.True(t, sx.Mul(sxdg).EqualUpToPhase(Identity2, tol))

	u2, _ := GateMatrix("u2", []float64{0, math.Pi})
	assert.True(t, u2.EqualUpToPhase(h, tol))

	rz, _ := GateMatrix("rz", []float64{math.Pi / 2})
	s, _ := GateMatrix("s", nil)
	assert.True(t, rz.EqualUpToPhase(s, tol))
	assert.False(t, rz.EqualUpToPhase(x, tol))

	_, ok := GateMatrix("cx", nil)
	assert.False(t, ok)
}

func TestStateVectorBell(t *testing.T) {
	s, err := RunStateVector(circuit.Bell())
	require.NoError(t, err)
	probs := s.Probabilities()
	assert.InDelta(t, 0.5, probs[0], tol)
	assert.InDelta(t, 0.0, probs[1], tol)
	assert.InDelta(t, 0.0, probs[2], tol)
	assert.InDelta(t, 0.5, probs[3], tol)
	assert.InDelta(t, 1.0, real(s.Inner(s)), tol)
}

func TestStateVectorMultiQubitGates(t *testing.T) {
	c := circuit.New("ccx", 3).
		Append("x", []int{0}).
		Append("x", []int{1}).
		Append("ccx", []int{0, 1, 2}).
		Append("swap", []int{0, 2})
	s, err := RunStateVector(c)
	require.NoError(t, err)
	// |011> -> |111> -> swap(0,2) leaves |111>
	assert.InDelta(t, 1.0, s.Probabilities()[7], tol)

	c = circuit.New("swap", 2).Append("x", []int{0}).Append("swap", []int{0, 1})
	s, err = RunStateVector(c)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.Probabilities()[2], tol)

	c = circuit.New("cz", 2).Append("h", []int{0}).Append("h", []int{1}).Append("cz", []int{0, 1})
	s, err = RunStateVector(c)
	require.NoError(t, err)
	amps := s.Amplitudes()
	assert.InDelta(t, -0.5, real(amps[3]), tol)
}

func TestECR(t *testing.T) {
	s, err := RunStateVector(circuit.New("ecr", 2).Append("ecr", []int{0, 1}))
	require.NoError(t, err)
	amps := s.Amplitudes()
	assert.InDelta(t, 1/math.Sqrt2, real(amps[1]), tol)
	assert.InDelta(t, -1/math.Sqrt2, imag(amps[3]), tol)
	assert.InDelta(t, 0.0, real(amps[0])+imag(amps[0]), tol)

	// self-inverse, on either operand order
	c := circuit.New("ecr", 3).
		Append("h", []int{0}).
		Append("ry", []int{2}, 0.6).
		Append("ecr", []int{2, 0}).
		Append("ecr", []int{2, 0})
	want, err := RunStateVector(circuit.New("ref", 3).Append("h", []int{0}).Append("ry", []int{2}, 0.6))
	require.NoError(t, err)
	got, err := RunStateVector(c)
	require.NoError(t, err)
	ip := got.Inner(want)
	assert.InDelta(t, 1.0, real(ip)*real(ip)+imag(ip)*imag(ip), tol)
}

func TestDensityMatrixMatchesStateVector(t *testing.T) {
	c := circuit.GHZ(3).Append("t", []int{1}).Append("ry", []int{2}, 0.3).Append("ecr", []int{1, 2})
	psi, err := RunStateVector(c)
	require.NoError(t, err)
	rho, err := RunDensityMatrix(c, noise.Empty())
	require.NoError(t, err)

	assert.InDelta(t, 1.0, real(rho.Trace()), tol)
	assert.InDelta(t, 1.0, real(rho.Expectation(psi)), tol)
	for i, p := range psi.Probabilities() {
		assert.InDelta(t, p, rho.Probabilities()[i], tol)
	}
}

func TestExactDepolarizingBell(t *testing.T) {
	nm, err := noise.Synthetic(noise.KindDepolarizing, 0.1)
	require.NoError(t, err)
	est, err := ExactEvolution{}.Evolve(circuit.Bell(), nm)
	require.NoError(t, err)
	// one depolarizing channel after h on |+>: 1 - p/2
	assert.InDelta(t, 0.95, est.Fidelity, 1e-9)
	assert.Equal(t, ModeExact, est.Mode)
	assert.Zero(t, est.Shots)

	rho, err := RunDensityMatrix(circuit.Bell(), nm)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, real(rho.Trace()), tol)
}

func TestExactNoiseFree(t *testing.T) {
	est, err := ExactEvolution{}.Evolve(circuit.GHZ(4), noise.Empty())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, est.Fidelity, FidelityTolerance)
}

func TestSampledNoiseFree(t *testing.T) {
	est, err := SampledEvolution{Shots: 1024, Seed: 7}.Evolve(circuit.GHZ(3), noise.Empty())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, est.Fidelity, FidelityTolerance)
	assert.Equal(t, ModeSampled, est.Mode)
	assert.Equal(t, 1024, est.Shots)
	assert.InDelta(t, 1.0/32, est.StdErr, tol)
}

func TestSampledBitFlipIsSeeded(t *testing.T) {
	nm, err := noise.Synthetic(noise.KindBitFlip, 0.3)
	require.NoError(t, err)
	ev := SampledEvolution{Shots: 512, Seed: 42}

	a, err := ev.Evolve(circuit.Bell(), nm)
	require.NoError(t, err)
	b, err := ev.Evolve(circuit.Bell(), nm)
	require.NoError(t, err)

	assert.Less(t, a.Fidelity, 1.0)
	assert.Greater(t, a.Fidelity, 0.0)
	assert.Equal(t, a.Fidelity, b.Fidelity)
}

func TestSampledIsBitReproducible(t *testing.T) {
	nm, err := noise.Synthetic(noise.KindDepolarizing, 0.2)
	require.NoError(t, err)
	c := circuit.GHZ(4).Append("h", []int{1}).Append("h", []int{2}).Append("ry", []int{3}, 0.4)
	ev := SampledEvolution{Shots: 2048, Seed: 11}

	first, err := ev.Evolve(c, nm)
	require.NoError(t, err)
	assert.Less(t, first.Fidelity, 1.0)
	// many distinct fault patterns: sums must not depend on iteration order
	for i := 0; i < 20; i++ {
		again, err := ev.Evolve(c, nm)
		require.NoError(t, err)
		require.Equal(t, math.Float64bits(first.Fidelity), math.Float64bits(again.Fidelity), "run %d", i)
	}
}

func TestSelect(t *testing.T) {
	limits := Limits{ExactQubits: DefaultExactQubitLimit, SampledQubits: DefaultSampledQubitLimit}

	mode, err := Select(ModeExact, 10, limits)
	require.NoError(t, err)
	assert.Equal(t, ModeExact, mode)

	mode, err = Select(ModeExact, 11, limits)
	require.NoError(t, err)
	assert.Equal(t, ModeSampled, mode)

	mode, err = Select(ModeSampled, 2, limits)
	require.NoError(t, err)
	assert.Equal(t, ModeSampled, mode)

	_, err = Select(ModeExact, 17, limits)
	require.ErrorIs(t, err, qerr.ErrResourceExceeded)
	var re *qerr.ResourceError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "qubits", re.Resource)
	assert.EqualValues(t, DefaultSampledQubitLimit, re.Limit)

	limits.MemoryBytes = 1 << 20
	_, err = Select(ModeExact, 10, limits)
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "memory", re.Resource)
}

func TestCheckFidelity(t *testing.T) {
	f, err := CheckFidelity(1 + 1e-7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, f)

	f, err = CheckFidelity(-1e-7)
	require.NoError(t, err)
	assert.Equal(t, 0.0, f)

	for _, bad := range []float64{1.01, -0.5, math.NaN()} {
		_, err := CheckFidelity(bad)
		assert.ErrorIs(t, err, qerr.ErrNumericInstability)
	}
}

func TestModeText(t *testing.T) {
	for _, m := range []Mode{ModeExact, ModeSampled} {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var back Mode
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, m, back)
	}
	var m Mode
	assert.ErrorIs(t, m.UnmarshalText([]byte("fuzzy")), qerr.ErrInvalidParameter)
}
