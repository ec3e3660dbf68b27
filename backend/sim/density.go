package sim

import (
	"math/cmplx"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
)

// DensityMatrix stores rho as a vectorized 2n-qubit state: entry (r, c) sits
// at index r<<n | c, so row qubit q is bit q+n and column qubit q is bit q.
// U rho U^dagger is U on the row bits and conj(U) on the column bits.
type DensityMatrix struct {
	numQubits int
	vec       []complex128
}

// NewDensityMatrix returns |0...0><0...0|.
func NewDensityMatrix(numQubits int) *DensityMatrix {
	vec := make([]complex128, 1<<(2*numQubits))
	vec[0] = 1
	return &DensityMatrix{numQubits: numQubits, vec: vec}
}

func (d *DensityMatrix) dim() int { return 1 << d.numQubits }

// At returns rho[r][c].
func (d *DensityMatrix) At(r, c int) complex128 {
	return d.vec[r<<d.numQubits|c]
}

// Apply evolves rho by one noiseless instruction.
func (d *DensityMatrix) Apply(in circuit.Instruction) error {
	if err := applyInstruction(d.vec, in, d.numQubits, false); err != nil {
		return err
	}
	return applyInstruction(d.vec, in, 0, true)
}

// ApplyChannel applies a Pauli channel to the listed qubits:
// rho -> sum_k p_k P_k rho P_k.
func (d *DensityMatrix) ApplyChannel(ch noise.Channel, qubits []int) {
	if ch.IsIdentity() {
		return
	}
	out := make([]complex128, len(d.vec))
	scratch := make([]complex128, len(d.vec))
	for _, t := range ch.Terms {
		if t.Prob == 0 {
			continue
		}
		copy(scratch, d.vec)
		applyPauli(scratch, t.Pauli, qubits, d.numQubits, false)
		applyPauli(scratch, t.Pauli, qubits, 0, true)
		p := complex(t.Prob, 0)
		for i := range out {
			out[i] += p * scratch[i]
		}
	}
	d.vec = out
}

// Trace returns tr(rho).
func (d *DensityMatrix) Trace() complex128 {
	var sum complex128
	for i := 0; i < d.dim(); i++ {
		sum += d.At(i, i)
	}
	return sum
}

// Expectation returns <psi|rho|psi>.
func (d *DensityMatrix) Expectation(psi *StateVector) complex128 {
	var sum complex128
	n := d.dim()
	for r := 0; r < n; r++ {
		cr := cmplx.Conj(psi.amps[r])
		if cr == 0 {
			continue
		}
		row := d.vec[r<<d.numQubits : (r+1)<<d.numQubits]
		var inner complex128
		for c := 0; c < n; c++ {
			inner += row[c] * psi.amps[c]
		}
		sum += cr * inner
	}
	return sum
}

// Probabilities returns the diagonal of rho.
func (d *DensityMatrix) Probabilities() []float64 {
	out := make([]float64, d.dim())
	for i := range out {
		out[i] = real(d.At(i, i))
	}
	return out
}

// RunDensityMatrix evolves |0><0| through c, applying nm's channel after
// every matching instruction.
func RunDensityMatrix(c *circuit.Circuit, nm *noise.Model) (*DensityMatrix, error) {
	d := NewDensityMatrix(c.NumQubits)
	for _, in := range c.Instructions {
		if err := d.Apply(in); err != nil {
			return nil, err
		}
		if ch, ok := nm.ChannelFor(in.Name, len(in.Qubits)); ok {
			d.ApplyChannel(ch, in.Qubits)
		}
	}
	return d, nil
}
