package sim

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/perclft/qtranspile/backend/circuit"
)

// StateVector holds 2^n amplitudes; qubit q is bit q of the basis index.
type StateVector struct {
	numQubits int
	amps      []complex128
}

// NewStateVector returns |0...0>.
func NewStateVector(numQubits int) *StateVector {
	amps := make([]complex128, 1<<numQubits)
	amps[0] = 1
	return &StateVector{numQubits: numQubits, amps: amps}
}

func (s *StateVector) NumQubits() int { return s.numQubits }

// Amplitudes returns a copy of the amplitudes.
func (s *StateVector) Amplitudes() []complex128 {
	out := make([]complex128, len(s.amps))
	copy(out, s.amps)
	return out
}

func (s *StateVector) Clone() *StateVector {
	return &StateVector{numQubits: s.numQubits, amps: s.Amplitudes()}
}

// Apply1 applies a single-qubit operator to qubit q.
func (s *StateVector) Apply1(q int, m Matrix2) {
	apply1(s.amps, q, m)
}

func apply1(amps []complex128, q int, m Matrix2) {
	bit := 1 << q
	for i := range amps {
		if i&bit != 0 {
			continue
		}
		j := i | bit
		a, b := amps[i], amps[j]
		amps[i] = m[0][0]*a + m[0][1]*b
		amps[j] = m[1][0]*a + m[1][1]*b
	}
}

func applyCX(amps []complex128, control, target int) {
	cBit, tBit := 1<<control, 1<<target
	for i := range amps {
		if i&cBit != 0 && i&tBit == 0 {
			j := i | tBit
			amps[i], amps[j] = amps[j], amps[i]
		}
	}
}

func applyCZ(amps []complex128, a, b int) {
	mask := 1<<a | 1<<b
	for i := range amps {
		if i&mask == mask {
			amps[i] = -amps[i]
		}
	}
}

func applySwap(amps []complex128, a, b int) {
	aBit, bBit := 1<<a, 1<<b
	for i := range amps {
		if i&aBit != 0 && i&bBit == 0 {
			j := (i &^ aBit) | bBit
			amps[i], amps[j] = amps[j], amps[i]
		}
	}
}

// applyECR applies the echoed cross-resonance gate
// (IX - XY)/sqrt2, with a the low qubit of the two-qubit basis. conj applies
// its complex conjugate.
func applyECR(amps []complex128, a, b int, conj bool) {
	aBit, bBit := 1<<a, 1<<b
	im := complex(0, 1/math.Sqrt2)
	if conj {
		im = -im
	}
	const r = complex(1/math.Sqrt2, 0)
	for i := range amps {
		if i&aBit != 0 || i&bBit != 0 {
			continue
		}
		i1, i2, i3 := i|aBit, i|bBit, i|aBit|bBit
		v0, v1, v2, v3 := amps[i], amps[i1], amps[i2], amps[i3]
		amps[i] = r*v1 + im*v3
		amps[i1] = r*v0 - im*v2
		amps[i2] = im*v1 + r*v3
		amps[i3] = -im*v0 + r*v2
	}
}

func applyCCX(amps []complex128, c1, c2, target int) {
	mask := 1<<c1 | 1<<c2
	tBit := 1 << target
	for i := range amps {
		if i&mask == mask && i&tBit == 0 {
			j := i | tBit
			amps[i], amps[j] = amps[j], amps[i]
		}
	}
}

// Apply evolves the state by one instruction. Measurement and barriers leave
// the state unchanged; outcomes are read from the final state.
func (s *StateVector) Apply(in circuit.Instruction) error {
	return applyInstruction(s.amps, in, 0, false)
}

// applyInstruction applies in to the qubits shifted by offset; conj applies
// the complex conjugate operator (used for density-matrix columns).
func applyInstruction(amps []complex128, in circuit.Instruction, offset int, conj bool) error {
	q := func(i int) int { return in.Qubits[i] + offset }
	switch in.Name {
	case "measure", "barrier", "id":
		return nil
	case "cx":
		applyCX(amps, q(0), q(1))
	case "cz":
		applyCZ(amps, q(0), q(1))
	case "ecr":
		applyECR(amps, q(0), q(1), conj)
	case "swap":
		applySwap(amps, q(0), q(1))
	case "ccx":
		applyCCX(amps, q(0), q(1), q(2))
	default:
		m, ok := GateMatrix(in.Name, in.Params)
		if !ok {
			return fmt.Errorf("simulate: unsupported instruction %q", in.Name)
		}
		if conj {
			m = m.Conj()
		}
		apply1(amps, q(0), m)
	}
	return nil
}

func applyPauli(amps []complex128, label string, qubits []int, offset int, conj bool) {
	for i := range label {
		if label[i] == 'I' {
			continue
		}
		m := PauliMatrix(label[i])
		if conj {
			m = m.Conj()
		}
		apply1(amps, qubits[i]+offset, m)
	}
}

// ApplyPauli applies a Pauli string to the listed qubits.
func (s *StateVector) ApplyPauli(label string, qubits []int) {
	applyPauli(s.amps, label, qubits, 0, false)
}

// Probabilities returns |amp|^2 per basis state.
func (s *StateVector) Probabilities() []float64 {
	out := make([]float64, len(s.amps))
	for i, a := range s.amps {
		out[i] = real(a)*real(a) + imag(a)*imag(a)
	}
	return out
}

// Inner returns <s|o>.
func (s *StateVector) Inner(o *StateVector) complex128 {
	var sum complex128
	for i := range s.amps {
		sum += cmplx.Conj(s.amps[i]) * o.amps[i]
	}
	return sum
}

// RunStateVector evolves |0...0> through every instruction of c.
func RunStateVector(c *circuit.Circuit) (*StateVector, error) {
	s := NewStateVector(c.NumQubits)
	for _, in := range c.Instructions {
		if err := s.Apply(in); err != nil {
			return nil, err
		}
	}
	return s, nil
}
