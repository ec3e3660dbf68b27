package transpile

import (
	"math"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
)

type basisSet map[string]bool

func newBasisSet(native []string) basisSet {
	b := make(basisSet, len(native))
	for _, g := range native {
		b[circuit.CanonicalName(g)] = true
	}
	return b
}

// translate lowers a u3+cx circuit onto the native gate set. Measurement and
// barriers are always accepted.
func translate(c *circuit.Circuit, native []string) (*circuit.Circuit, error) {
	b := newBasisSet(native)
	out := &circuit.Circuit{Name: c.Name, NumQubits: c.NumQubits}
	for _, in := range c.Instructions {
		switch in.Name {
		case "u3":
			ins, err := b.single(in.Qubits[0], euler{in.Params[0], in.Params[1], in.Params[2]})
			if err != nil {
				return nil, err
			}
			out.Instructions = append(out.Instructions, ins...)
		case "cx":
			ins, err := b.entangle(in.Qubits[0], in.Qubits[1])
			if err != nil {
				return nil, err
			}
			out.Instructions = append(out.Instructions, ins...)
		default:
			out.Instructions = append(out.Instructions, in)
		}
	}
	return out, nil
}

func gate(name string, q int, params ...float64) circuit.Instruction {
	in := circuit.Instruction{Name: name, Qubits: []int{q}}
	if len(params) > 0 {
		in.Params = params
	}
	return in
}

func (b basisSet) single(q int, e euler) ([]circuit.Instruction, error) {
	if e.isIdentity() {
		return nil, nil
	}
	diagonal := math.Abs(e.theta) < angleTol
	half := math.Abs(e.theta-math.Pi/2) < angleTol

	switch {
	case diagonal && b["u1"]:
		return []circuit.Instruction{gate("u1", q, normalizeAngle(e.phi+e.lambda))}, nil
	case diagonal && b["p"]:
		return []circuit.Instruction{gate("p", q, normalizeAngle(e.phi+e.lambda))}, nil
	case half && b["u2"]:
		return []circuit.Instruction{gate("u2", q, e.phi, e.lambda)}, nil
	case b["u3"]:
		return []circuit.Instruction{gate("u3", q, e.theta, e.phi, e.lambda)}, nil
	}

	if !b["rz"] || !b["sx"] {
		return nil, qerr.Invalid("native gates cannot express single-qubit rotations")
	}
	var ins []circuit.Instruction
	rz := func(a float64) {
		if a = normalizeAngle(a); a != 0 {
			ins = append(ins, gate("rz", q, a))
		}
	}
	switch {
	case diagonal:
		rz(e.phi + e.lambda)
	case half:
		rz(e.lambda - math.Pi/2)
		ins = append(ins, gate("sx", q))
		rz(e.phi + math.Pi/2)
	case math.Abs(e.theta-math.Pi) < angleTol && b["x"]:
		// U3(pi, phi, lambda) = X RZ(lambda - phi + pi) up to phase
		rz(e.lambda - e.phi + math.Pi)
		ins = append(ins, gate("x", q))
	default:
		rz(e.lambda)
		ins = append(ins, gate("sx", q))
		rz(e.theta + math.Pi)
		ins = append(ins, gate("sx", q))
		rz(e.phi + math.Pi)
	}
	return ins, nil
}

func (b basisSet) entangle(ctl, tgt int) ([]circuit.Instruction, error) {
	switch {
	case b["cx"]:
		return []circuit.Instruction{cx(ctl, tgt)}, nil
	case b["cz"]:
		h, err := b.single(tgt, hEuler)
		if err != nil {
			return nil, err
		}
		ins := append([]circuit.Instruction(nil), h...)
		ins = append(ins, circuit.Instruction{Name: "cz", Qubits: []int{ctl, tgt}})
		return append(ins, h...), nil
	case b["ecr"]:
		// cx(c,t) = sx(t) rz(c, pi/2) ecr(c,t) x(c) up to phase
		pre, err := b.single(ctl, xEuler)
		if err != nil {
			return nil, err
		}
		rz, err := b.single(ctl, rzHalfEuler)
		if err != nil {
			return nil, err
		}
		sx, err := b.single(tgt, sxEuler)
		if err != nil {
			return nil, err
		}
		ins := append([]circuit.Instruction(nil), pre...)
		ins = append(ins, circuit.Instruction{Name: "ecr", Qubits: []int{ctl, tgt}})
		ins = append(ins, rz...)
		return append(ins, sx...), nil
	}
	return nil, qerr.Invalid("native gates lack an entangling gate")
}

// supports reports whether circuits can be lowered onto the basis: a general
// single-qubit rotation and, for multi-qubit targets, an entangling gate.
func (b basisSet) supports(numQubits int) error {
	if _, err := b.single(0, euler{1, 1, 1}); err != nil {
		return err
	}
	if numQubits > 1 {
		if _, err := b.entangle(0, 1); err != nil {
			return err
		}
	}
	return nil
}
