package transpile

import (
	"math/cmplx"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/sim"
)

const matrixTol = 1e-9

func u3Matrix(in circuit.Instruction) sim.Matrix2 {
	return sim.U3(in.Params[0], in.Params[1], in.Params[2])
}

// mergeSingleQubit fuses runs of u3 on the same qubit and drops runs that
// multiply to the identity.
func mergeSingleQubit(c *circuit.Circuit) bool {
	changed := false
	pending := make(map[int]int)
	out := make([]circuit.Instruction, 0, len(c.Instructions))
	for _, in := range c.Instructions {
		if in.Name == "u3" {
			q := in.Qubits[0]
			if j, ok := pending[q]; ok {
				out[j] = u3(q, eulerAngles(u3Matrix(in).Mul(u3Matrix(out[j]))))
				changed = true
				continue
			}
			pending[q] = len(out)
			out = append(out, in)
			continue
		}
		for _, q := range in.Qubits {
			delete(pending, q)
		}
		out = append(out, in)
	}

	kept := out[:0]
	for _, in := range out {
		if in.Name == "u3" && (euler{in.Params[0], in.Params[1], in.Params[2]}).isIdentity() {
			changed = true
			continue
		}
		kept = append(kept, in)
	}
	c.Instructions = kept
	return changed
}

// cancelAdjacentCX removes back-to-back identical cx pairs.
func cancelAdjacentCX(c *circuit.Circuit) bool {
	changed := false
	last := make(map[int]int)
	removed := make([]bool, len(c.Instructions))
	for i, in := range c.Instructions {
		if in.Name == "cx" {
			ctl, tgt := in.Qubits[0], in.Qubits[1]
			j, okc := last[ctl]
			k, okt := last[tgt]
			if okc && okt && j == k && sameCX(c.Instructions[j], ctl, tgt) {
				removed[i], removed[j] = true, true
				delete(last, ctl)
				delete(last, tgt)
				changed = true
				continue
			}
		}
		for _, q := range in.Qubits {
			last[q] = i
		}
	}
	c.Instructions = compact(c.Instructions, removed)
	return changed
}

// cancelCommutingCX removes cx pairs separated only by instructions that
// commute with them: diagonal gates on the control, X-axis rotations on the
// target, and cx gates sharing just the control or just the target.
func cancelCommutingCX(c *circuit.Circuit) bool {
	changed := false
	ins := c.Instructions
	removed := make([]bool, len(ins))
	for i, in := range ins {
		if removed[i] || in.Name != "cx" {
			continue
		}
		ctl, tgt := in.Qubits[0], in.Qubits[1]
		for j := i + 1; j < len(ins); j++ {
			if removed[j] || !touches(ins[j], ctl, tgt) {
				continue
			}
			if sameCX(ins[j], ctl, tgt) {
				removed[i], removed[j] = true, true
				changed = true
				break
			}
			if !commutesWithCX(ins[j], ctl, tgt) {
				break
			}
		}
	}
	c.Instructions = compact(ins, removed)
	return changed
}

func sameCX(in circuit.Instruction, ctl, tgt int) bool {
	return in.Name == "cx" && in.Qubits[0] == ctl && in.Qubits[1] == tgt
}

func touches(in circuit.Instruction, a, b int) bool {
	for _, q := range in.Qubits {
		if q == a || q == b {
			return true
		}
	}
	return false
}

func commutesWithCX(in circuit.Instruction, ctl, tgt int) bool {
	switch in.Name {
	case "u3":
		m := u3Matrix(in)
		switch in.Qubits[0] {
		case ctl:
			return cmplx.Abs(m[0][1]) < matrixTol && cmplx.Abs(m[1][0]) < matrixTol
		case tgt:
			return cmplx.Abs(m[0][0]-m[1][1]) < matrixTol && cmplx.Abs(m[0][1]-m[1][0]) < matrixTol
		}
	case "cx":
		c2, t2 := in.Qubits[0], in.Qubits[1]
		if c2 == ctl && t2 != tgt {
			return true
		}
		if t2 == tgt && c2 != ctl {
			return true
		}
	}
	return false
}

// mergeRotations fuses chains of rz or u1 on the same qubit after basis
// translation and drops the ones that vanish. Z rotations commute through cx
// controls and through cz.
func mergeRotations(c *circuit.Circuit) bool {
	changed := false
	pending := make(map[int]int)
	out := make([]circuit.Instruction, 0, len(c.Instructions))
	for _, in := range c.Instructions {
		if in.Name == "rz" || in.Name == "u1" {
			q := in.Qubits[0]
			if j, ok := pending[q]; ok && out[j].Name == in.Name {
				out[j].Params = []float64{normalizeAngle(out[j].Params[0] + in.Params[0])}
				changed = true
				continue
			}
			pending[q] = len(out)
			out = append(out, in)
			continue
		}
		switch in.Name {
		case "cz":
			// diagonal on both qubits
		case "cx":
			delete(pending, in.Qubits[1])
		default:
			for _, q := range in.Qubits {
				delete(pending, q)
			}
		}
		out = append(out, in)
	}

	kept := out[:0]
	for _, in := range out {
		if (in.Name == "rz" || in.Name == "u1") && nearZero(in.Params[0]) {
			changed = true
			continue
		}
		kept = append(kept, in)
	}
	c.Instructions = kept
	return changed
}

func compact(ins []circuit.Instruction, removed []bool) []circuit.Instruction {
	out := make([]circuit.Instruction, 0, len(ins))
	for i, in := range ins {
		if !removed[i] {
			out = append(out, in)
		}
	}
	return out
}

// optimize runs the level's passes until none of them changes the circuit.
func optimize(c *circuit.Circuit, level int) {
	for {
		changed := mergeSingleQubit(c)
		changed = cancelAdjacentCX(c) || changed
		if level >= 2 {
			changed = cancelCommutingCX(c) || changed
		}
		if !changed {
			return
		}
	}
}
