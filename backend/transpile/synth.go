package transpile

import (
	"math"
	"math/cmplx"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/sim"
)

const angleTol = 1e-10

// euler holds U3 angles.
type euler struct {
	theta, phi, lambda float64
}

// eulerAngles extracts (theta, phi, lambda) with U = e^{ia} U3(theta, phi, lambda).
func eulerAngles(u sim.Matrix2) euler {
	const eps = 1e-12
	theta := 2 * math.Atan2(cmplx.Abs(u[1][0]), cmplx.Abs(u[0][0]))
	switch {
	case cmplx.Abs(u[1][0]) < eps:
		a := cmplx.Phase(u[0][0])
		return euler{0, 0, normalizeAngle(cmplx.Phase(u[1][1]) - a)}
	case cmplx.Abs(u[0][0]) < eps:
		a := cmplx.Phase(-u[0][1])
		return euler{math.Pi, normalizeAngle(cmplx.Phase(u[1][0]) - a), 0}
	}
	a := cmplx.Phase(u[0][0])
	return euler{
		theta:  theta,
		phi:    normalizeAngle(cmplx.Phase(u[1][0]) - a),
		lambda: normalizeAngle(cmplx.Phase(-u[0][1]) - a),
	}
}

// normalizeAngle maps a into (-pi, pi].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	if math.Abs(a) < angleTol {
		return 0
	}
	return a
}

func nearZero(a float64) bool {
	return math.Abs(normalizeAngle(a)) < angleTol
}

func (e euler) isIdentity() bool {
	return math.Abs(e.theta) < angleTol && nearZero(e.phi+e.lambda)
}

func (e euler) matrix() sim.Matrix2 {
	return sim.U3(e.theta, e.phi, e.lambda)
}

func u3(q int, e euler) circuit.Instruction {
	return circuit.Instruction{Name: "u3", Qubits: []int{q}, Params: []float64{e.theta, e.phi, e.lambda}}
}

func cx(c, t int) circuit.Instruction {
	return circuit.Instruction{Name: "cx", Qubits: []int{c, t}}
}

var (
	hEuler    = euler{math.Pi / 2, 0, math.Pi}
	tEuler    = euler{0, 0, math.Pi / 4}
	tdgEuler  = euler{0, 0, -math.Pi / 4}
	xEuler    = euler{math.Pi, 0, math.Pi}
	sxEuler   = euler{math.Pi / 2, -math.Pi / 2, math.Pi / 2}
	sxdgEuler = euler{math.Pi / 2, math.Pi / 2, -math.Pi / 2}

	// rz(pi/2) and rz(-pi/2) up to phase
	rzHalfEuler    = euler{0, 0, math.Pi / 2}
	rzNegHalfEuler = euler{0, 0, -math.Pi / 2}
)

// unroll rewrites every instruction into u3 and cx, keeping measure and
// barrier. Identity gates are dropped.
func unroll(c *circuit.Circuit) *circuit.Circuit {
	out := &circuit.Circuit{Name: c.Name, NumQubits: c.NumQubits}
	emit := func(in ...circuit.Instruction) { out.Instructions = append(out.Instructions, in...) }
	for _, in := range c.Instructions {
		q := in.Qubits
		switch in.Name {
		case "id":
		case "measure", "barrier":
			emit(cloneInstruction(in))
		case "cx":
			emit(cx(q[0], q[1]))
		case "cz":
			emit(u3(q[1], hEuler), cx(q[0], q[1]), u3(q[1], hEuler))
		case "ecr":
			emit(u3(q[0], xEuler), cx(q[0], q[1]), u3(q[0], rzNegHalfEuler), u3(q[1], sxdgEuler))
		case "swap":
			emit(swapCX(q[0], q[1])...)
		case "ccx":
			a, b, t := q[0], q[1], q[2]
			emit(
				u3(t, hEuler),
				cx(b, t), u3(t, tdgEuler),
				cx(a, t), u3(t, tEuler),
				cx(b, t), u3(t, tdgEuler),
				cx(a, t), u3(b, tEuler), u3(t, tEuler), u3(t, hEuler),
				cx(a, b), u3(a, tEuler), u3(b, tdgEuler),
				cx(a, b),
			)
		default:
			m, ok := sim.GateMatrix(in.Name, in.Params)
			if !ok {
				// validated circuits never get here
				continue
			}
			emit(u3(q[0], eulerAngles(m)))
		}
	}
	return out
}

func swapCX(a, b int) []circuit.Instruction {
	return []circuit.Instruction{cx(a, b), cx(b, a), cx(a, b)}
}

func cloneInstruction(in circuit.Instruction) circuit.Instruction {
	out := circuit.Instruction{Name: in.Name, Qubits: append([]int(nil), in.Qubits...)}
	if len(in.Params) > 0 {
		out.Params = append([]float64(nil), in.Params...)
	}
	return out
}
