package sim

import (
	"math"
	"math/cmplx"
)

// Matrix2 is a single-qubit operator in the computational basis.
type Matrix2 [2][2]complex128

// Identity2 is the single-qubit identity.
var Identity2 = Matrix2{{1, 0}, {0, 1}}

// Mul returns m*o (o applied first).
func (m Matrix2) Mul(o Matrix2) Matrix2 {
	return Matrix2{
		{m[0][0]*o[0][0] + m[0][1]*o[1][0], m[0][0]*o[0][1] + m[0][1]*o[1][1]},
		{m[1][0]*o[0][0] + m[1][1]*o[1][0], m[1][0]*o[0][1] + m[1][1]*o[1][1]},
	}
}

// Conj returns the element-wise complex conjugate.
func (m Matrix2) Conj() Matrix2 {
	return Matrix2{
		{cmplx.Conj(m[0][0]), cmplx.Conj(m[0][1])},
		{cmplx.Conj(m[1][0]), cmplx.Conj(m[1][1])},
	}
}

// EqualUpToPhase reports whether m = e^{ia} o for some a, within tol.
func (m Matrix2) EqualUpToPhase(o Matrix2, tol float64) bool {
	// pick the largest entry of o to fix the phase
	bi, bj, best := 0, 0, 0.0
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if a := cmplx.Abs(o[i][j]); a > best {
				bi, bj, best = i, j, a
			}
		}
	}
	if best == 0 {
		return false
	}
	phase := m[bi][bj] / o[bi][bj]
	if math.Abs(cmplx.Abs(phase)-1) > tol {
		return false
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if cmplx.Abs(m[i][j]-phase*o[i][j]) > tol {
				return false
			}
		}
	}
	return true
}

// U3 is the generic single-qubit rotation U(theta, phi, lambda).
func U3(theta, phi, lambda float64) Matrix2 {
	c := complex(math.Cos(theta/2), 0)
	s := complex(math.Sin(theta/2), 0)
	return Matrix2{
		{c, -cmplx.Exp(complex(0, lambda)) * s},
		{cmplx.Exp(complex(0, phi)) * s, cmplx.Exp(complex(0, phi+lambda)) * c},
	}
}

// RZ is diag(e^{-i a/2}, e^{i a/2}).
func RZ(a float64) Matrix2 {
	return Matrix2{{cmplx.Exp(complex(0, -a/2)), 0}, {0, cmplx.Exp(complex(0, a/2))}}
}

func rx(a float64) Matrix2 {
	c := complex(math.Cos(a/2), 0)
	s := complex(0, -math.Sin(a/2))
	return Matrix2{{c, s}, {s, c}}
}

func ry(a float64) Matrix2 {
	c := complex(math.Cos(a/2), 0)
	s := complex(math.Sin(a/2), 0)
	return Matrix2{{c, -s}, {s, c}}
}

func phase(a float64) Matrix2 {
	return Matrix2{{1, 0}, {0, cmplx.Exp(complex(0, a))}}
}

var (
	invSqrt2 = complex(1/math.Sqrt2, 0)
	sxHalf   = Matrix2{{complex(0.5, 0.5), complex(0.5, -0.5)}, {complex(0.5, -0.5), complex(0.5, 0.5)}}
)

// GateMatrix returns the operator of a single-qubit gate.
func GateMatrix(name string, params []float64) (Matrix2, bool) {
	arg := func(i int) float64 {
		if i < len(params) {
			return params[i]
		}
		return 0
	}
	switch name {
	case "id":
		return Identity2, true
	case "x":
		return Matrix2{{0, 1}, {1, 0}}, true
	case "y":
		return Matrix2{{0, -1i}, {1i, 0}}, true
	case "z":
		return Matrix2{{1, 0}, {0, -1}}, true
	case "h":
		return Matrix2{{invSqrt2, invSqrt2}, {invSqrt2, -invSqrt2}}, true
	case "s":
		return phase(math.Pi / 2), true
	case "sdg":
		return phase(-math.Pi / 2), true
	case "t":
		return phase(math.Pi / 4), true
	case "tdg":
		return phase(-math.Pi / 4), true
	case "sx":
		return sxHalf, true
	case "sxdg":
		return sxHalf.Conj(), true
	case "rx":
		return rx(arg(0)), true
	case "ry":
		return ry(arg(0)), true
	case "rz":
		return RZ(arg(0)), true
	case "p", "u1":
		return phase(arg(0)), true
	case "u2":
		return U3(math.Pi/2, arg(0), arg(1)), true
	case "u3":
		return U3(arg(0), arg(1), arg(2)), true
	}
	return Matrix2{}, false
}

// PauliMatrix returns I, X, Y or Z.
func PauliMatrix(p byte) Matrix2 {
	switch p {
	case 'X':
		return Matrix2{{0, 1}, {1, 0}}
	case 'Y':
		return Matrix2{{0, -1i}, {1i, 0}}
	case 'Z':
		return Matrix2{{1, 0}, {0, -1}}
	}
	return Identity2
}
