package noise

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/perclft/qtranspile/backend/qerr"
)

// SumTolerance bounds how far a channel's probabilities may drift from 1.
const SumTolerance = 1e-9

// Term is one Pauli operator of a channel. Pauli[i] acts on operand i of the
// instruction the channel is attached to.
type Term struct {
	Pauli string  `json:"pauli"`
	Prob  float64 `json:"prob"`
}

// Channel is a Pauli error channel: rho -> sum_k p_k P_k rho P_k.
type Channel struct {
	Qubits int    `json:"qubits"`
	Terms  []Term `json:"terms"`
}

func identityLabel(n int) string {
	return strings.Repeat("I", n)
}

// Depolarizing returns the n-qubit channel (1-p) rho + p I/2^n, written as a
// Pauli mixture.
func Depolarizing(p float64, qubits int) (Channel, error) {
	if err := checkProbability(p); err != nil {
		return Channel{}, err
	}
	if qubits < 1 || qubits > 2 {
		return Channel{}, qerr.Invalid("depolarizing channel on %d qubits unsupported", qubits)
	}
	n := 1 << (2 * qubits) // 4^n Pauli strings
	share := p / float64(n)
	terms := make([]Term, 0, n)
	for _, label := range pauliStrings(qubits) {
		prob := share
		if label == identityLabel(qubits) {
			prob = 1 - p + share
		}
		terms = append(terms, Term{Pauli: label, Prob: prob})
	}
	return normalize(Channel{Qubits: qubits, Terms: terms}), nil
}

// BitFlip applies an independent X flip with probability p to each operand.
func BitFlip(p float64, qubits int) (Channel, error) {
	if err := checkProbability(p); err != nil {
		return Channel{}, err
	}
	if qubits < 1 {
		return Channel{}, qerr.Invalid("bit-flip channel on %d qubits unsupported", qubits)
	}
	single := Channel{Qubits: 1, Terms: []Term{{Pauli: "I", Prob: 1 - p}, {Pauli: "X", Prob: p}}}
	out := single
	for i := 1; i < qubits; i++ {
		out = Tensor(out, single)
	}
	return normalize(out), nil
}

// Pauli twirl of amplitude/phase damping over a gate of duration t, with
// t, t1 and t2 in the same unit.
func thermalRelaxation(t, t1, t2 float64) Channel {
	pAmp := 1 - math.Exp(-t/t1)
	pPhase := 1 - math.Exp(-t/t2)
	px := pAmp / 4
	pz := pPhase/2 - pAmp/4
	if pz < 0 {
		pz = 0
	}
	return normalize(Channel{Qubits: 1, Terms: []Term{
		{Pauli: "I", Prob: 1 - 2*px - pz},
		{Pauli: "X", Prob: px},
		{Pauli: "Y", Prob: px},
		{Pauli: "Z", Prob: pz},
	}})
}

// Tensor returns the channel acting as a on the leading operands and b on
// the trailing ones.
func Tensor(a, b Channel) Channel {
	out := Channel{Qubits: a.Qubits + b.Qubits}
	for _, ta := range a.Terms {
		for _, tb := range b.Terms {
			out.Terms = append(out.Terms, Term{Pauli: ta.Pauli + tb.Pauli, Prob: ta.Prob * tb.Prob})
		}
	}
	return normalize(out)
}

// Compose returns the channel equivalent to applying a then b. Pauli channels
// compose by multiplying their operators; global phases cancel in P rho P.
func Compose(a, b Channel) (Channel, error) {
	if a.Qubits != b.Qubits {
		return Channel{}, qerr.Invalid("cannot compose %d-qubit and %d-qubit channels", a.Qubits, b.Qubits)
	}
	out := Channel{Qubits: a.Qubits}
	for _, ta := range a.Terms {
		for _, tb := range b.Terms {
			out.Terms = append(out.Terms, Term{Pauli: multiply(ta.Pauli, tb.Pauli), Prob: ta.Prob * tb.Prob})
		}
	}
	return normalize(out), nil
}

// Validate checks the stochastic-map invariant.
func (c Channel) Validate() error {
	if c.Qubits < 1 {
		return qerr.Invalid("channel must act on at least one qubit")
	}
	sum := 0.0
	for _, t := range c.Terms {
		if len(t.Pauli) != c.Qubits {
			return qerr.Invalid("pauli %q does not match %d-qubit channel", t.Pauli, c.Qubits)
		}
		for _, r := range t.Pauli {
			if !strings.ContainsRune("IXYZ", r) {
				return qerr.Invalid("pauli %q has invalid operator %q", t.Pauli, r)
			}
		}
		if math.IsNaN(t.Prob) || t.Prob < -SumTolerance || t.Prob > 1+SumTolerance {
			return qerr.Invalid("pauli %q has probability %g", t.Pauli, t.Prob)
		}
		sum += t.Prob
	}
	if math.Abs(sum-1) > SumTolerance {
		return qerr.Invalid("channel probabilities sum to %.12g", sum)
	}
	return nil
}

// Sum returns the total probability mass.
func (c Channel) Sum() float64 {
	s := 0.0
	for _, t := range c.Terms {
		s += t.Prob
	}
	return s
}

// IsIdentity reports whether the channel never applies an error.
func (c Channel) IsIdentity() bool {
	id := identityLabel(c.Qubits)
	for _, t := range c.Terms {
		if t.Pauli != id && t.Prob > 0 {
			return false
		}
	}
	return true
}

func (c Channel) String() string {
	parts := make([]string, len(c.Terms))
	for i, t := range c.Terms {
		parts[i] = fmt.Sprintf("%s:%.6g", t.Pauli, t.Prob)
	}
	return strings.Join(parts, ",")
}

// normalize merges duplicate labels, drops zero-probability errors and sorts
// terms so equal channels compare equal.
func normalize(c Channel) Channel {
	merged := make(map[string]float64, len(c.Terms))
	for _, t := range c.Terms {
		merged[t.Pauli] += t.Prob
	}
	id := identityLabel(c.Qubits)
	if _, ok := merged[id]; !ok {
		merged[id] = 0
	}
	out := Channel{Qubits: c.Qubits, Terms: make([]Term, 0, len(merged))}
	for label, p := range merged {
		if p == 0 && label != id {
			continue
		}
		out.Terms = append(out.Terms, Term{Pauli: label, Prob: p})
	}
	sort.Slice(out.Terms, func(i, j int) bool { return out.Terms[i].Pauli < out.Terms[j].Pauli })
	return out
}

func checkProbability(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return qerr.Invalid("probability %g outside [0,1]", p)
	}
	return nil
}

func pauliStrings(n int) []string {
	out := []string{""}
	for i := 0; i < n; i++ {
		next := make([]string, 0, len(out)*4)
		for _, prefix := range out {
			for _, p := range "IXYZ" {
				next = append(next, prefix+string(p))
			}
		}
		out = next
	}
	return out
}

// single-qubit Paulis as (x, z) bits: I=00 X=10 Z=01 Y=11
var pauliBits = map[byte][2]byte{'I': {0, 0}, 'X': {1, 0}, 'Z': {0, 1}, 'Y': {1, 1}}

func multiply(a, b string) string {
	out := make([]byte, len(a))
	for i := range a {
		pa, pb := pauliBits[a[i]], pauliBits[b[i]]
		x, z := pa[0]^pb[0], pa[1]^pb[1]
		switch {
		case x == 0 && z == 0:
			out[i] = 'I'
		case x == 1 && z == 0:
			out[i] = 'X'
		case x == 0 && z == 1:
			out[i] = 'Z'
		default:
			out[i] = 'Y'
		}
	}
	return string(out)
}
