// Package sim evolves circuits through ideal and noisy simulations and scores
// the noisy outcome against the ideal one.
package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/pbnjay/memory"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/noise"
	"github.com/perclft/qtranspile/backend/qerr"
)

const (
	// DefaultExactQubitLimit bounds density-matrix evolution (4^n entries).
	DefaultExactQubitLimit = 10
	// DefaultSampledQubitLimit bounds trajectory evolution (2^n amplitudes).
	DefaultSampledQubitLimit = 16
	// DefaultShots is the trajectory count of sampled evolution.
	DefaultShots = 1024

	// FidelityTolerance is the band around [0,1] a computed fidelity may
	// leave before it counts as numerically unstable.
	FidelityTolerance = 1e-6
)

// Mode tags the evolution variant.
type Mode int

const (
	ModeExact Mode = iota
	ModeSampled
)

func (m Mode) String() string {
	switch m {
	case ModeExact:
		return "exact"
	case ModeSampled:
		return "sampled"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "exact":
		*m = ModeExact
	case "sampled":
		*m = ModeSampled
	default:
		return qerr.Invalid("unknown evolution mode %q", b)
	}
	return nil
}

// Estimate is a scored noisy evolution.
type Estimate struct {
	Fidelity float64
	Mode     Mode
	Shots    int
	StdErr   float64
}

// Evolver runs the ideal and noisy evolutions of a circuit and returns the
// fidelity of the noisy outcome with respect to the ideal one.
type Evolver interface {
	Mode() Mode
	Evolve(c *circuit.Circuit, nm *noise.Model) (Estimate, error)
}

// Limits holds the tractability bounds. MemoryBytes of zero disables the
// memory guard.
type Limits struct {
	ExactQubits   int
	SampledQubits int
	MemoryBytes   int64
}

// DefaultLimits caps allocations at half of physical memory.
func DefaultLimits() Limits {
	return Limits{
		ExactQubits:   DefaultExactQubitLimit,
		SampledQubits: DefaultSampledQubitLimit,
		MemoryBytes:   int64(memory.TotalMemory() / 2),
	}
}

const complexBytes = 16

// exactBytes counts the density vector plus the two channel buffers.
func exactBytes(n int) int64 { return 3 * complexBytes << (2 * n) }

// sampledBytes counts the ideal state, one trajectory and the accumulated
// distributions.
func sampledBytes(n int) int64 { return 4 * complexBytes << n }

// Select picks the evolution mode for an n-qubit circuit. Exact preference
// falls back to sampling above the exact bound; anything above the sampled
// bound fails with ResourceExceeded.
func Select(preference Mode, n int, limits Limits) (Mode, error) {
	mode := preference
	if mode == ModeExact && n > limits.ExactQubits {
		mode = ModeSampled
	}
	if mode == ModeSampled && n > limits.SampledQubits {
		return 0, &qerr.ResourceError{Resource: "qubits", Required: int64(n), Limit: int64(limits.SampledQubits)}
	}
	required := sampledBytes(n)
	if mode == ModeExact {
		required = exactBytes(n)
	}
	if limits.MemoryBytes > 0 && required > limits.MemoryBytes {
		return 0, &qerr.ResourceError{Resource: "memory", Required: required, Limit: limits.MemoryBytes}
	}
	return mode, nil
}

// CheckFidelity clamps f into [0,1] when it lies within FidelityTolerance of
// the interval and reports an InstabilityError otherwise.
func CheckFidelity(f float64) (float64, error) {
	if math.IsNaN(f) || f < -FidelityTolerance || f > 1+FidelityTolerance {
		return f, &qerr.InstabilityError{Value: f, Tolerance: FidelityTolerance}
	}
	return math.Min(1, math.Max(0, f)), nil
}

// ExactEvolution scores <psi|rho|psi> with rho evolved as a density matrix.
type ExactEvolution struct{}

func (ExactEvolution) Mode() Mode { return ModeExact }

func (ExactEvolution) Evolve(c *circuit.Circuit, nm *noise.Model) (Estimate, error) {
	psi, err := RunStateVector(c)
	if err != nil {
		return Estimate{}, err
	}
	var raw float64
	if nm.IsEmpty() {
		ip := psi.Inner(psi)
		raw = real(ip)*real(ip) + imag(ip)*imag(ip)
	} else {
		rho, err := RunDensityMatrix(c, nm)
		if err != nil {
			return Estimate{}, err
		}
		raw = real(rho.Expectation(psi))
	}
	f, err := CheckFidelity(raw)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Fidelity: f, Mode: ModeExact}, nil
}

// SampledEvolution draws one error pattern per shot from the noise model,
// evolves each distinct pattern as a pure trajectory and compares the
// shot-averaged outcome distribution with the ideal one by classical
// fidelity. The same seed reproduces the same estimate bit for bit.
//
// Each trajectory contributes its exact outcome distribution, not a measured
// histogram, so the only sampling is over error patterns. Estimate.StdErr,
// 1/sqrt(shots), bounds that fault-sampling error.
type SampledEvolution struct {
	Shots int
	Seed  int64
}

func (SampledEvolution) Mode() Mode { return ModeSampled }

type errorSite struct {
	index  int
	qubits []int
	ch     noise.Channel
}

type faultEvent struct {
	site int
	term int
}

func (e SampledEvolution) Evolve(c *circuit.Circuit, nm *noise.Model) (Estimate, error) {
	shots := e.Shots
	if shots <= 0 {
		shots = DefaultShots
	}
	ideal, err := RunStateVector(c)
	if err != nil {
		return Estimate{}, err
	}
	p := ideal.Probabilities()

	var sites []errorSite
	for i, in := range c.Instructions {
		if ch, ok := nm.ChannelFor(in.Name, len(in.Qubits)); ok {
			sites = append(sites, errorSite{index: i, qubits: in.Qubits, ch: ch})
		}
	}

	q := make([]float64, len(p))
	if len(sites) == 0 {
		copy(q, p)
	} else {
		rng := rand.New(rand.NewSource(e.Seed))
		counts := make(map[string]int)
		patterns := make(map[string][]faultEvent)
		var order []string
		for s := 0; s < shots; s++ {
			pattern := drawPattern(rng, sites)
			key := patternKey(pattern)
			if _, ok := patterns[key]; !ok {
				patterns[key] = pattern
				order = append(order, key)
			}
			counts[key]++
		}
		// first-drawn order keeps the float sums identical across runs
		for _, key := range order {
			n := counts[key]
			dist, err := runTrajectory(c, sites, patterns[key])
			if err != nil {
				return Estimate{}, err
			}
			w := float64(n) / float64(shots)
			for i, v := range dist {
				q[i] += w * v
			}
		}
	}

	bc := 0.0
	for i := range p {
		bc += math.Sqrt(p[i] * q[i])
	}
	f, err := CheckFidelity(bc * bc)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{
		Fidelity: f,
		Mode:     ModeSampled,
		Shots:    shots,
		StdErr:   1 / math.Sqrt(float64(shots)),
	}, nil
}

// drawPattern samples one term per error site by inverse CDF and keeps the
// non-identity draws.
func drawPattern(rng *rand.Rand, sites []errorSite) []faultEvent {
	var out []faultEvent
	for si, site := range sites {
		u := rng.Float64()
		acc := 0.0
		pick := len(site.ch.Terms) - 1
		for ti, t := range site.ch.Terms {
			acc += t.Prob
			if u < acc {
				pick = ti
				break
			}
		}
		if !isIdentity(site.ch.Terms[pick].Pauli) {
			out = append(out, faultEvent{site: si, term: pick})
		}
	}
	return out
}

func isIdentity(label string) bool {
	return strings.Trim(label, "I") == ""
}

func patternKey(pattern []faultEvent) string {
	buf := make([]byte, 0, 8*len(pattern))
	for _, ev := range pattern {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(ev.site))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(ev.term))
	}
	return string(buf)
}

func runTrajectory(c *circuit.Circuit, sites []errorSite, pattern []faultEvent) ([]float64, error) {
	s := NewStateVector(c.NumQubits)
	next := 0
	for i, in := range c.Instructions {
		if err := s.Apply(in); err != nil {
			return nil, err
		}
		for next < len(pattern) && sites[pattern[next].site].index == i {
			site := sites[pattern[next].site]
			s.ApplyPauli(site.ch.Terms[pattern[next].term].Pauli, site.qubits)
			next++
		}
	}
	return s.Probabilities(), nil
}

// NewEvolver returns the evolver for mode.
func NewEvolver(mode Mode, shots int, seed int64) Evolver {
	if mode == ModeSampled {
		return SampledEvolution{Shots: shots, Seed: seed}
	}
	return ExactEvolution{}
}
