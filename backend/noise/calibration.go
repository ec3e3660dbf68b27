package noise

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/perclft/qtranspile/backend/qerr"
)

// ErrNoCalibration is returned when a backend carries no calibration data.
var ErrNoCalibration = errors.New("no calibration data")

// Calibration is a device calibration snapshot.
type Calibration struct {
	LastUpdate   time.Time          `json:"last_update"`
	T1           map[int]float64    `json:"t1"`            // T1 times per qubit (μs)
	T2           map[int]float64    `json:"t2"`            // T2 times per qubit (μs)
	ReadoutError map[int]float64    `json:"readout_error"` // Per-qubit readout error
	GateErrors   map[string]float64 `json:"gate_errors"`   // Average gate infidelity per gate name
	GateTimes    map[string]float64 `json:"gate_times"`    // Gate durations (ns)
	Connectivity [][2]int           `json:"connectivity"`  // Qubit coupling graph
}

var twoQubitGates = map[string]bool{"cx": true, "cz": true, "ecr": true, "swap": true}

// FromCalibration derives a device noise model: a depolarizing channel per
// calibrated gate (from its average infidelity), composed with the Pauli
// twirl of thermal relaxation when T1/T2 and gate times are known, plus a
// bit flip before measurement from the mean readout error.
func FromCalibration(cal *Calibration) (*Model, error) {
	if cal == nil {
		return nil, ErrNoCalibration
	}

	t1, err := meanPositive("t1", cal.T1)
	if err != nil {
		return nil, err
	}
	t2, err := meanPositive("t2", cal.T2)
	if err != nil {
		return nil, err
	}
	if t1 > 0 && t2 > 2*t1 {
		return nil, qerr.Invalid("calibration t2 %g exceeds 2*t1 %g", t2, 2*t1)
	}

	b := NewBuilder("calibration")
	names := make([]string, 0, len(cal.GateErrors))
	for name := range cal.GateErrors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := cal.GateErrors[name]
		if math.IsNaN(e) || e < 0 || e > 1 {
			return nil, qerr.Invalid("calibration gate %s error %g outside [0,1]", name, e)
		}
		arity := 1
		if twoQubitGates[name] {
			arity = 2
		}
		// average infidelity e of a d-dimensional depolarizing channel with
		// parameter lambda is lambda*(d-1)/d
		d := float64(int(1) << arity)
		lambda := math.Min(1, e*d/(d-1))
		ch, err := Depolarizing(lambda, arity)
		if err != nil {
			return nil, err
		}

		if gt, ok := cal.GateTimes[name]; ok && t1 > 0 && t2 > 0 {
			if math.IsNaN(gt) || gt < 0 {
				return nil, qerr.Invalid("calibration gate %s time %g invalid", name, gt)
			}
			relax := thermalRelaxation(gt/1000, t1, t2)
			if arity == 2 {
				relax = Tensor(relax, relax)
			}
			if ch, err = Compose(ch, relax); err != nil {
				return nil, err
			}
		}
		if err := b.Add(name, ch); err != nil {
			return nil, err
		}
	}

	if len(cal.ReadoutError) > 0 {
		r := 0.0
		for _, q := range sortedQubits(cal.ReadoutError) {
			v := cal.ReadoutError[q]
			if math.IsNaN(v) || v < 0 || v > 1 {
				return nil, qerr.Invalid("calibration readout error %g on qubit %d outside [0,1]", v, q)
			}
			r += v
		}
		ch, err := BitFlip(r/float64(len(cal.ReadoutError)), 1)
		if err != nil {
			return nil, err
		}
		if err := b.Add("measure", ch); err != nil {
			return nil, err
		}
	}

	return b.Build()
}

func meanPositive(field string, values map[int]float64) (float64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	sum := 0.0
	for _, q := range sortedQubits(values) {
		v := values[q]
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return 0, qerr.Invalid("calibration %s %g on qubit %d must be positive", field, v, q)
		}
		sum += v
	}
	return sum / float64(len(values)), nil
}

// sortedQubits fixes summation order so derived models fingerprint stably.
func sortedQubits(values map[int]float64) []int {
	qs := make([]int, 0, len(values))
	for q := range values {
		qs = append(qs, q)
	}
	sort.Ints(qs)
	return qs
}
