package circuit

import (
	"math"

	"github.com/perclft/qtranspile/backend/qerr"
)

// Validate checks the circuit against the gate catalogue and an addressable
// qubit range. maxQubits <= 0 skips the range check against a backend.
func (c *Circuit) Validate(maxQubits int) error {
	if c == nil {
		return qerr.Invalid("nil circuit")
	}
	if c.NumQubits <= 0 {
		return qerr.Invalid("circuit must declare at least one qubit, got %d", c.NumQubits)
	}
	if maxQubits > 0 && c.NumQubits > maxQubits {
		return qerr.Invalid("circuit declares %d qubits, backend addresses %d", c.NumQubits, maxQubits)
	}

	measured := make(map[int]bool)
	for i, in := range c.Instructions {
		spec, ok := Lookup(in.Name)
		if !ok {
			return qerr.Invalid("instruction %d: unknown gate %q", i, in.Name)
		}
		if spec.Arity > 0 && len(in.Qubits) != spec.Arity {
			return qerr.Invalid("instruction %d: %s takes %d qubits, got %d", i, in.Name, spec.Arity, len(in.Qubits))
		}
		if spec.Arity == 0 && len(in.Qubits) == 0 {
			return qerr.Invalid("instruction %d: %s needs at least one qubit", i, in.Name)
		}
		if len(in.Params) != spec.Params {
			return qerr.Invalid("instruction %d: %s takes %d params, got %d", i, in.Name, spec.Params, len(in.Params))
		}
		for _, p := range in.Params {
			if math.IsNaN(p) || math.IsInf(p, 0) {
				return qerr.Invalid("instruction %d: %s has non-finite parameter", i, in.Name)
			}
		}

		seen := make(map[int]bool, len(in.Qubits))
		for _, q := range in.Qubits {
			if q < 0 || q >= c.NumQubits {
				return qerr.Invalid("instruction %d: qubit %d outside circuit range [0,%d)", i, q, c.NumQubits)
			}
			if maxQubits > 0 && q >= maxQubits {
				return qerr.Invalid("instruction %d: qubit %d outside backend range [0,%d)", i, q, maxQubits)
			}
			if seen[q] {
				return qerr.Invalid("instruction %d: %s repeats qubit %d", i, in.Name, q)
			}
			seen[q] = true
		}

		// Outcomes are read from the final state, so a measured qubit must
		// not be acted on again.
		if in.Name != "barrier" {
			for _, q := range in.Qubits {
				if measured[q] {
					return qerr.Invalid("instruction %d: qubit %d used after measurement", i, q)
				}
			}
		}
		if in.Name == "measure" {
			measured[in.Qubits[0]] = true
		}
	}
	return nil
}
