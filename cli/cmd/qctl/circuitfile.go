package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/perclft/qtranspile/backend/circuit"
)

// CircuitFile is the editor's circuit DSL. Files with an "instructions" key
// are read as the native circuit model instead.
type CircuitFile struct {
	Name   string `json:"name"`
	Qubits int    `json:"qubits"`
	Ops    []struct {
		Gate     string    `json:"gate"`
		Target   int       `json:"target"`
		Control  int       `json:"control"`
		Control2 int       `json:"control2"` // For Toffoli
		Angle    float64   `json:"angle"`    // For Rotations
		Params   []float64 `json:"params"`
	} `json:"ops"`
}

func loadCircuit(path string) (*circuit.Circuit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if _, native := probe["instructions"]; native {
		var c circuit.Circuit
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("invalid circuit: %w", err)
		}
		for i := range c.Instructions {
			c.Instructions[i].Name = circuit.CanonicalName(c.Instructions[i].Name)
		}
		return &c, nil
	}
	var f CircuitFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	return f.Circuit()
}

// Circuit converts the DSL. Operands are ordered controls first.
func (f CircuitFile) Circuit() (*circuit.Circuit, error) {
	c := circuit.New(f.Name, f.Qubits)
	for i, op := range f.Ops {
		name := circuit.CanonicalName(op.Gate)
		spec, ok := circuit.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("op %d: unknown gate type %s", i, op.Gate)
		}

		var qubits []int
		switch spec.Arity {
		case 0:
			for q := 0; q < f.Qubits; q++ {
				qubits = append(qubits, q)
			}
		case 1:
			qubits = []int{op.Target}
		case 2:
			qubits = []int{op.Control, op.Target}
		case 3:
			qubits = []int{op.Control, op.Control2, op.Target}
		}

		params := op.Params
		if len(params) == 0 && spec.Params == 1 {
			params = []float64{op.Angle}
		}
		c.Append(name, qubits, params...)
	}
	return c, nil
}

func sampleCircuit(name string, qubits int) (*circuit.Circuit, error) {
	switch name {
	case "bell":
		return circuit.Bell(), nil
	case "ghz":
		return circuit.GHZ(qubits), nil
	}
	return nil, fmt.Errorf("unknown sample %q (bell, ghz)", name)
}
