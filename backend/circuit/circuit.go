// Package circuit is the instruction-level circuit model handed to the
// analysis engine by the circuit editor.
package circuit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
)

// Instruction is one gate application.
type Instruction struct {
	Name   string    `json:"name"`
	Qubits []int     `json:"qubits"`
	Params []float64 `json:"params,omitempty"`
}

// Circuit is an ordered instruction sequence over NumQubits qubits.
type Circuit struct {
	Name         string        `json:"name"`
	NumQubits    int           `json:"num_qubits"`
	Instructions []Instruction `json:"instructions"`
}

// New creates an empty circuit.
func New(name string, numQubits int) *Circuit {
	return &Circuit{Name: name, NumQubits: numQubits}
}

// Append adds an instruction and returns the circuit for chaining.
func (c *Circuit) Append(name string, qubits []int, params ...float64) *Circuit {
	in := Instruction{Name: name, Qubits: append([]int(nil), qubits...)}
	if len(params) > 0 {
		in.Params = append([]float64(nil), params...)
	}
	c.Instructions = append(c.Instructions, in)
	return c
}

// Clone returns a deep copy.
func (c *Circuit) Clone() *Circuit {
	out := &Circuit{
		Name:         c.Name,
		NumQubits:    c.NumQubits,
		Instructions: make([]Instruction, len(c.Instructions)),
	}
	for i, in := range c.Instructions {
		out.Instructions[i] = in.clone()
	}
	return out
}

func (in Instruction) clone() Instruction {
	out := Instruction{Name: in.Name, Qubits: append([]int(nil), in.Qubits...)}
	if len(in.Params) > 0 {
		out.Params = append([]float64(nil), in.Params...)
	}
	return out
}

// ActiveQubits returns the sorted set of qubits touched by any instruction.
func (c *Circuit) ActiveQubits() []int {
	seen := make(map[int]struct{})
	for _, in := range c.Instructions {
		for _, q := range in.Qubits {
			seen[q] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Ints(out)
	return out
}

// Compact relabels the active qubits onto 0..k-1, preserving their order.
// Routed circuits address physical qubits of a large device; only the
// touched ones need to be simulated.
func (c *Circuit) Compact() *Circuit {
	active := c.ActiveQubits()
	index := make(map[int]int, len(active))
	for i, q := range active {
		index[q] = i
	}
	out := &Circuit{Name: c.Name, NumQubits: len(active)}
	if out.NumQubits == 0 {
		out.NumQubits = 1
	}
	out.Instructions = make([]Instruction, len(c.Instructions))
	for i, in := range c.Instructions {
		cp := in.clone()
		for j, q := range cp.Qubits {
			cp.Qubits[j] = index[q]
		}
		out.Instructions[i] = cp
	}
	return out
}

// Fingerprint is a stable sha256 over the circuit contents, used as a cache key.
func (c *Circuit) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	writeInt(c.NumQubits)
	for _, in := range c.Instructions {
		h.Write([]byte(in.Name))
		h.Write([]byte{0})
		writeInt(len(in.Qubits))
		for _, q := range in.Qubits {
			writeInt(q)
		}
		writeInt(len(in.Params))
		for _, p := range in.Params {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Bell returns the two-qubit maximally entangled preparation.
func Bell() *Circuit {
	return New("bell", 2).
		Append("h", []int{0}).
		Append("cx", []int{0, 1})
}

// GHZ returns an n-qubit GHZ preparation: H on qubit 0 followed by a CX ladder.
func GHZ(n int) *Circuit {
	c := New("ghz", n)
	c.Append("h", []int{0})
	for i := 0; i < n-1; i++ {
		c.Append("cx", []int{i, i + 1})
	}
	return c
}
