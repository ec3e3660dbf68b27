package circuit

import "strings"

// GateSpec describes how an instruction name may be used.
type GateSpec struct {
	Arity   int  // number of operand qubits; 0 means "one or more" (barrier)
	Params  int  // number of float parameters
	Unitary bool // false for measure and barrier
}

var catalogue = map[string]GateSpec{
	"id":   {Arity: 1, Unitary: true},
	"x":    {Arity: 1, Unitary: true},
	"y":    {Arity: 1, Unitary: true},
	"z":    {Arity: 1, Unitary: true},
	"h":    {Arity: 1, Unitary: true},
	"s":    {Arity: 1, Unitary: true},
	"sdg":  {Arity: 1, Unitary: true},
	"t":    {Arity: 1, Unitary: true},
	"tdg":  {Arity: 1, Unitary: true},
	"sx":   {Arity: 1, Unitary: true},
	"sxdg": {Arity: 1, Unitary: true},
	"rx":   {Arity: 1, Params: 1, Unitary: true},
	"ry":   {Arity: 1, Params: 1, Unitary: true},
	"rz":   {Arity: 1, Params: 1, Unitary: true},
	"p":    {Arity: 1, Params: 1, Unitary: true},
	"u1":   {Arity: 1, Params: 1, Unitary: true},
	"u2":   {Arity: 1, Params: 2, Unitary: true},
	"u3":   {Arity: 1, Params: 3, Unitary: true},
	"cx":   {Arity: 2, Unitary: true},
	"cz":   {Arity: 2, Unitary: true},
	"ecr":  {Arity: 2, Unitary: true},
	"swap": {Arity: 2, Unitary: true},
	"ccx":  {Arity: 3, Unitary: true},

	"measure": {Arity: 1},
	"barrier": {Arity: 0},
}

var aliases = map[string]string{
	"cnot":    "cx",
	"ccnot":   "ccx",
	"toffoli": "ccx",
	"u":       "u3",
	"phase":   "p",
	"i":       "id",
	"m":       "measure",
}

// Lookup returns the spec for a canonical gate name.
func Lookup(name string) (GateSpec, bool) {
	g, ok := catalogue[name]
	return g, ok
}

// CanonicalName lowercases a gate name and resolves editor aliases such as
// CNOT or TOFFOLI.
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		return a
	}
	return n
}

// IsDirective reports whether the instruction is ignored by depth and size.
func IsDirective(name string) bool {
	return name == "barrier"
}
