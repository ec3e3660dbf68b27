package circuit

// Depth is the longest chain of instructions ordered by shared qubits.
// Barriers do not contribute.
func (c *Circuit) Depth() int {
	// layer[q] is the depth reached by the last instruction on qubit q
	layer := make(map[int]int)
	depth := 0
	for _, in := range c.Instructions {
		if IsDirective(in.Name) {
			continue
		}
		l := 0
		for _, q := range in.Qubits {
			if layer[q] > l {
				l = layer[q]
			}
		}
		l++
		for _, q := range in.Qubits {
			layer[q] = l
		}
		if l > depth {
			depth = l
		}
	}
	return depth
}

// Size is the number of non-directive instructions.
func (c *Circuit) Size() int {
	n := 0
	for _, in := range c.Instructions {
		if !IsDirective(in.Name) {
			n++
		}
	}
	return n
}

// Ops counts instructions by name, directives included.
func (c *Circuit) Ops() map[string]int {
	ops := make(map[string]int)
	for _, in := range c.Instructions {
		ops[in.Name]++
	}
	return ops
}
