// Package noise describes per-instruction Pauli error channels attached to a
// backend, either synthesized for stress tests or derived from calibration.
package noise

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/perclft/qtranspile/backend/circuit"
	"github.com/perclft/qtranspile/backend/qerr"
)

// Wildcard keys a channel that applies to every unitary gate of matching arity.
const Wildcard = "all"

// Model is an immutable mapping from instruction name (or Wildcard) to an
// error channel applied after that instruction.
type Model struct {
	source   string
	channels map[string]Channel
}

// Empty returns the no-op model.
func Empty() *Model {
	return &Model{source: "none", channels: map[string]Channel{}}
}

// Builder assembles a Model; Build validates every channel.
type Builder struct {
	source   string
	channels map[string]Channel
}

func NewBuilder(source string) *Builder {
	return &Builder{source: source, channels: make(map[string]Channel)}
}

// Add attaches ch to the named instruction, composing with any channel
// already attached to it.
func (b *Builder) Add(instruction string, ch Channel) error {
	if prev, ok := b.channels[instruction]; ok {
		composed, err := Compose(prev, ch)
		if err != nil {
			return fmt.Errorf("instruction %s: %w", instruction, err)
		}
		ch = composed
	}
	b.channels[instruction] = ch
	return nil
}

func (b *Builder) Build() (*Model, error) {
	m := &Model{source: b.source, channels: make(map[string]Channel, len(b.channels))}
	for name, ch := range b.channels {
		if err := ch.Validate(); err != nil {
			return nil, fmt.Errorf("instruction %s: %w", name, err)
		}
		if spec, ok := circuit.Lookup(name); ok && spec.Arity > 0 && spec.Arity != ch.Qubits {
			return nil, qerr.Invalid("instruction %s acts on %d qubits, channel on %d", name, spec.Arity, ch.Qubits)
		}
		if ch.IsIdentity() {
			continue
		}
		m.channels[name] = ch
	}
	return m, nil
}

// Source names where the model came from: "none", "calibration" or
// "synthetic:<kind>".
func (m *Model) Source() string { return m.source }

// IsEmpty reports whether no instruction carries an error.
func (m *Model) IsEmpty() bool { return m == nil || len(m.channels) == 0 }

// ChannelFor returns the channel applied after an instruction with the given
// name and operand count. Named entries win over the wildcard; the wildcard
// only covers unitary gates.
func (m *Model) ChannelFor(name string, arity int) (Channel, bool) {
	if m.IsEmpty() {
		return Channel{}, false
	}
	if ch, ok := m.channels[name]; ok && ch.Qubits == arity {
		return ch, true
	}
	spec, ok := circuit.Lookup(name)
	if !ok || !spec.Unitary {
		return Channel{}, false
	}
	if ch, ok := m.channels[Wildcard]; ok && ch.Qubits == arity {
		return ch, true
	}
	return Channel{}, false
}

// Instructions lists the keys that carry a channel, sorted.
func (m *Model) Instructions() []string {
	out := make([]string, 0, len(m.channels))
	for name := range m.channels {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Channel returns the channel stored under an exact key.
func (m *Model) Channel(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

// Validate re-checks every channel's probability invariant.
func (m *Model) Validate() error {
	for _, name := range m.Instructions() {
		if err := m.channels[name].Validate(); err != nil {
			return fmt.Errorf("instruction %s: %w", name, err)
		}
	}
	return nil
}

// Fingerprint identifies the model contents for cache keys. Two models
// derived from the same calibration snapshot share a fingerprint.
func (m *Model) Fingerprint() string {
	if m.IsEmpty() {
		return "none"
	}
	h := sha256.New()
	for _, name := range m.Instructions() {
		ch := m.channels[name]
		fmt.Fprintf(h, "%s=%d[", name, ch.Qubits)
		for _, t := range ch.Terms {
			fmt.Fprintf(h, "%s:%b,", t.Pauli, t.Prob)
		}
		h.Write([]byte("];"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
