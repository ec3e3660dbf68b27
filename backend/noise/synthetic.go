package noise

import (
	"github.com/perclft/qtranspile/backend/qerr"
)

// Kind selects a canonical stress-test channel.
type Kind string

const (
	// KindDepolarizing is a single-qubit depolarizing channel on every
	// single-qubit gate.
	KindDepolarizing Kind = "depolarizing"
	// KindBitFlip is a two-qubit Pauli-X flip channel on cx.
	KindBitFlip Kind = "bitflip"
)

// ParseKind accepts the CLI spelling of a synthetic channel kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "depolarizing", "depol":
		return KindDepolarizing, nil
	case "bitflip", "bit-flip", "pauli":
		return KindBitFlip, nil
	}
	return "", qerr.Invalid("unknown noise kind %q", s)
}

// Synthetic builds one of the canonical stress-test models. It is
// deterministic in (kind, p).
func Synthetic(kind Kind, p float64) (*Model, error) {
	if err := checkProbability(p); err != nil {
		return nil, err
	}
	b := NewBuilder("synthetic:" + string(kind))
	switch kind {
	case KindDepolarizing:
		ch, err := Depolarizing(p, 1)
		if err != nil {
			return nil, err
		}
		if err := b.Add(Wildcard, ch); err != nil {
			return nil, err
		}
	case KindBitFlip:
		ch, err := BitFlip(p, 2)
		if err != nil {
			return nil, err
		}
		if err := b.Add("cx", ch); err != nil {
			return nil, err
		}
	default:
		return nil, qerr.Invalid("unknown noise kind %q", kind)
	}
	return b.Build()
}
