package analysis

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/perclft/qtranspile/backend/qerr"
)

// ParseLevels reads a comma-separated level list such as "0,1,2,3".
// Whitespace is ignored; duplicates are kept for NormalizeLevels to drop.
func ParseLevels(s string) ([]int, error) {
	var levels []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		l, err := strconv.Atoi(field)
		if err != nil {
			return nil, qerr.Invalid("level %q is not an integer", field)
		}
		levels = append(levels, l)
	}
	if len(levels) == 0 {
		return nil, qerr.Invalid("no optimization levels in %q", s)
	}
	return levels, nil
}

// NormalizeLevels deduplicates and sorts levels and checks each against
// [0, maxLevel].
func NormalizeLevels(levels []int, maxLevel int) ([]int, error) {
	seen := make(map[int]bool, len(levels))
	out := make([]int, 0, len(levels))
	for _, l := range levels {
		if l < 0 || l > maxLevel {
			return nil, qerr.Invalid("optimization level %d outside [0,%d]", l, maxLevel)
		}
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return nil, qerr.Invalid("no optimization levels requested")
	}
	sort.Ints(out)
	return out, nil
}

// Seed derives the sampling seed of one (backend, level) pair.
func Seed(backend string, level int, base int64) int64 {
	h := fnv.New64a()
	h.Write([]byte(backend))
	return int64(h.Sum64() ^ uint64(level+1)*0x9E3779B97F4A7C15 ^ uint64(base))
}
