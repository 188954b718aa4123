package collector

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseUnits parses a comma-separated list of decimal uint32 unit
// numbers, sorts and dedups the result. An empty or malformed entry is
// an error.
func ParseUnits(csv string) ([]uint32, error) {
	parts := strings.Split(csv, ",")
	units := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("collector: empty unit in list %q", csv)
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("collector: invalid unit %q: %w", p, err)
		}
		units = append(units, uint32(v))
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	out := units[:0:0]
	var last uint32
	haveLast := false
	for _, u := range units {
		if haveLast && u == last {
			continue
		}
		out = append(out, u)
		last = u
		haveLast = true
	}
	return out, nil
}
