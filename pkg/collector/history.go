// Package collector holds the posted-and-loaded observation history and
// answers the range, last-change, and aggregate queries the HTTP surface
// serves.
package collector

import (
	"errors"
	"sort"
	"sync"

	"github.com/FauxFaux/facto-exporter/pkg/record"
)

// ErrEmptyHistory is returned by queries that need at least one
// observation to answer anything.
var ErrEmptyHistory = errors.New("collector: history is empty")

// History is the in-memory snapshot history: arrival-ordered on insert,
// read access sorts/dedups by timestamp-second on demand since archive
// replay at startup and live POSTs can interleave out of order.
type History struct {
	mu  sync.RWMutex
	obs []record.Observation
}

// NewHistory returns an empty history ready to accept observations.
func NewHistory() *History {
	return &History{}
}

// Append adds o to the history. Safe for concurrent use with queries.
func (h *History) Append(o record.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.obs = append(h.obs, o)
}

// Len reports how many observations are currently held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.obs)
}

// sortedByTime returns a copy of the held observations sorted ascending
// by unix-second timestamp and deduped on that same key, keeping the
// first occurrence of each second. Callers must hold at least a read
// lock; this is a plain helper, not a method, so it doesn't re-lock.
func sortedByTime(obs []record.Observation) []record.Observation {
	cp := make([]record.Observation, len(obs))
	copy(cp, obs)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Ts() < cp[j].Ts() })

	out := cp[:0:0]
	var lastTs int64
	haveLast := false
	for _, o := range cp {
		if haveLast && o.Ts() == lastTs {
			continue
		}
		out = append(out, o)
		lastTs = o.Ts()
		haveLast = true
	}
	return out
}

// snapshot returns a timestamp-sorted, deduped copy of the history under
// a read lock, and whether it is empty.
func (h *History) snapshot() ([]record.Observation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.obs) == 0 {
		return nil, false
	}
	return sortedByTime(h.obs), true
}

// last returns the most recently arrived observation (arrival order, not
// timestamp order: /metrics/raw wants "the last thing posted").
func (h *History) last() (record.Observation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.obs) == 0 {
		return record.Observation{}, false
	}
	return h.obs[len(h.obs)-1], true
}

// Latest is last's exported form, satisfying promexport.LatestSource.
func (h *History) Latest() (record.Observation, bool) {
	return h.last()
}
