package collector

import (
	"sort"

	"github.com/FauxFaux/facto-exporter/pkg/record"
)

// QueryResult is the decoded shape of GET /api/query's response.
type QueryResult struct {
	Units    []uint32
	Times    []int64
	Deltas   [][]*int64
	Statuses [][]*uint32
}

// Query selects steps observations at gap-second spacing ending at end,
// by binary-searching the sorted unix-second timestamps, and reports
// per-unit (products, status) at each selected step plus consecutive
// products deltas. Each step takes the earliest observation at or after
// its target second, with any target past the newest observation
// clamped to the newest observation.
func (h *History) Query(steps int, gap int64, end int64, units []uint32) (QueryResult, error) {
	obs, ok := h.snapshot()
	if !ok {
		return QueryResult{}, ErrEmptyHistory
	}

	allTs := make([]int64, len(obs))
	for i, o := range obs {
		allTs[i] = o.Ts()
	}

	selected := make([]record.Observation, steps)
	for step := 0; step < steps; step++ {
		target := end - int64(step)*gap
		idx := sort.Search(len(allTs), func(i int) bool { return allTs[i] >= target })
		if idx >= len(obs) {
			idx = len(obs) - 1
		}
		selected[steps-1-step] = obs[idx]
	}

	times := make([]int64, steps)
	for i, o := range selected {
		times[i] = o.Ts()
	}

	type pair struct {
		products uint32
		status   uint32
		present  bool
	}
	byUnit := make([][]pair, len(units))
	for u := range units {
		byUnit[u] = make([]pair, steps)
	}

	for s, o := range selected {
		for u, unit := range units {
			if c, found := o.Find(unit); found {
				byUnit[u][s] = pair{products: c.ProductsComplete, status: c.Status, present: true}
			}
		}
	}

	statuses := make([][]*uint32, len(units))
	deltas := make([][]*int64, len(units))
	for u := range units {
		statuses[u] = make([]*uint32, steps)
		for s, p := range byUnit[u] {
			if p.present {
				v := p.status
				statuses[u][s] = &v
			}
		}

		d := make([]*int64, 0, steps-1)
		for s := 0; s+1 < steps; s++ {
			a, b := byUnit[u][s], byUnit[u][s+1]
			if !a.present || !b.present {
				d = append(d, nil)
				continue
			}
			delta := int64(b.products) - int64(a.products)
			if delta < 0 {
				d = append(d, nil)
				continue
			}
			d = append(d, &delta)
		}
		deltas[u] = d
	}

	return QueryResult{Units: units, Times: times, Deltas: deltas, Statuses: statuses}, nil
}
