package collector

import "github.com/FauxFaux/facto-exporter/pkg/record"

// UnitChange is one unit's last-change summary: when its production last
// moved, and when and from-what its status last changed.
type UnitChange struct {
	ProducedChange   *int64
	LastStatus       *uint32
	LastStatusChange *int64
	PreviousStatus   *uint32
}

func (u *UnitChange) allComplete() bool {
	return u.ProducedChange != nil && u.LastStatus != nil &&
		u.PreviousStatus != nil && u.LastStatusChange != nil
}

// statusOf scans obs (arrival order, most recent last) newest-first for
// unit, tracking the first products change and the first status change
// it finds walking backward in time.
func statusOf(obs []record.Observation, unit uint32) UnitChange {
	var out UnitChange
	var producedPrev *uint32
	var statusPrev *uint32

	for i := len(obs) - 1; i >= 0; i-- {
		o := obs[i]
		c, found := o.Find(unit)
		if !found {
			continue
		}

		if out.ProducedChange == nil {
			if producedPrev != nil && *producedPrev != c.ProductsComplete {
				ts := o.Ts()
				out.ProducedChange = &ts
			}
			p := c.ProductsComplete
			producedPrev = &p
		}

		if out.LastStatus == nil {
			s := c.Status
			out.LastStatus = &s
		}

		if out.LastStatusChange == nil {
			if statusPrev != nil && *statusPrev != c.Status {
				ts := o.Ts()
				out.LastStatusChange = &ts
				older := c.Status
				out.PreviousStatus = &older
			}
			s := c.Status
			statusPrev = &s
		}

		if out.allComplete() {
			break
		}
	}
	return out
}

// Last returns each requested unit's last-change summary, scanning
// arrival-order history (not timestamp-sorted), matching how the
// extractor's POST order reflects real time for a single running
// session.
func (h *History) Last(units []uint32) (map[uint32]UnitChange, error) {
	h.mu.RLock()
	obs := make([]record.Observation, len(h.obs))
	copy(obs, h.obs)
	h.mu.RUnlock()

	if len(obs) == 0 {
		return nil, ErrEmptyHistory
	}

	changes := make(map[uint32]UnitChange, len(units))
	for _, u := range units {
		changes[u] = statusOf(obs, u)
	}
	return changes, nil
}

// BulkStatus returns the last-change summary for every unit present in
// the most recently arrived observation.
func (h *History) BulkStatus() (map[uint32]UnitChange, error) {
	h.mu.RLock()
	obs := make([]record.Observation, len(h.obs))
	copy(obs, h.obs)
	h.mu.RUnlock()

	if len(obs) == 0 {
		return nil, ErrEmptyHistory
	}

	latest := obs[len(obs)-1]
	changes := make(map[uint32]UnitChange, len(latest.Units))
	for _, c := range latest.Units {
		changes[c.UnitNumber] = statusOf(obs, c.UnitNumber)
	}
	return changes, nil
}
