package collector

import (
	"errors"
	"sort"
	"time"

	"github.com/FauxFaux/facto-exporter/pkg/record"
)

// ErrTooFewSteps means steps was zero, or the observation window didn't
// have enough distinct timestamps to form more than one chunk.
var ErrTooFewSteps = errors.New("collector: too few steps")

// LongChunkSummary is one chunk's span: how many observations it held
// and the RFC3339 timestamps of its first and last.
type LongChunkSummary struct {
	Observations int
	Dates        [2]string
}

// LongUnitStep is one unit's per-chunk summary: a count per status code
// seen in the chunk, and the products delta versus the same unit's last
// record in the previous chunk.
type LongUnitStep struct {
	Statuses map[uint32]int
	Products uint32
}

// LongResult is GET /api/long's decoded response shape.
type LongResult struct {
	Units   []uint32
	Summary []LongChunkSummary
	Steps   [][]LongUnitStep
}

// Long partitions the timestamp-sorted, deduped observation history
// between start and end into chunks of len(window)/steps records each,
// mirroring Rust's .chunks(n): the trailing chunk holds whatever's left
// over and so can be smaller than the rest, and the chunk count can
// exceed steps when the window doesn't divide evenly. It reports per
// chunk and per unit a status-code histogram plus the products delta
// against the previous chunk's last record for that unit.
func (h *History) Long(units []uint32, steps int, start, end time.Time) (LongResult, error) {
	if steps <= 0 {
		return LongResult{}, ErrTooFewSteps
	}

	all, ok := h.snapshot()
	if !ok {
		return LongResult{}, ErrEmptyHistory
	}

	startTs, endTs := start.Unix(), end.Unix()
	startIdx := sort.Search(len(all), func(i int) bool { return all[i].Ts() >= startTs })
	endIdx := sort.Search(len(all), func(i int) bool { return all[i].Ts() >= endTs })
	if endIdx > len(all) {
		endIdx = len(all)
	}
	if startIdx > endIdx {
		startIdx = endIdx
	}
	window := all[startIdx:endIdx]

	chunkSize := len(window) / steps
	if chunkSize <= 0 {
		return LongResult{}, ErrTooFewSteps
	}

	var chunks [][]record.Observation
	for i := 0; i < len(window); i += chunkSize {
		e := i + chunkSize
		if e > len(window) {
			e = len(window)
		}
		chunks = append(chunks, window[i:e])
	}
	if len(chunks) <= 1 {
		return LongResult{}, ErrTooFewSteps
	}

	summary := make([]LongChunkSummary, len(chunks))
	for i, c := range chunks {
		summary[i] = LongChunkSummary{
			Observations: len(c),
			Dates: [2]string{
				formatRFC3339Seconds(c[0].Time),
				formatRFC3339Seconds(c[len(c)-1].Time),
			},
		}
	}

	wantedUnits := make(map[uint32]bool, len(units))
	for _, u := range units {
		wantedUnits[u] = true
	}

	outSteps := make([][]LongUnitStep, len(chunks))
	prevProducts := make(map[uint32]uint32, len(units))
	for ci, chunk := range chunks {
		stepStatuses := make(map[uint32]map[uint32]int, len(units))
		stepProducts := make(map[uint32]uint32, len(units))

		// walk newest-to-oldest within the chunk; position 0 (the
		// chunk's newest observation) is what feeds the products delta
		// against the previous chunk's newest-observation value.
		for pos, i := 0, len(chunk)-1; i >= 0; pos, i = pos+1, i-1 {
			o := chunk[i]
			for _, c := range o.Units {
				if !wantedUnits[c.UnitNumber] {
					continue
				}
				if stepStatuses[c.UnitNumber] == nil {
					stepStatuses[c.UnitNumber] = make(map[uint32]int)
				}
				stepStatuses[c.UnitNumber][c.Status]++

				if pos != 0 {
					continue
				}
				if prev, ok := prevProducts[c.UnitNumber]; ok {
					stepProducts[c.UnitNumber] = c.ProductsComplete - prev
				}
				prevProducts[c.UnitNumber] = c.ProductsComplete
			}
		}

		row := make([]LongUnitStep, len(units))
		for ui, u := range units {
			row[ui] = LongUnitStep{
				Statuses: stepStatuses[u],
				Products: stepProducts[u],
			}
		}
		outSteps[ci] = row
	}

	return LongResult{Units: units, Summary: summary, Steps: outSteps}, nil
}

func formatRFC3339Seconds(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
