package pipeline

import (
	"sync/atomic"

	"github.com/hpungsan/bereel/internal/camera"
	"github.com/hpungsan/bereel/internal/export"
	"github.com/hpungsan/bereel/internal/metrics"
)

type kindCounts struct {
	exported atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// Tally counts outcomes across workers. Its maps are fixed at creation,
// so only the atomic counters change.
type Tally struct {
	kinds     map[export.Kind]*kindCounts
	decisions map[camera.Provenance]*atomic.Int64
	artifacts atomic.Int64
}

// NewTally creates a zeroed tally.
func NewTally() *Tally {
	t := &Tally{
		kinds: make(map[export.Kind]*kindCounts, len(export.Kinds)),
		decisions: map[camera.Provenance]*atomic.Int64{
			camera.Automatic:          {},
			camera.Human:              {},
			camera.FallbackAfterAbort: {},
		},
	}
	for _, k := range export.Kinds {
		t.kinds[k] = &kindCounts{}
	}
	return t
}

// Item counts one item outcome. Unknown kinds are ignored.
func (t *Tally) Item(kind export.Kind, outcome string) {
	c, ok := t.kinds[kind]
	if !ok {
		return
	}
	switch outcome {
	case metrics.OutcomeExported:
		c.exported.Add(1)
	case metrics.OutcomeSkipped:
		c.skipped.Add(1)
	case metrics.OutcomeFailed:
		c.failed.Add(1)
	}
}

// Decision counts one camera role decision.
func (t *Tally) Decision(p camera.Provenance) {
	if c, ok := t.decisions[p]; ok {
		c.Add(1)
	}
}

// Artifact counts one written file.
func (t *Tally) Artifact() {
	t.artifacts.Add(1)
}

// KindSummary is the outcome count of one kind.
type KindSummary struct {
	Exported int64 `json:"exported"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
}

// Summary is the result of a run.
type Summary struct {
	RunID            string                 `json:"run_id,omitempty"`
	Kinds            map[string]KindSummary `json:"kinds"`
	Decisions        map[string]int64       `json:"decisions"`
	ArtifactsWritten int64                  `json:"artifacts_written"`
	Duplicates       int                    `json:"duplicates_dropped"`
	OutsideSpan      int                    `json:"outside_timespan"`
	LoadProblems     int                    `json:"load_problems"`
}

// Totals sums the outcome counts over every kind.
func (s *Summary) Totals() KindSummary {
	var total KindSummary
	for _, k := range s.Kinds {
		total.Exported += k.Exported
		total.Skipped += k.Skipped
		total.Failed += k.Failed
	}
	return total
}

// Summary snapshots the counters.
func (t *Tally) Summary() *Summary {
	s := &Summary{
		Kinds:            make(map[string]KindSummary, len(t.kinds)),
		Decisions:        make(map[string]int64, len(t.decisions)),
		ArtifactsWritten: t.artifacts.Load(),
	}
	for k, c := range t.kinds {
		s.Kinds[string(k)] = KindSummary{
			Exported: c.exported.Load(),
			Skipped:  c.skipped.Load(),
			Failed:   c.failed.Load(),
		}
	}
	for p, c := range t.decisions {
		s.Decisions[string(p)] = c.Load()
	}
	return s
}
