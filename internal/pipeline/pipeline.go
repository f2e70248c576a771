// Package pipeline exports planned captures in parallel: skip checks,
// camera decisions, view copies, composites, and tagging.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/camera"
	"github.com/hpungsan/bereel/internal/composite"
	"github.com/hpungsan/bereel/internal/errors"
	"github.com/hpungsan/bereel/internal/export"
	"github.com/hpungsan/bereel/internal/logging"
	"github.com/hpungsan/bereel/internal/metadata"
	"github.com/hpungsan/bereel/internal/metrics"
)

// Stages named in logs and the stage duration histogram.
const (
	StageCopy      = "copy"
	StageTag       = "tag"
	StageDecide    = "decide"
	StageDecode    = "decode"
	StageCompose   = "compose"
	StageComposite = "composite"
	StageItem      = "item"
)

// Deps are the collaborators of a run. Zero values are usable: no tagging,
// automatic decisions, private metrics, no progress output.
type Deps struct {
	// Writer tags artifacts; nil only sets file times
	Writer metadata.Writer

	// Arbiter resolves unlabelled pairs; nil decides automatically
	Arbiter *camera.Arbiter

	Metrics  *metrics.Metrics
	Progress Progress
	Logger   *zap.Logger

	// Workers bounds concurrent items
	Workers int
}

type runner struct {
	deps  Deps
	tally *Tally
}

// Run exports every item of plan and returns the tally. Per-item failures
// are logged and counted; only a FATAL error (or ctx ending) stops the run,
// in which case the partial summary is returned with the error.
func Run(ctx context.Context, deps Deps, plan *Plan) (*Summary, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Progress == nil {
		deps.Progress = noProgress{}
	}
	if deps.Arbiter == nil {
		deps.Arbiter = camera.NewArbiter(nil, deps.Logger)
	}

	r := &runner{deps: deps, tally: NewTally()}
	for _, f := range plan.Failures {
		r.count(f.Kind, metrics.OutcomeFailed)
	}

	if err := ensureDirs(plan.Items); err != nil {
		return r.tally.Summary(), err
	}

	present := make([]bool, len(plan.Items))
	prompts := 0
	for i := range plan.Items {
		present[i] = plan.Items[i].Present()
		if !present[i] && plan.Items[i].Shape == ShapePair {
			prompts++
		}
	}
	deps.Arbiter.SetTotal(prompts)

	pool, _ := NewPool(ctx, deps.Workers)
	for i := range plan.Items {
		it, skip := &plan.Items[i], present[i]
		if err := pool.Go(func(ctx context.Context, s *Slot) error {
			return r.process(ctx, s, it, skip)
		}); err != nil {
			break
		}
	}
	err := pool.Wait()
	deps.Progress.Finish()

	summary := r.tally.Summary()
	if err != nil {
		if errors.IsFatal(err) {
			return summary, err
		}
		return summary, errors.NewFatal("run aborted", err)
	}
	if err := ctx.Err(); err != nil {
		return summary, errors.NewFatal("run cancelled", err)
	}
	return summary, nil
}

func ensureDirs(items []Item) error {
	seen := make(map[string]bool)
	for i := range items {
		dir := items[i].Dir
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewFatal("cannot create output directory", err)
		}
	}
	return nil
}

// Present reports whether every artifact of the item already exists, so a
// rerun leaves it alone.
func (it *Item) Present() bool {
	for _, paths := range it.Targets() {
		if !anyExists(paths) {
			return false
		}
	}
	return true
}

func anyExists(paths []string) bool {
	for _, p := range paths {
		if exists(p) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (r *runner) count(kind export.Kind, outcome string) {
	r.tally.Item(kind, outcome)
	r.deps.Metrics.Items.WithLabelValues(string(kind), outcome).Inc()
}

func (r *runner) fields(it *Item, stage string) []zap.Field {
	return logging.Record(string(it.Record.Kind), it.Record.ID, stage)
}

// process runs one item. It returns an error only for run-stopping failures.
func (r *runner) process(ctx context.Context, slot *Slot, it *Item, present bool) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.deps.Logger.Error("item panicked", append(r.fields(it, StageItem), zap.Any("panic", p))...)
			r.count(it.Record.Kind, metrics.OutcomeFailed)
			r.deps.Progress.Add(1)
			err = nil
		}
	}()

	if err := ctx.Err(); err != nil {
		return errors.NewFatal("run cancelled", err)
	}
	if present {
		r.deps.Logger.Debug("all artifacts present, skipping", r.fields(it, StageItem)...)
		r.count(it.Record.Kind, metrics.OutcomeSkipped)
		r.deps.Progress.Add(1)
		return nil
	}

	outcome, err := r.export(ctx, slot, it)
	if err != nil {
		return err
	}
	r.count(it.Record.Kind, outcome)
	r.deps.Metrics.ObserveStage(StageItem, start)
	r.deps.Progress.Add(1)
	return nil
}

// export writes the missing artifacts of it and returns the item outcome.
func (r *runner) export(ctx context.Context, slot *Slot, it *Item) (string, error) {
	var arts []Artifact
	switch it.Shape {
	case ShapeLabeled:
		r.decided(camera.Labeled())
		arts = it.Artifacts(0, 1)
	case ShapePair:
		main, selfie, err := r.decide(ctx, slot, it)
		if err != nil {
			return "", err
		}
		arts = it.Artifacts(main, selfie)
	default:
		arts = it.Artifacts(0, 1)
	}

	wrote, failed := 0, 0
	for _, a := range arts {
		if exists(a.Path) {
			continue
		}
		stage, err := r.write(ctx, it, a, arts)
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.NewFatal("run cancelled", ctx.Err())
			}
			if errors.IsFatal(err) {
				return "", err
			}
			failed++
			r.deps.Logger.Warn("artifact failed", append(r.fields(it, stage),
				zap.String("path", a.Path),
				zap.String("code", string(errors.CodeOf(err))),
				zap.Error(err))...)
			continue
		}
		wrote++
		r.tally.Artifact()
	}

	switch {
	case failed > 0:
		return metrics.OutcomeFailed, nil
	case wrote > 0:
		return metrics.OutcomeExported, nil
	}
	return metrics.OutcomeSkipped, nil
}

// decide resolves an unlabelled pair to main and selfie indexes into
// it.Sources. An interactive decision gives the worker slot back while the
// human answers.
func (r *runner) decide(ctx context.Context, slot *Slot, it *Item) (int, int, error) {
	start := time.Now()
	pair := camera.Pair{
		First:  candidate(it, 0),
		Second: candidate(it, 1),
	}

	var (
		assigned camera.Assignment
		d        camera.Decision
	)
	decideFn := func() {
		assigned, d = r.deps.Arbiter.Decide(ctx, it.Record.ConversationID, it.Record.MessageID, pair)
	}
	if r.deps.Arbiter.Interactive() {
		if err := slot.Detach(ctx, decideFn); err != nil {
			return 0, 0, errors.NewFatal("run cancelled", err)
		}
	} else {
		decideFn()
	}
	r.decided(d)
	r.deps.Metrics.ObserveStage(StageDecide, start)

	r.deps.Logger.Debug("pair resolved", append(r.fields(it, StageDecide),
		zap.String("decision", d.String()),
		zap.String("main", assigned.Main.Name()),
		zap.String("selfie", assigned.Selfie.Name()))...)

	if assigned.Main.Path == it.Sources[1] {
		return 1, 0, nil
	}
	return 0, 1, nil
}

func candidate(it *Item, i int) camera.Candidate {
	c := camera.Candidate{Path: it.Sources[i]}
	for _, img := range it.Record.Images {
		if img.Path == c.Path {
			c.Width, c.Height = img.Width, img.Height
		}
	}
	return c
}

func (r *runner) decided(d camera.Decision) {
	r.tally.Decision(d.Provenance)
	r.deps.Metrics.Decisions.WithLabelValues(string(d.Provenance)).Inc()
}

// write produces one artifact and returns the stage it reached.
func (r *runner) write(ctx context.Context, it *Item, a Artifact, arts []Artifact) (string, error) {
	if a.Role == RoleComposite {
		return r.writeComposite(ctx, it, a.Path, arts[0].Source, arts[1].Source)
	}

	start := time.Now()
	stage := StageCopy
	err := writeAtomic(a.Path, copyFrom(a.Source), func(tmp string) error {
		stage = StageTag
		return r.finish(ctx, it, tmp)
	})
	r.deps.Metrics.ObserveStage(StageCopy, start)
	return stage, err
}

func (r *runner) writeComposite(ctx context.Context, it *Item, path, mainSrc, selfieSrc string) (string, error) {
	start := time.Now()
	mainImg, err := composite.Decode(mainSrc)
	if err != nil {
		return StageDecode, err
	}
	selfieImg, err := composite.Decode(selfieSrc)
	if err != nil {
		return StageDecode, err
	}
	r.deps.Metrics.ObserveStage(StageDecode, start)

	start = time.Now()
	out := composite.Compose(mainImg, selfieImg)
	r.deps.Metrics.ObserveStage(StageCompose, start)

	start = time.Now()
	stage := StageComposite
	err = writeAtomic(path, func(w io.Writer) error {
		if err := composite.Encode(w, out); err != nil {
			return errors.NewEncode(path, err)
		}
		return nil
	}, func(tmp string) error {
		stage = StageTag
		return r.finish(ctx, it, tmp)
	})
	r.deps.Metrics.ObserveStage(StageComposite, start)
	return stage, err
}

// finish tags the temp file and sets its times to the capture time.
func (r *runner) finish(ctx context.Context, it *Item, tmp string) error {
	meta := it.Meta()
	if r.deps.Writer != nil {
		start := time.Now()
		err := r.deps.Writer.Write(ctx, tmp, meta)
		r.deps.Metrics.ObserveStage(StageTag, start)
		if err != nil {
			r.deps.Metrics.TagWrites.WithLabelValues(metrics.TagFailed).Inc()
			if !errors.Is(err, errors.ErrTagWrite) && ctx.Err() == nil {
				err = errors.NewTagWrite(tmp, err)
			}
			return err
		}
		r.deps.Metrics.TagWrites.WithLabelValues(metrics.TagOK).Inc()
	}
	if err := os.Chtimes(tmp, meta.Time, meta.Time); err != nil {
		return errors.NewInternal(fmt.Errorf("set file times: %w", err))
	}
	return nil
}
