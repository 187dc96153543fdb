// Package pipeline runs the indexing, preprocessing, change accumulation and
// area measurement of one image series.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/millifluidic/internal/area"
	"github.com/cwbudde/millifluidic/internal/change"
	"github.com/cwbudde/millifluidic/internal/imaging"
	"github.com/cwbudde/millifluidic/internal/index"
	"github.com/cwbudde/millifluidic/internal/metrics"
)

// Runner drives one series through Idle -> Indexed -> ReferenceEstablished ->
// Accumulating -> Finalized. A Runner is not safe for concurrent runs.
type Runner struct {
	opts     Options
	observer Observer
	state    State
	load     func(path string, crop *imaging.Rect) (*imaging.Grid, error)
}

// NewRunner creates a runner. observer may be nil.
func NewRunner(opts Options, observer Observer) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Runner{opts: opts, observer: observer, state: StateIdle, load: imaging.Load}
}

// State returns the current state. Only meaningful between or after runs.
func (r *Runner) State() State {
	return r.state
}

// frame is the preprocessed form of one record.
type frame struct {
	record index.Record
	grid   *imaging.Grid
	mask   *imaging.Mask
	err    error
}

// Run indexes src and processes the resulting list. Indexing errors are
// returned without a result.
func (r *Runner) Run(ctx context.Context, src index.Source) (*Result, error) {
	if err := r.opts.Validate(); err != nil {
		r.fail()
		return nil, err
	}

	list, err := src.Build()
	if err != nil {
		r.fail()
		return nil, err
	}
	return r.RunList(ctx, list)
}

// RunList processes an already indexed list. A failure on the reference
// record is fatal. Failures on later records are logged and skipped. If ctx
// is cancelled the partial result is returned with ctx.Err().
func (r *Runner) RunList(ctx context.Context, list *index.List) (*Result, error) {
	if err := r.opts.Validate(); err != nil {
		r.fail()
		return nil, err
	}
	if list == nil || list.Len() == 0 {
		r.fail()
		return nil, &index.ConfigurationError{Reason: "image list is empty"}
	}

	r.transition(StateIndexed, Progress{Total: list.Len() - 1})
	slog.Info("Starting analysis",
		"records", list.Len(),
		"designator", list.Designator,
		"compare", r.opts.Compare,
		"min_area", r.opts.MinArea,
		"workers", r.opts.Workers,
	)

	ref := r.prepare(list, list.Reference())
	if ref.err != nil {
		r.fail()
		return nil, fmt.Errorf("failed to establish reference from %s: %w", ref.record.Filename, ref.err)
	}

	var acc *change.Accumulator
	switch r.opts.Compare {
	case CompareIntensity:
		acc = change.NewForGrid(ref.grid, r.opts.IntensityThreshold)
	default:
		acc = change.NewForMask(ref.mask)
	}

	result := &Result{
		State:         StateReferenceEstablished,
		Designator:    list.Designator,
		Reference:     ref.record,
		ReferenceMask: ref.mask,
		Areas:         []AreaSample{},
		Records:       list.Len(),
	}

	r.transition(StateReferenceEstablished, Progress{Total: list.Len() - 1, Record: &ref.record})
	slog.Info("Reference established",
		"index", ref.record.Index,
		"key", ref.record.Key(),
		"width", ref.mask.Width,
		"height", ref.mask.Height,
		"foreground", ref.mask.Count(),
		"comparison", acc.Comparison().Mode.String(),
	)

	err := r.accumulate(ctx, list, acc, result)
	result.ChangeMap = acc.Snapshot()
	if err != nil {
		metrics.Runs.WithLabelValues(metrics.OutcomeCancelled).Inc()
		slog.Warn("Analysis stopped early", "folded", acc.Folds(), "error", err)
		return result, err
	}

	result.State = StateFinalized
	r.transition(StateFinalized, Progress{Done: list.Len() - 1, Total: list.Len() - 1})
	metrics.Runs.WithLabelValues(metrics.OutcomeFinalized).Inc()

	slog.Info("Analysis complete",
		"folded", acc.Folds(),
		"skipped", len(result.Skipped),
		"changed_pixels", result.ChangeMap.Changed(),
		"final_area", result.FinalArea(),
	)
	return result, nil
}

// readAhead is how many preprocessed frames, per worker, may wait for the fold.
const readAhead = 2

// accumulate preprocesses the non-reference records on a bounded worker pool
// and folds them strictly in list order. At most readAhead*Workers frames are
// held between preprocessing and folding.
func (r *Runner) accumulate(ctx context.Context, list *index.List, acc *change.Accumulator, result *Result) error {
	rest := list.Records[1:]
	total := len(rest)
	r.transition(StateAccumulating, Progress{Total: total})
	result.State = StateAccumulating

	slots := make([]chan frame, total)
	for i := range slots {
		slots[i] = make(chan frame, 1)
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(workCtx)
	g.SetLimit(r.opts.Workers)

	window := make(chan struct{}, readAhead*r.opts.Workers)

	launched := make(chan struct{})
	go func() {
		defer close(launched)
	launch:
		for i, rec := range rest {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				break launch
			}
			g.Go(func() error {
				slots[i] <- r.prepare(list, rec)
				return nil
			})
		}
		g.Wait()
	}()

	for i := range rest {
		if err := ctx.Err(); err != nil {
			cancel()
			<-launched
			return err
		}

		var fr frame
		select {
		case <-ctx.Done():
			cancel()
			<-launched
			return ctx.Err()
		case fr = <-slots[i]:
		}

		r.fold(acc, fr, result, i+1, total)
		<-window
	}

	<-launched
	return nil
}

// fold applies one preprocessed frame to the accumulator and the area series.
func (r *Runner) fold(acc *change.Accumulator, fr frame, result *Result, done, total int) {
	rec := fr.record
	if fr.err != nil {
		r.skip(result, rec, fr.err, done, total)
		return
	}

	start := time.Now()
	var changed int
	var err error
	switch r.opts.Compare {
	case CompareIntensity:
		changed, err = acc.Fold(rec.Key(), fr.grid)
	default:
		changed, err = acc.FoldMask(rec.Key(), fr.mask)
	}
	if err != nil {
		r.skip(result, rec, err, done, total)
		return
	}

	a := area.Measure(fr.mask, fr.grid, r.opts.MinArea)
	result.Areas = append(result.Areas, AreaSample{Index: rec.Index, Key: rec.Key(), Area: a})

	metrics.FoldDuration.Observe(time.Since(start).Seconds())
	metrics.RecordsProcessed.Inc()

	slog.Debug("Folded record", "index", rec.Index, "key", rec.Key(), "changed", changed, "area", a)
	r.notify(Progress{
		State:   StateAccumulating,
		Done:    done,
		Total:   total,
		Record:  &rec,
		Area:    a,
		Changed: changed,
	})
}

func (r *Runner) skip(result *Result, rec index.Record, err error, done, total int) {
	reason := skipReason(err)
	skipped := SkippedRecord{
		Index:    rec.Index,
		Filename: rec.Filename,
		Reason:   reason,
		Error:    err.Error(),
	}
	result.Skipped = append(result.Skipped, skipped)
	metrics.RecordsSkipped.WithLabelValues(reason).Inc()

	slog.Warn("Skipping record", "index", rec.Index, "file", rec.Filename, "reason", reason, "error", err)
	r.notify(Progress{
		State:   StateAccumulating,
		Done:    done,
		Total:   total,
		Record:  &rec,
		Skipped: &skipped,
	})
}

func skipReason(err error) string {
	var shapeErr *change.ShapeError
	switch {
	case errors.Is(err, imaging.ErrBounds):
		return metrics.ReasonBounds
	case errors.As(err, &shapeErr):
		return metrics.ReasonShape
	default:
		return metrics.ReasonLoad
	}
}

// prepare loads, crops and thresholds one record. It is safe to call concurrently.
func (r *Runner) prepare(list *index.List, rec index.Record) frame {
	start := time.Now()
	defer func() {
		metrics.PreprocessDuration.Observe(time.Since(start).Seconds())
	}()

	grid, err := r.load(list.Path(rec), r.opts.Crop)
	if err != nil {
		return frame{record: rec, err: err}
	}
	return frame{record: rec, grid: grid, mask: imaging.Threshold(grid)}
}

func (r *Runner) transition(s State, p Progress) {
	r.state = s
	p.State = s
	r.notify(p)
}

func (r *Runner) fail() {
	r.state = StateFailed
	metrics.Runs.WithLabelValues(metrics.OutcomeFailed).Inc()
	r.notify(Progress{State: StateFailed})
}

func (r *Runner) notify(p Progress) {
	if r.observer != nil {
		r.observer(p)
	}
}
