// Package sweep drives a full grid sweep: grid generation, per-point paginated
// search, deduplicating merge, low rating selection and export.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ca-srg/placesweep/internal/export"
	"github.com/ca-srg/placesweep/internal/filter"
	"github.com/ca-srg/placesweep/internal/grid"
	"github.com/ca-srg/placesweep/internal/observability"
	"github.com/ca-srg/placesweep/internal/places"
	"github.com/ca-srg/placesweep/internal/store"
	"github.com/ca-srg/placesweep/internal/types"
)

const maxConcurrency = 16

// PointSearcher runs a complete paginated search at one coordinate.
type PointSearcher interface {
	SearchWithOutcome(ctx context.Context, coordinate types.Coordinate, radius float64, perQueryCap int) ([]types.Place, types.SearchOutcome, error)
}

// HistoryRecorder persists run results.
type HistoryRecorder interface {
	RecordSightings(ctx context.Context, area, runID string, seenAt time.Time, ps []types.Place) (int, error)
	RecordRun(ctx context.Context, summary types.RunSummary, failures []types.PointFailure) error
}

// Config contains dependencies and runtime settings for Orchestrator.
type Config struct {
	Searcher    PointSearcher
	Sinks       []export.Sink
	History     HistoryRecorder
	Instruments *observability.SweepInstruments
	Logger      *log.Logger
	Concurrency int
	Now         func() time.Time
	NewRunID    func() string
}

// Request describes one sweep of one area.
type Request struct {
	Area        string
	Center      types.Coordinate
	Spacing     float64
	Extent      int
	Radius      float64
	PerQueryCap int
	MaxResults  int
	Threshold   float64
}

// Result is the outcome of a sweep.
type Result struct {
	Summary  types.RunSummary
	Places   []types.Place
	LowRated []types.Place
	Failures []types.PointFailure
}

// Orchestrator sequences the sweep pipeline. Grid points are searched by a bounded pool
// of workers; dispatch stops as soon as the result store is full.
type Orchestrator struct {
	searcher    PointSearcher
	sinks       []export.Sink
	history     HistoryRecorder
	instruments *observability.SweepInstruments
	logger      *log.Logger
	concurrency int
	now         func() time.Time
	newRunID    func() string
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "sweep ", log.LstdFlags)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newRunID := cfg.NewRunID
	if newRunID == nil {
		newRunID = func() string { return uuid.NewString() }
	}

	return &Orchestrator{
		searcher:    cfg.Searcher,
		sinks:       cfg.Sinks,
		history:     cfg.History,
		instruments: cfg.Instruments,
		logger:      logger,
		concurrency: concurrency,
		now:         now,
		newRunID:    newRunID,
	}, nil
}

// Plan returns the grid a request would search, without calling the API.
func Plan(req Request) ([]types.Coordinate, error) {
	return grid.Generate(req.Center, req.Spacing, req.Extent)
}

// Run performs the sweep. Configuration errors fail before any request is sent.
// A non-nil Result is returned whenever the traversal completed, even when some
// export sinks failed; their errors are joined into the returned error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	points, err := Plan(req)
	if err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	results, err := store.New(req.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("invalid max results: %w", err)
	}
	if req.PerQueryCap <= 0 {
		return nil, fmt.Errorf("%w, got %d", places.ErrInvalidCap, req.PerQueryCap)
	}
	if req.Radius <= 0 {
		return nil, fmt.Errorf("search radius must be greater than 0, got %v", req.Radius)
	}

	instruments := o.instruments
	if instruments == nil {
		if instruments, err = observability.NewSweepInstruments(nil, nil, req.Area); err != nil {
			return nil, fmt.Errorf("failed to create instruments: %w", err)
		}
	}

	run := &runState{
		req:         req,
		points:      points,
		results:     results,
		instruments: instruments,
	}

	summary := types.RunSummary{
		RunID:      o.newRunID(),
		Area:       req.Area,
		Center:     req.Center,
		StartedAt:  o.now(),
		GridPoints: len(points),
	}

	sw, ne, _ := grid.Bounds(points)
	o.logger.Printf("Starting sweep run=%s area=%q grid=%d points (%s to %s) radius=%vm cap=%d concurrency=%d",
		summary.RunID, req.Area, len(points), sw, ne, req.Radius, req.MaxResults, o.concurrency)

	if err := o.traverse(ctx, run); err != nil {
		return nil, err
	}

	all := results.Values()
	lowRated := filter.LowRated(all, req.Threshold)
	sort.Slice(run.failures, func(i, j int) bool { return run.failures[i].Index < run.failures[j].Index })

	summary.PointsSearched = run.searched
	summary.PointsFailed = len(run.failures)
	summary.TotalPlaces = len(all)
	summary.LowRatedPlaces = len(lowRated)
	summary.CapReached = results.HasReachedCap()

	if summary.CapReached {
		o.logger.Printf("Reached the cap of %d places after %d of %d grid points", req.MaxResults, run.searched, len(points))
	}
	o.logger.Printf("Found %d places, %d rated at or below %.1f", len(all), len(lowRated), req.Threshold)

	if o.history != nil {
		newPlaces, err := o.history.RecordSightings(ctx, req.Area, summary.RunID, summary.StartedAt, all)
		if err != nil {
			o.logger.Printf("Warning: failed to record place sightings: %v", err)
		} else {
			summary.NewPlaces = newPlaces
		}
	}

	ds := export.Dataset{
		RunID:     summary.RunID,
		Area:      req.Area,
		Threshold: req.Threshold,
		All:       all,
		LowRated:  lowRated,
	}
	exportErr := o.export(ctx, ds)

	summary.FinishedAt = o.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)

	if o.history != nil {
		if err := o.history.RecordRun(ctx, summary, run.failures); err != nil {
			o.logger.Printf("Warning: failed to record run history: %v", err)
		}
	}

	result := &Result{
		Summary:  summary,
		Places:   all,
		LowRated: lowRated,
		Failures: run.failures,
	}
	return result, exportErr
}

type runState struct {
	req         Request
	points      []types.Coordinate
	results     *store.ResultStore
	instruments *observability.SweepInstruments

	mu       sync.Mutex
	searched int
	failures []types.PointFailure
}

func (r *runState) recordPoint(failure *types.PointFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searched++
	if failure != nil {
		r.failures = append(r.failures, *failure)
	}
}

// traverse dispatches grid points in row-major order. The cap is consulted before every
// dispatch, after a worker slot frees up, so in-flight searches finish but no new one starts.
func (o *Orchestrator) traverse(ctx context.Context, run *runState) error {
	sem := make(chan struct{}, o.concurrency)
	eg, egCtx := errgroup.WithContext(ctx)

dispatch:
	for i, point := range run.points {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		if run.results.HasReachedCap() || ctx.Err() != nil {
			<-sem
			break dispatch
		}

		index, coordinate := i, point
		eg.Go(func() error {
			defer func() { <-sem }()
			o.searchPoint(egCtx, run, index, coordinate)
			return nil
		})
	}

	_ = eg.Wait() // failures are tracked in runState

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sweep interrupted after %d grid points: %w", run.searched, err)
	}
	return nil
}

func (o *Orchestrator) searchPoint(ctx context.Context, run *runState, index int, coordinate types.Coordinate) {
	pointCtx, span := run.instruments.StartPoint(ctx, index, coordinate)
	started := time.Now()

	found, outcome, err := o.searcher.SearchWithOutcome(pointCtx, coordinate, run.req.Radius, run.req.PerQueryCap)

	// Places from pages fetched before a failure are still merged.
	added := run.results.Merge(found)
	run.instruments.RecordMerged(pointCtx, added)
	run.instruments.EndPoint(pointCtx, span, outcome, len(found), time.Since(started), err)

	if err != nil && ctx.Err() != nil {
		return
	}

	var failure *types.PointFailure
	if err != nil {
		failure = &types.PointFailure{
			Index:      index,
			Coordinate: coordinate,
			Outcome:    outcome,
			Message:    err.Error(),
		}
		o.logger.Printf("Grid point %d/%d (%s) failed after %d places: %v", index+1, len(run.points), coordinate, len(found), err)
	}
	run.recordPoint(failure)

	o.logger.Printf("Grid point %d/%d (%s): %d places, %d new, %d total",
		index+1, len(run.points), coordinate, len(found), added, run.results.Len())
}

func (o *Orchestrator) export(ctx context.Context, ds export.Dataset) error {
	var errs []error
	for _, sink := range o.sinks {
		if err := sink.Export(ctx, ds); err != nil {
			o.logger.Printf("Export to %s failed: %v", sink.Name(), err)
			errs = append(errs, fmt.Errorf("%s export: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
