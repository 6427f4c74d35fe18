package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ca-srg/placesweep/internal/export"
	"github.com/ca-srg/placesweep/internal/grid"
	"github.com/ca-srg/placesweep/internal/places"
	"github.com/ca-srg/placesweep/internal/store"
	"github.com/ca-srg/placesweep/internal/types"
)

var center = types.Coordinate{Latitude: 25.033, Longitude: 121.5654}

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func rating(r float64) *float64 { return &r }

func ids(ps []types.Place) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

// pointAPI serves two pages per grid point, identifying the point by its location
// on the first request and by the token afterwards.
type pointAPI struct {
	mu     sync.Mutex
	index  map[string]int
	pages  map[int][2][]types.Place
	calls  map[int]int
	failAt map[int]int
}

func newPointAPI(points []types.Coordinate, pages map[int][2][]types.Place) *pointAPI {
	index := make(map[string]int, len(points))
	for i, p := range points {
		index[p.String()] = i
	}
	return &pointAPI{index: index, pages: pages, calls: map[int]int{}, failAt: map[int]int{}}
}

func (a *pointAPI) NearbySearch(_ context.Context, req places.NearbyRequest) (*types.SearchPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	point, page := 0, 0
	if req.PageToken == "" {
		point = a.index[req.Location.String()]
	} else {
		_, _ = fmt.Sscanf(req.PageToken, "pt%d-%d", &point, &page)
	}
	a.calls[point]++

	if remaining := a.failAt[point]; remaining > 0 && page == 1 {
		a.failAt[point]--
		return nil, &places.APIError{StatusCode: 503, Message: "unavailable"}
	}

	pages := a.pages[point]
	result := &types.SearchPage{Results: pages[page]}
	if page == 0 {
		result.NextPageToken = fmt.Sprintf("pt%d-1", point)
	}
	return result, nil
}

func (a *pointAPI) pointsCalled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func newTestSearcher(api places.NearbyAPI) *places.Searcher {
	return places.NewSearcher(api,
		places.WithRateLimiter(rate.NewLimiter(rate.Inf, 1)),
		places.WithPageDelay(0),
		places.WithRetryDelay(time.Millisecond),
		places.WithMaxRetries(3),
		places.WithLogger(discardLogger()),
	)
}

type recordingSink struct {
	name string
	err  error
	got  []export.Dataset
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Export(_ context.Context, ds export.Dataset) error {
	s.got = append(s.got, ds)
	return s.err
}

type fakeHistory struct {
	sightings []types.Place
	summary   *types.RunSummary
	failures  []types.PointFailure
	newCount  int
}

func (h *fakeHistory) RecordSightings(_ context.Context, _, _ string, _ time.Time, ps []types.Place) (int, error) {
	h.sightings = ps
	return h.newCount, nil
}

func (h *fakeHistory) RecordRun(_ context.Context, summary types.RunSummary, failures []types.PointFailure) error {
	h.summary = &summary
	h.failures = failures
	return nil
}

func baseRequest() Request {
	return Request{
		Area:        "test",
		Center:      center,
		Spacing:     0.01,
		Extent:      1,
		Radius:      1000,
		PerQueryCap: 60,
		MaxResults:  5,
		Threshold:   2.6,
	}
}

func TestRun_ThreeByThreeWithDuplicateAndCap(t *testing.T) {
	req := baseRequest()
	points, err := Plan(req)
	require.NoError(t, err)
	require.Len(t, points, 9)

	pages := map[int][2][]types.Place{
		0: {
			{{ID: "p0-a", Name: "A", Rating: rating(2.6)}, {ID: "dup", Name: "first", Rating: rating(4.0)}},
			{{ID: "p0-b", Name: "unrated"}},
		},
		1: {
			{{ID: "p1-a", Rating: rating(1.9)}, {ID: "dup", Name: "second", Rating: rating(1.0)}},
			{{ID: "p1-b", Rating: rating(3.5)}},
		},
	}
	for i := 2; i < 9; i++ {
		pages[i] = [2][]types.Place{
			{{ID: fmt.Sprintf("p%d-a", i), Rating: rating(1.0)}},
			{{ID: fmt.Sprintf("p%d-b", i), Rating: rating(1.0)}},
		}
	}
	api := newPointAPI(points, pages)
	sink := &recordingSink{name: "memory"}
	history := &fakeHistory{newCount: 5}

	o, err := New(Config{
		Searcher: newTestSearcher(api),
		Sinks:    []export.Sink{sink},
		History:  history,
		Logger:   discardLogger(),
		NewRunID: func() string { return "run-fixed" },
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"dup", "p0-a", "p0-b", "p1-a", "p1-b"}, ids(result.Places))
	assert.Equal(t, "first", result.Places[0].Name, "first-seen record is kept")
	assert.Equal(t, []string{"p0-a", "p1-a"}, ids(result.LowRated))

	assert.Equal(t, 2, api.pointsCalled(), "no grid point is dispatched once the cap is reached")
	assert.True(t, result.Summary.CapReached)
	assert.Equal(t, 9, result.Summary.GridPoints)
	assert.Equal(t, 2, result.Summary.PointsSearched)
	assert.Equal(t, 5, result.Summary.TotalPlaces)
	assert.Equal(t, 2, result.Summary.LowRatedPlaces)
	assert.Equal(t, 5, result.Summary.NewPlaces)
	assert.Equal(t, "run-fixed", result.Summary.RunID)

	require.Len(t, sink.got, 1)
	assert.Equal(t, ids(result.Places), ids(sink.got[0].All))
	assert.Equal(t, ids(result.LowRated), ids(sink.got[0].LowRated))
	assert.Equal(t, "run-fixed", sink.got[0].RunID)

	require.NotNil(t, history.summary)
	assert.Equal(t, result.Summary, *history.summary)
	assert.Len(t, history.sightings, 5)
}

func TestRun_WithoutCapSearchesEveryPoint(t *testing.T) {
	req := baseRequest()
	req.MaxResults = 1000
	points, err := Plan(req)
	require.NoError(t, err)

	pages := map[int][2][]types.Place{}
	for i := range points {
		pages[i] = [2][]types.Place{
			{{ID: fmt.Sprintf("p%d", i)}, {ID: "shared"}},
			{{ID: "shared"}},
		}
	}
	api := newPointAPI(points, pages)

	o, err := New(Config{Searcher: newTestSearcher(api), Logger: discardLogger()})
	require.NoError(t, err)

	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, result.Places, 10)
	assert.False(t, result.Summary.CapReached)
	assert.Equal(t, 9, result.Summary.PointsSearched)
	assert.Empty(t, result.LowRated, "unrated places are never low-rated")
}

func TestRun_TransientFailureIsTransparent(t *testing.T) {
	req := baseRequest()
	req.MaxResults = 1000
	points, err := Plan(req)
	require.NoError(t, err)

	pages := map[int][2][]types.Place{}
	for i := range points {
		pages[i] = [2][]types.Place{
			{{ID: fmt.Sprintf("a%d", i), Rating: rating(2.0)}},
			{{ID: fmt.Sprintf("b%d", i), Rating: rating(3.0)}},
		}
	}

	run := func(failAt map[int]int) *Result {
		api := newPointAPI(points, pages)
		api.failAt = failAt
		o, err := New(Config{Searcher: newTestSearcher(api), Logger: discardLogger()})
		require.NoError(t, err)
		result, err := o.Run(context.Background(), req)
		require.NoError(t, err)
		return result
	}

	clean := run(nil)
	flaky := run(map[int]int{0: 2, 4: 1, 8: 3})

	assert.Equal(t, clean.Places, flaky.Places)
	assert.Equal(t, clean.LowRated, flaky.LowRated)
	assert.Empty(t, flaky.Failures)
}

type scriptedSearcher struct {
	mu      sync.Mutex
	calls   []types.Coordinate
	respond func(call int, c types.Coordinate) ([]types.Place, types.SearchOutcome, error)
}

func (s *scriptedSearcher) SearchWithOutcome(_ context.Context, c types.Coordinate, _ float64, _ int) ([]types.Place, types.SearchOutcome, error) {
	s.mu.Lock()
	call := len(s.calls)
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	return s.respond(call, c)
}

func TestRun_PointFailureDoesNotAbort(t *testing.T) {
	req := baseRequest()
	req.MaxResults = 100
	searcher := &scriptedSearcher{respond: func(call int, _ types.Coordinate) ([]types.Place, types.SearchOutcome, error) {
		id := fmt.Sprintf("p%d", call)
		switch call {
		case 3:
			return []types.Place{{ID: id}}, types.OutcomeRetryExhausted, fmt.Errorf("page 2: %w", places.ErrRetryExhausted)
		case 6:
			return nil, types.OutcomeFailed, errors.New("REQUEST_DENIED")
		}
		return []types.Place{{ID: id}}, types.OutcomeComplete, nil
	}}
	history := &fakeHistory{}

	o, err := New(Config{Searcher: searcher, History: history, Logger: discardLogger()})
	require.NoError(t, err)

	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, searcher.calls, 9)
	assert.Len(t, result.Places, 8, "partial places of a failed point are kept")
	require.Len(t, result.Failures, 2)
	assert.Equal(t, 3, result.Failures[0].Index)
	assert.Equal(t, types.OutcomeRetryExhausted, result.Failures[0].Outcome)
	assert.Equal(t, 6, result.Failures[1].Index)
	assert.Equal(t, 2, result.Summary.PointsFailed)
	assert.Equal(t, 9, result.Summary.PointsSearched)
	assert.Equal(t, result.Failures, history.failures)
}

func TestRun_ConcurrentStopsDispatchAtCap(t *testing.T) {
	req := baseRequest()
	req.MaxResults = 4

	var inFlight, maxInFlight atomic.Int32
	searcher := &scriptedSearcher{respond: func(call int, _ types.Coordinate) ([]types.Place, types.SearchOutcome, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)

		ps := make([]types.Place, 3)
		for i := range ps {
			ps[i] = types.Place{ID: fmt.Sprintf("c%d-%d", call, i)}
		}
		return ps, types.OutcomeComplete, nil
	}}

	o, err := New(Config{Searcher: searcher, Logger: discardLogger(), Concurrency: 3})
	require.NoError(t, err)

	result, err := o.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Len(t, result.Places, 4)
	assert.True(t, result.Summary.CapReached)
	assert.LessOrEqual(t, len(searcher.calls), 4, "at most one point is dispatched after the first completion")
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3))
	assert.Equal(t, len(searcher.calls), result.Summary.PointsSearched)
}

func TestRun_SinkErrorsAreJoined(t *testing.T) {
	req := baseRequest()
	searcher := &scriptedSearcher{respond: func(call int, _ types.Coordinate) ([]types.Place, types.SearchOutcome, error) {
		return []types.Place{{ID: fmt.Sprintf("p%d", call)}}, types.OutcomeComplete, nil
	}}
	failing := &recordingSink{name: "broken", err: errors.New("disk full")}
	ok := &recordingSink{name: "ok"}

	o, err := New(Config{Searcher: searcher, Sinks: []export.Sink{failing, ok}, Logger: discardLogger()})
	require.NoError(t, err)

	result, err := o.Run(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken export: disk full")
	require.NotNil(t, result)
	assert.Len(t, ok.got, 1, "later sinks still run")
	assert.Len(t, result.Places, 5)
}

func TestRun_InvalidRequest(t *testing.T) {
	o, err := New(Config{Searcher: &scriptedSearcher{}, Logger: discardLogger()})
	require.NoError(t, err)

	req := baseRequest()
	req.Spacing = 0
	_, err = o.Run(context.Background(), req)
	assert.ErrorIs(t, err, grid.ErrInvalidArgument)

	req = baseRequest()
	req.Extent = -1
	_, err = o.Run(context.Background(), req)
	assert.ErrorIs(t, err, grid.ErrInvalidArgument)

	req = baseRequest()
	req.MaxResults = 0
	_, err = o.Run(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidCap)

	req = baseRequest()
	req.PerQueryCap = 0
	_, err = o.Run(context.Background(), req)
	assert.ErrorIs(t, err, places.ErrInvalidCap)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	searcher := &scriptedSearcher{respond: func(call int, _ types.Coordinate) ([]types.Place, types.SearchOutcome, error) {
		if call == 1 {
			cancel()
		}
		return []types.Place{{ID: fmt.Sprintf("p%d", call)}}, types.OutcomeComplete, nil
	}}
	sink := &recordingSink{name: "memory"}

	req := baseRequest()
	req.MaxResults = 100
	o, err := New(Config{Searcher: searcher, Sinks: []export.Sink{sink}, Logger: discardLogger()})
	require.NoError(t, err)

	_, err = o.Run(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, searcher.calls, 2)
	assert.Empty(t, sink.got)
}

func TestNew_RequiresSearcher(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
