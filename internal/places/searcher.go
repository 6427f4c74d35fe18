package places

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/ca-srg/placesweep/internal/types"
)

const (
	// DefaultPageDelay is how long a next_page_token needs before the API accepts it.
	DefaultPageDelay = 2 * time.Second
	// DefaultRetryDelay is the fixed wait before re-sending a failed page request.
	DefaultRetryDelay = 5 * time.Second
	// DefaultMaxRetries bounds consecutive retries of one page. Zero means retry forever.
	DefaultMaxRetries = 5
	// DefaultCategory is the place type searched when none is configured.
	DefaultCategory = "restaurant"
)

// Recorder receives request level telemetry from the Searcher.
type Recorder interface {
	RecordRequest(ctx context.Context)
	RecordRetry(ctx context.Context, err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordRequest(context.Context)      {}
func (noopRecorder) RecordRetry(context.Context, error) {}

// Searcher runs a complete paginated nearby search for one coordinate.
type Searcher struct {
	api        NearbyAPI
	limiter    *rate.Limiter
	category   string
	maxRetries int
	retryDelay time.Duration
	pageDelay  time.Duration
	logger     *log.Logger
	recorder   Recorder
}

// SearcherOption configures Searcher.
type SearcherOption func(*Searcher)

// WithRateLimiter sets the limiter gating every API request. Share one limiter across
// searchers running concurrently so the API sees a single request budget.
func WithRateLimiter(l *rate.Limiter) SearcherOption {
	return func(s *Searcher) {
		s.limiter = l
	}
}

// WithMaxRetries overrides the retry bound. Zero retries forever.
func WithMaxRetries(n int) SearcherOption {
	return func(s *Searcher) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryDelay overrides the wait between retries.
func WithRetryDelay(d time.Duration) SearcherOption {
	return func(s *Searcher) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithPageDelay overrides the wait before each continuation request.
func WithPageDelay(d time.Duration) SearcherOption {
	return func(s *Searcher) {
		if d >= 0 {
			s.pageDelay = d
		}
	}
}

// WithCategory overrides the searched place type.
func WithCategory(category string) SearcherOption {
	return func(s *Searcher) {
		if category != "" {
			s.category = category
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *log.Logger) SearcherOption {
	return func(s *Searcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) SearcherOption {
	return func(s *Searcher) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewSearcher constructs a Searcher with sensible defaults.
func NewSearcher(api NearbyAPI, opts ...SearcherOption) *Searcher {
	searcher := &Searcher{
		api:        api,
		limiter:    rate.NewLimiter(rate.Limit(10), 1),
		category:   DefaultCategory,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		pageDelay:  DefaultPageDelay,
		logger:     log.New(os.Stdout, "places-searcher ", log.LstdFlags),
		recorder:   noopRecorder{},
	}
	for _, opt := range opts {
		opt(searcher)
	}
	return searcher
}

// Search returns up to perQueryCap places found around coordinate, following continuation
// tokens until the API has no more pages or the cap is reached.
func (s *Searcher) Search(ctx context.Context, coordinate types.Coordinate, radius float64, perQueryCap int) ([]types.Place, error) {
	places, _, err := s.SearchWithOutcome(ctx, coordinate, radius, perQueryCap)
	return places, err
}

// SearchWithOutcome is Search with the termination reason. On failure the places
// collected from earlier pages are still returned.
func (s *Searcher) SearchWithOutcome(ctx context.Context, coordinate types.Coordinate, radius float64, perQueryCap int) ([]types.Place, types.SearchOutcome, error) {
	if perQueryCap <= 0 {
		return nil, types.OutcomeFailed, fmt.Errorf("%w, got %d", ErrInvalidCap, perQueryCap)
	}

	req := NearbyRequest{
		Location: coordinate,
		Radius:   radius,
		Category: s.category,
	}

	var places []types.Place
	for pageNum := 1; ; pageNum++ {
		if pageNum > 1 {
			if err := sleep(ctx, s.pageDelay); err != nil {
				return places, types.OutcomeFailed, err
			}
		}

		page, err := s.fetchPage(ctx, req)
		if err != nil {
			outcome := types.OutcomeFailed
			if errors.Is(err, ErrRetryExhausted) {
				outcome = types.OutcomeRetryExhausted
			}
			return places, outcome, fmt.Errorf("nearby search %s page %d: %w", coordinate, pageNum, err)
		}

		results := page.Results
		if remaining := perQueryCap - len(places); len(results) > remaining {
			results = results[:remaining]
		}
		places = append(places, results...)

		if page.NextPageToken == "" {
			return places, types.OutcomeComplete, nil
		}
		if len(places) >= perQueryCap {
			return places, types.OutcomeCapped, nil
		}
		req.PageToken = page.NextPageToken
	}
}

func (s *Searcher) fetchPage(ctx context.Context, req NearbyRequest) (*types.SearchPage, error) {
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.waitRate(ctx); err != nil {
			return nil, err
		}

		s.recorder.RecordRequest(ctx)
		page, err := s.api.NearbySearch(ctx, req)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsRetryable(err) {
			return nil, err
		}

		retries++
		if s.maxRetries > 0 && retries > s.maxRetries {
			return nil, fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, s.maxRetries, err)
		}

		s.recorder.RecordRetry(ctx, err)
		s.logf("retry location=%s continuation=%t attempt=%d wait=%v err=%v",
			req.Location, req.PageToken != "", retries, s.retryDelay, err)
		if err := sleep(ctx, s.retryDelay); err != nil {
			return nil, err
		}
	}
}

func (s *Searcher) waitRate(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Searcher) logf(format string, args ...interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
