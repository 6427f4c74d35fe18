package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ca-srg/placesweep/internal/credentials"
	"github.com/ca-srg/placesweep/internal/export"
	"github.com/ca-srg/placesweep/internal/history"
	"github.com/ca-srg/placesweep/internal/observability"
	"github.com/ca-srg/placesweep/internal/places"
	"github.com/ca-srg/placesweep/internal/sweep"
	"github.com/ca-srg/placesweep/internal/types"
)

var (
	sweepGrid        gridOptions
	sweepRadius      float64
	sweepMaxResults  int
	sweepPerQueryCap int
	sweepThreshold   float64
	sweepConcurrency int
	sweepCategory    string
	sweepOutputDir   string
	sweepDryRun      bool
	sweepNoHistory   bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep an area with paginated nearby searches and export the results",
	Long: `
The sweep command tiles each area into a square grid, runs a paginated
nearby search at every grid point until the result cap is reached,
deduplicates the places by place ID and exports all places together with
those rated at or below the threshold.

Artifacts are always written to the output directory. S3, Google Sheets
and OpenSearch exports are enabled by EXPORT_S3_BUCKET, EXPORT_SHEETS_ID
and EXPORT_OPENSEARCH_ENDPOINT.
`,
	RunE: runSweep,
}

func init() {
	sweepGrid.register(sweepCmd.Flags())
	sweepCmd.Flags().Float64VarP(&sweepRadius, "radius", "r", 0, "Search radius in metres (default from SWEEP_SEARCH_RADIUS)")
	sweepCmd.Flags().IntVarP(&sweepMaxResults, "max-results", "m", 0, "Global cap on unique places (default from SWEEP_MAX_RESULTS)")
	sweepCmd.Flags().IntVar(&sweepPerQueryCap, "per-query-cap", 0, "Cap on places per grid point (default from SWEEP_PER_QUERY_CAP)")
	sweepCmd.Flags().Float64VarP(&sweepThreshold, "threshold", "t", 0, "Low rating threshold, inclusive (default from SWEEP_LOW_RATING_THRESHOLD)")
	sweepCmd.Flags().IntVarP(&sweepConcurrency, "concurrency", "c", 0, "Grid points searched in parallel (default from SWEEP_CONCURRENCY)")
	sweepCmd.Flags().StringVar(&sweepCategory, "category", "", "Place type to search (default from PLACES_CATEGORY)")
	sweepCmd.Flags().StringVarP(&sweepOutputDir, "output-dir", "o", "", "Directory for exported artifacts (default from SWEEP_OUTPUT_DIR)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Print the grid without calling the Places API")
	sweepCmd.Flags().BoolVar(&sweepNoHistory, "no-history", false, "Do not record the run in the history database")
}

func applySweepFlags(cmd *cobra.Command, cfg *types.Config) {
	fs := cmd.Flags()
	sweepGrid.apply(fs, cfg)
	if fs.Changed("radius") {
		cfg.SearchRadius = sweepRadius
	}
	if fs.Changed("max-results") {
		cfg.MaxResults = sweepMaxResults
	}
	if fs.Changed("per-query-cap") {
		cfg.PerQueryCap = sweepPerQueryCap
	}
	if fs.Changed("threshold") {
		cfg.LowRatingThreshold = sweepThreshold
	}
	if fs.Changed("concurrency") {
		cfg.Concurrency = sweepConcurrency
	}
	if fs.Changed("category") {
		cfg.PlacesCategory = sweepCategory
	}
	if fs.Changed("output-dir") {
		cfg.OutputDir = sweepOutputDir
	}
	if fs.Changed("no-history") {
		cfg.HistoryDisabled = sweepNoHistory
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), func(c *types.Config) { applySweepFlags(cmd, c) })
	if err != nil {
		return err
	}

	areas, err := resolveAreas(cfg, &sweepGrid)
	if err != nil {
		return err
	}

	if sweepDryRun {
		log.Println("DRY RUN: no Places API requests will be made")
		for _, area := range areas {
			listing, err := planArea(areaRequest(cfg, area))
			if err != nil {
				return fmt.Errorf("area %s: %w", area.Name, err)
			}
			printGrid(os.Stdout, listing)
		}
		return nil
	}

	logger := log.New(os.Stdout, "[Sweep] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Printf("Received shutdown signal, waiting for in-flight grid points...")
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdown, err := observability.Init(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Printf("Warning: telemetry shutdown failed: %v", err)
		}
	}()

	apiKey, err := credentials.NewResolver().Resolve(ctx, credentials.Source{
		APIKey:   cfg.PlacesAPIKey,
		SecretID: cfg.PlacesAPIKeySecretID,
		Region:   cfg.AWSRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve Places API key: %w", err)
	}

	remoteSinks, err := buildRemoteSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var recorder sweep.HistoryRecorder
	if !cfg.HistoryDisabled {
		store, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	// One limiter for every area and worker keeps the API budget global.
	env := &sweepEnv{
		cfg:     cfg,
		client:  places.NewClient(apiKey, cfg.PlacesAPIBaseURL, cfg.RequestTimeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		sinks:   remoteSinks,
		history: recorder,
		logger:  logger,
	}

	var failed []string
	for _, area := range areas {
		if err := env.sweepArea(ctx, area); err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Printf("Area %s finished with errors: %v", area.Name, err)
			failed = append(failed, area.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d areas finished with errors: %s", len(failed), len(areas), strings.Join(failed, ", "))
	}
	return nil
}

type sweepEnv struct {
	cfg     *types.Config
	client  places.NearbyAPI
	limiter *rate.Limiter
	sinks   []export.Sink
	history sweep.HistoryRecorder
	logger  *log.Logger
}

func (e *sweepEnv) sweepArea(ctx context.Context, area types.Area) error {
	instruments, err := observability.NewSweepInstruments(nil, nil, area.Name)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	searcher := places.NewSearcher(e.client,
		places.WithRateLimiter(e.limiter),
		places.WithCategory(e.cfg.PlacesCategory),
		places.WithMaxRetries(e.cfg.MaxRetries),
		places.WithRetryDelay(e.cfg.RetryDelay),
		places.WithPageDelay(e.cfg.PageDelay),
		places.WithRecorder(instruments),
	)

	sinks := make([]export.Sink, 0, len(e.sinks)+1)
	sinks = append(sinks, export.NewFileSink(areaOutputDir(e.cfg, &sweepGrid, area), nil))
	sinks = append(sinks, e.sinks...)

	orchestrator, err := sweep.New(sweep.Config{
		Searcher:    searcher,
		Sinks:       sinks,
		History:     e.history,
		Instruments: instruments,
		Logger:      e.logger,
		Concurrency: e.cfg.Concurrency,
	})
	if err != nil {
		return err
	}

	result, err := orchestrator.Run(ctx, areaRequest(e.cfg, area))
	if result != nil {
		printSweepResult(result)
	}
	return err
}

func buildRemoteSinks(ctx context.Context, cfg *types.Config, logger *log.Logger) ([]export.Sink, error) {
	var sinks []export.Sink

	if cfg.ExportS3Bucket != "" {
		sink, err := export.NewS3Sink(ctx, cfg.ExportS3Bucket, cfg.ExportS3Prefix, cfg.AWSRegion, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 export: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.ExportSheetsID != "" {
		service, err := export.NewSheetsService(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create Sheets export: %w", err)
		}
		sink, err := export.NewSheetsSink(service, cfg.ExportSheetsID, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Sheets export: %w", err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.ExportOpenSearchURL != "" {
		sink, err := export.NewOpenSearchSink(ctx, export.OpenSearchConfig{
			Endpoint:        cfg.ExportOpenSearchURL,
			Index:           cfg.ExportOpenSearchIndex,
			Region:          cfg.AWSRegion,
			SigV4:           cfg.ExportOpenSearchSigV4,
			InsecureSkipTLS: cfg.ExportOpenSearchSkipTLS,
			RequestTimeout:  cfg.RequestTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenSearch export: %w", err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}

func openHistory(cfg *types.Config) (*history.Store, error) {
	if cfg.HistoryDB != "" {
		store, err := history.NewStoreWithPath(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		return store, nil
	}
	store, err := history.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return store, nil
}

func printSweepResult(result *sweep.Result) {
	s := result.Summary
	fmt.Printf("\n=== Sweep Results: %s ===\n", s.Area)
	fmt.Printf("Run ID: %s\n", s.RunID)
	fmt.Printf("Grid points searched: %d/%d\n", s.PointsSearched, s.GridPoints)
	if s.PointsFailed > 0 {
		fmt.Printf("Grid points failed: %d\n", s.PointsFailed)
	}
	fmt.Printf("Unique places: %d", s.TotalPlaces)
	if s.CapReached {
		fmt.Printf(" (cap reached)")
	}
	fmt.Println()
	fmt.Printf("New places: %d\n", s.NewPlaces)
	fmt.Printf("Low-rated places: %d\n", s.LowRatedPlaces)
	fmt.Printf("Duration: %v\n", s.Duration.Round(time.Millisecond))

	if len(result.Failures) > 0 {
		fmt.Println("\nFailed grid points:")
		for _, f := range result.Failures {
			fmt.Printf("  - %s\n", f.Error())
		}
	}
}
