package types

import (
	"fmt"
	"strconv"
	"time"
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lng" yaml:"lng"`
}

// String formats the coordinate the way the Places API expects its location parameter.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// Place is a single point-of-interest returned by the nearby search API.
// Two places with the same ID describe the same real-world entity.
type Place struct {
	ID               string     `json:"place_id"`
	Name             string     `json:"name"`
	Rating           *float64   `json:"rating,omitempty"`
	UserRatingsTotal int        `json:"user_ratings_total,omitempty"`
	Address          string     `json:"address"`
	MapURL           string     `json:"url"`
	Location         Coordinate `json:"location"`
}

// HasRating reports whether the API supplied a rating for the place.
func (p Place) HasRating() bool {
	return p.Rating != nil
}

// SearchPage is one page of nearby search results.
type SearchPage struct {
	Results       []Place
	NextPageToken string
}

// SearchOutcome tags how a single-coordinate search terminated.
type SearchOutcome int

const (
	// OutcomeComplete means the API ran out of continuation tokens.
	OutcomeComplete SearchOutcome = iota
	// OutcomeCapped means the per-query cap was reached.
	OutcomeCapped
	// OutcomeRetryExhausted means a page kept failing transiently past the retry bound.
	OutcomeRetryExhausted
	// OutcomeFailed means the API rejected the request with a non-retryable error.
	OutcomeFailed
)

// String returns the string representation of SearchOutcome
func (o SearchOutcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeCapped:
		return "capped"
	case OutcomeRetryExhausted:
		return "retry_exhausted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PointFailure records a grid point whose search did not finish cleanly.
type PointFailure struct {
	Index      int           `json:"index"`
	Coordinate Coordinate    `json:"coordinate"`
	Outcome    SearchOutcome `json:"outcome"`
	Message    string        `json:"message"`
}

func (f PointFailure) Error() string {
	return fmt.Sprintf("grid point %d (%s): %s: %s", f.Index, f.Coordinate, f.Outcome, f.Message)
}

// RunSummary describes one completed sweep.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Area           string        `json:"area"`
	Center         Coordinate    `json:"center"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	GridPoints     int           `json:"grid_points"`
	PointsSearched int           `json:"points_searched"`
	PointsFailed   int           `json:"points_failed"`
	TotalPlaces    int           `json:"total_places"`
	LowRatedPlaces int           `json:"low_rated_places"`
	NewPlaces      int           `json:"new_places"`
	CapReached     bool          `json:"cap_reached"`
	Duration       time.Duration `json:"duration"`
}

// Area is a named sweep origin, usually loaded from an areas YAML file.
type Area struct {
	Name    string  `yaml:"name"`
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
	Spacing float64 `yaml:"spacing,omitempty"`
	Extent  *int    `yaml:"extent,omitempty"`
}

// Center returns the area origin as a Coordinate.
func (a Area) Center() Coordinate {
	return Coordinate{Latitude: a.Lat, Longitude: a.Lng}
}

// Config represents the sweep configuration
type Config struct {
	// Places API
	PlacesAPIKey         string `json:"-" env:"PLACES_API_KEY"`
	PlacesAPIKeySecretID string `json:"places_api_key_secret_id" env:"PLACES_API_KEY_SECRET_ID"`
	PlacesAPIBaseURL     string `json:"places_api_base_url" env:"PLACES_API_BASE_URL,default=https://maps.googleapis.com"`
	PlacesCategory       string `json:"places_category" env:"PLACES_CATEGORY,default=restaurant"`

	// Grid and search
	CenterLat          float64       `json:"center_lat" env:"SWEEP_CENTER_LAT,default=25.0330"`
	CenterLng          float64       `json:"center_lng" env:"SWEEP_CENTER_LNG,default=121.5654"`
	GridSpacing        float64       `json:"grid_spacing" env:"SWEEP_GRID_SPACING,default=0.05"`
	GridExtent         int           `json:"grid_extent" env:"SWEEP_GRID_EXTENT,default=4"`
	SearchRadius       float64       `json:"search_radius" env:"SWEEP_SEARCH_RADIUS,default=5000"`
	MaxResults         int           `json:"max_results" env:"SWEEP_MAX_RESULTS,default=10000"`
	PerQueryCap        int           `json:"per_query_cap" env:"SWEEP_PER_QUERY_CAP,default=60"`
	LowRatingThreshold float64       `json:"low_rating_threshold" env:"SWEEP_LOW_RATING_THRESHOLD,default=2.6"`
	Concurrency        int           `json:"concurrency" env:"SWEEP_CONCURRENCY,default=1"`
	PageDelay          time.Duration `json:"page_delay" env:"SWEEP_PAGE_DELAY,default=2s"`
	RetryDelay         time.Duration `json:"retry_delay" env:"SWEEP_RETRY_DELAY,default=5s"`
	MaxRetries         int           `json:"max_retries" env:"SWEEP_MAX_RETRIES,default=5"`
	RequestRate        float64       `json:"request_rate" env:"SWEEP_REQUEST_RATE,default=10"`
	RequestBurst       int           `json:"request_burst" env:"SWEEP_REQUEST_BURST,default=1"`
	RequestTimeout     time.Duration `json:"request_timeout" env:"SWEEP_REQUEST_TIMEOUT,default=30s"`
	OutputDir          string        `json:"output_dir" env:"SWEEP_OUTPUT_DIR,default=data"`
	HistoryDB          string        `json:"history_db" env:"SWEEP_HISTORY_DB"`
	HistoryDisabled    bool          `json:"history_disabled" env:"SWEEP_HISTORY_DISABLED,default=false"`

	// Export sinks
	AWSRegion               string `json:"aws_region" env:"AWS_REGION,default=us-east-1"`
	ExportS3Bucket          string `json:"export_s3_bucket" env:"EXPORT_S3_BUCKET"`
	ExportS3Prefix          string `json:"export_s3_prefix" env:"EXPORT_S3_PREFIX,default=placesweep"`
	ExportSheetsID          string `json:"export_sheets_id" env:"EXPORT_SHEETS_ID"`
	GoogleCredentialsFile   string `json:"google_credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	ExportOpenSearchURL     string `json:"export_opensearch_endpoint" env:"EXPORT_OPENSEARCH_ENDPOINT"`
	ExportOpenSearchIndex   string `json:"export_opensearch_index" env:"EXPORT_OPENSEARCH_INDEX,default=places"`
	ExportOpenSearchSigV4   bool   `json:"export_opensearch_sigv4" env:"EXPORT_OPENSEARCH_SIGV4,default=false"`
	ExportOpenSearchSkipTLS bool   `json:"export_opensearch_insecure_skip_tls" env:"EXPORT_OPENSEARCH_INSECURE_SKIP_TLS,default=false"`

	// OpenTelemetry
	OTelEnabled              bool    `json:"otel_enabled" env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string  `json:"otel_service_name" env:"OTEL_SERVICE_NAME,default=placesweep"`
	OTelExporterOTLPEndpoint string  `json:"otel_exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelExporterOTLPProtocol string  `json:"otel_exporter_otlp_protocol" env:"OTEL_EXPORTER_OTLP_PROTOCOL,default=http/protobuf"`
	OTelResourceAttributes   string  `json:"otel_resource_attributes" env:"OTEL_RESOURCE_ATTRIBUTES"`
	OTelTracesSampler        string  `json:"otel_traces_sampler" env:"OTEL_TRACES_SAMPLER,default=always_on"`
	OTelTracesSamplerArg     float64 `json:"otel_traces_sampler_arg" env:"OTEL_TRACES_SAMPLER_ARG,default=1.0"`
}

// Center returns the configured sweep center.
func (c *Config) Center() Coordinate {
	return Coordinate{Latitude: c.CenterLat, Longitude: c.CenterLng}
}
