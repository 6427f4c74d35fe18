package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ca-srg/placesweep/internal/types"
	env "github.com/netflix/go-env"
	"gopkg.in/yaml.v3"
)

// Type alias for Config
type Config = types.Config

const (
	// MinPageDelay is the shortest wait the Places API tolerates before a next_page_token becomes valid.
	MinPageDelay = time.Second

	maxConcurrency  = 16
	maxSearchRadius = 50000
)

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config

	_, err := env.UnmarshalFromEnviron(&config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	config.PlacesAPIKey = strings.TrimSpace(config.PlacesAPIKey)
	config.PlacesAPIBaseURL = strings.TrimRight(strings.TrimSpace(config.PlacesAPIBaseURL), "/")

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate re-runs validation after command line overrides were applied.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}
	return validateConfig(config)
}

// validateConfig validates configuration values and adjusts them to safe ranges
func validateConfig(config *Config) error {
	// Validate concurrency limits
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Concurrency > maxConcurrency {
		config.Concurrency = maxConcurrency
	}

	if config.RequestBurst < 1 {
		config.RequestBurst = 1
	}

	if err := validateCenter(config.CenterLat, config.CenterLng); err != nil {
		return err
	}

	if !(config.GridSpacing > 0) || math.IsInf(config.GridSpacing, 0) {
		return fmt.Errorf("SWEEP_GRID_SPACING must be greater than 0")
	}
	if config.GridExtent < 0 {
		return fmt.Errorf("SWEEP_GRID_EXTENT cannot be negative")
	}

	if config.SearchRadius <= 0 {
		return fmt.Errorf("SWEEP_SEARCH_RADIUS must be greater than 0")
	}
	if config.SearchRadius > maxSearchRadius {
		return fmt.Errorf("SWEEP_SEARCH_RADIUS cannot exceed %d meters", maxSearchRadius)
	}

	if config.MaxResults <= 0 {
		return fmt.Errorf("SWEEP_MAX_RESULTS must be greater than 0")
	}
	if config.PerQueryCap <= 0 {
		return fmt.Errorf("SWEEP_PER_QUERY_CAP must be greater than 0")
	}

	// Validate retry and pagination timing
	if config.PageDelay < MinPageDelay {
		return fmt.Errorf("SWEEP_PAGE_DELAY must be at least %v, got %v", MinPageDelay, config.PageDelay)
	}
	if config.RetryDelay <= 0 {
		return fmt.Errorf("SWEEP_RETRY_DELAY must be greater than 0")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("SWEEP_MAX_RETRIES cannot be negative (use 0 for unbounded retries)")
	}
	if config.RequestRate <= 0 {
		return fmt.Errorf("SWEEP_REQUEST_RATE must be greater than 0")
	}
	if config.RequestTimeout <= 0 {
		return fmt.Errorf("SWEEP_REQUEST_TIMEOUT must be greater than 0")
	}

	if strings.TrimSpace(config.PlacesCategory) == "" {
		return fmt.Errorf("PLACES_CATEGORY cannot be empty")
	}
	if err := validateHTTPURL("PLACES_API_BASE_URL", config.PlacesAPIBaseURL); err != nil {
		return err
	}

	if strings.TrimSpace(config.OutputDir) == "" {
		config.OutputDir = "data"
	}

	// Validate OpenSearch export configuration if endpoint is provided
	if config.ExportOpenSearchURL != "" {
		if err := validateHTTPURL("EXPORT_OPENSEARCH_ENDPOINT", config.ExportOpenSearchURL); err != nil {
			return err
		}
		if strings.TrimSpace(config.ExportOpenSearchIndex) == "" {
			return fmt.Errorf("EXPORT_OPENSEARCH_INDEX cannot be empty when EXPORT_OPENSEARCH_ENDPOINT is set")
		}
	}

	return nil
}

func validateCenter(lat, lng float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("SWEEP_CENTER_LAT must be between -90 and 90, got %v", lat)
	}
	if math.IsNaN(lng) || lng < -180 || lng > 180 {
		return fmt.Errorf("SWEEP_CENTER_LNG must be between -180 and 180, got %v", lng)
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL format: %w", name, err)
	}
	if !strings.HasPrefix(parsedURL.Scheme, "http") {
		return fmt.Errorf("%s scheme must be http or https", name)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s must include a valid host", name)
	}
	return nil
}

type areasFile struct {
	Areas []types.Area `yaml:"areas"`
}

// LoadAreas loads and validates named sweep areas from a YAML file
func LoadAreas(path string) ([]types.Area, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read areas file: %w", err)
	}

	var file areasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse areas YAML: %w", err)
	}

	if len(file.Areas) == 0 {
		return nil, fmt.Errorf("at least one area must be configured")
	}

	seen := make(map[string]struct{}, len(file.Areas))
	for i, area := range file.Areas {
		name := strings.TrimSpace(area.Name)
		if name == "" {
			return nil, fmt.Errorf("areas[%d]: name is required", i)
		}
		if strings.ContainsAny(name, `/\`) {
			return nil, fmt.Errorf("areas[%d]: name %q cannot contain path separators", i, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("areas[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		if err := validateCenter(area.Lat, area.Lng); err != nil {
			return nil, fmt.Errorf("areas[%d] %s: %w", i, name, err)
		}
		if area.Spacing < 0 {
			return nil, fmt.Errorf("areas[%d] %s: spacing cannot be negative", i, name)
		}
		if area.Extent != nil && *area.Extent < 0 {
			return nil, fmt.Errorf("areas[%d] %s: extent cannot be negative", i, name)
		}
		file.Areas[i].Name = name
	}

	return file.Areas, nil
}
