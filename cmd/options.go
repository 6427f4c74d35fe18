package cmd

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	appconfig "github.com/ca-srg/placesweep/internal/config"
	"github.com/ca-srg/placesweep/internal/grid"
	"github.com/ca-srg/placesweep/internal/sweep"
	"github.com/ca-srg/placesweep/internal/types"
)

const defaultAreaName = "default"

// gridOptions holds the flags shared by every command that builds a grid.
type gridOptions struct {
	centerLat     float64
	centerLng     float64
	spacing       float64
	spacingMeters float64
	extent        int
	areasFile     string
	areaName      string
}

func (o *gridOptions) register(fs *pflag.FlagSet) {
	fs.Float64Var(&o.centerLat, "center-lat", 0, "Grid center latitude (default from SWEEP_CENTER_LAT)")
	fs.Float64Var(&o.centerLng, "center-lng", 0, "Grid center longitude (default from SWEEP_CENTER_LNG)")
	fs.Float64Var(&o.spacing, "spacing", 0, "Grid spacing in degrees (default from SWEEP_GRID_SPACING)")
	fs.Float64Var(&o.spacingMeters, "spacing-meters", 0, "Grid spacing in metres, converted to degrees")
	fs.IntVar(&o.extent, "extent", 0, "Grid cells on each side of the center (default from SWEEP_GRID_EXTENT)")
	fs.StringVar(&o.areasFile, "areas", "", "YAML file listing named areas to sweep in turn")
	fs.StringVar(&o.areaName, "area", "", "Area name; with --areas, only this area is processed")
}

func (o *gridOptions) apply(fs *pflag.FlagSet, cfg *types.Config) {
	if fs.Changed("center-lat") {
		cfg.CenterLat = o.centerLat
	}
	if fs.Changed("center-lng") {
		cfg.CenterLng = o.centerLng
	}
	if fs.Changed("spacing") {
		cfg.GridSpacing = o.spacing
	}
	if fs.Changed("spacing-meters") && o.spacingMeters > 0 {
		cfg.GridSpacing = grid.SpacingFromMeters(o.spacingMeters)
	}
	if fs.Changed("extent") {
		cfg.GridExtent = o.extent
	}
}

// loadConfig reads .env and the environment, then applies command line overrides.
func loadConfig(fs *pflag.FlagSet, apply func(*types.Config)) (*types.Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg, err := appconfig.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if apply != nil {
		apply(cfg)
	}
	fs.Visit(func(f *pflag.Flag) {
		log.Printf("Flag override: --%s=%s", f.Name, f.Value.String())
	})

	if err := appconfig.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveAreas returns the areas to process: every entry of the areas file, or a
// single area centered on the configured coordinate.
func resolveAreas(cfg *types.Config, o *gridOptions) ([]types.Area, error) {
	if o.areasFile == "" {
		name := strings.TrimSpace(o.areaName)
		if name == "" {
			name = defaultAreaName
		}
		return []types.Area{{Name: name, Lat: cfg.CenterLat, Lng: cfg.CenterLng}}, nil
	}

	areas, err := appconfig.LoadAreas(o.areasFile)
	if err != nil {
		return nil, err
	}
	if o.areaName == "" {
		return areas, nil
	}
	for _, area := range areas {
		if area.Name == o.areaName {
			return []types.Area{area}, nil
		}
	}
	return nil, fmt.Errorf("area %q not found in %s", o.areaName, o.areasFile)
}

// areaRequest merges the area overrides into the configured sweep parameters.
func areaRequest(cfg *types.Config, area types.Area) sweep.Request {
	spacing := cfg.GridSpacing
	if area.Spacing > 0 {
		spacing = area.Spacing
	}
	extent := cfg.GridExtent
	if area.Extent != nil {
		extent = *area.Extent
	}
	return sweep.Request{
		Area:        area.Name,
		Center:      area.Center(),
		Spacing:     spacing,
		Extent:      extent,
		Radius:      cfg.SearchRadius,
		PerQueryCap: cfg.PerQueryCap,
		MaxResults:  cfg.MaxResults,
		Threshold:   cfg.LowRatingThreshold,
	}
}

// areaOutputDir keeps the artifacts of each area of an areas file apart.
func areaOutputDir(cfg *types.Config, o *gridOptions, area types.Area) string {
	if o.areasFile == "" {
		return cfg.OutputDir
	}
	return filepath.Join(cfg.OutputDir, area.Name)
}
