package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("PLACES_API_KEY", "  test-key ")

		cfg, err := Load()
		require.NoError(t, err)

		require.Equal(t, "test-key", cfg.PlacesAPIKey)
		require.Equal(t, "restaurant", cfg.PlacesCategory)
		require.Equal(t, "https://maps.googleapis.com", cfg.PlacesAPIBaseURL)
		require.InDelta(t, 25.0330, cfg.CenterLat, 1e-9)
		require.InDelta(t, 121.5654, cfg.CenterLng, 1e-9)
		require.InDelta(t, 0.05, cfg.GridSpacing, 1e-9)
		require.Equal(t, 4, cfg.GridExtent)
		require.Equal(t, 10000, cfg.MaxResults)
		require.InDelta(t, 2.6, cfg.LowRatingThreshold, 1e-9)
		require.Equal(t, 2*time.Second, cfg.PageDelay)
		require.Equal(t, 5*time.Second, cfg.RetryDelay)
		require.Equal(t, 5, cfg.MaxRetries)
		require.Equal(t, 1, cfg.Concurrency)
		require.Equal(t, "data", cfg.OutputDir)
	})

	t.Run("parses overrides and clamps concurrency", func(t *testing.T) {
		t.Setenv("SWEEP_CENTER_LAT", "35.6812")
		t.Setenv("SWEEP_CENTER_LNG", "139.7671")
		t.Setenv("SWEEP_CONCURRENCY", "64")
		t.Setenv("SWEEP_PAGE_DELAY", "3s")
		t.Setenv("SWEEP_MAX_RETRIES", "0")
		t.Setenv("SWEEP_REQUEST_BURST", "0")
		t.Setenv("PLACES_API_BASE_URL", "http://localhost:8080/")

		cfg, err := Load()
		require.NoError(t, err)

		require.InDelta(t, 35.6812, cfg.CenterLat, 1e-9)
		require.Equal(t, 16, cfg.Concurrency)
		require.Equal(t, 3*time.Second, cfg.PageDelay)
		require.Equal(t, 0, cfg.MaxRetries, "zero keeps the unbounded retry mode")
		require.Equal(t, 1, cfg.RequestBurst)
		require.Equal(t, "http://localhost:8080", cfg.PlacesAPIBaseURL)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		cases := map[string]struct {
			key, value string
			contains   string
		}{
			"page delay below minimum": {"SWEEP_PAGE_DELAY", "500ms", "SWEEP_PAGE_DELAY"},
			"zero spacing":             {"SWEEP_GRID_SPACING", "0", "SWEEP_GRID_SPACING"},
			"negative extent":          {"SWEEP_GRID_EXTENT", "-1", "SWEEP_GRID_EXTENT"},
			"negative retries":         {"SWEEP_MAX_RETRIES", "-2", "SWEEP_MAX_RETRIES"},
			"zero cap":                 {"SWEEP_MAX_RESULTS", "0", "SWEEP_MAX_RESULTS"},
			"latitude out of range":    {"SWEEP_CENTER_LAT", "91", "SWEEP_CENTER_LAT"},
			"radius too large":         {"SWEEP_SEARCH_RADIUS", "60000", "SWEEP_SEARCH_RADIUS"},
			"bad opensearch endpoint":  {"EXPORT_OPENSEARCH_ENDPOINT", "localhost:9200", "EXPORT_OPENSEARCH_ENDPOINT"},
		}

		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				t.Setenv(tc.key, tc.value)

				_, err := Load()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.contains)
			})
		}
	})
}

func TestLoadAreas(t *testing.T) {
	dir := t.TempDir()

	t.Run("parses areas", func(t *testing.T) {
		path := filepath.Join(dir, "areas.yaml")
		content := `areas:
  - name: taipei
    lat: 25.0330
    lng: 121.5654
  - name: " tokyo "
    lat: 35.6812
    lng: 139.7671
    spacing: 0.02
    extent: 2
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		areas, err := LoadAreas(path)
		require.NoError(t, err)
		require.Len(t, areas, 2)

		assert.Equal(t, "taipei", areas[0].Name)
		assert.Nil(t, areas[0].Extent)
		assert.Equal(t, "tokyo", areas[1].Name)
		assert.InDelta(t, 0.02, areas[1].Spacing, 1e-9)
		require.NotNil(t, areas[1].Extent)
		assert.Equal(t, 2, *areas[1].Extent)
		assert.InDelta(t, 35.6812, areas[1].Center().Latitude, 1e-9)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		path := filepath.Join(dir, "dup.yaml")
		content := `areas:
  - {name: a, lat: 1, lng: 1}
  - {name: a, lat: 2, lng: 2}
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		_, err := LoadAreas(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate name")
	})

	t.Run("rejects empty file", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("areas: []\n"), 0644))

		_, err := LoadAreas(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadAreas(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read areas file")
	})
}
