package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/placesweep/internal/places"
	"github.com/ca-srg/placesweep/internal/types"
)

func ptr(f float64) *float64 { return &f }

func testDataset() Dataset {
	all := []types.Place{
		{ID: "a1", Name: "Beef Noodles", Rating: ptr(2.2), Address: "No. 1, Roosevelt Rd", MapURL: places.MapURL("a1"),
			Location: types.Coordinate{Latitude: 25.02, Longitude: 121.52}},
		{ID: "b2", Name: "Tea & Toast", Address: "N/A", MapURL: places.MapURL("b2")},
		{ID: "c3", Name: "豆花店", Rating: ptr(4.6), Address: "台北市", MapURL: places.MapURL("c3")},
	}
	return Dataset{
		RunID:     "run-123",
		Area:      "taipei",
		Threshold: 2.6,
		All:       all,
		LowRated:  all[:1],
	}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestEncodeJSON(t *testing.T) {
	data, err := EncodeJSON(testDataset().All)
	require.NoError(t, err)

	assert.Contains(t, string(data), "\n    {\n        \"name\": \"Beef Noodles\"", "four space indent")
	assert.Contains(t, string(data), "Tea & Toast", "HTML characters are not escaped")
	assert.Contains(t, string(data), "豆花店")

	var records []Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 3)
	assert.Equal(t, Record{Name: "Beef Noodles", Rating: 2.2, Address: "No. 1, Roosevelt Rd", URL: "https://www.google.com/maps/place/?q=place_id:a1"}, records[0])
	assert.InDelta(t, places.MissingRatingSentinel, records[1].Rating, 1e-9, "unrated places export the sentinel")
}

func TestEncodeJSON_Empty(t *testing.T) {
	data, err := EncodeJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestEncodeCSV(t *testing.T) {
	data, err := EncodeCSV(testDataset().All)
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Name", "Rating", "Address", "Google Maps URL"}, rows[0])
	assert.Equal(t, []string{"Beef Noodles", "2.2", "No. 1, Roosevelt Rd", "https://www.google.com/maps/place/?q=place_id:a1"}, rows[1])
	assert.Equal(t, "5.0", rows[2][1])
}

func TestArtifacts(t *testing.T) {
	artifacts, err := Artifacts(testDataset())
	require.NoError(t, err)
	require.Len(t, artifacts, 4)

	names := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		names = append(names, a.Name)
		assert.NotEmpty(t, a.Body)
	}
	assert.Equal(t, []string{AllPlacesJSON, AllPlacesCSV, LowRatedJSON, LowRatedCSV}, names)
	assert.Equal(t, "application/json", artifacts[0].ContentType)
	assert.Equal(t, "text/csv", artifacts[1].ContentType)
}

func TestFileSink_Export(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	sink := NewFileSink(dir, discardLogger())
	assert.Equal(t, "file", sink.Name())

	require.NoError(t, sink.Export(context.Background(), testDataset()))

	for _, name := range []string{AllPlacesJSON, AllPlacesCSV, LowRatedJSON, LowRatedCSV} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	data, err := os.ReadFile(filepath.Join(dir, LowRatedJSON))
	require.NoError(t, err)
	var records []Record
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "Beef Noodles", records[0].Name)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no temporary files are left behind")
}

func TestFileSink_Overwrites(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir, discardLogger())

	require.NoError(t, sink.Export(context.Background(), testDataset()))
	require.NoError(t, sink.Export(context.Background(), Dataset{}))

	data, err := os.ReadFile(filepath.Join(dir, AllPlacesCSV))
	require.NoError(t, err)
	assert.Equal(t, "Name,Rating,Address,Google Maps URL\n", string(data))
}
