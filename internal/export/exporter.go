// Package export writes the places found by a sweep to one or more destinations.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ca-srg/placesweep/internal/places"
	"github.com/ca-srg/placesweep/internal/types"
)

// Fixed artifact names, shared by every file based sink.
const (
	AllPlacesJSON = "all_places.json"
	AllPlacesCSV  = "all_places.csv"
	LowRatedJSON  = "low_rated.json"
	LowRatedCSV   = "low_rated.csv"
)

// CSVHeader is the first row of every tabular export.
var CSVHeader = []string{"Name", "Rating", "Address", "Google Maps URL"}

// Dataset is everything a sink receives at the end of a run.
type Dataset struct {
	RunID     string
	Area      string
	Threshold float64
	All       []types.Place
	LowRated  []types.Place
}

// Sink is an export destination.
type Sink interface {
	Name() string
	Export(ctx context.Context, ds Dataset) error
}

// Record is the exported shape of a place. Rating carries the sentinel for unrated places.
type Record struct {
	Name    string  `json:"name"`
	Rating  float64 `json:"rating"`
	Address string  `json:"address"`
	URL     string  `json:"url"`
}

// Artifact is one serialized export file.
type Artifact struct {
	Name        string
	ContentType string
	Body        []byte
}

// ToRecords converts places to export records, preserving order.
func ToRecords(ps []types.Place) []Record {
	records := make([]Record, 0, len(ps))
	for _, p := range ps {
		records = append(records, Record{
			Name:    p.Name,
			Rating:  places.EffectiveRating(p),
			Address: p.Address,
			URL:     p.MapURL,
		})
	}
	return records
}

// EncodeJSON renders places as an indented JSON array.
func EncodeJSON(ps []types.Place) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(ToRecords(ps)); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// Rows returns the tabular form of places, header first.
func Rows(ps []types.Place) [][]string {
	rows := make([][]string, 0, len(ps)+1)
	rows = append(rows, CSVHeader)
	for _, r := range ToRecords(ps) {
		rows = append(rows, []string{r.Name, formatRating(r.Rating), r.Address, r.URL})
	}
	return rows
}

// EncodeCSV renders places as CSV with CSVHeader.
func EncodeCSV(ps []types.Place) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(Rows(ps)); err != nil {
		return nil, fmt.Errorf("failed to encode CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// Artifacts serializes a dataset into the four fixed export files.
func Artifacts(ds Dataset) ([]Artifact, error) {
	type file struct {
		name   string
		places []types.Place
		json   bool
	}
	files := []file{
		{AllPlacesJSON, ds.All, true},
		{AllPlacesCSV, ds.All, false},
		{LowRatedJSON, ds.LowRated, true},
		{LowRatedCSV, ds.LowRated, false},
	}

	artifacts := make([]Artifact, 0, len(files))
	for _, f := range files {
		var (
			body        []byte
			contentType string
			err         error
		)
		if f.json {
			body, err = EncodeJSON(f.places)
			contentType = "application/json"
		} else {
			body, err = EncodeCSV(f.places)
			contentType = "text/csv"
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		artifacts = append(artifacts, Artifact{Name: f.name, ContentType: contentType, Body: body})
	}
	return artifacts, nil
}

func formatRating(r float64) string {
	return strconv.FormatFloat(r, 'f', 1, 64)
}
