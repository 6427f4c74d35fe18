package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/placesweep/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreWithPath(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summaryAt(id string, started time.Time) types.RunSummary {
	return types.RunSummary{
		RunID:          id,
		Area:           "taipei",
		Center:         types.Coordinate{Latitude: 25.033, Longitude: 121.5654},
		StartedAt:      started,
		FinishedAt:     started.Add(90 * time.Second),
		GridPoints:     81,
		PointsSearched: 40,
		PointsFailed:   1,
		TotalPlaces:    1200,
		LowRatedPlaces: 37,
		NewPlaces:      12,
		CapReached:     true,
	}
}

func TestNewStoreWithPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "a", "b", "history.db")
	store, err := NewStoreWithPath(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, dbPath)
}

func TestStore_RecordAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	summary := summaryAt("run-1", started)
	failures := []types.PointFailure{
		{Index: 7, Coordinate: types.Coordinate{Latitude: 25.0, Longitude: 121.5}, Outcome: types.OutcomeRetryExhausted, Message: "retry attempts exhausted"},
		{Index: 3, Coordinate: types.Coordinate{Latitude: 24.9, Longitude: 121.4}, Outcome: types.OutcomeFailed, Message: "REQUEST_DENIED"},
	}
	require.NoError(t, store.RecordRun(ctx, summary, failures))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "taipei", got.Area)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, 90*time.Second, got.Duration)
	assert.Equal(t, 1200, got.TotalPlaces)
	assert.Equal(t, 37, got.LowRatedPlaces)
	assert.Equal(t, 12, got.NewPlaces)
	assert.True(t, got.CapReached)

	storedFailures, err := store.Failures(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, storedFailures, 2)
	assert.Equal(t, 3, storedFailures[0].Index)
	assert.Equal(t, types.OutcomeFailed, storedFailures[0].Outcome)
	assert.Equal(t, types.OutcomeRetryExhausted, storedFailures[1].Outcome)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStore_RecordRun_DuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	summary := summaryAt("run-1", time.Now())
	require.NoError(t, store.RecordRun(ctx, summary, nil))
	assert.Error(t, store.RecordRun(ctx, summary, nil))
}

func TestStore_ListRuns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.RecordRun(ctx, summaryAt(id, base.Add(time.Duration(i)*time.Hour)), nil))
	}

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
	assert.Equal(t, "r2", runs[1].RunID)

	all, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_RecordSightings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	low := 1.8
	first := []types.Place{
		{ID: "p1", Name: "One", Rating: &low},
		{ID: "p2", Name: "Two"},
	}
	n, err := store.RecordSightings(ctx, "taipei", "run-1", time.Now(), first)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	second := []types.Place{
		{ID: "p2", Name: "Two renamed"},
		{ID: "p3", Name: "Three"},
	}
	n, err = store.RecordSightings(ctx, "taipei", "run-2", time.Now(), second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seen, err := store.TimesSeen(ctx, "taipei", "p2")
	require.NoError(t, err)
	assert.Equal(t, 2, seen)

	seen, err = store.TimesSeen(ctx, "taipei", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, seen)

	n, err = store.RecordSightings(ctx, "kaohsiung", "run-3", time.Now(), second)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "sightings are tracked per area")

	seen, err = store.TimesSeen(ctx, "taipei", "unknown")
	require.NoError(t, err)
	assert.Zero(t, seen)
}
