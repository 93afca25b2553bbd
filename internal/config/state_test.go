package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesmithlab/shaker/internal/logic/geometry"
)

func TestLoadState_MissingFileDefaults(t *testing.T) {
	s, err := LoadState(filepath.Join(t.TempDir(), "state.yaml"))
	require.NoError(t, err)

	assert.True(t, s.Defaulted)
	assert.Equal(t, StateVersion, s.Version)
	assert.Len(t, s.Boundary.Points, 6)
	assert.InDelta(t, 325.1666666666667, s.Boundary.Centroid.X, 1e-9)
	assert.InDelta(t, 177.16666666666666, s.Boundary.Centroid.Y, 1e-9)
	assert.True(t, s.SearchBounds.IsZero())
	assert.Equal(t, 650, s.Warmup.InitialDuty)
}

func TestSaveState_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.yaml")
	bounds := geometry.NewSearchBounds(-100, 120, 100, -80)
	s := DefaultState().Merge(StatePatch{
		Boundary:     []geometry.Point{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
		SearchBounds: &bounds,
	})

	changed, err := SaveState(path, s)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := LoadState(path)
	require.NoError(t, err)
	assert.False(t, got.Defaulted)
	assert.Equal(t, geometry.Point{X: 5, Y: 5}, got.Boundary.Centroid)
	assert.Equal(t, bounds, got.SearchBounds)
	assert.Equal(t, s.Warmup, got.Warmup)
}

func TestSaveState_UnchangedIsNotRewritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s := DefaultState()

	changed, err := SaveState(path, s)
	require.NoError(t, err)
	require.True(t, changed)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	changed, err = SaveState(path, s)
	require.NoError(t, err)
	assert.False(t, changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, old, info.ModTime(), time.Second)
}

func TestSaveState_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s := DefaultState()
	s.Boundary.Points = s.Boundary.Points[:2]

	_, err := SaveState(path, s)
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "invalid state must not be written")
}

func TestMerge_OnlyGivenFields(t *testing.T) {
	base := DefaultState()
	w := WarmupState{InitialDuty: 700, MeasureDuty: 500, RampTimeMs: 2000}

	got := base.Merge(StatePatch{Warmup: &w})
	assert.Equal(t, w, got.Warmup)
	assert.Equal(t, base.Boundary, got.Boundary)
	assert.Equal(t, base.SearchBounds, got.SearchBounds)

	got.Boundary.Points[0].X = -1
	assert.NotEqual(t, -1.0, base.Boundary.Points[0].X, "merge must not alias the boundary")
}

func TestLoadState_FutureVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 7\n"), 0o644))
	_, err := LoadState(path)
	assert.ErrorContains(t, err, "version 7")
}

func TestLoadState_UnversionedIsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	doc := `
boundary:
  points:
    - {x: 0, y: 0}
    - {x: 6, y: 0}
    - {x: 3, y: 9}
search_bounds:
  x: {min: -50, max: 50}
  y: {min: -60, max: 40}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	s, err := LoadState(path)
	require.NoError(t, err)
	assert.Equal(t, StateVersion, s.Version)
	assert.Equal(t, geometry.Point{X: 3, Y: 3}, s.Boundary.Centroid)
	assert.Equal(t, geometry.Interval{Min: -60, Max: 40}, s.SearchBounds.Y)
}

func TestLoadState_InvalidBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	doc := "boundary:\n  points: [{x: 0, y: 0}, {x: 1, y: 0}, {x: 0, y: 1}]\nsearch_bounds:\n  x: {min: 10, max: -10}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestWarmupState_Durations(t *testing.T) {
	w := WarmupState{InitialDuty: 650, MeasureDuty: 560, WaitTimeMs: 5000, RampTimeMs: 1500, MeasureTimeMs: 10000}.Warmup()
	assert.Equal(t, 5*time.Second, w.WaitTime)
	assert.Equal(t, 1500*time.Millisecond, w.RampTime)
	assert.Equal(t, 10*time.Second, w.MeasureTime)
	assert.Equal(t, 560, w.MeasureDuty)
}
