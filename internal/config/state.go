package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/fsutil"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/logic/measure"
)

// StateVersion is the current layout of the rig state document.
const StateVersion = 1

// ErrConfigurationMissing reports that no rig state was saved yet. LoadState
// recovers from it with defaults.
var ErrConfigurationMissing = errors.New("configuration missing")

// BoundaryState is the target region and its derived centroid.
type BoundaryState struct {
	Points   []geometry.Point `yaml:"points" json:"points"`
	Centroid geometry.Point   `yaml:"centroid" json:"centroid"`
}

// WarmupState is the shaking protocol run before each picture.
type WarmupState struct {
	InitialDuty   int `yaml:"initial_duty" json:"initial_duty"`
	MeasureDuty   int `yaml:"measure_duty" json:"measure_duty"`
	WaitTimeMs    int `yaml:"wait_time_ms" json:"wait_time_ms"`
	RampTimeMs    int `yaml:"ramp_time_ms" json:"ramp_time_ms"`
	MeasureTimeMs int `yaml:"measure_time_ms" json:"measure_time_ms"`
}

// Warmup converts to the measurer's protocol.
func (w WarmupState) Warmup() measure.Warmup {
	return measure.Warmup{
		InitialDuty: w.InitialDuty,
		MeasureDuty: w.MeasureDuty,
		WaitTime:    time.Duration(w.WaitTimeMs) * time.Millisecond,
		RampTime:    time.Duration(w.RampTimeMs) * time.Millisecond,
		MeasureTime: time.Duration(w.MeasureTimeMs) * time.Millisecond,
	}
}

// State is the persisted, per-rig setup: what the operator entered once
// and the levelling loop reads on every run. Motor position lives in its
// own file.
type State struct {
	Version      int                   `yaml:"version" json:"version"`
	Boundary     BoundaryState         `yaml:"boundary" json:"boundary"`
	SearchBounds geometry.SearchBounds `yaml:"search_bounds" json:"search_bounds"`
	Warmup       WarmupState           `yaml:"warmup" json:"warmup"`

	// Defaulted is set when the state was not found and defaults were used.
	Defaulted bool `yaml:"-" json:"defaulted"`
}

// DefaultState returns the state used when nothing was saved: the hexagon
// of the first rig's camera view, empty search bounds and the standard
// warm-up.
func DefaultState() State {
	s := State{
		Version: StateVersion,
		Boundary: BoundaryState{Points: []geometry.Point{
			{X: 227, Y: 5}, {X: 429, Y: 7}, {X: 522, Y: 181},
			{X: 422, Y: 349}, {X: 225, Y: 347}, {X: 126, Y: 174},
		}},
		Warmup: WarmupState{
			InitialDuty:   650,
			MeasureDuty:   560,
			WaitTimeMs:    5000,
			MeasureTimeMs: 10000,
		},
	}
	s.Boundary.Centroid, _ = geometry.Centroid(s.Boundary.Points)
	return s
}

// Validate checks the state.
func (s State) Validate() error {
	if len(s.Boundary.Points) < 3 {
		return fmt.Errorf("boundary needs at least 3 points, got %d", len(s.Boundary.Points))
	}
	if err := s.SearchBounds.Validate(); err != nil {
		return fmt.Errorf("search bounds: %w", err)
	}
	w := s.Warmup
	for name, v := range map[string]int{"initial_duty": w.InitialDuty, "measure_duty": w.MeasureDuty} {
		if v < 0 || v > 999 {
			return fmt.Errorf("warmup.%s must be between 0 and 999, got %d", name, v)
		}
	}
	if w.WaitTimeMs < 0 || w.RampTimeMs < 0 || w.MeasureTimeMs < 0 {
		return errors.New("warmup times must be >= 0")
	}
	return nil
}

// LoadState reads the state at path. A missing file is not an error: the
// defaults are returned with Defaulted set and a warning is logged.
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		debug.Warn("%v: %s not found, using default rig state", ErrConfigurationMissing, path)
		s := DefaultState()
		s.Defaulted = true
		return s, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal state %s: %w", path, err)
	}
	switch {
	case s.Version == 0:
		s.Version = StateVersion
	case s.Version > StateVersion:
		return State{}, fmt.Errorf("state %s has version %d, newest known is %d", path, s.Version, StateVersion)
	}
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("state %s: %w", path, err)
	}
	s.Boundary.Centroid, _ = geometry.Centroid(s.Boundary.Points)
	return s, nil
}

// StatePatch holds the fields to change. Nil fields are left alone.
type StatePatch struct {
	Boundary     []geometry.Point       `json:"boundary,omitempty"`
	SearchBounds *geometry.SearchBounds `json:"search_bounds,omitempty"`
	Warmup       *WarmupState           `json:"warmup,omitempty"`
}

// Merge returns s with p applied. The centroid follows the boundary.
func (s State) Merge(p StatePatch) State {
	out := s
	if p.Boundary != nil {
		out.Boundary.Points = append([]geometry.Point(nil), p.Boundary...)
		out.Boundary.Centroid, _ = geometry.Centroid(out.Boundary.Points)
	} else {
		out.Boundary.Points = append([]geometry.Point(nil), s.Boundary.Points...)
	}
	if p.SearchBounds != nil {
		out.SearchBounds = *p.SearchBounds
	}
	if p.Warmup != nil {
		out.Warmup = *p.Warmup
	}
	return out
}

// SaveState validates s and writes it to path atomically. Nothing is
// written when the file already holds the same content; the result
// reports whether the file changed.
func SaveState(path string, s State) (bool, error) {
	if err := s.Validate(); err != nil {
		return false, err
	}
	s.Version = StateVersion
	s.Boundary.Centroid, _ = geometry.Centroid(s.Boundary.Points)

	data, err := yaml.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("marshal state: %w", err)
	}
	if old, err := os.ReadFile(path); err == nil && bytes.Equal(old, data) {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("save state: %w", err)
	}
	debug.Verbose("rig state saved to %s", path)
	return true, nil
}
