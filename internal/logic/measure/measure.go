// Package measure turns single noisy centre of mass readings into batch
// estimates with a noise figure.
package measure

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/mikesmithlab/shaker/internal/debug"
)

// Sample is one centre of mass reading in image coordinates.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Observation summarises a batch of samples.
type Observation struct {
	MeanX float64 `json:"mean_x"`
	MeanY float64 `json:"mean_y"`
	// Fluctuation is the standard error of the mean position:
	// sqrt(stdX² + stdY²) / sqrt(N) with population standard deviations.
	Fluctuation float64 `json:"fluctuation"`
	N           int     `json:"n"`
}

// Measurer takes one centre of mass reading. Implementations may drive
// the shaker and camera.
type Measurer interface {
	Measure(ctx context.Context) (Sample, error)
}

// MeasurerFunc adapts a function to Measurer.
type MeasurerFunc func(ctx context.Context) (Sample, error)

// Measure implements Measurer.
func (f MeasurerFunc) Measure(ctx context.Context) (Sample, error) {
	return f(ctx)
}

// Take calls m batchSize times and reduces the readings. The first failing
// reading aborts the batch; nothing is retried.
func Take(ctx context.Context, m Measurer, batchSize int) (Observation, error) {
	if batchSize < 1 {
		return Observation{}, fmt.Errorf("batch size must be at least 1, got %d", batchSize)
	}

	xs := make([]float64, batchSize)
	ys := make([]float64, batchSize)
	for i := 0; i < batchSize; i++ {
		s, err := m.Measure(ctx)
		if err != nil {
			return Observation{}, fmt.Errorf("reading %d of %d: %w", i+1, batchSize, err)
		}
		xs[i], ys[i] = s.X, s.Y
		debug.Trace("reading %d/%d: (%.3f, %.3f)", i+1, batchSize, s.X, s.Y)
	}

	return Reduce(xs, ys), nil
}

// Reduce computes the Observation of paired readings. xs and ys must have
// the same non-zero length.
func Reduce(xs, ys []float64) Observation {
	mx, vx := stat.PopMeanVariance(xs, nil)
	my, vy := stat.PopMeanVariance(ys, nil)
	n := len(xs)
	obs := Observation{
		MeanX:       mx,
		MeanY:       my,
		Fluctuation: math.Sqrt(vx+vy) / math.Sqrt(float64(n)),
		N:           n,
	}
	debug.Verbose("batch of %d: mean (%.3f, %.3f) fluctuation %.4f", n, mx, my, obs.Fluctuation)
	return obs
}
