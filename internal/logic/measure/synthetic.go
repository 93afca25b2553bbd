package measure

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/mikesmithlab/shaker/internal/logic/geometry"
)

// Synthetic is a stand-in for the rig: the measured centre of mass sits at
// Centre + (|x-X0| + noise, |y-Y0| + noise), where (x, y) is the live motor
// position and (X0, Y0) the hidden level position. The noise is Gaussian
// with standard deviation Noise.
type Synthetic struct {
	Centre   geometry.Point
	X0, Y0   int
	Noise    float64
	Position func() (x, y int)

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic returns a seeded synthetic measurer.
func NewSynthetic(centre geometry.Point, x0, y0 int, noise float64, seed int64, position func() (int, int)) *Synthetic {
	return &Synthetic{
		Centre:   centre,
		X0:       x0,
		Y0:       y0,
		Noise:    noise,
		Position: position,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Measure implements Measurer.
func (s *Synthetic) Measure(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	x, y := s.Position()

	s.mu.Lock()
	nx := s.rng.NormFloat64() * s.Noise
	ny := s.rng.NormFloat64() * s.Noise
	s.mu.Unlock()

	return Sample{
		X: s.Centre.X + math.Abs(float64(x-s.X0)) + nx,
		Y: s.Centre.Y + math.Abs(float64(y-s.Y0)) + ny,
	}, nil
}
