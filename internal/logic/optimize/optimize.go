// Package optimize proposes motor positions for the levelling loop.
//
// An Optimizer is asked for the next point, the caller evaluates it and
// tells the optimizer the cost. Points are integer motor positions inside
// the search bounds.
package optimize

import (
	"fmt"
	"math/rand"

	"github.com/mikesmithlab/shaker/internal/logic/geometry"
)

// Optimizer is a black-box minimiser driven by the caller.
type Optimizer interface {
	// Ask returns the next position to evaluate.
	Ask() (x, y int, err error)
	// Tell reports the cost measured at (x, y). Points that were never
	// asked for may be told as prior knowledge.
	Tell(x, y int, cost float64) error
}

// Point is an integer motor position.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Kinds of optimizer.
const (
	KindGP     = "gp"
	KindRandom = "random"
)

// Options configure an optimizer. Zero values take defaults.
type Options struct {
	Seed int64
	// Initial points are proposed first, in order.
	Initial []Point
	// InitialPoints is the number of proposals, seeds included, made
	// before the model is used.
	InitialPoints int
	// Candidates is the number of random points on which the acquisition
	// function is evaluated.
	Candidates int
	// Xi trades exploration for exploitation in expected improvement.
	Xi float64
	// Noise is the observation noise variance relative to the normalised
	// cost.
	Noise float64
}

func (o Options) withDefaults() Options {
	if o.InitialPoints <= 0 {
		o.InitialPoints = 6
	}
	if o.Candidates <= 0 {
		o.Candidates = 2000
	}
	if o.Xi == 0 {
		o.Xi = 0.01
	}
	if o.Noise <= 0 {
		o.Noise = 0.05
	}
	return o
}

// New returns an optimizer of the given kind over bounds.
func New(kind string, bounds geometry.SearchBounds, opts Options) (Optimizer, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindGP, "":
		return NewGaussianProcess(bounds, opts), nil
	case KindRandom:
		return NewRandomSearch(bounds, opts), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (known: %s, %s)", kind, KindGP, KindRandom)
	}
}

// sampler draws uniform integer points inside bounds.
type sampler struct {
	bounds geometry.SearchBounds
	rng    *rand.Rand
}

func (s *sampler) next() Point {
	return Point{
		X: s.bounds.X.Min + s.rng.Intn(s.bounds.X.Width()+1),
		Y: s.bounds.Y.Min + s.rng.Intn(s.bounds.Y.Width()+1),
	}
}

// RandomSearch proposes the initial points then uniform random ones.
type RandomSearch struct {
	initial []Point
	sampler sampler
	told    int
}

// NewRandomSearch returns a seeded random search.
func NewRandomSearch(bounds geometry.SearchBounds, opts Options) *RandomSearch {
	return &RandomSearch{
		initial: clampAll(bounds, opts.Initial),
		sampler: sampler{bounds: bounds, rng: rand.New(rand.NewSource(opts.Seed))},
	}
}

// Ask implements Optimizer.
func (r *RandomSearch) Ask() (int, int, error) {
	if len(r.initial) > 0 {
		p := r.initial[0]
		r.initial = r.initial[1:]
		return p.X, p.Y, nil
	}
	p := r.sampler.next()
	return p.X, p.Y, nil
}

// Tell implements Optimizer.
func (r *RandomSearch) Tell(x, y int, cost float64) error {
	r.told++
	return nil
}

func clampAll(bounds geometry.SearchBounds, pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		x, y := bounds.Clamp(p.X, p.Y)
		out[i] = Point{X: x, Y: y}
	}
	return out
}
