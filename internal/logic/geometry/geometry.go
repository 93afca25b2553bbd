package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrEmptyBoundary is returned when a boundary has no points.
var ErrEmptyBoundary = errors.New("boundary has no points")

// Point is a 2-D point in image coordinates.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Boundary is the ordered list of points outlining the visible
// experimental region. It is set once per physical setup.
type Boundary struct {
	Points []Point `yaml:"points" json:"points"`
}

// NewBoundary copies pts into a new Boundary.
func NewBoundary(pts []Point) Boundary {
	cp := make([]Point, len(pts))
	copy(cp, pts)
	return Boundary{Points: cp}
}

// Centroid returns the arithmetic mean of the boundary points.
func (b Boundary) Centroid() (Point, error) {
	return Centroid(b.Points)
}

// Polygon returns the boundary as a polygon usable as an image mask.
func (b Boundary) Polygon() Polygon {
	return Polygon(b.Points)
}

// Centroid returns (mean x, mean y) over pts. The result does not depend
// on the order of pts.
func Centroid(pts []Point) (Point, error) {
	if len(pts) == 0 {
		return Point{}, ErrEmptyBoundary
	}
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}, nil
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return floats.Distance([]float64{a.X, a.Y}, []float64{b.X, b.Y}, 2)
}

// Interval is a closed integer interval [Min, Max] in motor steps.
type Interval struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// Contains reports whether v lies inside the interval (inclusive).
func (i Interval) Contains(v int) bool {
	return v >= i.Min && v <= i.Max
}

// Clamp limits v to the interval.
func (i Interval) Clamp(v int) int {
	if v < i.Min {
		return i.Min
	}
	if v > i.Max {
		return i.Max
	}
	return v
}

// Width returns Max - Min.
func (i Interval) Width() int {
	return i.Max - i.Min
}

// SearchBounds constrains where the optimizer may propose motor coordinates.
type SearchBounds struct {
	X Interval `yaml:"x" json:"x"`
	Y Interval `yaml:"y" json:"y"`
}

// NewSearchBounds builds bounds from two corner points, ordering each axis.
func NewSearchBounds(x1, y1, x2, y2 int) SearchBounds {
	return SearchBounds{
		X: Interval{Min: min(x1, x2), Max: max(x1, x2)},
		Y: Interval{Min: min(y1, y2), Max: max(y1, y2)},
	}
}

// Validate checks that both intervals are well formed.
func (s SearchBounds) Validate() error {
	if s.X.Min > s.X.Max {
		return fmt.Errorf("x bounds inverted: min %d > max %d", s.X.Min, s.X.Max)
	}
	if s.Y.Min > s.Y.Max {
		return fmt.Errorf("y bounds inverted: min %d > max %d", s.Y.Min, s.Y.Max)
	}
	return nil
}

// Contains reports whether (x, y) is inside the bounds.
func (s SearchBounds) Contains(x, y int) bool {
	return s.X.Contains(x) && s.Y.Contains(y)
}

// Clamp projects (x, y) onto the bounds.
func (s SearchBounds) Clamp(x, y int) (int, int) {
	return s.X.Clamp(x), s.Y.Clamp(y)
}

// IsZero reports whether the bounds are unset (both intervals [0,0]).
func (s SearchBounds) IsZero() bool {
	return s == SearchBounds{}
}
