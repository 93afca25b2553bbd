package geometry

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"testing"
)

// hexagon is the default rig boundary in image pixels.
var hexagon = []Point{
	{227, 5}, {429, 7}, {522, 181}, {422, 349}, {225, 347}, {126, 174},
}

func TestCentroid_Hexagon(t *testing.T) {
	c, err := Centroid(hexagon)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	if math.Abs(c.X-325.1666666666667) > 1e-9 {
		t.Errorf("cx = %v, want 325.1666...", c.X)
	}
	if math.Abs(c.Y-177.16666666666666) > 1e-9 {
		t.Errorf("cy = %v, want 177.1666...", c.Y)
	}
}

func TestCentroid_PermutationInvariant(t *testing.T) {
	want, err := Centroid(hexagon)
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		pts := make([]Point, len(hexagon))
		copy(pts, hexagon)
		rng.Shuffle(len(pts), func(a, b int) { pts[a], pts[b] = pts[b], pts[a] })

		got, err := Centroid(pts)
		if err != nil {
			t.Fatalf("Centroid: %v", err)
		}
		if math.Abs(got.X-want.X) > 1e-9 || math.Abs(got.Y-want.Y) > 1e-9 {
			t.Fatalf("permutation %v: centroid %v, want %v", pts, got, want)
		}
	}
}

func TestCentroid_Empty(t *testing.T) {
	if _, err := Centroid(nil); !errors.Is(err, ErrEmptyBoundary) {
		t.Errorf("err = %v, want ErrEmptyBoundary", err)
	}
}

func TestBoundary_CopiesPoints(t *testing.T) {
	pts := []Point{{0, 0}, {2, 0}, {2, 2}}
	b := NewBoundary(pts)
	pts[0] = Point{100, 100}

	c, err := b.Centroid()
	if err != nil {
		t.Fatalf("Centroid: %v", err)
	}
	if math.Abs(c.X-4.0/3) > 1e-12 || math.Abs(c.Y-2.0/3) > 1e-12 {
		t.Errorf("boundary was mutated through caller slice: centroid %v", c)
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(Point{0, 0}, Point{3, 4}); math.Abs(d-5) > 1e-12 {
		t.Errorf("Distance = %v, want 5", d)
	}
	if d := Distance(Point{1, 1}, Point{1, 1}); d != 0 {
		t.Errorf("Distance of identical points = %v, want 0", d)
	}
}

func TestSearchBounds(t *testing.T) {
	b := NewSearchBounds(100, -100, -100, 100)
	if b.X != (Interval{-100, 100}) || b.Y != (Interval{-100, 100}) {
		t.Fatalf("NewSearchBounds did not order corners: %+v", b)
	}
	if err := b.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	cases := []struct {
		x, y int
		in   bool
	}{
		{0, 0, true},
		{100, -100, true},
		{101, 0, false},
		{0, -101, false},
	}
	for _, tc := range cases {
		if got := b.Contains(tc.x, tc.y); got != tc.in {
			t.Errorf("Contains(%d,%d) = %v, want %v", tc.x, tc.y, got, tc.in)
		}
	}

	x, y := b.Clamp(250, -300)
	if x != 100 || y != -100 {
		t.Errorf("Clamp = (%d,%d), want (100,-100)", x, y)
	}
}

func TestSearchBounds_ValidateInverted(t *testing.T) {
	b := SearchBounds{X: Interval{Min: 5, Max: -5}}
	if err := b.Validate(); err == nil {
		t.Error("expected error for inverted x interval")
	}
}

func TestPolygon_Contains(t *testing.T) {
	poly := Polygon(hexagon)
	cases := []struct {
		p    Point
		want bool
	}{
		{Point{325, 177}, true},
		{Point{130, 20}, false},
		{Point{600, 177}, false},
		{Point{230, 300}, true},
	}
	for _, tc := range cases {
		if got := poly.Contains(tc.p); got != tc.want {
			t.Errorf("Contains(%v) = %v, want %v", tc.p, got, tc.want)
		}
	}

	if Polygon(hexagon[:2]).Contains(Point{300, 6}) {
		t.Error("degenerate polygon should contain nothing")
	}
}

func TestPolygon_BoundsClipped(t *testing.T) {
	r := Polygon(hexagon).Bounds(image.Rect(0, 0, 400, 200))
	want := image.Rect(126, 5, 400, 200)
	if r != want {
		t.Errorf("Bounds = %v, want %v", r, want)
	}
}
