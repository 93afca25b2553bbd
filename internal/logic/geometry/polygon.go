package geometry

import "image"

// Polygon is a closed polygon; the last point connects back to the first.
type Polygon []Point

// Contains reports whether p lies inside the polygon using the even-odd
// ray casting rule. Points exactly on an edge may fall either way.
func (poly Polygon) Contains(p Point) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		a, b := poly[i], poly[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xCross := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Bounds returns the integer bounding rectangle of the polygon,
// intersected with clip.
func (poly Polygon) Bounds(clip image.Rectangle) image.Rectangle {
	if len(poly) == 0 {
		return image.Rectangle{}
	}
	minX, minY := poly[0].X, poly[0].Y
	maxX, maxY := minX, minY
	for _, p := range poly[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	r := image.Rect(int(minX), int(minY), int(maxX)+1, int(maxY)+1)
	return r.Intersect(clip)
}
