// Package vision reduces a camera frame to the centre of mass of the
// particles inside the experiment boundary.
//
// Each strategy converts to grey, median filters, thresholds to a binary
// image and averages the coordinates of the set pixels that fall inside
// the boundary polygon. Strategies differ only in their defaults.
package vision

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
)

// ErrNoParticles is returned when no pixel passes the threshold inside
// the boundary.
var ErrNoParticles = errors.New("no particles found inside boundary")

// Strategy finds the particle centre of mass in a frame.
type Strategy interface {
	Centre(img image.Image, boundary geometry.Polygon) (geometry.Point, error)
	Name() string
}

// Settings tune the threshold pipeline.
type Settings struct {
	Threshold  uint8 `yaml:"threshold"`
	Invert     bool  `yaml:"invert"`
	BlurKernel int   `yaml:"blur_kernel"`
}

// Strategy names.
const (
	Balls  = "balls"
	Bubble = "bubble"
)

var defaults = map[string]Settings{
	// Dark balls on a bright tray.
	Balls: {Threshold: 87, Invert: true, BlurKernel: 3},
	// A bright bubble raft on a dark liquid.
	Bubble: {Threshold: 57, Invert: false, BlurKernel: 5},
}

// Defaults returns the default settings of a strategy.
func Defaults(name string) (Settings, error) {
	s, ok := defaults[name]
	if !ok {
		return Settings{}, fmt.Errorf("unknown vision strategy %q (known: %s, %s)", name, Balls, Bubble)
	}
	return s, nil
}

// New returns the named strategy. Non-zero fields of override replace the
// defaults; Invert is taken from override when invertSet is true.
func New(name string, override Settings, invertSet bool) (Strategy, error) {
	s, err := Defaults(name)
	if err != nil {
		return nil, err
	}
	if override.Threshold != 0 {
		s.Threshold = override.Threshold
	}
	if override.BlurKernel != 0 {
		s.BlurKernel = override.BlurKernel
	}
	if invertSet {
		s.Invert = override.Invert
	}
	if s.BlurKernel > 1 && s.BlurKernel%2 == 0 {
		return nil, fmt.Errorf("blur kernel must be odd, got %d", s.BlurKernel)
	}
	return &Threshold{name: name, Settings: s}, nil
}

// Threshold is the grey, blur, threshold and mask pipeline.
type Threshold struct {
	name string
	Settings
}

// Name implements Strategy.
func (t *Threshold) Name() string {
	return t.name
}

// Centre implements Strategy. With fewer than 3 boundary points the whole
// frame is used.
func (t *Threshold) Centre(img image.Image, boundary geometry.Polygon) (geometry.Point, error) {
	frame := img.Bounds()
	area := frame
	if len(boundary) >= 3 {
		area = boundary.Bounds(frame)
	}
	if area.Empty() {
		return geometry.Point{}, fmt.Errorf("boundary %v lies outside the %v frame", area, frame)
	}

	r := t.BlurKernel / 2
	gray := toGray(img, area.Inset(-r).Intersect(frame))
	if t.BlurKernel > 1 {
		gray = medianBlur(gray, t.BlurKernel)
	}

	var sumX, sumY float64
	var n int
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			on := gray.GrayAt(x, y).Y > t.Threshold
			if t.Invert {
				on = !on
			}
			if !on {
				continue
			}
			if len(boundary) >= 3 && !boundary.Contains(geometry.Point{X: float64(x), Y: float64(y)}) {
				continue
			}
			sumX += float64(x)
			sumY += float64(y)
			n++
		}
	}
	if n == 0 {
		return geometry.Point{}, ErrNoParticles
	}

	c := geometry.Point{X: sumX / float64(n), Y: sumY / float64(n)}
	debug.Trace("%s: %d pixels, centre (%.2f,%.2f)", t.name, n, c.X, c.Y)
	return c, nil
}

// toGray copies the region r of img into a grey image with the same
// coordinates.
func toGray(img image.Image, r image.Rectangle) *image.Gray {
	if g, ok := img.(*image.Gray); ok && r.In(g.Bounds()) {
		return g.SubImage(r).(*image.Gray)
	}
	out := image.NewGray(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			out.SetGray(x, y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}

// medianBlur applies a k x k median filter. Edges use the pixels that are
// available.
func medianBlur(src *image.Gray, k int) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	r := k / 2
	window := make([]uint8, 0, k*k)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			window = window[:0]
			for wy := max(y-r, b.Min.Y); wy <= min(y+r, b.Max.Y-1); wy++ {
				for wx := max(x-r, b.Min.X); wx <= min(x+r, b.Max.X-1); wx++ {
					window = append(window, src.GrayAt(wx, wy).Y)
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			out.SetGray(x, y, color.Gray{Y: window[len(window)/2]})
		}
	}
	return out
}
