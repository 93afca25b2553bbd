// Package camera triggers the rig camera and reads back the frames it
// produces.
package camera

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Shutter is a camera that can be told to take a picture. It represents
// an abstract camera, regardless of how it is controlled.
type Shutter interface {
	Shoot() error
}

// FrameSource returns the current image of the experiment.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// FrameSourceFunc adapts a function to FrameSource.
type FrameSourceFunc func(ctx context.Context) (image.Image, error)

// Frame implements FrameSource.
func (f FrameSourceFunc) Frame(ctx context.Context) (image.Image, error) {
	return f(ctx)
}

// DecodeFile reads a PNG, JPEG, BMP or TIFF image.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	debugFrame(path, format, b.Dx(), b.Dy())
	return img, nil
}

// FileSource always returns the image stored at Path. It serves offline
// runs against a saved frame.
type FileSource struct {
	Path string
}

// Frame implements FrameSource.
func (s FileSource) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return DecodeFile(s.Path)
}
