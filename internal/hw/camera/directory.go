package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
)

// ErrNoFrame is returned when no new image appeared in time.
var ErrNoFrame = errors.New("no new frame")

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// DirectorySource takes a picture and waits for the camera software to
// drop it into Dir. Any image file that is new or rewritten since the
// trigger counts.
type DirectorySource struct {
	Dir     string
	Shutter Shutter // optional; without it the camera is free running
	Poll    time.Duration
	Timeout time.Duration
}

// Frame implements FrameSource.
func (s *DirectorySource) Frame(ctx context.Context) (image.Image, error) {
	poll := s.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	before, err := snapshot(s.Dir)
	if err != nil {
		return nil, err
	}
	if s.Shutter != nil {
		if err := s.Shutter.Shoot(); err != nil {
			return nil, fmt.Errorf("trigger camera: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var lastSize int64 = -1
	for {
		path, size, err := newestImage(s.Dir, before)
		if err != nil {
			return nil, err
		}
		// Wait for one stable size so a file still being written is skipped.
		if path != "" && size > 0 && size == lastSize {
			return DecodeFile(path)
		}
		lastSize = size

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w in %s after %v", ErrNoFrame, s.Dir, timeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// snapshot records the modification time of every image in dir.
func snapshot(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	seen := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if info, err := e.Info(); err == nil {
			seen[e.Name()] = info.ModTime()
		}
	}
	return seen, nil
}

// newestImage returns the most recently modified image in dir that is
// not in before with the same modification time.
func newestImage(dir string, before map[string]time.Time) (string, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", -1, fmt.Errorf("read frame dir: %w", err)
	}

	var (
		best    string
		bestMod time.Time
		size    int64 = -1
	)
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if prev, ok := before[e.Name()]; ok && prev.Equal(mod) {
			continue
		}
		if best != "" && !mod.After(bestMod) {
			continue
		}
		best, bestMod, size = filepath.Join(dir, e.Name()), mod, info.Size()
	}
	return best, size, nil
}

func debugFrame(path, format string, w, h int) {
	debug.Verbose("frame %s (%s %dx%d)", filepath.Base(path), format, w, h)
}
