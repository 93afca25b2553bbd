package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/mikesmithlab/shaker/internal/hw/gpio"
)

func TestRemoteShutter_PinsInitializedHigh(t *testing.T) {
	drv := gpio.NewMockDriver()
	if _, err := NewRemoteShutter(drv, 24, 25, time.Microsecond, time.Microsecond); err != nil {
		t.Fatalf("NewRemoteShutter: %v", err)
	}
	for _, pin := range []int{24, 25} {
		if lvl, _ := drv.ReadPin(pin); lvl != gpio.High {
			t.Errorf("pin %d should be initialized HIGH", pin)
		}
	}
}

func TestRemoteShutter_ShootSequence(t *testing.T) {
	drv := gpio.NewMockDriver()
	cam, err := NewRemoteShutter(drv, 24, 25, time.Microsecond, time.Microsecond)
	if err != nil {
		t.Fatalf("NewRemoteShutter: %v", err)
	}
	drv.Reset()

	if err := cam.Shoot(); err != nil {
		t.Fatalf("Shoot: %v", err)
	}

	expected := []gpio.Write{
		{Pin: 24, Level: gpio.Low},  // focus
		{Pin: 25, Level: gpio.Low},  // shutter
		{Pin: 25, Level: gpio.High}, // release shutter
		{Pin: 24, Level: gpio.High}, // release focus
	}
	writes := drv.Writes()
	if len(writes) != len(expected) {
		t.Fatalf("expected %d writes, got %d: %v", len(expected), len(writes), writes)
	}
	for i, exp := range expected {
		if writes[i] != exp {
			t.Errorf("step %d: got %+v, want %+v", i, writes[i], exp)
		}
	}
}

func TestRemoteShutter_ReleasesFocusOnShutterFailure(t *testing.T) {
	drv := gpio.NewMockDriver()
	cam, err := NewRemoteShutter(drv, 24, 25, time.Microsecond, time.Microsecond)
	if err != nil {
		t.Fatalf("NewRemoteShutter: %v", err)
	}
	drv.FailPin = 25

	if err := cam.Shoot(); err == nil {
		t.Fatal("expected shutter failure")
	}
	if lvl, _ := drv.ReadPin(24); lvl != gpio.High {
		t.Error("focus should be released after a failed shot")
	}
}

func testImage() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	img.SetGray(3, 2, color.Gray{Y: 200})
	return img
}

// writingShutter emulates camera software saving a frame when triggered.
type writingShutter struct {
	dir   string
	shots int
}

func (w *writingShutter) Shoot() error {
	w.shots++
	f, err := os.Create(filepath.Join(w.dir, "frame.bmp"))
	if err != nil {
		return err
	}
	defer f.Close()
	return bmp.Encode(f, testImage())
}

func TestDirectorySource_WaitsForTriggeredFrame(t *testing.T) {
	dir := t.TempDir()

	// A stale frame from before the trigger must be ignored.
	stale, err := os.Create(filepath.Join(dir, "old.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(stale, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	stale.Close()
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(stale.Name(), old, old); err != nil {
		t.Fatal(err)
	}

	shutter := &writingShutter{dir: dir}
	src := &DirectorySource{Dir: dir, Shutter: shutter, Poll: 5 * time.Millisecond, Timeout: 2 * time.Second}

	img, err := src.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if shutter.shots != 1 {
		t.Errorf("shots = %d, want 1", shutter.shots)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Errorf("got %v frame, want the 8x6 triggered one", b)
	}
}

func TestDirectorySource_Timeout(t *testing.T) {
	src := &DirectorySource{Dir: t.TempDir(), Poll: time.Millisecond, Timeout: 20 * time.Millisecond}

	_, err := src.Frame(context.Background())
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("err = %v, want ErrNoFrame", err)
	}
}

func TestDirectorySource_Cancelled(t *testing.T) {
	src := &DirectorySource{Dir: t.TempDir(), Poll: time.Millisecond, Timeout: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Frame(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFileSource_DecodesTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.tiff")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(f, testImage(), nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := FileSource{Path: path}.Frame(context.Background())
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	r, _, _, _ := img.At(3, 2).RGBA()
	if r>>8 != 200 {
		t.Errorf("pixel (3,2) = %d, want 200", r>>8)
	}
}

func TestDecodeFile_Garbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.png")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := DecodeFile(path); err == nil {
		t.Error("expected decode error")
	}
}
