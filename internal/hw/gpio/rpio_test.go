package gpio

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// fakeHeader records register operations in order.
type fakeHeader struct {
	openErr error
	levels  map[int]Level
	ops     []string
	closed  bool
}

func newFakeHeader() *fakeHeader {
	return &fakeHeader{levels: make(map[int]Level)}
}

func (h *fakeHeader) Open() error  { return h.openErr }
func (h *fakeHeader) Close() error { h.closed = true; return nil }

func (h *fakeHeader) SetMode(pin int, mode PinMode) {
	h.ops = append(h.ops, fmt.Sprintf("mode %d %v", pin, mode))
}

func (h *fakeHeader) Write(pin int, level Level) {
	h.levels[pin] = level
	h.ops = append(h.ops, fmt.Sprintf("write %d %v", pin, level))
}

func (h *fakeHeader) Read(pin int) Level { return h.levels[pin] }

func openFake(t *testing.T) (*RPiDriver, *fakeHeader) {
	t.Helper()
	h := newFakeHeader()
	d, err := openHeader(h)
	if err != nil {
		t.Fatalf("openHeader: %v", err)
	}
	return d, h
}

func TestRPiDriver_OpenFailure(t *testing.T) {
	h := newFakeHeader()
	h.openErr = errors.New("/dev/gpiomem: permission denied")
	if _, err := openHeader(h); err == nil {
		t.Fatal("expected error")
	}
}

func TestRPiDriver_WriteSetsUpOutputOnce(t *testing.T) {
	d, h := openFake(t)

	for _, lvl := range []Level{High, Low, High} {
		if err := d.WritePin(17, lvl); err != nil {
			t.Fatalf("WritePin: %v", err)
		}
	}
	want := []string{"mode 17 output", "write 17 HIGH", "write 17 LOW", "write 17 HIGH"}
	if !reflect.DeepEqual(h.ops, want) {
		t.Errorf("ops = %v, want %v", h.ops, want)
	}
	got, err := d.ReadPin(17)
	if err != nil || got != High {
		t.Errorf("ReadPin(17) = %v, %v; want HIGH", got, err)
	}
}

func TestRPiDriver_PinConflict(t *testing.T) {
	d, _ := openFake(t)

	if err := d.SetupPin(24, Input); err != nil {
		t.Fatalf("SetupPin: %v", err)
	}
	if err := d.SetupPin(24, Input); err != nil {
		t.Errorf("repeating the same mode: %v", err)
	}
	if err := d.SetupPin(24, Output); !errors.Is(err, ErrPinInUse) {
		t.Errorf("SetupPin output over input: err = %v, want ErrPinInUse", err)
	}
	if err := d.WritePin(24, High); !errors.Is(err, ErrPinInUse) {
		t.Errorf("WritePin on an input: err = %v, want ErrPinInUse", err)
	}
}

func TestRPiDriver_RejectsReservedAndOutOfRangePins(t *testing.T) {
	d, h := openFake(t)

	for _, pin := range []int{-1, 0, 1, 28, 40} {
		if err := d.SetupPin(pin, Output); err == nil {
			t.Errorf("pin %d: expected error", pin)
		}
	}
	if len(h.ops) != 0 {
		t.Errorf("registers touched: %v", h.ops)
	}
}

func TestRPiDriver_CloseReleasesOutputs(t *testing.T) {
	d, h := openFake(t)
	for _, pin := range []int{27, 5, 17} {
		if err := d.WritePin(pin, High); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.ReadPin(6); err != nil {
		t.Fatal(err)
	}
	h.ops = nil

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want := []string{"mode 5 input", "mode 17 input", "mode 27 input"}
	if !reflect.DeepEqual(h.ops, want) {
		t.Errorf("ops = %v, want %v", h.ops, want)
	}
	if !h.closed {
		t.Error("registers not unmapped")
	}

	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := d.WritePin(17, Low); !errors.Is(err, ErrClosed) {
		t.Errorf("WritePin after Close: err = %v, want ErrClosed", err)
	}
	if _, err := d.ReadPin(6); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadPin after Close: err = %v, want ErrClosed", err)
	}
}
