package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// BCM pins usable on the 40-pin header. 0 and 1 carry the HAT ID EEPROM
// bus and are never driven.
const (
	firstPin = 2
	lastPin  = 27
)

var (
	// ErrClosed is returned by a driver after Close.
	ErrClosed = errors.New("gpio: driver closed")
	// ErrPinInUse is returned when a pin is set up twice with different
	// modes, e.g. a stepper and the camera remote wired to the same pin.
	ErrPinInUse = errors.New("gpio: pin already in use")
)

// header is the memory-mapped GPIO block.
type header interface {
	Open() error
	Close() error
	SetMode(pin int, mode PinMode)
	Write(pin int, level Level)
	Read(pin int) Level
}

type rpioHeader struct{}

func (rpioHeader) Open() error  { return rpio.Open() }
func (rpioHeader) Close() error { return rpio.Close() }

func (rpioHeader) SetMode(pin int, mode PinMode) {
	if mode == Output {
		rpio.Pin(pin).Output()
		return
	}
	rpio.Pin(pin).Input()
}

func (rpioHeader) Write(pin int, level Level) {
	if level == High {
		rpio.Pin(pin).High()
		return
	}
	rpio.Pin(pin).Low()
}

func (rpioHeader) Read(pin int) Level {
	return rpio.Pin(pin).Read() == rpio.High
}

// RPiDriver drives the Raspberry Pi header through go-rpio. The rig uses
// it for the A4988 step/dir lines and the camera remote. Each pin has one
// mode for the life of the driver.
type RPiDriver struct {
	mu     sync.Mutex
	hw     header
	modes  map[int]PinMode
	closed bool
}

// NewRPiRealDriver maps the GPIO registers. It needs /dev/gpiomem or root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")
	return openHeader(rpioHeader{})
}

func openHeader(hw header) (*RPiDriver, error) {
	if err := hw.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")
	return &RPiDriver{hw: hw, modes: make(map[int]PinMode)}, nil
}

func checkPin(pin int) error {
	if pin < firstPin || pin > lastPin {
		return fmt.Errorf("gpio: BCM pin %d outside %d..%d", pin, firstPin, lastPin)
	}
	return nil
}

// SetupPin sets the mode of pin. Repeating the same mode is a no-op.
func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup(pin, mode)
}

func (r *RPiDriver) setup(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if r.closed {
		return ErrClosed
	}
	if err := checkPin(pin); err != nil {
		return err
	}
	if mode != Input && mode != Output {
		return fmt.Errorf("gpio: unknown pin mode %v", mode)
	}
	if cur, ok := r.modes[pin]; ok {
		if cur != mode {
			return fmt.Errorf("%w: pin %d is an %v, wanted %v", ErrPinInUse, pin, cur, mode)
		}
		return nil
	}
	r.hw.SetMode(pin, mode)
	r.modes[pin] = mode
	return nil
}

// WritePin drives an output. A pin not set up yet becomes an output;
// writing an input is an error.
func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setup(pin, Output); err != nil {
		return err
	}
	r.hw.Write(pin, level)
	return nil
}

// ReadPin reads a pin. A pin not set up yet becomes an input; an output
// reads back its driven level.
func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Low, ErrClosed
	}
	if _, ok := r.modes[pin]; !ok {
		if err := r.setup(pin, Input); err != nil {
			return Low, err
		}
	}
	return r.hw.Read(pin), nil
}

// Close returns every used pin to input, lowest first, so the driver
// boards and the camera remote fall back to their pull resistors, then
// unmaps the registers. Closing twice is a no-op.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	pins := make([]int, 0, len(r.modes))
	for pin := range r.modes {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	for _, pin := range pins {
		if r.modes[pin] == Output {
			debug.Verbose("Releasing pin %d", pin)
			r.hw.SetMode(pin, Input)
		}
	}
	return r.hw.Close()
}
