package camera

import (
	"fmt"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/gpio"
)

// RemoteShutter is a Shutter for cameras with a 3-pin wired remote:
// - GND: connected to Raspberry Pi ground
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// Trigger sequence:
// 1. FOCUS to LOW (activates autofocus)
// 2. Wait for autofocus to complete
// 3. SHUTTER to LOW (triggers the shot)
// 4. Hold for a moment
// 5. Set SHUTTER and FOCUS back to HIGH
type RemoteShutter struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration // time for autofocus
	shutterDelay time.Duration // shutter hold time
}

// NewRemoteShutter configures the remote lines and leaves them inactive.
func NewRemoteShutter(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration) (*RemoteShutter, error) {
	for _, pin := range []int{focusPin, shutterPin} {
		if err := g.SetupPin(pin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup remote pin %d: %w", pin, err)
		}
		// By default, lines are HIGH (inactive)
		if err := g.WritePin(pin, gpio.High); err != nil {
			return nil, fmt.Errorf("release remote pin %d: %w", pin, err)
		}
	}

	return &RemoteShutter{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
	}, nil
}

// Shoot triggers one picture.
// Sequence: FOCUS -> wait for AF -> SHUTTER -> hold -> release
func (r *RemoteShutter) Shoot() error {
	debug.Verbose("Camera: triggering shot (focus=%d, shutter=%d)", r.focusPin, r.shutterPin)

	if err := r.gpio.WritePin(r.focusPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(r.focusDelay)

	if err := gpio.Pulse(r.gpio, r.shutterPin, gpio.Low, r.shutterDelay); err != nil {
		// Release FOCUS on error
		_ = r.gpio.WritePin(r.focusPin, gpio.High)
		return err
	}

	if err := r.gpio.WritePin(r.focusPin, gpio.High); err != nil {
		return err
	}
	debug.Trace("Camera: shot triggered")
	return nil
}
