// Package shaker drives the vibration amplitude of the shaker power supply
// over its serial link.
//
// The power supply is an Arduino that accepts 4 character duty commands
// ('d' or 'i' followed by a 3 digit value) once it has been switched from
// front panel (manual) control to serial control.
package shaker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/serial"
)

// Duty cycle limits accepted by the power supply.
const (
	MinDuty = 0
	MaxDuty = 999
)

var (
	// ErrDutyOutOfRange is returned for values outside MinDuty..MaxDuty.
	ErrDutyOutOfRange = errors.New("duty cycle out of range")

	// ErrModeNotAcknowledged is returned when the supply did not confirm a
	// mode change within MaxModeAttempts. It is always joined with
	// serial.ErrCommunication.
	ErrModeNotAcknowledged = errors.New("shaker mode change not acknowledged")
)

// Mode is the control mode of the power supply.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeManual
	ModeSerial
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "manual"
	case ModeSerial:
		return "serial"
	default:
		return "unknown"
	}
}

// Clock abstracts wall time so pacing can be tested.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// ModeCommands are the bytes sent to change control mode. When Manual and
// Serial are empty the Toggle command is used for both directions.
type ModeCommands struct {
	Toggle string
	Manual string
	Serial string
}

func (c ModeCommands) command(manual bool) string {
	if manual && c.Manual != "" {
		return c.Manual
	}
	if !manual && c.Serial != "" {
		return c.Serial
	}
	return c.Toggle
}

// Options configures a Driver. Zero values take defaults.
type Options struct {
	// SettleDelay is waited after opening the port before talking to the
	// Arduino, which resets when the port opens.
	SettleDelay time.Duration
	// AckDelay is waited between a mode command and reading its reply.
	AckDelay time.Duration
	// MaxModeAttempts bounds the mode change retries.
	MaxModeAttempts int
	Commands        ModeCommands
	Clock           Clock
	// Annotator, if set, receives the 3 duty digits of every command. On
	// the rig it is the speaker Arduino that writes the value into the
	// camera's audio track.
	Annotator serial.Link
}

func (o Options) withDefaults() Options {
	if o.SettleDelay == 0 {
		o.SettleDelay = time.Second
	}
	if o.AckDelay == 0 {
		o.AckDelay = 100 * time.Millisecond
	}
	if o.MaxModeAttempts <= 0 {
		o.MaxModeAttempts = 3
	}
	if o.Commands.Toggle == "" {
		o.Commands.Toggle = "x"
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	return o
}

// Driver controls the shaker power supply. It is not safe for concurrent
// use; the levelling loop owns it.
type Driver struct {
	link serial.Link
	opts Options
	mode Mode
	duty int
}

// New returns a driver over link. Call Connect before sending duties.
func New(link serial.Link, opts Options) *Driver {
	return &Driver{
		link: link,
		opts: opts.withDefaults(),
		duty: -1,
	}
}

// Connect waits for the supply to settle, discards its banner and switches
// it to serial control.
func (d *Driver) Connect() error {
	debug.Section("SHAKER CONNECT")
	d.opts.Clock.Sleep(d.opts.SettleDelay)
	if err := d.link.Drain(); err != nil {
		return fmt.Errorf("drain shaker banner: %w", err)
	}
	return d.SwitchMode(false)
}

// Mode returns the last acknowledged control mode.
func (d *Driver) Mode() Mode {
	return d.mode
}

// Duty returns the last duty value sent, or -1 before any.
func (d *Driver) Duty() int {
	return d.duty
}

// SetDuty sets a new duty cycle.
func (d *Driver) SetDuty(value int) error {
	return d.send('d', value)
}

// SetDutyAndRecord sets a new duty cycle and pulses the camera record
// trigger, starting or stopping a recording.
func (d *Driver) SetDutyAndRecord(value int) error {
	return d.send('i', value)
}

func (d *Driver) apply(value int, record bool) error {
	if record {
		return d.SetDutyAndRecord(value)
	}
	return d.SetDuty(value)
}

func (d *Driver) send(prefix byte, value int) error {
	if value < MinDuty || value > MaxDuty {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrDutyOutOfRange, value, MinDuty, MaxDuty)
	}

	cmd := fmt.Sprintf("%c%03d", prefix, value)
	if err := d.link.SendLine(cmd); err != nil {
		return fmt.Errorf("set duty %d: %w", value, err)
	}
	if d.opts.Annotator != nil {
		if err := d.opts.Annotator.SendLine(cmd[1:]); err != nil {
			return fmt.Errorf("annotate duty %d: %w", value, err)
		}
	}
	if err := d.link.Drain(); err != nil {
		return fmt.Errorf("set duty %d: %w", value, err)
	}

	d.duty = value
	debug.Duty(value, prefix == 'i')
	return nil
}

// SwitchMode moves the supply to manual (front panel) or serial control.
// The supply answers every mode command with two lines: an echo and a
// message naming the new mode. If the message names the wrong mode the
// command is sent again, up to MaxModeAttempts times.
func (d *Driver) SwitchMode(manual bool) error {
	want := ModeSerial
	if manual {
		want = ModeManual
	}
	cmd := d.opts.Commands.command(manual)

	var last string
	for attempt := 1; attempt <= d.opts.MaxModeAttempts; attempt++ {
		if err := d.link.SendLine(cmd); err != nil {
			return fmt.Errorf("switch to %s mode: %w", want, err)
		}
		d.opts.Clock.Sleep(d.opts.AckDelay)

		msg, err := d.readAck()
		if err != nil && !errors.Is(err, serial.ErrTimeout) {
			return fmt.Errorf("switch to %s mode: %w", want, err)
		}
		last = msg

		got := parseMode(msg)
		if got != ModeUnknown {
			d.mode = got
		}
		if got == want {
			debug.Verbose("shaker in %s mode (attempt %d)", want, attempt)
			return nil
		}
		debug.Warn("shaker mode attempt %d/%d: wanted %s, reply %q", attempt, d.opts.MaxModeAttempts, want, msg)
	}

	return fmt.Errorf("%w: wanted %s after %d attempts, last reply %q: %w",
		ErrModeNotAcknowledged, want, d.opts.MaxModeAttempts, last, serial.ErrCommunication)
}

// readAck reads the echo line and returns the message line.
func (d *Driver) readAck() (string, error) {
	if _, err := d.link.ReadLine(); err != nil {
		return "", err
	}
	return d.link.ReadLine()
}

func parseMode(msg string) Mode {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "manual"):
		return ModeManual
	case strings.Contains(m, "serial"):
		return ModeSerial
	default:
		return ModeUnknown
	}
}

// Stop sets the duty to 0, waits SettleDelay for the supply to wind down
// and then closes the driver. The link is released even if the duty
// command fails.
func (d *Driver) Stop() error {
	dutyErr := d.SetDuty(0)
	d.opts.Clock.Sleep(d.opts.SettleDelay)
	return errors.Join(dutyErr, d.Close())
}

// Close hands the supply back to manual control and releases the links.
// The links are closed even if the mode change fails.
func (d *Driver) Close() error {
	modeErr := d.SwitchMode(true)
	linkErr := d.link.Close()
	var annErr error
	if d.opts.Annotator != nil {
		annErr = d.opts.Annotator.Close()
	}
	debug.Info("shaker communication closed")
	return errors.Join(modeErr, linkErr, annErr)
}
