// Package stepper moves the two levelling feet of the shaker.
//
// Two backends exist: Board, the rig's stepper Arduino reached over a
// serial link, and GPIOPair, two A4988 drivers wired to Raspberry Pi
// pins. Both report each move as a Result so that a motor that did not
// confirm is an ordinary outcome, distinct from losing the link.
package stepper

import (
	"fmt"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/gpio"
)

// Result is the outcome of one motor move.
type Result struct {
	Confirmed bool
	Reason    string
}

// Confirmed is a successful move.
func Confirmed() Result {
	return Result{Confirmed: true}
}

// Unconfirmed is a move the hardware did not acknowledge.
func Unconfirmed(format string, args ...interface{}) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Config holds the hardware configuration for a stepper motor.
type Config struct {
	StepPin       int           `yaml:"step_pin"`
	DirPin        int           `yaml:"dir_pin"`
	EnablePin     int           `yaml:"enable_pin"` // A4988 ENABLE pin (BCM). 0 = not used. Active LOW (LOW=enabled).
	StepsPerRev   int           `yaml:"steps_per_rev"`
	Microstepping int           `yaml:"microstepping"`
	StepDelay     time.Duration `yaml:"-"` // delay per half-cycle of STEP pulse. Total step = 2*StepDelay.
}

// Stepper drives one A4988 through step/dir pins.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration // delay between STEP pulse half-cycles
}

// NewStepper creates a new stepper motor controller.
// cfg.StepDelay: if 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	if err := g.SetupPin(cfg.StepPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup step pin %d: %w", cfg.StepPin, err)
	}
	if err := g.SetupPin(cfg.DirPin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup dir pin %d: %w", cfg.DirPin, err)
	}

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	// A4988 ENABLE: active LOW. LOW = enabled, HIGH = disabled.
	if cfg.EnablePin > 0 {
		if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
			return nil, fmt.Errorf("setup enable pin %d: %w", cfg.EnablePin, err)
		}
		if err := g.WritePin(cfg.EnablePin, gpio.Low); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// MoveSteps moves the motor by a number of steps (positive or negative).
func (s *Stepper) MoveSteps(steps int) error {
	if steps == 0 {
		return nil
	}

	var dirLevel gpio.Level
	var direction string
	if steps > 0 {
		dirLevel = gpio.High
		direction = "forward"
	} else {
		dirLevel = gpio.Low
		direction = "backward"
		steps = -steps
	}

	debug.Printf("Stepper: moving %d steps (%s) on pin %d", steps, direction, s.cfg.StepPin)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if err := s.stepPulse(); err != nil {
			return fmt.Errorf("step %d of %d: %w", i+1, steps, err)
		}
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (A4988 ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (A4988 ENABLE=HIGH). Motors freewheel, no holding torque.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}

// GPIOPair is the two-motor actuator built from A4988 drivers.
type GPIOPair struct {
	motors [2]*Stepper
}

// NewGPIOPair sets up motor 1 and motor 2 on g.
func NewGPIOPair(g gpio.Driver, m1, m2 Config) (*GPIOPair, error) {
	s1, err := NewStepper(g, m1)
	if err != nil {
		return nil, fmt.Errorf("motor 1: %w", err)
	}
	s2, err := NewStepper(g, m2)
	if err != nil {
		return nil, fmt.Errorf("motor 2: %w", err)
	}
	return &GPIOPair{motors: [2]*Stepper{s1, s2}}, nil
}

// Move steps motor (1 or 2). A pin write failure leaves the motor at an
// unknown step and is reported as an unconfirmed move.
func (p *GPIOPair) Move(motor, steps int) (Result, error) {
	if motor != 1 && motor != 2 {
		return Result{}, fmt.Errorf("no motor %d", motor)
	}
	debug.Move(motor, steps)
	if err := p.motors[motor-1].MoveSteps(steps); err != nil {
		return Unconfirmed("motor %d: %v", motor, err), nil
	}
	return Confirmed(), nil
}

// Close disables both drivers so the feet do not hold current.
func (p *GPIOPair) Close() error {
	for i, m := range p.motors {
		if err := m.Disable(); err != nil {
			return fmt.Errorf("disable motor %d: %w", i+1, err)
		}
	}
	return nil
}
