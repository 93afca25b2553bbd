package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/fsutil"
	"github.com/mikesmithlab/shaker/internal/hw/camera"
	"github.com/mikesmithlab/shaker/internal/hw/gpio"
	"github.com/mikesmithlab/shaker/internal/hw/serial"
	"github.com/mikesmithlab/shaker/internal/hw/shaker"
	"github.com/mikesmithlab/shaker/internal/hw/stepper"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/logic/kinematics"
	"github.com/mikesmithlab/shaker/internal/logic/measure"
	"github.com/mikesmithlab/shaker/internal/logic/motion"
)

// rig owns the hardware handles opened by one command. Close releases
// them in reverse order of opening.
type rig struct {
	cfg     *config.Config
	state   config.State
	gpio    gpio.Driver
	shaker  *shaker.Driver
	motors  *motion.Controller
	closers []func() error
}

func newRig(cfg *config.Config, state config.State) *rig {
	return &rig{cfg: cfg, state: state}
}

func (r *rig) onClose(f func() error) {
	r.closers = append(r.closers, f)
}

// Close releases every handle, even when some fail.
func (r *rig) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func (r *rig) mock() bool {
	return r.cfg.Defaults.MockHardware
}

// gpioDriver opens the GPIO driver on first use.
func (r *rig) gpioDriver() (gpio.Driver, error) {
	if r.gpio != nil {
		return r.gpio, nil
	}
	g, err := gpio.NewDriver(r.mock())
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	r.gpio = g
	r.onClose(g.Close)
	return g, nil
}

// openShaker connects to the shaker supply and switches it to serial
// control. On close the supply is stopped and handed back to manual
// control.
func (r *rig) openShaker() (*shaker.Driver, error) {
	if r.shaker != nil {
		return r.shaker, nil
	}
	c := r.cfg.Shaker
	opts := shaker.Options{
		SettleDelay:     r.cfg.ShakerSettle(),
		AckDelay:        r.cfg.ShakerAckDelay(),
		MaxModeAttempts: c.ModeAttempt,
		Commands: shaker.ModeCommands{
			Toggle: c.ToggleCommand,
			Manual: c.ManualCommand,
			Serial: c.SerialCommand,
		},
	}

	var link serial.Link
	if r.mock() {
		sim := shaker.NewSimulator()
		link = serial.NewPortLink("mock-shaker", serial.NewScriptedDevice(sim.Respond))
		opts.SettleDelay = time.Millisecond
		opts.AckDelay = time.Millisecond
	} else {
		debug.Value("Shaker port", c.Port)
		l, err := serial.Open(c.Port, c.Serial)
		if err != nil {
			return nil, fmt.Errorf("open shaker: %w", err)
		}
		link = l
		if c.SpeakerPort != "" {
			speaker, err := serial.Open(c.SpeakerPort, c.Serial)
			if err != nil {
				_ = l.Close()
				return nil, fmt.Errorf("open speaker: %w", err)
			}
			opts.Annotator = speaker
		}
	}

	drv := shaker.New(link, opts)
	if err := drv.Connect(); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("connect shaker: %w", err)
	}
	r.shaker = drv
	r.onClose(drv.Stop)
	return drv, nil
}

// openMotors builds the motor controller over the configured actuator.
// The last saved position is loaded before anything moves.
func (r *rig) openMotors() (*motion.Controller, error) {
	if r.motors != nil {
		return r.motors, nil
	}
	model, err := kinematics.ByName(r.cfg.Kinematics.Model)
	if err != nil {
		return nil, err
	}
	debug.Value("Kinematic model", model)

	actuator, err := r.openActuator()
	if err != nil {
		return nil, err
	}
	ctrl, err := motion.NewController(actuator, model, motion.NewFilePositionStore(r.cfg.Paths.Position))
	if err != nil {
		return nil, err
	}
	r.motors = ctrl
	return ctrl, nil
}

func (r *rig) openActuator() (motion.Actuator, error) {
	c := r.cfg.Stepper
	switch {
	case r.mock():
		sim := stepper.NewBoardSimulator()
		link := serial.NewPortLink("mock-stepper", serial.NewScriptedDevice(sim.Respond))
		board := stepper.NewBoard(link, stepper.BoardOptions{Sleep: func(time.Duration) {}})
		r.onClose(board.Close)
		return board, nil

	case c.Type == "gpio":
		g, err := r.gpioDriver()
		if err != nil {
			return nil, err
		}
		m1, m2 := c.Motor1, c.Motor2
		m1.StepDelay = r.cfg.StepDelay()
		m2.StepDelay = r.cfg.StepDelay()
		debug.PrintStruct("Motor 1 config", m1)
		debug.PrintStruct("Motor 2 config", m2)
		pair, err := stepper.NewGPIOPair(g, m1, m2)
		if err != nil {
			return nil, fmt.Errorf("init GPIO steppers: %w", err)
		}
		r.onClose(pair.Close)
		return pair, nil

	default:
		debug.Value("Stepper port", c.Port)
		link, err := serial.Open(c.Port, c.Serial)
		if err != nil {
			return nil, fmt.Errorf("open stepper board: %w", err)
		}
		board := stepper.NewBoard(link, stepper.BoardOptions{
			SettleBase:    r.cfg.StepperSettleBase(),
			SettlePerStep: r.cfg.StepperSettlePerStep(),
		})
		r.onClose(board.Close)
		return board, nil
	}
}

// openMeasurer returns the centre of mass measurer. The simulated rig
// answers from a seeded model around a hidden level position; the real
// one shakes, takes a frame and reduces it.
func (r *rig) openMeasurer(ctrl *motion.Controller) (measure.Measurer, error) {
	boundary := geometry.NewBoundary(r.state.Boundary.Points)
	centroid, err := boundary.Centroid()
	if err != nil {
		return nil, err
	}

	if r.mock() {
		m := r.cfg.Mock
		debug.Info("simulated rig: level at (%d,%d), noise %.2f px", m.LevelX, m.LevelY, m.Noise)
		return measure.NewSynthetic(centroid, m.LevelX, m.LevelY, m.Noise, m.Seed, func() (int, int) {
			p := ctrl.CurrentPosition()
			return p.X, p.Y
		}), nil
	}

	drv, err := r.openShaker()
	if err != nil {
		return nil, err
	}
	frames, err := r.openCamera()
	if err != nil {
		return nil, err
	}
	strategy, err := r.cfg.Strategy()
	if err != nil {
		return nil, err
	}
	debug.Value("Vision strategy", strategy.Name())
	debug.PrintStruct("Warm-up", r.state.Warmup)

	return &measure.ComMeasurer{
		Shaker:   drv,
		Frames:   frames,
		Strategy: strategy,
		Boundary: boundary.Polygon(),
		Warmup:   r.state.Warmup.Warmup(),
	}, nil
}

func (r *rig) openCamera() (camera.FrameSource, error) {
	c := r.cfg.Camera
	debug.Value("Camera type", c.Type)
	switch c.Type {
	case "file":
		return camera.FileSource{Path: c.File}, nil
	case "directory":
		if !fsutil.Exists(c.Dir) {
			return nil, fmt.Errorf("camera directory %s does not exist", c.Dir)
		}
		src := &camera.DirectorySource{Dir: c.Dir, Poll: r.cfg.CameraPoll(), Timeout: r.cfg.CameraTimeout()}
		if c.Trigger {
			g, err := r.gpioDriver()
			if err != nil {
				return nil, err
			}
			debug.Value("Focus pin", c.FocusPin)
			debug.Value("Shutter pin", c.ShutterPin)
			sh, err := camera.NewRemoteShutter(g, c.FocusPin, c.ShutterPin, r.cfg.FocusDelay(), r.cfg.ShutterDelay())
			if err != nil {
				return nil, fmt.Errorf("init shutter: %w", err)
			}
			src.Shutter = sh
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", c.Type)
	}
}
