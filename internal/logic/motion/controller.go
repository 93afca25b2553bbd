// Package motion keeps the authoritative absolute position of the two
// levelling motors and turns requested positions into motor moves.
package motion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/stepper"
	"github.com/mikesmithlab/shaker/internal/logic/kinematics"
)

// Position is the absolute motor position in the virtual Cartesian frame,
// in steps.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Actuator moves one of the two motors (1 or 2) by a signed step count.
// An unconfirmed Result is a recoverable actuation failure; an error means
// the hardware link is gone.
type Actuator interface {
	Move(motor, steps int) (stepper.Result, error)
}

// settler is implemented by actuators that need time after a pair of
// confirmed moves before the feet are still.
type settler interface {
	Settle(m1, m2 int)
}

// ActuationError reports a motor that did not confirm its move. The
// controller position is unchanged when it is returned.
type ActuationError struct {
	Motor  int
	Reason string
	From   Position
	To     Position
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("motor %d failed to move %v -> %v: %s", e.Motor, e.From, e.To, e.Reason)
}

// ErrNotPersisted is returned when the motors moved but the new position
// could not be saved. The in-memory position follows the hardware.
var ErrNotPersisted = errors.New("position not persisted")

// Controller translates absolute positions into motor moves. It owns the
// position; nothing else may change it.
type Controller struct {
	actuator Actuator
	model    kinematics.Model
	store    PositionStore

	mu  sync.Mutex
	pos Position
}

// NewController loads the last saved position from store before anything
// can move.
func NewController(actuator Actuator, model kinematics.Model, store PositionStore) (*Controller, error) {
	pos, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load motor position: %w", err)
	}
	debug.Value("motor position", pos)
	return &Controller{
		actuator: actuator,
		model:    model,
		store:    store,
		pos:      pos,
	}, nil
}

// CurrentPosition returns the last confirmed position.
func (c *Controller) CurrentPosition() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// MoveTo drives the motors to the absolute position (x, y). Motor 1 is
// moved first, then motor 2. The position is updated and saved only after
// both moves are confirmed.
//
// Step counts are the difference of the rounded absolute motor positions,
// so rounding never accumulates over a sequence of small moves.
func (c *Controller) MoveTo(x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.pos
	to := Position{X: x, Y: y}
	dx, dy := x-from.X, y-from.Y
	if dx == 0 && dy == 0 {
		return nil
	}

	m1, m2 := motorSteps(c.model, from, to)
	debug.Verbose("move %v -> %v: delta (%d,%d) -> motor steps (%d,%d) [%s]", from, to, dx, dy, m1, m2, c.model.Name())

	for i, steps := range []int{m1, m2} {
		motor := i + 1
		res, err := c.actuator.Move(motor, steps)
		if err != nil {
			return fmt.Errorf("move %v -> %v: %w", from, to, err)
		}
		if !res.Confirmed {
			return &ActuationError{Motor: motor, Reason: res.Reason, From: from, To: to}
		}
	}
	if s, ok := c.actuator.(settler); ok {
		s.Settle(m1, m2)
	}

	c.pos = to
	if err := c.store.Save(to); err != nil {
		return fmt.Errorf("%w at %v: %v", ErrNotPersisted, to, err)
	}
	return nil
}

func motorSteps(model kinematics.Model, from, to Position) (int, int) {
	f1, f2 := model.Forward(from.X, from.Y)
	t1, t2 := model.Forward(to.X, to.Y)
	return t1 - f1, t2 - f2
}

// Jog moves relative to the current position.
func (c *Controller) Jog(dx, dy int) error {
	p := c.CurrentPosition()
	return c.MoveTo(p.X+dx, p.Y+dy)
}

// SetOrigin declares the current physical position to be (0,0).
func (c *Controller) SetOrigin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(Position{}); err != nil {
		return fmt.Errorf("save origin: %w", err)
	}
	debug.Info("motor origin reset (was %v)", c.pos)
	c.pos = Position{}
	return nil
}
