package motion

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikesmithlab/shaker/internal/hw/serial"
	"github.com/mikesmithlab/shaker/internal/hw/stepper"
	"github.com/mikesmithlab/shaker/internal/logic/kinematics"
)

// scriptedActuator records moves and can refuse a given motor.
type scriptedActuator struct {
	moves    [][2]int
	failOn   int
	hardFail error
	settled  [][2]int
}

func (a *scriptedActuator) Move(motor, steps int) (stepper.Result, error) {
	if a.hardFail != nil {
		return stepper.Result{}, a.hardFail
	}
	if motor == a.failOn {
		return stepper.Unconfirmed("motor %d stalled", motor), nil
	}
	a.moves = append(a.moves, [2]int{motor, steps})
	return stepper.Confirmed(), nil
}

func (a *scriptedActuator) Settle(m1, m2 int) {
	a.settled = append(a.settled, [2]int{m1, m2})
}

func model(t *testing.T, name string) kinematics.Model {
	t.Helper()
	m, err := kinematics.ByName(name)
	require.NoError(t, err)
	return m
}

func TestController_MoveToIssuesBothMotors(t *testing.T) {
	act := &scriptedActuator{}
	store := &MemoryPositionStore{}
	c, err := NewController(act, model(t, kinematics.Symmetric), store)
	require.NoError(t, err)

	require.NoError(t, c.MoveTo(200, 0))
	assert.Equal(t, [][2]int{{1, 100}, {2, 100}}, act.moves)
	assert.Equal(t, [][2]int{{100, 100}}, act.settled)
	assert.Equal(t, Position{200, 0}, c.CurrentPosition())

	require.NoError(t, c.MoveTo(200, 200))
	assert.Equal(t, [][2]int{{1, 100}, {2, 100}, {1, -100}, {2, 100}}, act.moves)
	assert.Equal(t, 2, store.Saves())
}

func TestController_SmallMovesDoNotDrift(t *testing.T) {
	act := &scriptedActuator{}
	c, err := NewController(act, model(t, kinematics.Tilted), &MemoryPositionStore{})
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		require.NoError(t, c.MoveTo(0, i))
	}
	require.NoError(t, c.MoveTo(0, 0))

	var net [3]int
	for _, m := range act.moves {
		net[m[0]] += m[1]
	}
	assert.Equal(t, Position{}, c.CurrentPosition())
	assert.Zero(t, net[1], "motor 1 net steps")
	assert.Zero(t, net[2], "motor 2 net steps")
}

func TestController_StepsFollowAbsolutePosition(t *testing.T) {
	act := &scriptedActuator{}
	m := model(t, kinematics.Tilted)
	c, err := NewController(act, m, &MemoryPositionStore{})
	require.NoError(t, err)

	for _, p := range []Position{{3, 1}, {4, 3}, {-7, 2}, {-6, 9}, {11, -5}} {
		require.NoError(t, c.MoveTo(p.X, p.Y))
		var net [3]int
		for _, mv := range act.moves {
			net[mv[0]] += mv[1]
		}
		w1, w2 := m.Forward(p.X, p.Y)
		assert.Equal(t, [2]int{w1, w2}, [2]int{net[1], net[2]}, "at %v", p)
	}
}

func TestController_NoMoveForSamePosition(t *testing.T) {
	act := &scriptedActuator{}
	store := &MemoryPositionStore{}
	c, err := NewController(act, model(t, kinematics.Tilted), store)
	require.NoError(t, err)

	require.NoError(t, c.MoveTo(0, 0))
	assert.Empty(t, act.moves)
	assert.Zero(t, store.Saves())
}

func TestController_NoPartialUpdate(t *testing.T) {
	act := &scriptedActuator{}
	store := &MemoryPositionStore{}
	c, err := NewController(act, model(t, kinematics.Tilted), store)
	require.NoError(t, err)
	require.NoError(t, c.MoveTo(40, -30))
	before := c.CurrentPosition()

	act.failOn = 2
	err = c.MoveTo(90, 10)

	var aerr *ActuationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 2, aerr.Motor)
	assert.Equal(t, before, aerr.From)
	assert.Equal(t, before, c.CurrentPosition())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, before, saved)
}

func TestController_HardFailureIsNotActuationError(t *testing.T) {
	act := &scriptedActuator{hardFail: serial.ErrCommunication}
	c, err := NewController(act, model(t, kinematics.Tilted), &MemoryPositionStore{})
	require.NoError(t, err)

	err = c.MoveTo(10, 10)
	require.Error(t, err)
	var aerr *ActuationError
	assert.False(t, errors.As(err, &aerr))
	assert.ErrorIs(t, err, serial.ErrCommunication)
	assert.Equal(t, Position{}, c.CurrentPosition())
}

func TestController_StoreFailure(t *testing.T) {
	act := &scriptedActuator{}
	store := &MemoryPositionStore{Err: errors.New("disk full")}
	c, err := NewController(act, model(t, kinematics.Tilted), store)
	require.NoError(t, err)

	err = c.MoveTo(10, 0)
	assert.ErrorIs(t, err, ErrNotPersisted)
	// The motors did move.
	assert.Equal(t, Position{10, 0}, c.CurrentPosition())
}

func TestController_PositionDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motor_pos.txt")
	sim := stepper.NewBoardSimulator()
	board := stepper.NewBoard(
		serial.NewPortLink("stepper", serial.NewScriptedDevice(sim.Respond)),
		stepper.BoardOptions{Sleep: func(time.Duration) {}},
	)

	c, err := NewController(board, model(t, kinematics.Tilted), NewFilePositionStore(path))
	require.NoError(t, err)
	assert.Equal(t, Position{}, c.CurrentPosition())

	require.NoError(t, c.MoveTo(57, -123))

	restarted, err := NewController(board, model(t, kinematics.Tilted), NewFilePositionStore(path))
	require.NoError(t, err)
	assert.Equal(t, Position{57, -123}, restarted.CurrentPosition())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "57,-123", string(data))
}

func TestController_BoardRejectionKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motor_pos.txt")
	require.NoError(t, os.WriteFile(path, []byte("5,5"), 0o644))

	sim := stepper.NewBoardSimulator()
	sim.FailMotor = 2
	board := stepper.NewBoard(
		serial.NewPortLink("stepper", serial.NewScriptedDevice(sim.Respond)),
		stepper.BoardOptions{Sleep: func(time.Duration) {}},
	)
	c, err := NewController(board, model(t, kinematics.Symmetric), NewFilePositionStore(path))
	require.NoError(t, err)

	err = c.MoveTo(25, 5)
	var aerr *ActuationError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, Position{5, 5}, c.CurrentPosition())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "5,5", string(data))
}

func TestController_JogAndOrigin(t *testing.T) {
	act := &scriptedActuator{}
	store := &MemoryPositionStore{}
	c, err := NewController(act, model(t, kinematics.Symmetric), store)
	require.NoError(t, err)

	require.NoError(t, c.Jog(10, -4))
	require.NoError(t, c.Jog(10, -4))
	assert.Equal(t, Position{20, -8}, c.CurrentPosition())

	require.NoError(t, c.SetOrigin())
	assert.Equal(t, Position{}, c.CurrentPosition())
	saved, _ := store.Load()
	assert.Equal(t, Position{}, saved)
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition(" 12, -7\n")
	require.NoError(t, err)
	assert.Equal(t, Position{12, -7}, p)

	for _, bad := range []string{"", "1", "a,2", "1,2,3"} {
		_, err := ParsePosition(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestFilePositionStore_MissingFileIsOrigin(t *testing.T) {
	s := NewFilePositionStore(filepath.Join(t.TempDir(), "none.txt"))
	p, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Position{}, p)
}
