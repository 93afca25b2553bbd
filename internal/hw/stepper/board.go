package stepper

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/serial"
)

// BoardOptions configure the serial stepper board. Zero values take the
// rig defaults.
type BoardOptions struct {
	// SettleBase and SettlePerStep give the time the feet need to finish
	// moving after the board has acknowledged a pair of commands.
	SettleBase    time.Duration
	SettlePerStep time.Duration
	Sleep         func(time.Duration)
}

func (o BoardOptions) withDefaults() BoardOptions {
	if o.SettleBase == 0 {
		o.SettleBase = 4500 * time.Millisecond
	}
	if o.SettlePerStep == 0 {
		o.SettlePerStep = 16 * time.Millisecond
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// Board is the stepper Arduino. It accepts "M<motor><+|-><steps>" and
// answers "OK" once the move is queued.
type Board struct {
	link serial.Link
	opts BoardOptions
}

// NewBoard returns a board on link.
func NewBoard(link serial.Link, opts BoardOptions) *Board {
	return &Board{link: link, opts: opts.withDefaults()}
}

// Command encodes a move of motor by steps.
func Command(motor, steps int) string {
	dir := '+'
	if steps < 0 {
		dir = '-'
		steps = -steps
	}
	return fmt.Sprintf("M%d%c%d", motor, dir, steps)
}

// Move implements the actuator contract. Zero steps send nothing. A write
// failure or a broken link is returned as an error; a missing or negative
// reply is an unconfirmed Result.
func (b *Board) Move(motor, steps int) (Result, error) {
	if motor != 1 && motor != 2 {
		return Result{}, fmt.Errorf("no motor %d", motor)
	}
	if steps == 0 {
		return Confirmed(), nil
	}

	debug.Move(motor, steps)
	// A late reply to an earlier timed-out command must not confirm this one.
	if err := b.link.Drain(); err != nil {
		return Result{}, fmt.Errorf("move motor %d: %w", motor, err)
	}
	if err := b.link.SendLine(Command(motor, steps)); err != nil {
		return Result{}, fmt.Errorf("move motor %d: %w", motor, err)
	}

	reply, err := b.link.ReadLine()
	switch {
	case errors.Is(err, serial.ErrTimeout):
		return Unconfirmed("motor %d: no reply", motor), nil
	case err != nil:
		return Result{}, fmt.Errorf("move motor %d: %w", motor, err)
	}

	if strings.TrimSpace(reply) != "OK" {
		return Unconfirmed("motor %d: board replied %q", motor, reply), nil
	}
	return Confirmed(), nil
}

// Settle blocks until a confirmed pair of moves has physically completed.
func (b *Board) Settle(m1, m2 int) {
	if m1 == 0 && m2 == 0 {
		return
	}
	d := b.opts.SettleBase + b.opts.SettlePerStep*time.Duration(abs(m1)+abs(m2))
	debug.Verbose("waiting %v for motors to settle", d)
	b.opts.Sleep(d)
}

// Close releases the serial link.
func (b *Board) Close() error {
	return b.link.Close()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// BoardSimulator emulates the stepper firmware for serial.NewScriptedDevice.
type BoardSimulator struct {
	mu    sync.Mutex
	steps [2]int
	// FailMotor makes the board reject moves of that motor.
	FailMotor int
	// Silent makes the board stop answering.
	Silent bool
}

// NewBoardSimulator returns a board with both motors at zero.
func NewBoardSimulator() *BoardSimulator {
	return &BoardSimulator{}
}

// Respond answers one command line.
func (s *BoardSimulator) Respond(line string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Silent {
		return nil
	}
	if len(line) < 4 || line[0] != 'M' {
		return []string{"ERR unknown command"}
	}
	motor := int(line[1] - '0')
	if motor != 1 && motor != 2 {
		return []string{"ERR bad motor"}
	}
	n, err := strconv.Atoi(line[3:])
	if err != nil {
		return []string{"ERR bad steps"}
	}
	switch line[2] {
	case '+':
	case '-':
		n = -n
	default:
		return []string{"ERR bad direction"}
	}
	if motor == s.FailMotor {
		return []string{"ERR stalled"}
	}
	s.steps[motor-1] += n
	return []string{"OK"}
}

// Steps returns the accumulated steps of motor.
func (s *BoardSimulator) Steps(motor int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps[motor-1]
}
