package shaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
)

// TimingViolation reports a sequence step that took longer than its
// interval. It is informational: the sequence carries on.
type TimingViolation struct {
	Index   int
	Value   int
	Overrun time.Duration
}

func (v TimingViolation) String() string {
	return fmt.Sprintf("step %d (duty %d) overran by %v", v.Index, v.Value, v.Overrun)
}

// SequenceOptions control recording and the final state of a sequence.
type SequenceOptions struct {
	// Record starts the camera on the first value and toggles it again on
	// the final re-application.
	Record bool
	// StopAtEnd sets the duty to 0 when the sequence completes.
	StopAtEnd bool
}

// RampOptions extend SequenceOptions with the duty increment.
type RampOptions struct {
	StepSize  int
	Record    bool
	StopAtEnd bool
}

// RampValues returns the duty values from start to stop inclusive in
// increments of step. The direction follows stop relative to start.
func RampValues(start, stop, step int) []int {
	if step <= 0 {
		step = 1
	}
	var values []int
	if stop > start {
		for v := start; v <= stop; v += step {
			values = append(values, v)
		}
	} else {
		for v := start; v >= stop; v -= step {
			values = append(values, v)
		}
	}
	return values
}

// Ramp changes the duty from start to stop at rate values per second.
func (d *Driver) Ramp(start, stop int, rate float64, opts RampOptions) ([]TimingViolation, error) {
	values := RampValues(start, stop, opts.StepSize)
	debug.Verbose("ramp %d -> %d in %d steps at %.2f/s", start, stop, len(values), rate)
	return d.Sequence(values, rate, SequenceOptions{Record: opts.Record, StopAtEnd: opts.StopAtEnd})
}

// Sequence applies values one after another at rate values per second.
//
// The first value is applied immediately and held for one interval. Each
// later value is timed from just before it is sent; if sending took longer
// than the interval a TimingViolation is logged and collected and the next
// value follows straight away. Missed steps are never skipped. Finally the
// last value (or 0 with StopAtEnd) is applied again through the record
// aware command.
func (d *Driver) Sequence(values []int, rate float64, opts SequenceOptions) ([]TimingViolation, error) {
	if len(values) == 0 {
		return nil, errors.New("empty duty sequence")
	}
	if rate <= 0 {
		return nil, fmt.Errorf("sequence rate must be positive, got %v", rate)
	}
	for i, v := range values {
		if v < MinDuty || v > MaxDuty {
			return nil, fmt.Errorf("%w: value %d at index %d", ErrDutyOutOfRange, v, i)
		}
	}

	clock := d.opts.Clock
	interval := time.Duration(float64(time.Second) / rate)

	if err := d.apply(values[0], opts.Record); err != nil {
		return nil, err
	}
	clock.Sleep(interval)

	var violations []TimingViolation
	for i := 1; i < len(values); i++ {
		start := clock.Now()
		if err := d.SetDuty(values[i]); err != nil {
			return violations, err
		}
		remaining := interval - clock.Now().Sub(start)
		if remaining > 0 {
			clock.Sleep(remaining)
			continue
		}
		v := TimingViolation{Index: i, Value: values[i], Overrun: -remaining}
		debug.Warn("rate too high, timing will not be accurate: %s", v)
		violations = append(violations, v)
	}

	final := values[len(values)-1]
	if opts.StopAtEnd {
		final = 0
	}
	if err := d.apply(final, opts.Record); err != nil {
		return violations, err
	}
	return violations, nil
}
