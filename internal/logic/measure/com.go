package measure

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/camera"
	"github.com/mikesmithlab/shaker/internal/hw/shaker"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/vision"
)

// Warmup is the shaking protocol run before every picture: shake hard to
// reset the packing, then come down to the measuring duty and let the
// particles settle into their steady state.
type Warmup struct {
	InitialDuty int           `yaml:"initial_duty" json:"initial_duty"`
	MeasureDuty int           `yaml:"measure_duty" json:"measure_duty"`
	WaitTime    time.Duration `yaml:"wait_time" json:"wait_time"`
	RampTime    time.Duration `yaml:"ramp_time" json:"ramp_time"`
	MeasureTime time.Duration `yaml:"measure_time" json:"measure_time"`
}

// DutyDriver is the part of the shaker driver the measurer needs.
type DutyDriver interface {
	SetDuty(value int) error
	Ramp(start, stop int, rate float64, opts shaker.RampOptions) ([]shaker.TimingViolation, error)
}

// ComMeasurer measures the particle centre of mass on the real rig.
type ComMeasurer struct {
	Shaker   DutyDriver
	Frames   camera.FrameSource
	Strategy vision.Strategy
	Boundary geometry.Polygon
	Warmup   Warmup
	// Sleep waits between the warm-up stages; nil means a context aware
	// time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Measure implements Measurer.
func (m *ComMeasurer) Measure(ctx context.Context) (Sample, error) {
	sleep := m.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	w := m.Warmup

	if err := m.Shaker.SetDuty(w.InitialDuty); err != nil {
		return Sample{}, err
	}
	if err := sleep(ctx, w.WaitTime); err != nil {
		return Sample{}, err
	}

	if w.RampTime > 0 && w.InitialDuty != w.MeasureDuty {
		rate := math.Abs(float64(w.InitialDuty-w.MeasureDuty)) / w.RampTime.Seconds()
		if _, err := m.Shaker.Ramp(w.InitialDuty, w.MeasureDuty, rate, shaker.RampOptions{StepSize: 1}); err != nil {
			return Sample{}, err
		}
	} else if err := m.Shaker.SetDuty(w.MeasureDuty); err != nil {
		return Sample{}, err
	}
	if err := sleep(ctx, w.MeasureTime); err != nil {
		return Sample{}, err
	}

	img, err := m.Frames.Frame(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("grab frame: %w", err)
	}
	c, err := m.Strategy.Centre(img, m.Boundary)
	if err != nil {
		return Sample{}, fmt.Errorf("%s centre of mass: %w", m.Strategy.Name(), err)
	}
	debug.Live("centre of mass (%.2f, %.2f)", c.X, c.Y)
	return Sample{X: c.X, Y: c.Y}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
