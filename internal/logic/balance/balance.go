// Package balance runs the closed levelling loop: ask the optimizer for a
// motor position, move there, measure the particle centre of mass and feed
// its distance from the boundary centroid back as the cost.
package balance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/logic/measure"
	"github.com/mikesmithlab/shaker/internal/logic/motion"
	"github.com/mikesmithlab/shaker/internal/logic/optimize"
)

// DefaultMaxBatchSize caps the adaptive batch growth.
const DefaultMaxBatchSize = 100

var (
	// ErrNotInitialized is returned by Level before Initialize.
	ErrNotInitialized = errors.New("balancer not initialized")
	// ErrNoTrials is returned when a run ends before its first trial.
	ErrNoTrials = errors.New("no trials completed")
)

// Mover is the motor controller as seen by the loop.
type Mover interface {
	MoveTo(x, y int) error
	CurrentPosition() motion.Position
}

// OptimizerFactory builds a fresh optimizer for one run. seeds are the
// points without a known cost that must be proposed first.
type OptimizerFactory func(bounds geometry.SearchBounds, seeds []optimize.Point) (optimize.Optimizer, error)

// Trial is one optimizer iteration.
type Trial struct {
	RunID       string    `json:"run_id"`
	Iteration   int       `json:"iteration"`
	X           int       `json:"motor_x"`
	Y           int       `json:"motor_y"`
	Cost        float64   `json:"cost"`
	Fluctuation float64   `json:"fluctuation"`
	BatchSize   int       `json:"batch_size"`
	MeanX       float64   `json:"mean_x"`
	MeanY       float64   `json:"mean_y"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Recorder persists trials. A failing recorder aborts the run.
type Recorder interface {
	Record(t Trial) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(t Trial) error

// Record implements Recorder.
func (f RecorderFunc) Record(t Trial) error { return f(t) }

// Seed is a known-good point used to warm start a run. When Known is set
// Cost is told to the optimizer before the first iteration instead of
// the point being measured again.
type Seed struct {
	X     int     `json:"x"`
	Y     int     `json:"y"`
	Cost  float64 `json:"cost"`
	Known bool    `json:"known"`
}

// Params control one levelling run.
type Params struct {
	InitialBatchSize int     `json:"initial_batch_size"`
	CallBudget       int     `json:"call_budget"`
	Tolerance        float64 `json:"tolerance"`
	// MaxBatchSize caps the adaptive growth. Zero means DefaultMaxBatchSize.
	MaxBatchSize int    `json:"max_batch_size"`
	Seeds        []Seed `json:"seeds,omitempty"`
}

func (p Params) validate() (Params, error) {
	if p.InitialBatchSize < 1 {
		return p, fmt.Errorf("initial batch size must be at least 1, got %d", p.InitialBatchSize)
	}
	if p.CallBudget < 1 {
		return p, fmt.Errorf("call budget must be at least 1, got %d", p.CallBudget)
	}
	if p.Tolerance < 0 || math.IsNaN(p.Tolerance) {
		return p, fmt.Errorf("tolerance must be non-negative, got %v", p.Tolerance)
	}
	if p.MaxBatchSize == 0 {
		p.MaxBatchSize = DefaultMaxBatchSize
	}
	if p.MaxBatchSize < p.InitialBatchSize {
		p.MaxBatchSize = p.InitialBatchSize
	}
	return p, nil
}

// BestResult is the lowest cost trial of a run. The loop leaves the
// motors at the last trial; moving to the best one is up to the caller.
type BestResult struct {
	RunID       string  `json:"run_id"`
	X           int     `json:"motor_x"`
	Y           int     `json:"motor_y"`
	Cost        float64 `json:"cost"`
	Fluctuation float64 `json:"fluctuation"`
	Iteration   int     `json:"iteration"`
	Trials      int     `json:"trials"`
}

// NextBatchSize applies the adaptive effort rule: when the cost is above
// tolerance and the noise is larger than the cost the batch grows by half,
// rounded, up to max. It never shrinks.
func NextBatchSize(batch int, cost, fluctuation, tolerance float64, max int) int {
	if cost > tolerance && fluctuation > cost {
		next := int(math.Round(float64(batch) * 1.5))
		if next > max {
			next = max
		}
		if next > batch {
			return next
		}
	}
	return batch
}

// Balancer owns one rig's levelling loop.
type Balancer struct {
	motors       Mover
	measurer     measure.Measurer
	newOptimizer OptimizerFactory
	recorders    []Recorder

	// OnTrial, when set, is called after each trial is recorded.
	OnTrial func(Trial)
	// Now stamps trials; nil means time.Now.
	Now func() time.Time

	mu       sync.Mutex
	boundary geometry.Boundary
	centroid geometry.Point
	bounds   geometry.SearchBounds
	ready    bool
	history  []Trial
}

// New returns a balancer. Recorders receive every trial in order.
func New(motors Mover, m measure.Measurer, factory OptimizerFactory, recorders ...Recorder) *Balancer {
	return &Balancer{
		motors:       motors,
		measurer:     m,
		newOptimizer: factory,
		recorders:    recorders,
	}
}

// Initialize sets the target boundary and the search bounds.
func (b *Balancer) Initialize(boundary geometry.Boundary, bounds geometry.SearchBounds) error {
	c, err := boundary.Centroid()
	if err != nil {
		return err
	}
	if err := bounds.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.boundary = geometry.NewBoundary(boundary.Points)
	b.centroid = c
	b.bounds = bounds
	b.ready = true
	debug.Verbose("target centroid (%.2f, %.2f), bounds x[%d,%d] y[%d,%d]",
		c.X, c.Y, bounds.X.Min, bounds.X.Max, bounds.Y.Min, bounds.Y.Max)
	return nil
}

// Centroid returns the target centre of mass.
func (b *Balancer) Centroid() geometry.Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.centroid
}

// Boundary returns a copy of the target boundary.
func (b *Balancer) Boundary() geometry.Boundary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return geometry.NewBoundary(b.boundary.Points)
}

// History returns a copy of every trial recorded by this balancer.
func (b *Balancer) History() []Trial {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Trial, len(b.history))
	copy(out, b.history)
	return out
}

// Level runs CallBudget iterations and returns the best trial. The run
// stops early only on error. ctx is checked between iterations; an
// iteration that has started always finishes its move and measurement.
func (b *Balancer) Level(ctx context.Context, p Params) (BestResult, error) {
	p, err := p.validate()
	if err != nil {
		return BestResult{}, err
	}

	b.mu.Lock()
	ready, centroid, bounds := b.ready, b.centroid, b.bounds
	b.mu.Unlock()
	if !ready {
		return BestResult{}, ErrNotInitialized
	}

	var unknown []optimize.Point
	for _, s := range p.Seeds {
		if !s.Known {
			unknown = append(unknown, optimize.Point{X: s.X, Y: s.Y})
		}
	}
	opt, err := b.newOptimizer(bounds, unknown)
	if err != nil {
		return BestResult{}, fmt.Errorf("create optimizer: %w", err)
	}
	for _, s := range p.Seeds {
		if !s.Known {
			continue
		}
		x, y := bounds.Clamp(s.X, s.Y)
		if err := opt.Tell(x, y, s.Cost); err != nil {
			return BestResult{}, fmt.Errorf("warm start at (%d,%d): %w", x, y, err)
		}
	}

	runID := uuid.NewString()
	debug.Section("Levelling")
	debug.Info("run %s: budget %d, batch %d (max %d), tolerance %.3f, %d seed(s)",
		runID, p.CallBudget, p.InitialBatchSize, p.MaxBatchSize, p.Tolerance, len(p.Seeds))

	best := BestResult{RunID: runID, Cost: math.Inf(1), Iteration: -1}
	batch := p.InitialBatchSize
	for i := 0; i < p.CallBudget; i++ {
		if err := ctx.Err(); err != nil {
			debug.Warn("levelling stopped after %d of %d trials: %v", i, p.CallBudget, err)
			if best.Trials == 0 {
				return BestResult{RunID: runID, Iteration: -1}, fmt.Errorf("%w: %w", ErrNoTrials, err)
			}
			return best, err
		}

		t, err := b.iterate(context.WithoutCancel(ctx), opt, centroid, runID, i, batch)
		if err != nil {
			if best.Trials == 0 {
				return BestResult{RunID: runID, Iteration: -1}, fmt.Errorf("trial %d: %w", i, err)
			}
			return best, fmt.Errorf("trial %d: %w", i, err)
		}
		batch = NextBatchSize(batch, t.Cost, t.Fluctuation, p.Tolerance, p.MaxBatchSize)

		best.Trials++
		if t.Cost < best.Cost {
			best.X, best.Y = t.X, t.Y
			best.Cost, best.Fluctuation = t.Cost, t.Fluctuation
			best.Iteration = t.Iteration
		}
		if b.OnTrial != nil {
			b.OnTrial(t)
		}
	}

	debug.Summary(fmt.Sprintf("run %s: best (%d,%d) cost %.3f ± %.3f at trial %d",
		runID, best.X, best.Y, best.Cost, best.Fluctuation, best.Iteration))
	return best, nil
}

// iterate performs steps ask, move, measure, score, record and tell for
// one trial.
func (b *Balancer) iterate(ctx context.Context, opt optimize.Optimizer, centroid geometry.Point, runID string, i, batch int) (Trial, error) {
	x, y, err := opt.Ask()
	if err != nil {
		return Trial{}, fmt.Errorf("optimizer: %w", err)
	}
	if err := b.motors.MoveTo(x, y); err != nil {
		return Trial{}, err
	}

	obs, err := measure.Take(ctx, b.measurer, batch)
	if err != nil {
		return Trial{}, fmt.Errorf("measure at (%d,%d): %w", x, y, err)
	}
	cost := geometry.Distance(centroid, geometry.Point{X: obs.MeanX, Y: obs.MeanY})

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	t := Trial{
		RunID:       runID,
		Iteration:   i,
		X:           x,
		Y:           y,
		Cost:        cost,
		Fluctuation: obs.Fluctuation,
		BatchSize:   batch,
		MeanX:       obs.MeanX,
		MeanY:       obs.MeanY,
		RecordedAt:  now(),
	}
	debug.Trial(i, x, y, cost, obs.Fluctuation, batch)

	b.mu.Lock()
	b.history = append(b.history, t)
	b.mu.Unlock()
	for _, r := range b.recorders {
		if err := r.Record(t); err != nil {
			return t, fmt.Errorf("record trial: %w", err)
		}
	}

	if err := opt.Tell(x, y, cost); err != nil {
		return t, fmt.Errorf("optimizer: %w", err)
	}
	return t, nil
}

// NewOptimizerFactory returns an OptimizerFactory for the given kind
// and options; seeds are prepended to opts.Initial.
func NewOptimizerFactory(kind string, opts optimize.Options) OptimizerFactory {
	return func(bounds geometry.SearchBounds, seeds []optimize.Point) (optimize.Optimizer, error) {
		o := opts
		o.Initial = append(append([]optimize.Point{}, seeds...), opts.Initial...)
		return optimize.New(kind, bounds, o)
	}
}
