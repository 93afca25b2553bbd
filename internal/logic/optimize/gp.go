package optimize

import (
	"errors"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
)

// lengthScales are tried on every fit; the one with the highest marginal
// likelihood wins. Inputs are scaled to the unit square.
var lengthScales = []float64{0.05, 0.1, 0.2, 0.35, 0.6, 1.0}

// GaussianProcess is Bayesian optimisation with a squared exponential
// Gaussian process surrogate and expected improvement, maximised over
// random candidate points.
type GaussianProcess struct {
	bounds  geometry.SearchBounds
	opts    Options
	sampler sampler
	initial []Point
	asked   int

	xs    []Point
	costs []float64
}

// NewGaussianProcess returns a seeded optimizer over bounds.
func NewGaussianProcess(bounds geometry.SearchBounds, opts Options) *GaussianProcess {
	opts = opts.withDefaults()
	return &GaussianProcess{
		bounds:  bounds,
		opts:    opts,
		sampler: sampler{bounds: bounds, rng: rand.New(rand.NewSource(opts.Seed))},
		initial: clampAll(bounds, opts.Initial),
	}
}

// Ask implements Optimizer.
func (g *GaussianProcess) Ask() (int, int, error) {
	defer func() { g.asked++ }()

	if len(g.initial) > 0 {
		p := g.initial[0]
		g.initial = g.initial[1:]
		return p.X, p.Y, nil
	}
	if g.asked < g.opts.InitialPoints || len(g.costs) < 2 {
		p := g.sampler.next()
		return p.X, p.Y, nil
	}

	model, err := g.fit()
	if err != nil {
		debug.Warn("gaussian process fit failed, sampling at random: %v", err)
		p := g.sampler.next()
		return p.X, p.Y, nil
	}

	best := floats.Min(model.y)
	var (
		bestEI = math.Inf(-1)
		choice Point
		found  bool
	)
	for i := 0; i < g.opts.Candidates; i++ {
		p := g.sampler.next()
		mu, sigma := model.predict(g.unit(p))
		ei := expectedImprovement(mu, sigma, best, g.opts.Xi)
		if ei > bestEI {
			bestEI, choice, found = ei, p, true
		}
	}
	if !found {
		debug.Warn("gaussian process gave no finite expected improvement, sampling at random")
		p := g.sampler.next()
		return p.X, p.Y, nil
	}
	if debug.IsEnabled(debug.LevelTrace) {
		mu, sigma := model.predict(g.unit(choice))
		debug.Trace("gp: %d observations, length scale %.2f, next %v (EI %.4g, mean %.3f, std %.3f)",
			len(g.costs), model.scale, choice, bestEI, mu, sigma)
	}
	return choice.X, choice.Y, nil
}

// Tell implements Optimizer.
func (g *GaussianProcess) Tell(x, y int, cost float64) error {
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return errors.New("cost must be finite")
	}
	g.xs = append(g.xs, Point{X: x, Y: y})
	g.costs = append(g.costs, cost)
	return nil
}

// unit maps a motor position into the unit square.
func (g *GaussianProcess) unit(p Point) [2]float64 {
	return [2]float64{
		scale(p.X, g.bounds.X),
		scale(p.Y, g.bounds.Y),
	}
}

func scale(v int, iv geometry.Interval) float64 {
	if iv.Width() == 0 {
		return 0
	}
	return float64(v-iv.Min) / float64(iv.Width())
}

type gpModel struct {
	xs    [][2]float64
	y     []float64 // normalised costs
	alpha *mat.VecDense
	chol  mat.Cholesky
	scale float64
}

// fit normalises the costs and picks the length scale with the best log
// marginal likelihood.
func (g *GaussianProcess) fit() (*gpModel, error) {
	n := len(g.costs)
	xs := make([][2]float64, n)
	for i, p := range g.xs {
		xs[i] = g.unit(p)
	}
	mean, std := stat.MeanStdDev(g.costs, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	y := make([]float64, n)
	for i, c := range g.costs {
		y[i] = (c - mean) / std
	}

	var best *gpModel
	bestLML := math.Inf(-1)
	for _, l := range lengthScales {
		m := &gpModel{xs: xs, y: y, scale: l}
		lml, ok := m.factorize(g.opts.Noise)
		if !ok {
			continue
		}
		if lml > bestLML {
			best, bestLML = m, lml
		}
	}
	if best == nil {
		return nil, errors.New("kernel matrix not positive definite")
	}
	return best, nil
}

func (m *gpModel) kernel(a, b [2]float64) float64 {
	dx, dy := a[0]-b[0], a[1]-b[1]
	return math.Exp(-(dx*dx + dy*dy) / (2 * m.scale * m.scale))
}

// factorize builds K + noise*I, factors it and returns the log marginal
// likelihood.
func (m *gpModel) factorize(noise float64) (float64, bool) {
	n := len(m.xs)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := m.kernel(m.xs[i], m.xs[j])
			if i == j {
				v += noise
			}
			k.SetSym(i, j, v)
		}
	}
	if ok := m.chol.Factorize(k); !ok {
		return 0, false
	}

	yv := mat.NewVecDense(n, m.y)
	m.alpha = mat.NewVecDense(n, nil)
	if err := m.chol.SolveVecTo(m.alpha, yv); err != nil {
		return 0, false
	}
	lml := -0.5*mat.Dot(yv, m.alpha) - 0.5*m.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
	return lml, true
}

// predict returns the posterior mean and standard deviation at x.
func (m *gpModel) predict(x [2]float64) (float64, float64) {
	n := len(m.xs)
	ks := mat.NewVecDense(n, nil)
	for i, xi := range m.xs {
		ks.SetVec(i, m.kernel(x, xi))
	}
	mu := mat.Dot(ks, m.alpha)

	var v mat.VecDense
	if err := m.chol.SolveVecTo(&v, ks); err != nil {
		return mu, 0
	}
	variance := 1 - mat.Dot(ks, &v)
	if variance < 0 {
		variance = 0
	}
	return mu, math.Sqrt(variance)
}

// expectedImprovement for minimisation below best.
func expectedImprovement(mu, sigma, best, xi float64) float64 {
	imp := best - mu - xi
	if sigma == 0 {
		return math.Max(imp, 0)
	}
	z := imp / sigma
	return imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}
