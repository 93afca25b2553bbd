// Package kinematics converts Cartesian motor-frame deltas into the step
// counts of the two levelling actuators.
//
// The rig has two feet driven by motors 1 and 2 at the front left and
// right. An X move turns both motors by the same amount in the same
// direction; a Y move turns them in opposite directions. Which scale the
// Y axis needs depends on the rig geometry, so the model is selected by
// name in the settings instead of being hard coded.
package kinematics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Model maps a Cartesian delta to per-motor step counts and back.
type Model interface {
	// Forward returns the signed steps for motor 1 and motor 2.
	Forward(dx, dy int) (m1, m2 int)
	// Inverse returns the Cartesian delta produced by the given steps.
	Inverse(m1, m2 int) (dx, dy float64)
	// Name identifies the model in settings and logs.
	Name() string
}

// Linear is a Model given by a fixed 2x2 matrix:
//
//	[m1]   [a b] [dx]
//	[m2] = [c d] [dy]
type Linear struct {
	name    string
	forward *mat.Dense
	inverse *mat.Dense
}

// NewLinear builds a linear model from its matrix coefficients.
// The matrix must be invertible.
func NewLinear(name string, a, b, c, d float64) (*Linear, error) {
	fwd := mat.NewDense(2, 2, []float64{a, b, c, d})
	var inv mat.Dense
	if err := inv.Inverse(fwd); err != nil {
		return nil, fmt.Errorf("kinematic model %q is not invertible: %w", name, err)
	}
	return &Linear{name: name, forward: fwd, inverse: &inv}, nil
}

// Forward implements Model. Steps are rounded to the nearest integer.
func (l *Linear) Forward(dx, dy int) (int, int) {
	var out mat.VecDense
	out.MulVec(l.forward, mat.NewVecDense(2, []float64{float64(dx), float64(dy)}))
	return roundSteps(out.AtVec(0)), roundSteps(out.AtVec(1))
}

// Inverse implements Model.
func (l *Linear) Inverse(m1, m2 int) (float64, float64) {
	var out mat.VecDense
	out.MulVec(l.inverse, mat.NewVecDense(2, []float64{float64(m1), float64(m2)}))
	return out.AtVec(0), out.AtVec(1)
}

// Name implements Model.
func (l *Linear) Name() string {
	return l.name
}

func (l *Linear) String() string {
	return fmt.Sprintf("%s%v", l.name, mat.Formatted(l.forward, mat.Squeeze()))
}

func roundSteps(v float64) int {
	return int(math.Round(v))
}

// Preset model names.
const (
	// Tilted scales Y by 1/sqrt(3): the feet sit on an equilateral
	// triangle so a Y change has a larger effect than X.
	Tilted = "tilted"
	// Symmetric treats X and Y the same.
	Symmetric = "symmetric"
	// Legacy is the first rig's transform: motor 2 only follows X and
	// motor 1 compensates both axes.
	Legacy = "legacy"
)

var invSqrt3 = 1 / math.Sqrt(3)

var presets = map[string][4]float64{
	Tilted:    {0.5, -0.5 * invSqrt3, 0.5, 0.5 * invSqrt3},
	Symmetric: {0.5, -0.5, 0.5, 0.5},
	Legacy:    {-2, -2 * invSqrt3, 1, 0},
}

// ByName returns a preset model.
func ByName(name string) (Model, error) {
	c, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown kinematic model %q (known: %v)", name, Names())
	}
	return NewLinear(name, c[0], c[1], c[2], c[3])
}

// Names lists the preset model names in sorted order.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
