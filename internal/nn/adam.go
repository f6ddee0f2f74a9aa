package nn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Adam implements the Adam optimizer. Its moment estimates belong to a single
// training run and are never persisted with the model.
type Adam struct {
	LearningRate float64
	Beta1, Beta2 float64
	Epsilon      float64

	step int
	m, v map[*Param][]float64
}

// NewAdam returns an optimizer with the usual defaults (beta1 0.9, beta2 0.999, eps 1e-7).
func NewAdam(lr float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-7,
		m:            make(map[*Param][]float64),
		v:            make(map[*Param][]float64),
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}

// Step applies one update from the accumulated gradients, scaled by gradScale,
// then clears them.
func (a *Adam) Step(params []*Param, gradScale float64) {
	a.step++
	c1 := 1 - math.Pow(a.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		if gradScale != 1 {
			floats.Scale(gradScale, p.Grad)
		}
		m, ok := a.m[p]
		if !ok {
			m = make([]float64, p.Size())
			a.m[p] = m
			a.v[p] = make([]float64, p.Size())
		}
		v := a.v[p]
		for i, g := range p.Grad {
			m[i] = a.Beta1*m[i] + (1-a.Beta1)*g
			v[i] = a.Beta2*v[i] + (1-a.Beta2)*g*g
			p.Value[i] -= a.LearningRate * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.Epsilon)
		}
		p.ZeroGrad()
	}
}
