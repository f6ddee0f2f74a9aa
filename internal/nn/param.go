package nn

import (
	"math"
	"math/rand"
)

// Param is a trainable weight tensor together with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

// NewParam allocates a zeroed parameter.
func NewParam(name string, shape ...int) *Param {
	n := ShapeSize(shape)
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Value: make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// Size returns the number of scalar weights.
func (p *Param) Size() int {
	return len(p.Value)
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// GlorotUniform fills p with samples from U(-limit, limit), limit = sqrt(6/(fanIn+fanOut)).
func GlorotUniform(p *Param, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}
