package nn

import "math/rand"

// Pass carries per-call forward settings.
type Pass struct {
	Training bool
	Rand     *rand.Rand
}

// Inference is the forward setting used when serving predictions.
var Inference = &Pass{}

// Cache holds whatever a layer needs from its forward call to run backward.
type Cache any

// Layer is one node of a network. Forward must not modify in and must not
// retain state on the layer itself. Backward accumulates into the Grad of the
// layer's params and returns the gradient w.r.t. the input when needInput is set.
type Layer interface {
	Forward(in []float64, pass *Pass) ([]float64, Cache)
	Backward(c Cache, dOut []float64, needInput bool) []float64
	Params() []*Param
	OutShape() []int
}
