package nn

import (
	"fmt"
	"math"
)

// Activation names the element-wise (or, for softmax, vector-wise) function fused
// into the end of a layer.
type Activation string

const (
	Linear  Activation = "linear"
	ReLU    Activation = "relu"
	Softmax Activation = "softmax"
	Sigmoid Activation = "sigmoid"
)

// Valid reports whether a is a known activation.
func (a Activation) Valid() bool {
	switch a {
	case Linear, ReLU, Softmax, Sigmoid:
		return true
	}
	return false
}

// IsHead reports whether a is only usable at a loss-terminated output. Layers
// with these activations receive the gradient with respect to their logits.
func (a Activation) IsHead() bool {
	return a == Softmax || a == Sigmoid
}

func (a Activation) apply(v []float64) {
	switch a {
	case ReLU:
		for i, x := range v {
			if x < 0 {
				v[i] = 0
			}
		}
	case Softmax:
		softmaxInPlace(v)
	case Sigmoid:
		for i, x := range v {
			v[i] = sigmoid(x)
		}
	case Linear, "":
	default:
		panic(fmt.Sprintf("nn: unknown activation %q", a))
	}
}

// gradient maps the gradient w.r.t. the activated output into the gradient
// w.r.t. the pre-activation values. out is the activated output.
func (a Activation) gradient(out, dOut []float64) []float64 {
	if a != ReLU {
		return dOut
	}
	d := make([]float64, len(dOut))
	for i, o := range out {
		if o > 0 {
			d[i] = dOut[i]
		}
	}
	return d
}

func softmaxInPlace(v []float64) {
	if len(v) == 0 {
		return
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	sum := 0.0
	for i, x := range v {
		e := math.Exp(x - max)
		v[i] = e
		sum += e
	}
	for i := range v {
		v[i] /= sum
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
