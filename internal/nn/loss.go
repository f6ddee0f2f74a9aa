package nn

import "math"

// Epsilon clips probabilities away from 0 and 1 before taking logs.
const Epsilon = 1e-7

// CategoricalCrossEntropy returns -log(probs[target]) and the gradient of that
// loss w.r.t. the softmax logits.
func CategoricalCrossEntropy(probs []float64, target int) (float64, []float64) {
	loss := -math.Log(clip(probs[target]))
	grad := make([]float64, len(probs))
	copy(grad, probs)
	grad[target]--
	return loss, grad
}

// BinaryCrossEntropy returns the loss of sigmoid output p against label t and
// its gradient w.r.t. the sigmoid logit.
func BinaryCrossEntropy(p, t float64) (float64, float64) {
	pc := clip(p)
	loss := -(t*math.Log(pc) + (1-t)*math.Log(1-pc))
	return loss, p - t
}

func clip(p float64) float64 {
	return math.Min(math.Max(p, Epsilon), 1-Epsilon)
}
