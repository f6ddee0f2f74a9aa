package model

import (
	"fmt"
	"math/rand"

	"fruitscan/internal/nn"

	"gonum.org/v1/gonum/floats"
)

// LossWeights scales the two head losses in the combined training loss.
type LossWeights struct {
	FruitType float64 `json:"fruitType" yaml:"fruitType"`
	Toxicity  float64 `json:"toxicity" yaml:"toxicity"`
}

// DefaultLossWeights sums both head losses with equal weight.
var DefaultLossWeights = LossWeights{FruitType: 1, Toxicity: 1}

// Output is the raw result of a forward pass.
type Output struct {
	FruitProbs []float64 // softmax over the vocabulary
	ToxicProb  float64   // sigmoid probability of "toxic"
}

// Model is an Architecture realised over nn layers. Predict may be called
// concurrently; AccumulateGradients and anything touching weights may not.
type Model struct {
	arch   *Architecture
	layers []nn.Layer // aligned with arch.Nodes, nil for the input node
	parent []int
	fruit  int
	toxic  int
}

// New realises arch with Glorot-uniform kernels drawn from seed.
func New(arch *Architecture, seed int64) (*Model, error) {
	return build(arch, rand.New(rand.NewSource(seed)))
}

// build realises arch; with a nil rng all weights stay zero.
func build(arch *Architecture, rng *rand.Rand) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid architecture: %w", err)
	}
	parent, err := arch.parents()
	if err != nil {
		return nil, err
	}

	m := &Model{
		arch:   arch,
		layers: make([]nn.Layer, len(arch.Nodes)),
		parent: parent,
	}
	for i, n := range arch.Nodes {
		if i == 0 {
			continue
		}
		in := arch.Nodes[parent[i]].Shape
		switch n.Kind {
		case KindConv2D:
			c := nn.NewConv2D(n.Name, in[0], in[1], in[2], n.KernelSize, n.Filters, n.Activation)
			if rng != nil {
				k := n.KernelSize * n.KernelSize
				nn.GlorotUniform(c.Weights, k*in[2], k*n.Filters, rng)
			}
			m.layers[i] = c
		case KindMaxPool2D:
			m.layers[i] = nn.NewMaxPool2D(in[0], in[1], in[2], n.PoolSize)
		case KindFlatten:
			m.layers[i] = &nn.Flatten{In: in}
		case KindDense:
			d := nn.NewDense(n.Name, in[0], n.Units, n.Activation)
			if rng != nil {
				nn.GlorotUniform(d.Weights, in[0], n.Units, rng)
			}
			m.layers[i] = d
		case KindDropout:
			m.layers[i] = &nn.Dropout{Size: in[0], Rate: n.Rate}
		default:
			return nil, fmt.Errorf("node %q: unsupported kind %q", n.Name, n.Kind)
		}
		switch n.Name {
		case HeadFruitType:
			m.fruit = i
		case HeadToxicity:
			m.toxic = i
		}
	}
	return m, nil
}

// Architecture returns the graph the model was built from.
func (m *Model) Architecture() *Architecture {
	return m.arch
}

// Vocabulary returns the fruit labels, indexed by class id.
func (m *Model) Vocabulary() Vocabulary {
	return m.arch.Vocabulary
}

// Params returns every trainable parameter in node order.
func (m *Model) Params() []*nn.Param {
	var ps []*nn.Param
	for _, l := range m.layers {
		if l != nil {
			ps = append(ps, l.Params()...)
		}
	}
	return ps
}

func (m *Model) checkInput(x []float64) error {
	if want := nn.ShapeSize(m.arch.InputShape()); len(x) != want {
		return fmt.Errorf("input has %d values, model expects %d (%v)", len(x), want, m.arch.InputShape())
	}
	return nil
}

func (m *Model) forward(x []float64, pass *nn.Pass) ([][]float64, []nn.Cache) {
	acts := make([][]float64, len(m.layers))
	caches := make([]nn.Cache, len(m.layers))
	acts[0] = x
	for i := 1; i < len(m.layers); i++ {
		acts[i], caches[i] = m.layers[i].Forward(acts[m.parent[i]], pass)
	}
	return acts, caches
}

// Predict runs one inference forward pass over an HWC input tensor.
func (m *Model) Predict(x []float64) (Output, error) {
	if err := m.checkInput(x); err != nil {
		return Output{}, err
	}
	acts, _ := m.forward(x, nn.Inference)
	probs := make([]float64, len(acts[m.fruit]))
	copy(probs, acts[m.fruit])
	return Output{FruitProbs: probs, ToxicProb: acts[m.toxic][0]}, nil
}

// AccumulateGradients runs a training forward and backward pass for one
// example and adds the gradient of the weighted combined loss to every param.
// It returns the combined loss.
func (m *Model) AccumulateGradients(x []float64, fruit int, toxic float64, w LossWeights, rng *rand.Rand) (float64, error) {
	if err := m.checkInput(x); err != nil {
		return 0, err
	}
	if fruit < 0 || fruit >= len(m.arch.Vocabulary) {
		return 0, fmt.Errorf("fruit class %d out of range [0,%d)", fruit, len(m.arch.Vocabulary))
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	acts, caches := m.forward(x, &nn.Pass{Training: true, Rand: rng})
	fruitLoss, fruitGrad := nn.CategoricalCrossEntropy(acts[m.fruit], fruit)
	toxLoss, toxGrad := nn.BinaryCrossEntropy(acts[m.toxic][0], toxic)
	floats.Scale(w.FruitType, fruitGrad)

	grads := make([][]float64, len(m.layers))
	grads[m.fruit] = fruitGrad
	grads[m.toxic] = []float64{w.Toxicity * toxGrad}

	// Reverse node order visits every consumer before its producer, so fan-out
	// gradients are complete by the time a node is reached.
	for i := len(m.layers) - 1; i > 0; i-- {
		if grads[i] == nil {
			continue
		}
		p := m.parent[i]
		needInput := p > 0
		d := m.layers[i].Backward(caches[i], grads[i], needInput)
		if !needInput {
			continue
		}
		if grads[p] == nil {
			grads[p] = d
		} else {
			floats.Add(grads[p], d)
		}
	}

	return w.FruitType*fruitLoss + w.Toxicity*toxLoss, nil
}
