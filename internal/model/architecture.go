// Package model describes and realises the dual-head fruit classifier.
//
// An Architecture is a tagged graph (ordered node list plus edge list) that
// does not depend on any tensor library; Model realises it over the nn
// kernels. A shared convolutional trunk feeds two heads: a softmax over the
// fruit vocabulary and a single sigmoid for toxicity. Both heads train the
// trunk jointly.
package model

import (
	"fmt"

	"fruitscan/internal/nn"
)

// NodeKind tags a node of the architecture graph.
type NodeKind string

const (
	KindInput     NodeKind = "input"
	KindConv2D    NodeKind = "conv2d"
	KindMaxPool2D NodeKind = "maxpool2d"
	KindFlatten   NodeKind = "flatten"
	KindDense     NodeKind = "dense"
	KindDropout   NodeKind = "dropout"
)

// Output node names.
const (
	HeadFruitType = "fruitType"
	HeadToxicity  = "toxicity"
)

// Node is one layer of the graph. Only the fields relevant to Kind are set.
type Node struct {
	Name       string        `json:"name"`
	Kind       NodeKind      `json:"kind"`
	Activation nn.Activation `json:"activation,omitempty"`
	Filters    int           `json:"filters,omitempty"`
	KernelSize int           `json:"kernelSize,omitempty"`
	PoolSize   int           `json:"poolSize,omitempty"`
	Units      int           `json:"units,omitempty"`
	Rate       float64       `json:"rate,omitempty"`
	Shape      []int         `json:"shape"`
}

// Edge connects the output of From to the input of To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Architecture is the complete, serialisable description of a network.
type Architecture struct {
	Vocabulary Vocabulary `json:"vocabulary"`
	Nodes      []Node     `json:"nodes"`
	Edges      []Edge     `json:"edges"`
	Outputs    []string   `json:"outputs"`
}

// ArchConfig holds the hyper-parameters of the trunk.
type ArchConfig struct {
	InputSize   int
	Channels    int
	Blocks      int
	BaseFilters int
	KernelSize  int
	PoolSize    int
	HiddenUnits int
	DropoutRate float64
}

// DefaultArchConfig is the production network: 224x224x3 input, three
// conv/pool blocks of 32, 64 and 128 filters, a 256-unit hidden layer and 50%
// dropout.
func DefaultArchConfig() ArchConfig {
	return ArchConfig{
		InputSize:   224,
		Channels:    3,
		Blocks:      3,
		BaseFilters: 32,
		KernelSize:  3,
		PoolSize:    2,
		HiddenUnits: 256,
		DropoutRate: 0.5,
	}
}

func (c ArchConfig) validate() error {
	switch {
	case c.InputSize <= 0 || c.Channels <= 0:
		return fmt.Errorf("input shape must be positive, got %dx%dx%d", c.InputSize, c.InputSize, c.Channels)
	case c.Blocks <= 0:
		return fmt.Errorf("at least one conv block is required, got %d", c.Blocks)
	case c.BaseFilters <= 0 || c.KernelSize <= 0 || c.PoolSize <= 0:
		return fmt.Errorf("filters, kernel size and pool size must be positive")
	case c.HiddenUnits <= 0:
		return fmt.Errorf("hidden units must be positive, got %d", c.HiddenUnits)
	case c.DropoutRate < 0 || c.DropoutRate >= 1:
		return fmt.Errorf("dropout rate must be in [0,1), got %f", c.DropoutRate)
	}
	return nil
}

// Build assembles the untrained graph for cfg and vocab.
func Build(cfg ArchConfig, vocab Vocabulary) (*Architecture, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid architecture config: %w", err)
	}
	if err := vocab.Validate(); err != nil {
		return nil, err
	}

	a := &Architecture{Vocabulary: append(Vocabulary(nil), vocab...)}
	prev := a.add("", Node{Name: "input", Kind: KindInput, Shape: []int{cfg.InputSize, cfg.InputSize, cfg.Channels}})

	filters := cfg.BaseFilters
	for b := 1; b <= cfg.Blocks; b++ {
		prev = a.add(prev, Node{
			Name:       fmt.Sprintf("conv%d", b),
			Kind:       KindConv2D,
			Activation: nn.ReLU,
			Filters:    filters,
			KernelSize: cfg.KernelSize,
		})
		prev = a.add(prev, Node{Name: fmt.Sprintf("pool%d", b), Kind: KindMaxPool2D, PoolSize: cfg.PoolSize})
		filters *= 2
	}
	prev = a.add(prev, Node{Name: "flatten", Kind: KindFlatten})
	prev = a.add(prev, Node{Name: "hidden", Kind: KindDense, Activation: nn.ReLU, Units: cfg.HiddenUnits})
	trunk := a.add(prev, Node{Name: "dropout", Kind: KindDropout, Rate: cfg.DropoutRate})

	a.add(trunk, Node{Name: HeadFruitType, Kind: KindDense, Activation: nn.Softmax, Units: len(vocab)})
	a.add(trunk, Node{Name: HeadToxicity, Kind: KindDense, Activation: nn.Sigmoid, Units: 1})
	a.Outputs = []string{HeadFruitType, HeadToxicity}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// add appends n, wires it to from and fills in its output shape.
func (a *Architecture) add(from string, n Node) string {
	if from != "" {
		a.Edges = append(a.Edges, Edge{From: from, To: n.Name})
		if p := a.node(from); p != nil {
			n.Shape, _ = outputShape(n, p.Shape)
		}
	}
	a.Nodes = append(a.Nodes, n)
	return n.Name
}

func (a *Architecture) node(name string) *Node {
	for i := range a.Nodes {
		if a.Nodes[i].Name == name {
			return &a.Nodes[i]
		}
	}
	return nil
}

// InputShape returns the shape of the input node.
func (a *Architecture) InputShape() []int {
	if len(a.Nodes) == 0 {
		return nil
	}
	return a.Nodes[0].Shape
}

// parents maps every node index to the index of its single predecessor; the
// input node maps to -1. It fails unless the node list is in topological order.
func (a *Architecture) parents() ([]int, error) {
	index := make(map[string]int, len(a.Nodes))
	for i, n := range a.Nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node %d has no name", i)
		}
		if _, dup := index[n.Name]; dup {
			return nil, fmt.Errorf("duplicate node %q", n.Name)
		}
		index[n.Name] = i
	}

	parent := make([]int, len(a.Nodes))
	for i := range parent {
		parent[i] = -1
	}
	for _, e := range a.Edges {
		from, ok := index[e.From]
		if !ok {
			return nil, fmt.Errorf("edge %s->%s: unknown node %q", e.From, e.To, e.From)
		}
		to, ok := index[e.To]
		if !ok {
			return nil, fmt.Errorf("edge %s->%s: unknown node %q", e.From, e.To, e.To)
		}
		if from >= to {
			return nil, fmt.Errorf("edge %s->%s breaks node order", e.From, e.To)
		}
		if parent[to] >= 0 {
			return nil, fmt.Errorf("node %q has more than one input", e.To)
		}
		parent[to] = from
	}
	return parent, nil
}

// Validate re-derives every shape along the edges and checks the head wiring.
func (a *Architecture) Validate() error {
	if len(a.Nodes) == 0 || a.Nodes[0].Kind != KindInput {
		return fmt.Errorf("architecture must start with an input node")
	}
	if err := a.Vocabulary.Validate(); err != nil {
		return err
	}
	parent, err := a.parents()
	if err != nil {
		return err
	}

	for i, n := range a.Nodes {
		if i == 0 {
			if len(n.Shape) != 3 || nn.ShapeSize(n.Shape) <= 0 {
				return fmt.Errorf("input shape %v is not HxWxC", n.Shape)
			}
			continue
		}
		if n.Kind == KindInput {
			return fmt.Errorf("node %q: only the first node may be an input", n.Name)
		}
		if parent[i] < 0 {
			return fmt.Errorf("node %q is not connected", n.Name)
		}
		want, err := outputShape(n, a.Nodes[parent[i]].Shape)
		if err != nil {
			return fmt.Errorf("node %q: %w", n.Name, err)
		}
		if !nn.ShapeEqual(want, n.Shape) {
			return fmt.Errorf("node %q: shape %v does not match derived shape %v", n.Name, n.Shape, want)
		}
		if n.Activation.IsHead() && !a.isOutput(n.Name) {
			return fmt.Errorf("node %q: %s activation is only allowed on an output", n.Name, n.Activation)
		}
	}

	if len(a.Outputs) != 2 || a.Outputs[0] != HeadFruitType || a.Outputs[1] != HeadToxicity {
		return fmt.Errorf("outputs must be [%s %s], got %v", HeadFruitType, HeadToxicity, a.Outputs)
	}
	fruit, tox := a.node(HeadFruitType), a.node(HeadToxicity)
	if fruit == nil || fruit.Kind != KindDense || fruit.Activation != nn.Softmax || fruit.Units != len(a.Vocabulary) {
		return fmt.Errorf("%s head must be a softmax dense layer with %d units", HeadFruitType, len(a.Vocabulary))
	}
	if tox == nil || tox.Kind != KindDense || tox.Activation != nn.Sigmoid || tox.Units != 1 {
		return fmt.Errorf("%s head must be a single-unit sigmoid dense layer", HeadToxicity)
	}
	return nil
}

func (a *Architecture) isOutput(name string) bool {
	for _, o := range a.Outputs {
		if o == name {
			return true
		}
	}
	return false
}

func outputShape(n Node, in []int) ([]int, error) {
	switch n.Kind {
	case KindConv2D:
		if len(in) != 3 {
			return nil, fmt.Errorf("conv2d needs HxWxC input, got %v", in)
		}
		if n.KernelSize <= 0 || n.Filters <= 0 || !n.Activation.Valid() {
			return nil, fmt.Errorf("conv2d needs kernel size, filters and activation")
		}
		h, w := in[0]-n.KernelSize+1, in[1]-n.KernelSize+1
		if h <= 0 || w <= 0 {
			return nil, fmt.Errorf("kernel %d larger than input %v", n.KernelSize, in)
		}
		return []int{h, w, n.Filters}, nil
	case KindMaxPool2D:
		if len(in) != 3 || n.PoolSize <= 0 {
			return nil, fmt.Errorf("maxpool2d needs HxWxC input and a pool size")
		}
		h, w := in[0]/n.PoolSize, in[1]/n.PoolSize
		if h <= 0 || w <= 0 {
			return nil, fmt.Errorf("pool %d larger than input %v", n.PoolSize, in)
		}
		return []int{h, w, in[2]}, nil
	case KindFlatten:
		return []int{nn.ShapeSize(in)}, nil
	case KindDense:
		if len(in) != 1 {
			return nil, fmt.Errorf("dense needs a flat input, got %v", in)
		}
		if n.Units <= 0 || !n.Activation.Valid() {
			return nil, fmt.Errorf("dense needs units and an activation")
		}
		return []int{n.Units}, nil
	case KindDropout:
		if n.Rate < 0 || n.Rate >= 1 {
			return nil, fmt.Errorf("dropout rate %f out of range", n.Rate)
		}
		return append([]int(nil), in...), nil
	}
	return nil, fmt.Errorf("unknown node kind %q", n.Kind)
}
