package nn

import "gonum.org/v1/gonum/floats"

// Dense is a fully connected layer. Weights are stored [in, out] so that row i
// holds the fan-out of input i.
type Dense struct {
	In, Out    int
	Activation Activation
	Weights    *Param
	Bias       *Param
}

type denseCache struct {
	in  []float64
	out []float64
}

func NewDense(name string, in, out int, act Activation) *Dense {
	return &Dense{
		In: in, Out: out,
		Activation: act,
		Weights:    NewParam(name+"/kernel", in, out),
		Bias:       NewParam(name+"/bias", out),
	}
}

func (d *Dense) OutShape() []int  { return []int{d.Out} }
func (d *Dense) Params() []*Param { return []*Param{d.Weights, d.Bias} }

func (d *Dense) Forward(in []float64, _ *Pass) ([]float64, Cache) {
	out := make([]float64, d.Out)
	copy(out, d.Bias.Value)
	for i, x := range in {
		if x != 0 {
			floats.AddScaled(out, x, d.Weights.Value[i*d.Out:(i+1)*d.Out])
		}
	}
	d.Activation.apply(out)
	return out, &denseCache{in: in, out: out}
}

// Backward expects the gradient w.r.t. the logits when the layer is a softmax
// or sigmoid head.
func (d *Dense) Backward(cache Cache, dOut []float64, needInput bool) []float64 {
	dc := cache.(*denseCache)
	g := d.Activation.gradient(dc.out, dOut)

	for i, x := range dc.in {
		if x != 0 {
			floats.AddScaled(d.Weights.Grad[i*d.Out:(i+1)*d.Out], x, g)
		}
	}
	floats.Add(d.Bias.Grad, g)

	if !needInput {
		return nil
	}
	dIn := make([]float64, d.In)
	for i := range dIn {
		dIn[i] = floats.Dot(d.Weights.Value[i*d.Out:(i+1)*d.Out], g)
	}
	return dIn
}

// Dropout zeroes a Rate fraction of its inputs while training and rescales the
// survivors by 1/(1-Rate). At inference it passes values through unchanged.
type Dropout struct {
	Size int
	Rate float64
}

type dropoutCache struct {
	mask []float64
}

func (d *Dropout) OutShape() []int  { return []int{d.Size} }
func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Forward(in []float64, pass *Pass) ([]float64, Cache) {
	if pass == nil || !pass.Training || d.Rate <= 0 {
		return in, nil
	}
	keep := 1 - d.Rate
	mask := make([]float64, len(in))
	out := make([]float64, len(in))
	for i, x := range in {
		if pass.Rand.Float64() < keep {
			mask[i] = 1 / keep
			out[i] = x * mask[i]
		}
	}
	return out, &dropoutCache{mask: mask}
}

func (d *Dropout) Backward(cache Cache, dOut []float64, needInput bool) []float64 {
	if !needInput {
		return nil
	}
	dc, ok := cache.(*dropoutCache)
	if !ok {
		return dOut
	}
	dIn := make([]float64, len(dOut))
	for i, m := range dc.mask {
		dIn[i] = dOut[i] * m
	}
	return dIn
}
