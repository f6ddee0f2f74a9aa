package nn

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Conv2D is a stride-1, valid-padding 2-D convolution over HWC input with a
// fused activation. The kernel is stored as [k, k, inC, filters], which is the
// row-major (k*k*inC) x filters matrix used by the im2col product.
type Conv2D struct {
	InH, InW, InC int
	Kernel        int
	Filters       int
	Activation    Activation
	Weights       *Param
	Bias          *Param
}

type convCache struct {
	col []float64
	out []float64
}

// NewConv2D allocates a zero-initialised convolution.
func NewConv2D(name string, inH, inW, inC, kernel, filters int, act Activation) *Conv2D {
	return &Conv2D{
		InH: inH, InW: inW, InC: inC,
		Kernel:     kernel,
		Filters:    filters,
		Activation: act,
		Weights:    NewParam(name+"/kernel", kernel, kernel, inC, filters),
		Bias:       NewParam(name+"/bias", filters),
	}
}

func (c *Conv2D) outH() int  { return c.InH - c.Kernel + 1 }
func (c *Conv2D) outW() int  { return c.InW - c.Kernel + 1 }
func (c *Conv2D) patch() int { return c.Kernel * c.Kernel * c.InC }

func (c *Conv2D) OutShape() []int {
	return []int{c.outH(), c.outW(), c.Filters}
}

func (c *Conv2D) Params() []*Param {
	return []*Param{c.Weights, c.Bias}
}

func (c *Conv2D) Forward(in []float64, _ *Pass) ([]float64, Cache) {
	rows, patch := c.outH()*c.outW(), c.patch()
	col := c.im2col(in)

	out := make([]float64, rows*c.Filters)
	outM := mat.NewDense(rows, c.Filters, out)
	outM.Mul(mat.NewDense(rows, patch, col), mat.NewDense(patch, c.Filters, c.Weights.Value))
	for r := 0; r < rows; r++ {
		floats.Add(out[r*c.Filters:(r+1)*c.Filters], c.Bias.Value)
	}
	c.Activation.apply(out)

	return out, &convCache{col: col, out: out}
}

func (c *Conv2D) Backward(cache Cache, dOut []float64, needInput bool) []float64 {
	cc := cache.(*convCache)
	rows, patch := c.outH()*c.outW(), c.patch()
	d := c.Activation.gradient(cc.out, dOut)
	dM := mat.NewDense(rows, c.Filters, d)

	var gw mat.Dense
	gw.Mul(mat.NewDense(rows, patch, cc.col).T(), dM)
	floats.Add(c.Weights.Grad, gw.RawMatrix().Data)
	for r := 0; r < rows; r++ {
		floats.Add(c.Bias.Grad, d[r*c.Filters:(r+1)*c.Filters])
	}

	if !needInput {
		return nil
	}
	var dcol mat.Dense
	dcol.Mul(dM, mat.NewDense(patch, c.Filters, c.Weights.Value).T())
	return c.col2im(dcol.RawMatrix().Data)
}

// im2col lays out every k x k x inC receptive field as one row. For a fixed
// kernel row the k*inC values are contiguous in HWC input.
func (c *Conv2D) im2col(in []float64) []float64 {
	oh, ow, patch := c.outH(), c.outW(), c.patch()
	span := c.Kernel * c.InC
	col := make([]float64, oh*ow*patch)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := col[(oy*ow+ox)*patch:]
			for ky := 0; ky < c.Kernel; ky++ {
				src := ((oy+ky)*c.InW + ox) * c.InC
				copy(row[ky*span:(ky+1)*span], in[src:src+span])
			}
		}
	}
	return col
}

func (c *Conv2D) col2im(dcol []float64) []float64 {
	oh, ow, patch := c.outH(), c.outW(), c.patch()
	span := c.Kernel * c.InC
	dIn := make([]float64, c.InH*c.InW*c.InC)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			row := dcol[(oy*ow+ox)*patch:]
			for ky := 0; ky < c.Kernel; ky++ {
				dst := ((oy+ky)*c.InW + ox) * c.InC
				floats.Add(dIn[dst:dst+span], row[ky*span:(ky+1)*span])
			}
		}
	}
	return dIn
}
