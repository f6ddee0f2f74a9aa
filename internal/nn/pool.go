package nn

// MaxPool2D downsamples HWC input with a square window and stride equal to the
// window size. Trailing rows and columns that do not fill a window are dropped.
type MaxPool2D struct {
	InH, InW, C int
	Size        int
}

type poolCache struct {
	argmax []int
}

func NewMaxPool2D(inH, inW, c, size int) *MaxPool2D {
	return &MaxPool2D{InH: inH, InW: inW, C: c, Size: size}
}

func (p *MaxPool2D) OutShape() []int {
	return []int{p.InH / p.Size, p.InW / p.Size, p.C}
}

func (p *MaxPool2D) Params() []*Param { return nil }

func (p *MaxPool2D) Forward(in []float64, _ *Pass) ([]float64, Cache) {
	oh, ow := p.InH/p.Size, p.InW/p.Size
	out := make([]float64, oh*ow*p.C)
	argmax := make([]int, len(out))
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			for ch := 0; ch < p.C; ch++ {
				best := -1
				for dy := 0; dy < p.Size; dy++ {
					for dx := 0; dx < p.Size; dx++ {
						idx := ((oy*p.Size+dy)*p.InW+ox*p.Size+dx)*p.C + ch
						if best < 0 || in[idx] > in[best] {
							best = idx
						}
					}
				}
				o := (oy*ow+ox)*p.C + ch
				out[o] = in[best]
				argmax[o] = best
			}
		}
	}
	return out, &poolCache{argmax: argmax}
}

func (p *MaxPool2D) Backward(cache Cache, dOut []float64, needInput bool) []float64 {
	if !needInput {
		return nil
	}
	pc := cache.(*poolCache)
	dIn := make([]float64, p.InH*p.InW*p.C)
	for o, idx := range pc.argmax {
		dIn[idx] += dOut[o]
	}
	return dIn
}

// Flatten reshapes its input into a vector. Data is already flat, so it is
// the identity on values.
type Flatten struct {
	In []int
}

func (f *Flatten) OutShape() []int                                  { return []int{ShapeSize(f.In)} }
func (f *Flatten) Params() []*Param                                 { return nil }
func (f *Flatten) Forward(in []float64, _ *Pass) ([]float64, Cache) { return in, nil }

func (f *Flatten) Backward(_ Cache, dOut []float64, needInput bool) []float64 {
	if !needInput {
		return nil
	}
	return dOut
}
