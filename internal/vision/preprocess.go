// Package vision turns raw image bytes into the fixed-size tensor the
// classifier consumes. Training and inference share one Preprocessor so the
// interpolation policy can never differ between the two.
package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"fruitscan/internal/nn"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// InputSize is the edge length, in pixels, of every preprocessed image.
	InputSize = 224
	// Channels is the number of colour channels kept (RGB).
	Channels = 3
)

// MaxPixels bounds the stated width*height of an input. Headers are checked
// before any pixel data is decoded.
const MaxPixels = 50_000_000

// ErrTooLarge is wrapped by the DecodeError for oversized images.
var ErrTooLarge = errors.New("image too large")

// Interpolation is the single resize policy used everywhere.
const Interpolation = resize.NearestNeighbor

// DecodeError means the bytes are not a usable image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Preprocessor decodes and normalises images.
type Preprocessor struct {
	size uint
}

// NewPreprocessor returns the 224x224 preprocessor.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{size: InputSize}
}

// Shape returns the output tensor shape, HWC.
func (p *Preprocessor) Shape() []int {
	return []int{int(p.size), int(p.size), Channels}
}

// Preprocess decodes data, resizes it to 224x224 with nearest-neighbour
// sampling and scales RGB into [0,1]. Alpha is discarded.
func (p *Preprocessor) Preprocess(data []byte) (*nn.Tensor, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	resized := resize.Resize(p.size, p.size, img, Interpolation)
	bounds := resized.Bounds()
	if bounds.Dx() != int(p.size) || bounds.Dy() != int(p.size) {
		return nil, &DecodeError{Err: fmt.Errorf("resize produced %dx%d", bounds.Dx(), bounds.Dy())}
	}

	t := nn.NewTensor(p.Shape()...)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			t.Data[i] = float64(c.R) / 255
			t.Data[i+1] = float64(c.G) / 255
			t.Data[i+2] = float64(c.B) / 255
			i += Channels
		}
	}
	return t, nil
}

// Decode parses data with any registered decoder (JPEG, PNG, GIF, WebP, BMP).
// Images stating more than MaxPixels are rejected from their header alone.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty input")}
	}
	conf, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if conf.Width <= 0 || conf.Height <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("image has no pixels")}
	}
	if int64(conf.Width)*int64(conf.Height) > MaxPixels {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, conf.Width, conf.Height, MaxPixels)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("image has no pixels")}
	}
	return img, nil
}
