package vision

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"fruitscan/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocess_ShapeAndBounds(t *testing.T) {
	p := NewPreprocessor()
	inputs := map[string][]byte{
		"png larger":  testutil.PNG(300, 260, color.RGBA{R: 200, G: 30, B: 40}),
		"png smaller": testutil.PNG(17, 9, color.RGBA{R: 10, G: 250, B: 90}),
		"jpeg":        testutil.JPEG(64, 48, color.RGBA{R: 255, G: 200, B: 0, A: 255}),
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			tensor, err := p.Preprocess(data)
			require.NoError(t, err)
			assert.Equal(t, []int{224, 224, 3}, tensor.Shape)
			assert.Equal(t, 224*224*3, tensor.Len())
			for i, v := range tensor.Data {
				if v < 0 || v > 1 {
					t.Fatalf("value %d = %f outside [0,1]", i, v)
				}
			}
		})
	}
}

func TestPreprocess_Deterministic(t *testing.T) {
	p := NewPreprocessor()
	data := testutil.PNG(123, 77, color.RGBA{R: 90, G: 10, B: 200})

	a, err := p.Preprocess(data)
	require.NoError(t, err)
	b, err := NewPreprocessor().Preprocess(data)
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
}

func TestPreprocess_SolidColour(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 0, B: 51, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tensor, err := NewPreprocessor().Preprocess(buf.Bytes())
	require.NoError(t, err)
	for i := 0; i < tensor.Len(); i += Channels {
		assert.Equal(t, 1.0, tensor.Data[i])
		assert.Equal(t, 0.0, tensor.Data[i+1])
		assert.InDelta(t, 0.2, tensor.Data[i+2], 1e-12)
	}
}

func TestPreprocess_DropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 0, G: 255, B: 0, A: 0})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tensor, err := NewPreprocessor().Preprocess(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0.0, tensor.Data[0])
	assert.Equal(t, 1.0, tensor.Data[1])
	assert.Equal(t, 0.0, tensor.Data[2])
}

func TestPreprocess_DecodeErrors(t *testing.T) {
	valid := testutil.PNG(10, 10, color.RGBA{R: 1, G: 2, B: 3})
	inputs := map[string][]byte{
		"nil":       nil,
		"empty":     {},
		"garbage":   []byte("definitely not an image"),
		"truncated": valid[:len(valid)/2],
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			tensor, err := NewPreprocessor().Preprocess(data)
			assert.Nil(t, tensor)
			var de *DecodeError
			require.True(t, errors.As(err, &de), "expected DecodeError, got %v", err)
			assert.Contains(t, err.Error(), "decode image")
		})
	}
}

// pngHeader returns a PNG signature and IHDR chunk stating w x h 8-bit RGB.
// There is no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolour

	chunk := append([]byte("IHDR"), ihdr...)
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(pngHeader(30000, 30000)))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 30000, cfg.Width)

	_, err = NewPreprocessor().Preprocess(pngHeader(30000, 30000))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrTooLarge)

	// Within the bound, a header without pixel data still fails, but as a
	// plain decode error.
	_, err = Decode(pngHeader(100, 100))
	require.ErrorAs(t, err, &de)
	assert.NotErrorIs(t, err, ErrTooLarge)
}
