// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"fruitscan/internal/model"
)

// PNG encodes a w x h gradient tinted by c. Different tints give images the
// classifier can tell apart.
func PNG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((int(c.R) + x*3) % 256),
				G: uint8((int(c.G) + y*3) % 256),
				B: c.B,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG encodes a solid w x h image.
func JPEG(w, h int, c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// TinyArchConfig keeps the 224x224x3 input but narrows every layer so tests
// can train in well under a second per epoch.
func TinyArchConfig() model.ArchConfig {
	cfg := model.DefaultArchConfig()
	cfg.BaseFilters = 2
	cfg.HiddenUnits = 8
	return cfg
}

// TinyModel builds an untrained model on TinyArchConfig.
func TinyModel(seed int64) *model.Model {
	arch, err := model.Build(TinyArchConfig(), model.DefaultVocabulary)
	if err != nil {
		panic(err)
	}
	m, err := model.New(arch, seed)
	if err != nil {
		panic(err)
	}
	return m
}
