package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"fruitscan/internal/dataset"
	"fruitscan/internal/model"

	"gopkg.in/yaml.v3"
)

// Rough skin colours per fruit; anything not listed gets a random hue.
var palette = map[string]color.RGBA{
	"apple":      {200, 30, 35, 255},
	"banana":     {235, 215, 60, 255},
	"orange":     {245, 140, 20, 255},
	"grape":      {95, 35, 120, 255},
	"strawberry": {220, 40, 70, 255},
	"mango":      {245, 180, 40, 255},
	"pear":       {170, 200, 70, 255},
	"peach":      {250, 170, 130, 255},
}

func main() {
	var (
		outPath  = flag.String("out", "datasets/sample", "Output directory")
		perClass = flag.Int("per-class", 4, "Images per fruit and toxicity label")
		size     = flag.Int("size", 96, "Image width and height in pixels")
		seed     = flag.Int64("seed", 1, "Random seed")
	)
	flag.Parse()

	fmt.Printf("Generating sample dataset...\n")
	fmt.Printf("  Output: %s\n", *outPath)
	fmt.Printf("  Per class: %d\n", *perClass)
	fmt.Printf("  Size: %dpx\n", *size)

	rng := rand.New(rand.NewSource(*seed))
	var manifest dataset.Manifest

	for _, fruit := range model.DefaultVocabulary {
		base, ok := palette[fruit]
		if !ok {
			base = color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
		}
		for _, toxicity := range []string{"non-toxic", "toxic"} {
			for i := 0; i < *perClass; i++ {
				img := drawFruit(rng, *size, base, toxicity == "toxic")
				rel := filepath.Join(fruit, toxicity, fmt.Sprintf("%03d.png", i))
				if err := writePNG(filepath.Join(*outPath, rel), img); err != nil {
					log.Fatalf("Failed to write %s: %v", rel, err)
				}
				manifest.Examples = append(manifest.Examples, dataset.Entry{
					Image:    filepath.ToSlash(rel),
					Fruit:    fruit,
					Toxicity: toxicity,
				})
			}
		}
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		log.Fatalf("Failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(*outPath, "manifest.yaml"), data, 0o644); err != nil {
		log.Fatalf("Failed to write manifest: %v", err)
	}

	fmt.Printf("✓ Generated %d images\n", len(manifest.Examples))
}

// drawFruit paints a jittered ellipse of the fruit colour on a pale
// background. Toxic samples get dull grey-green blotches on the skin.
func drawFruit(rng *rand.Rand, size int, base color.RGBA, toxic bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	cx := float64(size)/2 + rng.NormFloat64()*float64(size)/20
	cy := float64(size)/2 + rng.NormFloat64()*float64(size)/20
	rx := float64(size) * (0.30 + rng.Float64()*0.12)
	ry := float64(size) * (0.30 + rng.Float64()*0.12)

	type blotch struct{ x, y, r float64 }
	var blotches []blotch
	if toxic {
		for n := 3 + rng.Intn(4); n > 0; n-- {
			blotches = append(blotches, blotch{
				x: cx + (rng.Float64()*2-1)*rx*0.7,
				y: cy + (rng.Float64()*2-1)*ry*0.7,
				r: float64(size) * (0.03 + rng.Float64()*0.05),
			})
		}
	}

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x), float64(y)
			c := color.NRGBA{235, 232, 225, 255}
			d := math.Pow((fx-cx)/rx, 2) + math.Pow((fy-cy)/ry, 2)
			if d <= 1 {
				shade := 1 - 0.35*d
				c = color.NRGBA{jitter(rng, float64(base.R)*shade), jitter(rng, float64(base.G)*shade), jitter(rng, float64(base.B)*shade), 255}
				for _, b := range blotches {
					if math.Hypot(fx-b.x, fy-b.y) <= b.r {
						c = color.NRGBA{jitter(rng, 85), jitter(rng, 95), jitter(rng, 70), 255}
					}
				}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func jitter(rng *rand.Rand, v float64) uint8 {
	v += rng.NormFloat64() * 6
	return uint8(math.Max(0, math.Min(255, v)))
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
