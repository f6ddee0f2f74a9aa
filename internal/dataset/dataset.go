// Package dataset loads labelled training examples from disk, either from a
// YAML manifest or from a <fruit>/<toxicity>/<image> directory tree.
package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fruitscan/internal/training"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Manifest lists examples explicitly. Image paths are resolved against the
// manifest's directory unless absolute.
type Manifest struct {
	Examples []Entry `yaml:"examples"`
}

type Entry struct {
	Image    string `yaml:"image"`
	Fruit    string `yaml:"fruit"`
	Toxicity string `yaml:"toxicity"`
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// Load reads a dataset from path, which is either a directory tree or a
// manifest file.
func Load(path string) ([]training.Example, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadManifest(path)
}

// LoadManifest reads the manifest at path and every image it names, in
// manifest order.
func LoadManifest(path string) ([]training.Example, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	base := filepath.Dir(path)
	examples := make([]training.Example, 0, len(m.Examples))
	for i, e := range m.Examples {
		if e.Image == "" {
			return nil, fmt.Errorf("manifest entry %d: image path is required", i)
		}
		tox, err := training.ParseToxicity(e.Toxicity)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d (%s): %w", i, e.Image, err)
		}
		file := e.Image
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		img, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("manifest entry %d: %w", i, err)
		}
		examples = append(examples, training.Example{
			ID:        e.Image,
			Image:     img,
			FruitType: strings.ToLower(strings.TrimSpace(e.Fruit)),
			Toxicity:  tox,
		})
	}

	log.Info().Str("manifest", path).Int("examples", len(examples)).Msg("Loaded dataset manifest")
	return examples, nil
}

// LoadDir reads root/<fruit>/<toxicity>/<image> in lexical order. Files that
// are not images or sit at a different depth are skipped.
func LoadDir(root string) ([]training.Example, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(paths)

	examples := make([]training.Example, 0, len(paths))
	for _, path := range paths {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			log.Warn().Str("path", rel).Msg("Skipping image outside <fruit>/<toxicity>/ layout")
			continue
		}
		tox, err := training.ParseToxicity(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rel, err)
		}
		img, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rel, err)
		}
		examples = append(examples, training.Example{
			ID:        filepath.ToSlash(rel),
			Image:     img,
			FruitType: strings.ToLower(parts[0]),
			Toxicity:  tox,
		})
	}

	log.Info().Str("root", root).Int("examples", len(examples)).Msg("Loaded dataset directory")
	return examples, nil
}

// Summary counts examples per label.
type Summary struct {
	Total     int            `json:"total"`
	ByFruit   map[string]int `json:"byFruit"`
	Toxic     int            `json:"toxic"`
	NonToxic  int            `json:"nonToxic"`
	Unlabeled int            `json:"unlabeled"`
}

func Summarize(examples []training.Example) Summary {
	s := Summary{Total: len(examples), ByFruit: map[string]int{}}
	for _, e := range examples {
		s.ByFruit[e.FruitType]++
		switch e.Toxicity {
		case training.Toxic:
			s.Toxic++
		case training.NonToxic:
			s.NonToxic++
		default:
			s.Unlabeled++
		}
	}
	return s
}
