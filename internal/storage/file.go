package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"fruitscan/internal/model"
)

const (
	headerFile  = "model.json"
	weightsFile = "weights.bin"
)

// FileBackend keeps artifacts as plain files, <dir>/<name>/model.json and
// <dir>/<name>/weights.bin. It is the slower durable fallback.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) Name() string {
	return "file"
}

func (f *FileBackend) Close() error {
	return nil
}

// Save writes weights first and the header last, each through a temporary
// file and rename. A crash between the two leaves a checksum mismatch that
// Load rejects rather than a silently mixed model.
func (f *FileBackend) Save(name string, a *model.Artifact) (string, error) {
	dir := filepath.Join(f.dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	header, err := json.MarshalIndent(a.Header, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, weightsFile), a.Weights); err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(dir, headerFile), header); err != nil {
		return "", err
	}
	return dir, nil
}

func (f *FileBackend) Load(name string) (*model.Artifact, error) {
	dir := filepath.Join(f.dir, name)

	header, err := os.ReadFile(filepath.Join(dir, headerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	weights, err := os.ReadFile(filepath.Join(dir, weightsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read weights: %w", err)
	}

	a := &model.Artifact{Weights: weights}
	if err := json.Unmarshal(header, &a.Header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return a, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
