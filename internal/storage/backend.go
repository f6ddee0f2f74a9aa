package storage

import (
	"errors"

	"fruitscan/internal/model"
)

// ErrNotFound is returned by a backend that holds no artifact for a name.
var ErrNotFound = errors.New("model artifact not found")

// Backend is one place a model artifact can live. Implementations must write
// the header and the weights of an artifact together and return ErrNotFound
// when nothing is stored under name.
type Backend interface {
	Name() string
	Save(name string, a *model.Artifact) (string, error)
	Load(name string) (*model.Artifact, error)
	Close() error
}
