package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"fruitscan/internal/model"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket = "models" // Top-level bucket; one nested bucket per model name
	headerKey    = "header"
	weightsKey   = "weights"
)

// BoltBackend keeps artifacts in a local BoltDB file. It is the fast primary
// backend: one file, one transaction per save.
type BoltBackend struct {
	db   *bbolt.DB
	path string
}

// NewBoltBackend opens (or creates) fruitscan-models.db under dataPath.
func NewBoltBackend(dataPath string) (*BoltBackend, error) {
	dbPath := filepath.Join(dataPath, "fruitscan-models.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltBackend{db: db, path: dbPath}, nil
}

func (b *BoltBackend) Name() string {
	return "bolt"
}

// Close closes the database. Closing twice is harmless.
func (b *BoltBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Save replaces the artifact stored under name in a single transaction.
func (b *BoltBackend) Save(name string, a *model.Artifact) (string, error) {
	header, err := json.Marshal(a.Header)
	if err != nil {
		return "", fmt.Errorf("marshal header: %w", err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(modelsBucket))
		bucket, err := root.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
		if err := bucket.Put([]byte(weightsKey), a.Weights); err != nil {
			return fmt.Errorf("put weights: %w", err)
		}
		return bucket.Put([]byte(headerKey), header)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bolt://%s#%s", b.path, name), nil
}

// Load reads the artifact stored under name. Values are copied out of the
// transaction before it closes.
func (b *BoltBackend) Load(name string) (*model.Artifact, error) {
	var header, weights []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(modelsBucket))
		if root == nil {
			return ErrNotFound
		}
		bucket := root.Bucket([]byte(name))
		if bucket == nil {
			return ErrNotFound
		}
		h, w := bucket.Get([]byte(headerKey)), bucket.Get([]byte(weightsKey))
		if h == nil || w == nil {
			return ErrNotFound
		}
		header = append([]byte(nil), h...)
		weights = append([]byte(nil), w...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	a := &model.Artifact{Weights: weights}
	if err := json.Unmarshal(header, &a.Header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return a, nil
}
