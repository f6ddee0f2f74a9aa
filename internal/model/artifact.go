package model

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"fruitscan/internal/nn"
)

// ArtifactFormat versions the persisted layout. Artifacts written with any
// other format are rejected.
const ArtifactFormat = "fruitscan.model.v1"

// ErrArtifactMismatch reports an artifact whose header, architecture or
// weight payload do not belong together.
var ErrArtifactMismatch = errors.New("model artifact mismatch")

// ParamSpec names one weight tensor of the flat payload.
type ParamSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// TrainingInfo records how the weights were produced.
type TrainingInfo struct {
	Examples  int     `json:"examples"`
	Epochs    int     `json:"epochs"`
	BatchSize int     `json:"batchSize"`
	FinalLoss float64 `json:"finalLoss"`
}

// Header is the architecture half of an artifact.
type Header struct {
	Format       string        `json:"format"`
	Architecture *Architecture `json:"architecture"`
	Params       []ParamSpec   `json:"params"`
	Checksum     string        `json:"checksum"`
	CreatedAt    time.Time     `json:"createdAt"`
	Training     *TrainingInfo `json:"training,omitempty"`
}

// Artifact is a complete persisted model: header plus little-endian float64
// weights in Params order. Both halves must be stored and read together.
type Artifact struct {
	Header  Header
	Weights []byte
}

// Artifact serialises the current weights.
func (m *Model) Artifact(info *TrainingInfo) *Artifact {
	params := m.Params()
	specs := make([]ParamSpec, len(params))
	total := 0
	for i, p := range params {
		specs[i] = ParamSpec{Name: p.Name, Shape: append([]int(nil), p.Shape...)}
		total += p.Size()
	}

	buf := make([]byte, 0, total*8)
	for _, p := range params {
		for _, v := range p.Value {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	sum := sha256.Sum256(buf)

	return &Artifact{
		Header: Header{
			Format:       ArtifactFormat,
			Architecture: m.arch,
			Params:       specs,
			Checksum:     hex.EncodeToString(sum[:]),
			CreatedAt:    time.Now().UTC(),
			Training:     info,
		},
		Weights: buf,
	}
}

// FromArtifact rebuilds a model. Any inconsistency between header and payload
// fails with ErrArtifactMismatch; weights are never partially applied.
func FromArtifact(a *Artifact) (*Model, error) {
	if a == nil || a.Header.Architecture == nil {
		return nil, fmt.Errorf("%w: missing architecture", ErrArtifactMismatch)
	}
	if a.Header.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: format %q, want %q", ErrArtifactMismatch, a.Header.Format, ArtifactFormat)
	}
	sum := sha256.Sum256(a.Weights)
	if hex.EncodeToString(sum[:]) != a.Header.Checksum {
		return nil, fmt.Errorf("%w: weight checksum does not match header", ErrArtifactMismatch)
	}

	m, err := build(a.Header.Architecture, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactMismatch, err)
	}
	params := m.Params()
	if len(params) != len(a.Header.Params) {
		return nil, fmt.Errorf("%w: header lists %d params, architecture has %d", ErrArtifactMismatch, len(a.Header.Params), len(params))
	}
	total := 0
	for i, p := range params {
		spec := a.Header.Params[i]
		if spec.Name != p.Name || !nn.ShapeEqual(spec.Shape, p.Shape) {
			return nil, fmt.Errorf("%w: param %d is %s%v, architecture expects %s%v", ErrArtifactMismatch, i, spec.Name, spec.Shape, p.Name, p.Shape)
		}
		total += p.Size()
	}
	if len(a.Weights) != total*8 {
		return nil, fmt.Errorf("%w: payload has %d bytes, want %d", ErrArtifactMismatch, len(a.Weights), total*8)
	}

	off := 0
	for _, p := range params {
		for i := range p.Value {
			p.Value[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Weights[off:]))
			off += 8
		}
	}
	return m, nil
}
