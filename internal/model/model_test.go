package model

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"fruitscan/internal/nn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func smallConfig() ArchConfig {
	return ArchConfig{
		InputSize:   16,
		Channels:    3,
		Blocks:      2,
		BaseFilters: 2,
		KernelSize:  3,
		PoolSize:    2,
		HiddenUnits: 6,
		DropoutRate: 0,
	}
}

func smallModel(t *testing.T, seed int64) *Model {
	t.Helper()
	arch, err := Build(smallConfig(), DefaultVocabulary)
	require.NoError(t, err)
	m, err := New(arch, seed)
	require.NoError(t, err)
	return m
}

func input(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float64, n)
	for i := range x {
		x[i] = rng.Float64()
	}
	return x
}

func TestBuild_DefaultShapes(t *testing.T) {
	arch, err := Build(DefaultArchConfig(), DefaultVocabulary)
	require.NoError(t, err)

	shapes := map[string][]int{}
	for _, n := range arch.Nodes {
		shapes[n.Name] = n.Shape
	}
	assert.Equal(t, []int{224, 224, 3}, shapes["input"])
	assert.Equal(t, []int{222, 222, 32}, shapes["conv1"])
	assert.Equal(t, []int{111, 111, 32}, shapes["pool1"])
	assert.Equal(t, []int{109, 109, 64}, shapes["conv2"])
	assert.Equal(t, []int{54, 54, 64}, shapes["pool2"])
	assert.Equal(t, []int{52, 52, 128}, shapes["conv3"])
	assert.Equal(t, []int{26, 26, 128}, shapes["pool3"])
	assert.Equal(t, []int{26 * 26 * 128}, shapes["flatten"])
	assert.Equal(t, []int{256}, shapes["hidden"])
	assert.Equal(t, []int{8}, shapes[HeadFruitType])
	assert.Equal(t, []int{1}, shapes[HeadToxicity])

	// Both heads branch off the same trunk node.
	var headParents []string
	for _, e := range arch.Edges {
		if e.To == HeadFruitType || e.To == HeadToxicity {
			headParents = append(headParents, e.From)
		}
	}
	assert.Equal(t, []string{"dropout", "dropout"}, headParents)
	assert.Equal(t, []string{HeadFruitType, HeadToxicity}, arch.Outputs)
}

func TestBuild_Rejects(t *testing.T) {
	cfg := smallConfig()
	cfg.HiddenUnits = 0
	_, err := Build(cfg, DefaultVocabulary)
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.Blocks = 5 // 16px input cannot survive five conv/pool blocks
	_, err = Build(cfg, DefaultVocabulary)
	assert.Error(t, err)

	_, err = Build(smallConfig(), Vocabulary{"apple", "apple"})
	assert.Error(t, err)

	_, err = Build(smallConfig(), Vocabulary{"apple", Unlabeled})
	assert.Error(t, err)

	_, err = Build(smallConfig(), nil)
	assert.Error(t, err)
}

func TestArchitecture_ValidateDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(a *Architecture)
	}{
		{"wrong shape", func(a *Architecture) { a.Nodes[1].Shape = []int{1, 1, 1} }},
		{"second input edge", func(a *Architecture) { a.Edges = append(a.Edges, Edge{From: "conv1", To: "hidden"}) }},
		{"unknown node", func(a *Architecture) { a.Edges[0].From = "nowhere" }},
		{"head width", func(a *Architecture) { a.Vocabulary = a.Vocabulary[:3] }},
		{"softmax in trunk", func(a *Architecture) { a.Nodes[1].Activation = nn.Softmax }},
		{"missing output", func(a *Architecture) { a.Outputs = a.Outputs[:1] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arch, err := Build(smallConfig(), DefaultVocabulary)
			require.NoError(t, err)
			tt.tamper(arch)
			assert.Error(t, arch.Validate())
		})
	}
}

func TestModel_PredictOutputs(t *testing.T) {
	m := smallModel(t, 1)
	out, err := m.Predict(input(2, 16*16*3))
	require.NoError(t, err)

	assert.Len(t, out.FruitProbs, len(DefaultVocabulary))
	assert.InDelta(t, 1.0, floats.Sum(out.FruitProbs), 1e-9)
	assert.True(t, out.ToxicProb > 0 && out.ToxicProb < 1)

	_, err = m.Predict(make([]float64, 10))
	assert.Error(t, err)
}

func TestModel_ConcurrentPredictIsDeterministic(t *testing.T) {
	m := smallModel(t, 1)
	x := input(3, 16*16*3)
	want, err := m.Predict(x)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Predict(x)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func combinedLoss(m *Model, x []float64, fruit int, toxic float64, w LossWeights) float64 {
	out, _ := m.Predict(x)
	ce, _ := nn.CategoricalCrossEntropy(out.FruitProbs, fruit)
	bce, _ := nn.BinaryCrossEntropy(out.ToxicProb, toxic)
	return w.FruitType*ce + w.Toxicity*bce
}

func TestModel_GradientsMatchFiniteDifferences(t *testing.T) {
	m := smallModel(t, 4)
	x := input(5, 16*16*3)
	w := LossWeights{FruitType: 1, Toxicity: 2}

	loss, err := m.AccumulateGradients(x, 3, 1, w, nil)
	require.NoError(t, err)
	assert.InDelta(t, combinedLoss(m, x, 3, 1, w), loss, 1e-12)

	const h = 1e-6
	for _, p := range m.Params() {
		for i := 0; i < p.Size() && i < 4; i++ {
			orig := p.Value[i]
			p.Value[i] = orig + h
			plus := combinedLoss(m, x, 3, 1, w)
			p.Value[i] = orig - h
			minus := combinedLoss(m, x, 3, 1, w)
			p.Value[i] = orig
			assert.InDelta(t, (plus-minus)/(2*h), p.Grad[i], 1e-5, "%s[%d]", p.Name, i)
		}
	}
}

func TestModel_TrainingReducesLoss(t *testing.T) {
	m := smallModel(t, 6)
	x := input(7, 16*16*3)
	opt := nn.NewAdam(0.01)

	first := math.NaN()
	var last float64
	for step := 0; step < 40; step++ {
		loss, err := m.AccumulateGradients(x, 5, 0, DefaultLossWeights, nil)
		require.NoError(t, err)
		if step == 0 {
			first = loss
		}
		last = loss
		opt.Step(m.Params(), 1)
	}
	assert.Less(t, last, first/2)

	out, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, 5, floats.MaxIdx(out.FruitProbs))
	assert.Less(t, out.ToxicProb, 0.5)
}

func TestModel_AccumulateGradientsRejectsBadClass(t *testing.T) {
	m := smallModel(t, 1)
	_, err := m.AccumulateGradients(input(1, 16*16*3), len(DefaultVocabulary), 0, DefaultLossWeights, nil)
	assert.Error(t, err)
}

func TestArtifact_RoundTrip(t *testing.T) {
	m := smallModel(t, 8)
	x := input(9, 16*16*3)
	want, err := m.Predict(x)
	require.NoError(t, err)

	a := m.Artifact(&TrainingInfo{Examples: 3, Epochs: 1, BatchSize: 2, FinalLoss: 0.5})
	assert.Equal(t, ArtifactFormat, a.Header.Format)

	loaded, err := FromArtifact(a)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got, "reloaded model must predict bit-identically")
	assert.True(t, loaded.Vocabulary().Equal(DefaultVocabulary))
}

func TestArtifact_Mismatch(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(a *Artifact)
	}{
		{"corrupt payload", func(a *Artifact) { a.Weights[10] ^= 0xff }},
		{"truncated payload", func(a *Artifact) { a.Weights = a.Weights[:len(a.Weights)-8] }},
		{"format", func(a *Artifact) { a.Header.Format = "fruitscan.model.v0" }},
		{"missing architecture", func(a *Artifact) { a.Header.Architecture = nil }},
		{"param spec", func(a *Artifact) { a.Header.Params[0].Shape = []int{1} }},
		{"architecture", func(a *Artifact) {
			arch, _ := Build(smallConfig(), Vocabulary{"apple", "pear"})
			a.Header.Architecture = arch
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := smallModel(t, 1).Artifact(nil)
			tt.tamper(a)
			_, err := FromArtifact(a)
			assert.ErrorIs(t, err, ErrArtifactMismatch)
		})
	}
}

func TestVocabulary(t *testing.T) {
	idx, ok := DefaultVocabulary.Index("mango")
	assert.True(t, ok)
	assert.Equal(t, 5, idx)

	_, ok = DefaultVocabulary.Index(Unlabeled)
	assert.False(t, ok)

	assert.NoError(t, DefaultVocabulary.Validate())
	assert.False(t, DefaultVocabulary.Equal(Vocabulary{"apple"}))
}
