package mlmodel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedNetwork(t *testing.T) *Network {
	t.Helper()
	n := NewNetwork(DefaultNetworkConfig())
	require.NoError(t, n.Initialize(context.Background()))
	return n
}

func TestNetwork_PredictBeforeTraining(t *testing.T) {
	n := NewNetwork(DefaultNetworkConfig())

	_, err := n.Predict(context.Background(), "anything at all")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestNetwork_LearnsCorpus(t *testing.T) {
	n := trainedNetwork(t)

	info := n.Describe()
	assert.GreaterOrEqual(t, info["final_accuracy"].(float64), 0.9)
	assert.Equal(t, true, info["trained"])
	assert.Equal(t, 20, info["training_samples"])

	for _, s := range TrainingCorpus() {
		p, err := n.Predict(context.Background(), s.Text)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestNetwork_Deterministic(t *testing.T) {
	a := trainedNetwork(t)
	b := trainedNetwork(t)

	text := "Ministry officials published a peer-reviewed analysis"
	pa, err := a.Predict(context.Background(), text)
	require.NoError(t, err)
	pb, err := b.Predict(context.Background(), text)
	require.NoError(t, err)

	assert.Equal(t, pa, pb)
}

func TestNetwork_UnknownAndEmptyText(t *testing.T) {
	n := trainedNetwork(t)

	for _, text := range []string{"", "!!!", "zzzz qqqq xxxx"} {
		p, err := n.Predict(context.Background(), text)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestNetwork_TrainingHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := NewNetwork(DefaultNetworkConfig())
	err := n.Initialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = n.Predict(context.Background(), "anything at all")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestNetwork_EmptyCorpus(t *testing.T) {
	n := NewNetworkWithCorpus(DefaultNetworkConfig(), nil)
	assert.Error(t, n.Initialize(context.Background()))
}

func TestBuildVocabulary(t *testing.T) {
	samples := []Sample{
		{Text: "beta alpha beta"},
		{Text: "gamma alpha beta"},
	}

	vocab := buildVocabulary(samples, 4)

	assert.Equal(t, padID, vocab[padToken])
	assert.Equal(t, unkID, vocab[unkToken])
	assert.Equal(t, 2, vocab["beta"])
	assert.Equal(t, 3, vocab["alpha"])
	_, ok := vocab["gamma"]
	assert.False(t, ok)
}

func TestToSequence(t *testing.T) {
	vocab := map[string]int{padToken: padID, unkToken: unkID, "cure": 2}

	assert.Equal(t, []int{2, unkID}, toSequence(vocab, "Cure, unknown!", 10))
	assert.Equal(t, []int{unkID}, toSequence(vocab, "", 10))
	assert.Equal(t, []int{2}, toSequence(vocab, "cure cure cure", 1))
}

func TestAdapter_WithNetwork(t *testing.T) {
	a := NewAdapter(NewNetwork(DefaultNetworkConfig()), Config{})
	require.NoError(t, a.Initialize(context.Background()))

	p, err := a.Predict(context.Background(), "Department of Health announces new vaccination program according to official sources")
	require.NoError(t, err)
	assert.Greater(t, p, 0.5)
	assert.Equal(t, "toy_neural_network", a.Info().Name)
}
