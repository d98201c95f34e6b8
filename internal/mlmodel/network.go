package mlmodel

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"unicode"
)

const (
	padToken = "<PAD>"
	unkToken = "<UNK>"
	padID    = 0
	unkID    = 1
)

// NetworkConfig sizes and trains the toy network
type NetworkConfig struct {
	VocabSize         int
	MaxSequenceLength int
	EmbeddingDim      int
	HiddenUnits       int
	Epochs            int
	LearningRate      float64
	Seed              uint64
}

// DefaultNetworkConfig returns the configuration used by the server
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		VocabSize:         1000,
		MaxSequenceLength: 100,
		EmbeddingDim:      16,
		HiddenUnits:       16,
		Epochs:            400,
		LearningRate:      0.1,
		Seed:              42,
	}
}

// Network is a small text classifier: token embeddings, average pooling,
// one tanh hidden layer and a sigmoid output giving P(real).
// Training is deterministic for a given config and corpus.
type Network struct {
	cfg     NetworkConfig
	samples []Sample

	mu            sync.RWMutex
	trained       bool
	vocab         map[string]int
	w             *weights
	finalLoss     float64
	finalAccuracy float64
}

// NewNetwork creates an untrained network over the synthetic corpus
func NewNetwork(cfg NetworkConfig) *Network {
	return NewNetworkWithCorpus(cfg, TrainingCorpus())
}

// NewNetworkWithCorpus creates an untrained network over samples
func NewNetworkWithCorpus(cfg NetworkConfig, samples []Sample) *Network {
	return &Network{cfg: cfg, samples: samples}
}

// Name identifies the backend
func (n *Network) Name() string {
	return "toy_neural_network"
}

// Initialize builds the vocabulary and trains the network
func (n *Network) Initialize(ctx context.Context) error {
	if len(n.samples) == 0 {
		return fmt.Errorf("empty training corpus")
	}

	vocab := buildVocabulary(n.samples, n.cfg.VocabSize)
	rng := rand.New(rand.NewPCG(n.cfg.Seed, n.cfg.Seed))
	w := newWeights(len(vocab), n.cfg.EmbeddingDim, n.cfg.HiddenUnits, rng)

	seqs := make([][]int, len(n.samples))
	labels := make([]float64, len(n.samples))
	for i, s := range n.samples {
		seqs[i] = toSequence(vocab, s.Text, n.cfg.MaxSequenceLength)
		if s.Real {
			labels[i] = 1
		}
	}

	for epoch := 0; epoch < n.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("training interrupted at epoch %d: %w", epoch, err)
		}
		for _, i := range rng.Perm(len(seqs)) {
			w.step(seqs[i], labels[i], n.cfg.LearningRate)
		}
	}

	var loss float64
	correct := 0
	for i, seq := range seqs {
		_, _, y := w.forward(seq)
		loss += crossEntropy(y, labels[i])
		if (y > 0.5) == (labels[i] == 1) {
			correct++
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.vocab = vocab
	n.w = w
	n.finalLoss = loss / float64(len(seqs))
	n.finalAccuracy = float64(correct) / float64(len(seqs))
	n.trained = true
	return nil
}

// Predict returns P(real) for text
func (n *Network) Predict(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.trained {
		return 0, ErrNotReady
	}

	_, _, y := n.w.forward(toSequence(n.vocab, text, n.cfg.MaxSequenceLength))
	return y, nil
}

// Describe reports the architecture and training outcome
func (n *Network) Describe() map[string]any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return map[string]any{
		"architecture":        "embedding -> average pooling -> dense(tanh) -> dense(sigmoid)",
		"vocabulary_size":     len(n.vocab),
		"max_sequence_length": n.cfg.MaxSequenceLength,
		"embedding_dim":       n.cfg.EmbeddingDim,
		"hidden_units":        n.cfg.HiddenUnits,
		"epochs":              n.cfg.Epochs,
		"training_samples":    len(n.samples),
		"trained":             n.trained,
		"final_loss":          n.finalLoss,
		"final_accuracy":      n.finalAccuracy,
	}
}

// tokenize lower-cases text and splits it on anything that is not a letter or digit
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// buildVocabulary keeps the most frequent words, ties broken alphabetically
func buildVocabulary(samples []Sample, size int) map[string]int {
	counts := make(map[string]int)
	for _, s := range samples {
		for _, tok := range tokenize(s.Text) {
			counts[tok]++
		}
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	slices.SortFunc(words, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	if limit := size - 2; limit >= 0 && len(words) > limit {
		words = words[:limit]
	}

	vocab := map[string]int{padToken: padID, unkToken: unkID}
	for i, w := range words {
		vocab[w] = i + 2
	}
	return vocab
}

// toSequence maps text to token ids; padding is left implicit because the
// pooling layer averages real tokens only
func toSequence(vocab map[string]int, text string, maxLen int) []int {
	tokens := tokenize(text)
	if maxLen > 0 && len(tokens) > maxLen {
		tokens = tokens[:maxLen]
	}
	seq := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		id, ok := vocab[tok]
		if !ok {
			id = unkID
		}
		seq = append(seq, id)
	}
	if len(seq) == 0 {
		seq = append(seq, unkID)
	}
	return seq
}

type weights struct {
	emb [][]float64 // vocab x dim
	w1  [][]float64 // hidden x dim
	b1  []float64
	w2  []float64
	b2  float64
}

func newWeights(vocabSize, dim, hidden int, rng *rand.Rand) *weights {
	w := &weights{
		emb: make([][]float64, vocabSize),
		w1:  make([][]float64, hidden),
		b1:  make([]float64, hidden),
		w2:  randVector(hidden, rng),
	}
	for i := range w.emb {
		w.emb[i] = randVector(dim, rng)
	}
	for j := range w.w1 {
		w.w1[j] = randVector(dim, rng)
	}
	return w
}

func randVector(n int, rng *rand.Rand) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.Float64() - 0.5
	}
	return v
}

func (w *weights) forward(ids []int) (pooled, hidden []float64, y float64) {
	pooled = make([]float64, len(w.w1[0]))
	for _, id := range ids {
		for k, v := range w.emb[id] {
			pooled[k] += v
		}
	}
	for k := range pooled {
		pooled[k] /= float64(len(ids))
	}

	hidden = make([]float64, len(w.w1))
	z := w.b2
	for j, row := range w.w1 {
		s := w.b1[j]
		for k, v := range row {
			s += v * pooled[k]
		}
		hidden[j] = math.Tanh(s)
		z += w.w2[j] * hidden[j]
	}
	return pooled, hidden, sigmoid(z)
}

// step runs one SGD update on a single sample and returns its loss
func (w *weights) step(ids []int, label, lr float64) float64 {
	pooled, hidden, y := w.forward(ids)
	dz := y - label

	dPooled := make([]float64, len(pooled))
	for j := range hidden {
		da := dz * w.w2[j] * (1 - hidden[j]*hidden[j])
		for k := range pooled {
			dPooled[k] += da * w.w1[j][k]
			w.w1[j][k] -= lr * da * pooled[k]
		}
		w.b1[j] -= lr * da
		w.w2[j] -= lr * dz * hidden[j]
	}
	w.b2 -= lr * dz

	scale := lr / float64(len(ids))
	for _, id := range ids {
		for k, g := range dPooled {
			w.emb[id][k] -= scale * g
		}
	}
	return crossEntropy(y, label)
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func crossEntropy(y, label float64) float64 {
	const eps = 1e-12
	return -(label*math.Log(y+eps) + (1-label)*math.Log(1-y+eps))
}
