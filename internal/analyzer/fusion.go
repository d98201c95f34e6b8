package analyzer

import (
	"math"

	"github.com/zombar/veracity/internal/models"
)

// Confidence calibration constants
const (
	MinConfidence = 0.1
	MaxConfidence = 0.95

	baseConfidence   = 0.5
	confidenceSpread = 0.45

	conspiracyConfidence     = 0.65
	benefitOfDoubtConfidence = 0.55
)

// accumulator is the transient per-call score state
type accumulator struct {
	real        float64
	fake        float64
	matchedReal []string
	matchedFake []string
}

func (a *accumulator) addReal(weight float64, name string) {
	a.real += weight
	a.matchedReal = append(a.matchedReal, name)
}

func (a *accumulator) addFake(weight float64, name string) {
	a.fake += weight
	a.matchedFake = append(a.matchedFake, name)
}

func (a *accumulator) total() float64 {
	return a.real + a.fake
}

// fuse turns the two class scores into a label and a calibrated confidence.
//
// An all-zero score carries no signal: texts naming a known conspiracy keyword
// lean FAKE at 0.65, everything else gets the benefit of the doubt at 0.55.
// Otherwise real wins ties and confidence grows with score separation,
// 0.5 + |real-fake|/(total+1) * 0.45, capped at 0.95.
func (kb *KnowledgeBase) fuse(acc *accumulator, lower string) (models.Label, float64) {
	total := acc.total()
	if total == 0 {
		if kb.hasConspiracyKeyword(lower) {
			return models.LabelFake, conspiracyConfidence
		}
		return models.LabelReal, benefitOfDoubtConfidence
	}

	label := models.LabelFake
	if acc.real >= acc.fake {
		label = models.LabelReal
	}

	separation := math.Abs(acc.real-acc.fake) / (total + 1)
	confidence := math.Min(MaxConfidence, baseConfidence+separation*confidenceSpread)
	return label, clampConfidence(confidence)
}

// clampConfidence keeps every reported confidence inside [MinConfidence, MaxConfidence]
func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return MinConfidence
	}
	return math.Max(MinConfidence, math.Min(MaxConfidence, c))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
