package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/zombar/veracity/internal/mlmodel"
	"github.com/zombar/veracity/internal/models"
)

const (
	// MinTextLength is the shortest text, in characters, the engine accepts
	MinTextLength = 10

	// previewSize bounds the matched-pattern lists exposed to callers
	previewSize = 5
)

var (
	ErrTextRequired = errors.New("text is required and must be a string")
	ErrTextTooShort = fmt.Errorf("text must be at least %d characters long", MinTextLength)
)

// Analyzer is the scoring and fusion engine. It holds no per-call state and
// is safe for concurrent use.
type Analyzer struct {
	kb     *KnowledgeBase
	model  mlmodel.Model
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a rule-only Analyzer backed by the embedded knowledge base
func New() *Analyzer {
	return NewWithModel(nil)
}

// NewWithModel creates an Analyzer that blends rule verdicts with model
func NewWithModel(model mlmodel.Model) *Analyzer {
	kb, err := DefaultKnowledgeBase()
	if err != nil {
		panic(fmt.Sprintf("embedded knowledge base is invalid: %v", err))
	}
	return NewWithKnowledgeBase(kb, model)
}

// NewWithKnowledgeBase creates an Analyzer over an explicit knowledge base
func NewWithKnowledgeBase(kb *KnowledgeBase, model mlmodel.Model) *Analyzer {
	return &Analyzer{
		kb:     kb,
		model:  model,
		logger: slog.Default().With("component", "analyzer"),
		tracer: otel.Tracer("veracity/analyzer"),
	}
}

// KnowledgeBase returns the knowledge base in use
func (a *Analyzer) KnowledgeBase() *KnowledgeBase {
	return a.kb
}

// Model returns the model adapter, or nil for a rule-only analyzer
func (a *Analyzer) Model() mlmodel.Model {
	return a.model
}

// ValidateText enforces the input contract callers check before classifying
func ValidateText(text string) error {
	if text == "" {
		return ErrTextRequired
	}
	if utf8.RuneCountInString(text) < MinTextLength {
		return ErrTextTooShort
	}
	return nil
}

// Classify runs the rule-based engine: language detection, KB lookup,
// heuristics and score fusion. It is deterministic for a given text.
func (a *Analyzer) Classify(text string, useFusion bool) models.Verdict {
	text = norm.NFC.String(text)
	lower := normalizeForMatch(text)

	lang := DetectLanguage(text)
	profile := a.kb.Profile(lang)

	acc := &accumulator{}
	profile.score(lower, acc)

	sig := signal{text: text, lower: lower}
	for _, h := range heuristics {
		h.apply(sig, acc)
	}

	label, confidence := a.kb.fuse(acc, lower)

	method := models.MethodKB
	if useFusion {
		method = models.MethodKBFusion
	}

	return models.Verdict{
		Prediction: label,
		Confidence: round(confidence, 4),
		Scores: models.Scores{
			Real:  round(acc.real, 2),
			Fake:  round(acc.fake, 2),
			Total: round(acc.total(), 2),
		},
		Method: method,
		KBMatch: models.KBMatch{
			Real: preview(acc.matchedReal),
			Fake: preview(acc.matchedFake),
		},
		Language:  profile.Language,
		ModelInfo: profile.Info,
	}
}

func preview(matched []string) []string {
	n := min(len(matched), previewSize)
	out := make([]string, n)
	copy(out, matched[:n])
	return out
}
