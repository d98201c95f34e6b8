package models

import "time"

// Label is the classification outcome for a text
type Label string

const (
	LabelReal Label = "REAL"
	LabelFake Label = "FAKE"
)

// Method tags reported with every verdict
const (
	MethodKB       = "trained_kb"
	MethodKBFusion = "trained_kb_fusion"
	MethodHybrid   = "hybrid_ml_rules"
)

// PredictRequest is the logical input of a classification call
type PredictRequest struct {
	Text      string `json:"text"`
	UseFusion *bool  `json:"use_fusion,omitempty"` // defaults to true
	UseML     *bool  `json:"use_ml,omitempty"`     // defaults to true
	Verify    *bool  `json:"verify,omitempty"`     // defaults to false
}

// Options are the resolved switches of a PredictRequest
type Options struct {
	UseFusion bool
	UseML     bool
}

// Options resolves the request switches, applying the defaults
func (r PredictRequest) Options() Options {
	opts := Options{UseFusion: true, UseML: true}
	if r.UseFusion != nil {
		opts.UseFusion = *r.UseFusion
	}
	if r.UseML != nil {
		opts.UseML = *r.UseML
	}
	return opts
}

// Scores holds the raw rule-based class scores
type Scores struct {
	Real  float64 `json:"real"`
	Fake  float64 `json:"fake"`
	Total float64 `json:"total"`
}

// KBMatch is a bounded preview of matched patterns and heuristic markers
type KBMatch struct {
	Real []string `json:"real"`
	Fake []string `json:"fake"`
}

// ModelInfo is static metadata describing the knowledge base of a language
type ModelInfo struct {
	Dataset          string `json:"dataset" yaml:"dataset"`
	Difficulty       string `json:"difficulty" yaml:"difficulty"`
	Handles          string `json:"handles" yaml:"handles"`
	TrainingAccuracy string `json:"training_accuracy" yaml:"training_accuracy"`
	FinalLoss        string `json:"final_loss" yaml:"final_loss"`
	Patterns         string `json:"patterns" yaml:"-"`
	Vocabulary       string `json:"vocabulary" yaml:"vocabulary"`
	Algorithm        string `json:"algorithm" yaml:"algorithm"`
}

// Verdict is the immutable result of the rule-based engine
type Verdict struct {
	Prediction Label     `json:"prediction"`
	Confidence float64   `json:"confidence"` // always within [0.1, 0.95]
	Scores     Scores    `json:"scores"`
	Method     string    `json:"method"`
	KBMatch    KBMatch   `json:"kb_match"`
	Language   string    `json:"language"`
	ModelInfo  ModelInfo `json:"model_info"`
}

// ModelPrediction is the independent output of a model adapter
type ModelPrediction struct {
	Prediction      Label   `json:"prediction"`
	Confidence      float64 `json:"confidence"`
	RealProbability float64 `json:"real_probability"`
	FakeProbability float64 `json:"fake_probability"`
	Method          string  `json:"method"`
}

// RuleSummary is the rule-based side of a hybrid prediction
type RuleSummary struct {
	Prediction      Label   `json:"prediction"`
	Confidence      float64 `json:"confidence"`
	RealProbability float64 `json:"real_probability"`
}

// ModelWeights are the fixed blending weights of a hybrid prediction
type ModelWeights struct {
	ML        float64 `json:"ml"`
	RuleBased float64 `json:"rule_based"`
}

// Prediction is the response record returned to callers.
// Hybrid fields are only set when a model adapter contributed.
type Prediction struct {
	Verdict
	Text                string           `json:"text,omitempty"`
	MLPrediction        *ModelPrediction `json:"ml_prediction,omitempty"`
	RuleBasedPrediction *RuleSummary     `json:"rule_based_prediction,omitempty"`
	CombinedProbability *float64         `json:"combined_probability,omitempty"`
	ModelWeights        *ModelWeights    `json:"model_weights,omitempty"`

	// Verification is an advisory report; it never changes the verdict
	Verification *VerificationReport `json:"verification,omitempty"`

	// FallbackReason is set when the model was requested but could not be used
	FallbackReason string `json:"-"`
}

// Hybrid reports whether a model adapter contributed to the prediction
func (p Prediction) Hybrid() bool {
	return p.MLPrediction != nil
}

// VerificationSection is the score and findings of one advisory check
type VerificationSection struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues"`
}

// ConsistencyBreakdown splits the logical consistency score by check
type ConsistencyBreakdown struct {
	Contradiction float64 `json:"contradiction_score"`
	Numerical     float64 `json:"numerical_score"`
	Temporal      float64 `json:"temporal_score"`
}

// ConsistencyReport grades contradictions, impossible numbers and dates
type ConsistencyReport struct {
	TotalScore       float64              `json:"total_score"`
	Level            string               `json:"consistency_level"`
	ConfidenceImpact float64              `json:"confidence_impact"`
	Issues           []string             `json:"issues"`
	Breakdown        ConsistencyBreakdown `json:"breakdown"`
}

// FactCheckBreakdown splits the fact check score by check
type FactCheckBreakdown struct {
	ImpossibleClaims   float64 `json:"impossible_claims_score"`
	HistoricalAccuracy float64 `json:"historical_accuracy_score"`
}

// FactCheckReport grades known impossible claims and historical dates
type FactCheckReport struct {
	TotalScore       float64            `json:"total_score"`
	Level            string             `json:"verification_level"`
	ConfidenceImpact float64            `json:"confidence_impact"`
	Issues           []string           `json:"issues"`
	Breakdown        FactCheckBreakdown `json:"breakdown"`
}

// VerificationReport is the logical verification of a text. Verdict is
// FAKE, REAL or UNCERTAIN and is independent of the classification verdict.
type VerificationReport struct {
	Verdict          string              `json:"verdict"`
	FakeProbability  float64             `json:"fake_probability"`
	Confidence       float64             `json:"confidence"`
	Score            float64             `json:"verification_score"`
	ConfidenceImpact float64             `json:"combined_confidence_impact"`
	Consistency      ConsistencyReport   `json:"consistency"`
	FactCheck        FactCheckReport     `json:"fact_check"`
	Emotional        VerificationSection `json:"emotional_analysis"`
	Style            VerificationSection `json:"style_analysis"`
	Issues           []string            `json:"all_issues"`
}

// VerificationResult pairs a text preview with its verification report
type VerificationResult struct {
	Text         string             `json:"text"`
	Verification VerificationReport `json:"verification"`
}

// BatchRequest is the input of a batch classification call
type BatchRequest struct {
	Texts     []string `json:"texts"`
	UseFusion *bool    `json:"use_fusion,omitempty"`
	UseML     *bool    `json:"use_ml,omitempty"`
	Verify    *bool    `json:"verify,omitempty"`
}

// BatchItem is one entry of a batch response; failed items carry only the
// text preview and the error
type BatchItem struct {
	*Prediction
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// BatchResponse is the result of a batch classification call
type BatchResponse struct {
	Results []BatchItem `json:"results"`
	Total   int         `json:"total"`
}

// JobStatus describes an asynchronous classification job
type JobStatus struct {
	JobID       string      `json:"job_id"`
	State       string      `json:"status"`
	Result      *Prediction `json:"result,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}
