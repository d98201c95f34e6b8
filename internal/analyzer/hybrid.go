package analyzer

import (
	"context"
	"errors"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/veracity/internal/mlmodel"
	"github.com/zombar/veracity/internal/models"
)

// Blending weights; the model is trusted more than the rules
const (
	MLWeight   = 0.6
	RuleWeight = 0.4
)

// Fallback reasons reported when the model could not contribute
const (
	FallbackUnavailable = "unavailable"
	FallbackNotReady    = "not_ready"
	FallbackError       = "error"
)

// Predict classifies text with the rule engine and, when requested and
// available, blends in the model probability. Model failures degrade silently
// to the rule verdict; the reason is left in Prediction.FallbackReason.
func (a *Analyzer) Predict(ctx context.Context, text string, opts models.Options) models.Prediction {
	ctx, span := a.tracer.Start(ctx, "analyzer.predict",
		trace.WithAttributes(
			attribute.Int("text.length", len(text)),
			attribute.Bool("use_fusion", opts.UseFusion),
			attribute.Bool("use_ml", opts.UseML),
		))
	defer span.End()

	verdict := a.Classify(text, opts.UseFusion)
	span.SetAttributes(
		attribute.String("language", verdict.Language),
		attribute.String("rule.prediction", string(verdict.Prediction)),
		attribute.Float64("rule.confidence", verdict.Confidence),
	)

	pred := models.Prediction{Verdict: verdict}
	if !opts.UseML {
		return pred
	}

	if a.model == nil {
		pred.FallbackReason = FallbackUnavailable
		return pred
	}

	p, err := a.model.Predict(ctx, text)
	if err != nil {
		reason := FallbackError
		if errors.Is(err, mlmodel.ErrNotReady) {
			reason = FallbackNotReady
		}
		a.logger.Warn("model unavailable, using rule-based verdict",
			"model", a.model.Name(),
			"reason", reason,
			"error", err,
		)
		span.AddEvent("model_fallback", trace.WithAttributes(attribute.String("reason", reason)))
		pred.FallbackReason = reason
		return pred
	}

	pred = blend(verdict, p, a.model.Name())
	span.SetAttributes(
		attribute.String("prediction", string(pred.Prediction)),
		attribute.Float64("combined_probability", *pred.CombinedProbability),
	)
	return pred
}

// blend combines a rule verdict with a model P(real):
// combined = 0.6*model + 0.4*rule, REAL iff combined > 0.5,
// confidence = mean of the two source confidences
func blend(v models.Verdict, modelReal float64, modelName string) models.Prediction {
	ruleReal := v.Confidence
	if v.Prediction == models.LabelFake {
		ruleReal = 1 - v.Confidence
	}

	combined := MLWeight*modelReal + RuleWeight*ruleReal
	modelConfidence := math.Max(modelReal, 1-modelReal)

	label := models.LabelFake
	if combined > 0.5 {
		label = models.LabelReal
	}
	modelLabel := models.LabelFake
	if modelReal > 0.5 {
		modelLabel = models.LabelReal
	}

	out := v
	out.Prediction = label
	out.Confidence = round(clampConfidence((v.Confidence+modelConfidence)/2), 4)
	out.Method = models.MethodHybrid

	combined = round(combined, 4)
	return models.Prediction{
		Verdict: out,
		MLPrediction: &models.ModelPrediction{
			Prediction:      modelLabel,
			Confidence:      round(modelConfidence, 4),
			RealProbability: round(modelReal, 4),
			FakeProbability: round(1-modelReal, 4),
			Method:          modelName,
		},
		RuleBasedPrediction: &models.RuleSummary{
			Prediction:      v.Prediction,
			Confidence:      v.Confidence,
			RealProbability: round(ruleReal, 4),
		},
		CombinedProbability: &combined,
		ModelWeights:        &models.ModelWeights{ML: MLWeight, RuleBased: RuleWeight},
	}
}
