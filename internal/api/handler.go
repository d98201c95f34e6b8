package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/zombar/veracity/internal/analyzer"
	"github.com/zombar/veracity/internal/metrics"
	"github.com/zombar/veracity/internal/mlmodel"
	"github.com/zombar/veracity/internal/models"
	"github.com/zombar/veracity/internal/queue"
	"github.com/zombar/veracity/internal/tracing"
	"github.com/zombar/veracity/internal/verification"
)

const (
	Version = "1.0.0"

	// MaxBatchSize bounds the number of texts in one batch request
	MaxBatchSize = 100

	// previewLength is the number of characters of the input echoed back
	previewLength = 200

	maxBodyBytes = 1 << 20
)

// ModelStatus reports the state of the model adapter
type ModelStatus interface {
	Info() mlmodel.Info
}

// JobQueue enqueues and tracks asynchronous classification jobs
type JobQueue interface {
	EnqueueClassify(ctx context.Context, text string, opts models.Options) (string, error)
	JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
}

// Verifier produces the advisory verification report of a text
type Verifier interface {
	Verify(ctx context.Context, text string, modelFake *float64) models.VerificationReport
}

// Config holds the optional collaborators of a Handler
type Config struct {
	Model          ModelStatus // nil when no model backend is configured
	Jobs           JobQueue    // nil when redis is not configured
	Verifier       Verifier    // defaults to the embedded verification rules
	Metrics        *metrics.Metrics
	BatchWorkers   int
	MetricsHandler http.Handler // defaults to promhttp.Handler()
}

// Handler handles HTTP requests
type Handler struct {
	analyzer *analyzer.Analyzer
	cfg      Config
	mux      *http.ServeMux
	logger   *slog.Logger
}

// NewHandler creates a new API handler with CORS, panic recovery and metrics
func NewHandler(a *analyzer.Analyzer, cfg Config) http.Handler {
	h := newHandler(a, cfg)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	return c.Handler(h.recoverMiddleware(h.metricsMiddleware(h.mux)))
}

func newHandler(a *analyzer.Analyzer, cfg Config) *Handler {
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 8
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.Verifier == nil {
		v, err := verification.Default()
		if err != nil {
			panic("embedded verification rules are invalid: " + err.Error())
		}
		cfg.Verifier = v
	}

	h := &Handler{
		analyzer: a,
		cfg:      cfg,
		mux:      http.NewServeMux(),
		logger:   slog.Default().With("component", "api"),
	}
	h.setupRoutes()
	return h
}

// setupRoutes configures all API routes
func (h *Handler) setupRoutes() {
	h.mux.Handle("/metrics", h.cfg.MetricsHandler)
	h.mux.HandleFunc("/api/predict", h.handlePredict)
	h.mux.HandleFunc("/api/predict/batch", h.handleBatch)
	h.mux.HandleFunc("/api/verify", h.handleVerify)
	h.mux.HandleFunc("/api/stats", h.handleStats)
	h.mux.HandleFunc("/api/jobs", h.handleEnqueue)
	h.mux.HandleFunc("/api/jobs/", h.handleJobStatus)
	h.mux.HandleFunc("/health", h.handleHealth)
}

// predictRequest mirrors models.PredictRequest but keeps text untyped so a
// non-string value is reported as a validation error, not a decode error
type predictRequest struct {
	Text      any   `json:"text"`
	UseFusion *bool `json:"use_fusion,omitempty"`
	UseML     *bool `json:"use_ml,omitempty"`
	Verify    *bool `json:"verify,omitempty"`
}

func (r predictRequest) resolve() (models.PredictRequest, error) {
	text, ok := r.Text.(string)
	if !ok {
		return models.PredictRequest{}, analyzer.ErrTextRequired
	}
	if err := analyzer.ValidateText(text); err != nil {
		return models.PredictRequest{}, err
	}
	return models.PredictRequest{Text: text, UseFusion: r.UseFusion, UseML: r.UseML, Verify: r.Verify}, nil
}

// handleHealth handles health check requests
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":      "ok",
		"time":        time.Now().Format(time.RFC3339),
		"model_ready": h.modelReady(),
	}, http.StatusOK)
}

// handlePredict serves the static info document on GET and classifies on POST
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleInfo(w, r)
	case http.MethodPost:
		h.handleClassify(w, r)
	default:
		respondMethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodOptions)
	}
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	kb := h.analyzer.KnowledgeBase()
	langs := kb.Languages()

	perLanguage := make(map[string]models.ModelInfo, len(langs))
	for _, lang := range langs {
		perLanguage[lang] = kb.Profile(lang).Info
	}

	info := map[string]any{
		"status":       "online",
		"model_loaded": h.modelReady(),
		"kb_loaded":    true,
		"version":      Version,
		"languages":    langs,
		"models":       perLanguage,
		"ml_weight":    analyzer.MLWeight,
		"rule_weight":  analyzer.RuleWeight,
	}
	if h.cfg.Model != nil {
		info["model"] = h.cfg.Model.Info()
	}
	respondJSON(w, info, http.StatusOK)
}

func (h *Handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodePredictRequest(w, r)
	if !ok {
		return
	}

	tracing.SetSpanAttributes(r.Context(), attribute.Int("text.length", len(req.Text)))

	pred := h.predict(r.Context(), req.Text, req.Options())
	if enabled(req.Verify) {
		h.attachVerification(r.Context(), req.Text, &pred)
	}
	pred.Text = preview(req.Text, previewLength)
	respondJSON(w, pred, http.StatusOK)
}

// handleBatch classifies several texts concurrently. Invalid items are
// reported in place; they never fail the whole batch.
func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondMethodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}

	var req struct {
		Texts     []any `json:"texts"`
		UseFusion *bool `json:"use_fusion,omitempty"`
		UseML     *bool `json:"use_ml,omitempty"`
		Verify    *bool `json:"verify,omitempty"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Texts) == 0 || len(req.Texts) > MaxBatchSize {
		respondError(w, "Texts must contain between 1 and 100 items", http.StatusBadRequest)
		return
	}

	opts := models.PredictRequest{UseFusion: req.UseFusion, UseML: req.UseML}.Options()
	tracing.SetSpanAttributes(r.Context(), attribute.Int("batch.size", len(req.Texts)))

	results := make([]models.BatchItem, len(req.Texts))
	var g errgroup.Group
	g.SetLimit(h.cfg.BatchWorkers)
	for i, raw := range req.Texts {
		g.Go(func() error {
			pr, err := predictRequest{Text: raw}.resolve()
			if err != nil {
				text, _ := raw.(string)
				results[i] = models.BatchItem{Text: preview(text, previewLength), Error: validationMessage(err)}
				return nil
			}
			pred := h.predict(r.Context(), pr.Text, opts)
			if enabled(req.Verify) {
				h.attachVerification(r.Context(), pr.Text, &pred)
			}
			pred.Text = preview(pr.Text, previewLength)
			results[i] = models.BatchItem{Prediction: &pred, Text: pred.Text}
			return nil
		})
	}
	_ = g.Wait()

	respondJSON(w, models.BatchResponse{Results: results, Total: len(results)}, http.StatusOK)
}

// handleVerify grades one posted text on POST and the built-in sample
// texts on GET. The report never involves the classifier.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		results := make([]models.VerificationResult, len(verification.DemoTexts))
		for i, text := range verification.DemoTexts {
			results[i] = models.VerificationResult{Text: text, Verification: h.verify(r.Context(), text, nil)}
		}
		respondJSON(w, map[string]any{
			"results": results,
			"total":   len(results),
		}, http.StatusOK)
	case http.MethodPost:
		req, ok := h.decodePredictRequest(w, r)
		if !ok {
			return
		}
		tracing.SetSpanAttributes(r.Context(), attribute.Int("text.length", len(req.Text)))
		respondJSON(w, models.VerificationResult{
			Text:         preview(req.Text, previewLength),
			Verification: h.verify(r.Context(), req.Text, nil),
		}, http.StatusOK)
	default:
		respondMethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodOptions)
	}
}

// handleStats reports knowledge base sizes and model readiness
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondMethodNotAllowed(w, http.MethodGet, http.MethodOptions)
		return
	}

	kb := h.analyzer.KnowledgeBase()
	patterns := make(map[string]map[string]int)
	for _, lang := range kb.Languages() {
		p := kb.Profile(lang)
		patterns[lang] = map[string]int{
			"real":  len(p.Real),
			"fake":  len(p.Fake),
			"total": len(p.Real) + len(p.Fake),
		}
	}

	stats := map[string]any{
		"patterns":            patterns,
		"conspiracy_keywords": len(kb.ConspiracyKeywords()),
		"model_ready":         h.modelReady(),
		"jobs_enabled":        h.cfg.Jobs != nil,
		"min_text_length":     analyzer.MinTextLength,
		"max_batch_size":      MaxBatchSize,
	}
	if h.cfg.Model != nil {
		stats["model"] = h.cfg.Model.Info()
	}
	respondJSON(w, stats, http.StatusOK)
}

// handleEnqueue queues an asynchronous classification
func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondMethodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}
	if h.cfg.Jobs == nil {
		respondError(w, "Job queue is not configured", http.StatusServiceUnavailable)
		return
	}

	req, ok := h.decodePredictRequest(w, r)
	if !ok {
		return
	}

	jobID, err := h.cfg.Jobs.EnqueueClassify(r.Context(), req.Text, req.Options())
	if err != nil {
		h.logger.Error("failed to enqueue classification", "error", err)
		respondError(w, "Failed to enqueue classification", http.StatusInternalServerError)
		return
	}

	tracing.SetSpanAttributes(r.Context(), attribute.String("job.id", jobID))
	respondJSON(w, map[string]any{
		"job_id": jobID,
		"status": "queued",
	}, http.StatusAccepted)
}

// handleJobStatus handles job status requests
func (h *Handler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondMethodNotAllowed(w, http.MethodGet, http.MethodOptions)
		return
	}
	if h.cfg.Jobs == nil {
		respondError(w, "Job queue is not configured", http.StatusServiceUnavailable)
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if idx := strings.Index(jobID, "/"); idx != -1 {
		jobID = jobID[:idx]
	}
	if jobID == "" {
		respondError(w, "Job ID is required", http.StatusBadRequest)
		return
	}

	status, err := h.cfg.Jobs.JobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			respondJSON(w, map[string]any{
				"job_id":  jobID,
				"status":  "not_found",
				"message": "Job not found - it may have expired",
			}, http.StatusNotFound)
			return
		}
		h.logger.Error("failed to look up job", "job_id", jobID, "error", err)
		respondError(w, "Failed to look up job", http.StatusInternalServerError)
		return
	}

	if status.Result != nil {
		status.Result.Text = preview(status.Result.Text, previewLength)
	}
	respondJSON(w, status, http.StatusOK)
}

// decodePredictRequest parses and validates a single-text request, writing
// the error response itself when it returns false
func (h *Handler) decodePredictRequest(w http.ResponseWriter, r *http.Request) (models.PredictRequest, bool) {
	var raw predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return models.PredictRequest{}, false
	}

	req, err := raw.resolve()
	if err != nil {
		respondError(w, validationMessage(err), http.StatusBadRequest)
		return models.PredictRequest{}, false
	}
	return req, true
}

func (h *Handler) predict(ctx context.Context, text string, opts models.Options) models.Prediction {
	start := time.Now()
	pred := h.analyzer.Predict(ctx, text, opts)
	h.cfg.Metrics.ObservePrediction(ctx, string(pred.Prediction), pred.Language, pred.Method, pred.FallbackReason, pred.Confidence, time.Since(start))
	return pred
}

// attachVerification adds the advisory report to pred. A hybrid prediction
// hands its model fake probability to the verifier; the verdict is untouched.
func (h *Handler) attachVerification(ctx context.Context, text string, pred *models.Prediction) {
	var modelFake *float64
	if pred.MLPrediction != nil {
		f := pred.MLPrediction.FakeProbability
		modelFake = &f
	}
	report := h.verify(ctx, text, modelFake)
	pred.Verification = &report
}

func (h *Handler) verify(ctx context.Context, text string, modelFake *float64) models.VerificationReport {
	report := h.cfg.Verifier.Verify(ctx, text, modelFake)
	h.cfg.Metrics.ObserveVerification(report.Verdict)
	return report
}

func (h *Handler) modelReady() bool {
	return h.cfg.Model != nil && h.cfg.Model.Info().Ready
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.cfg.Metrics.ObserveHTTP(routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

// recoverMiddleware turns a panicking request into a generic 500
func (h *Handler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				h.logger.Error("panic serving request",
					"path", r.URL.Path,
					"panic", v,
					"stack", string(debug.Stack()),
					"trace_id", tracing.TraceIDFromContext(r.Context()),
				)
				respondError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// routeLabel keeps the metrics route label bounded
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/jobs/"):
		return "/api/jobs/{id}"
	case path == "/api/predict", path == "/api/predict/batch", path == "/api/verify", path == "/api/stats",
		path == "/api/jobs", path == "/health", path == "/metrics":
		return path
	default:
		return "other"
	}
}

// validationMessage maps input errors to the messages clients rely on
func validationMessage(err error) string {
	switch {
	case errors.Is(err, analyzer.ErrTextRequired):
		return "Text is required and must be a string"
	case errors.Is(err, analyzer.ErrTextTooShort):
		return "Text must be at least 10 characters long"
	default:
		return err.Error()
	}
}

func enabled(flag *bool) bool {
	return flag != nil && *flag
}

// preview returns the first n characters of text, marking truncation with "..."
func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, map[string]string{"error": message}, statusCode)
}

func respondMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	respondJSON(w, map[string]any{
		"error":           "Method not allowed",
		"allowed_methods": allowed,
	}, http.StatusMethodNotAllowed)
}
