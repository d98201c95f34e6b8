package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zombar/veracity/internal/analyzer"
	"github.com/zombar/veracity/internal/metrics"
	"github.com/zombar/veracity/internal/mlmodel"
	"github.com/zombar/veracity/internal/models"
	"github.com/zombar/veracity/internal/queue"
)

const realText = "Department of Health announces new vaccination program according to official sources"

// stubModel is a ready model adapter returning a fixed probability
type stubModel struct {
	p   float64
	err error
}

func (m *stubModel) Name() string { return "stub" }
func (m *stubModel) Ready() bool  { return m.err == nil }

func (m *stubModel) Predict(ctx context.Context, text string) (float64, error) {
	return m.p, m.err
}

func (m *stubModel) Info() mlmodel.Info {
	return mlmodel.Info{Name: "stub", Ready: m.Ready()}
}

// mockJobQueue implements JobQueue in memory
type mockJobQueue struct {
	enqueued []string
	opts     []models.Options
	statuses map[string]*models.JobStatus
	err      error
}

func (q *mockJobQueue) EnqueueClassify(ctx context.Context, text string, opts models.Options) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.enqueued = append(q.enqueued, text)
	q.opts = append(q.opts, opts)
	return "job-123", nil
}

func (q *mockJobQueue) JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	if s, ok := q.statuses[jobID]; ok {
		return s, nil
	}
	return nil, queue.ErrJobNotFound
}

type testEnv struct {
	handler http.Handler
	metrics *metrics.Metrics
	jobs    *mockJobQueue
}

func setupTestHandler(t *testing.T, model *stubModel) *testEnv {
	t.Helper()

	m := metrics.New("test", prometheus.NewRegistry())
	jobs := &mockJobQueue{statuses: map[string]*models.JobStatus{}}

	cfg := Config{Jobs: jobs, Metrics: m, MetricsHandler: http.NotFoundHandler()}
	var a *analyzer.Analyzer
	if model != nil {
		a = analyzer.NewWithModel(model)
		cfg.Model = model
	} else {
		a = analyzer.New()
	}

	return &testEnv{handler: NewHandler(a, cfg), metrics: m, jobs: jobs}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := setupTestHandler(t, &stubModel{p: 0.5})

	w := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["model_ready"])
}

func TestPredict_Hybrid(t *testing.T) {
	env := setupTestHandler(t, &stubModel{p: 0.9})

	w := env.do(t, http.MethodPost, "/api/predict", `{"text":"`+realText+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var pred models.Prediction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pred))
	assert.Equal(t, models.LabelReal, pred.Prediction)
	assert.Equal(t, models.MethodHybrid, pred.Method)
	assert.Equal(t, "en", pred.Language)
	assert.Equal(t, realText, pred.Text)
	require.NotNil(t, pred.MLPrediction)
	assert.Equal(t, 0.9, pred.MLPrediction.RealProbability)
	require.NotNil(t, pred.ModelWeights)
	assert.Equal(t, 0.6, pred.ModelWeights.ML)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PredictionsTotal.WithLabelValues("REAL", "en", models.MethodHybrid)))
}

func TestPredict_RuleOnly(t *testing.T) {
	env := setupTestHandler(t, &stubModel{p: 0.9})

	w := env.do(t, http.MethodPost, "/api/predict", `{"text":"`+realText+`","use_ml":false,"use_fusion":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, models.MethodKB, body["method"])
	assert.NotContains(t, body, "ml_prediction")
	assert.NotContains(t, body, "combined_probability")
	assert.Contains(t, body, "kb_match")
	assert.Contains(t, body, "model_info")
}

func TestPredict_ModelFailureDegradesSilently(t *testing.T) {
	env := setupTestHandler(t, &stubModel{err: errors.New("connection refused")})

	w := env.do(t, http.MethodPost, "/api/predict", `{"text":"SHOCKING miracle cure doctors don't want you to know about this secret"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "FAKE", body["prediction"])
	assert.Equal(t, models.MethodKBFusion, body["method"])
	assert.NotContains(t, body, "error")
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ModelFallbacks.WithLabelValues(analyzer.FallbackError)))
}

func TestPredict_WithoutModel(t *testing.T) {
	env := setupTestHandler(t, nil)

	w := env.do(t, http.MethodPost, "/api/predict", `{"text":"plain text"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "REAL", body["prediction"])
	assert.Equal(t, 0.55, body["confidence"])
}

func TestPredict_Validation(t *testing.T) {
	env := setupTestHandler(t, nil)

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing text", `{}`, "Text is required and must be a string"},
		{"empty text", `{"text":""}`, "Text is required and must be a string"},
		{"numeric text", `{"text":12345678901}`, "Text is required and must be a string"},
		{"null text", `{"text":null}`, "Text is required and must be a string"},
		{"too short", `{"text":"short"}`, "Text must be at least 10 characters long"},
		{"malformed json", `{"text":`, "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.message, decode(t, w)["error"])
		})
	}
}

func TestPredict_TextPreview(t *testing.T) {
	env := setupTestHandler(t, nil)
	long := strings.Repeat("ż", 250)

	w := env.do(t, http.MethodPost, "/api/predict", `{"text":"`+long+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	text := decode(t, w)["text"].(string)
	assert.Equal(t, strings.Repeat("ż", 200)+"...", text)
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	env := setupTestHandler(t, nil)

	w := env.do(t, http.MethodDelete, "/api/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method not allowed", decode(t, w)["error"])
}

func TestPredict_Info(t *testing.T) {
	env := setupTestHandler(t, &stubModel{p: 0.5})

	w := env.do(t, http.MethodGet, "/api/predict", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, true, body["model_loaded"])
	assert.Equal(t, true, body["kb_loaded"])
	assert.Equal(t, Version, body["version"])
	assert.ElementsMatch(t, []any{"en", "pl"}, body["languages"])

	perLanguage := body["models"].(map[string]any)
	pl := perLanguage["pl"].(map[string]any)
	assert.Equal(t, "Polish Extreme 10K", pl["dataset"])
}

func TestBatch(t *testing.T) {
	env := setupTestHandler(t, nil)

	body := `{"texts":["` + realText + `", "short", 42, "SHOCKING miracle cure doctors don't want you to know about this secret"]}`
	w := env.do(t, http.MethodPost, "/api/predict/batch", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 4)
	assert.Equal(t, 4, resp.Total)

	require.NotNil(t, resp.Results[0].Prediction)
	assert.Equal(t, models.LabelReal, resp.Results[0].Prediction.Prediction)
	assert.Empty(t, resp.Results[0].Error)

	assert.Equal(t, "Text must be at least 10 characters long", resp.Results[1].Error)
	assert.Equal(t, "short", resp.Results[1].Text)
	assert.Equal(t, "Text is required and must be a string", resp.Results[2].Error)

	require.NotNil(t, resp.Results[3].Prediction)
	assert.Equal(t, models.LabelFake, resp.Results[3].Prediction.Prediction)
}

func TestBatch_PreviewMatchesSinglePredict(t *testing.T) {
	env := setupTestHandler(t, nil)
	long := strings.Repeat("ż", 250)

	w := env.do(t, http.MethodPost, "/api/predict/batch", `{"texts":["`+long+`", "krótki"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)

	single := decode(t, env.do(t, http.MethodPost, "/api/predict", `{"text":"`+long+`"}`))
	assert.Equal(t, single["text"], resp.Results[0].Text)
	assert.Equal(t, strings.Repeat("ż", previewLength)+"...", resp.Results[0].Text)
	assert.Equal(t, "krótki", resp.Results[1].Text)
	assert.NotEmpty(t, resp.Results[1].Error)
}

func TestBatch_SizeLimits(t *testing.T) {
	env := setupTestHandler(t, nil)

	w := env.do(t, http.MethodPost, "/api/predict/batch", `{"texts":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = "plain text"
	}
	payload, err := json.Marshal(map[string]any{"texts": texts})
	require.NoError(t, err)

	w = env.do(t, http.MethodPost, "/api/predict/batch", string(payload))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStats(t *testing.T) {
	env := setupTestHandler(t, &stubModel{p: 0.5})

	w := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	patterns := body["patterns"].(map[string]any)
	en := patterns["en"].(map[string]any)
	assert.Greater(t, en["real"].(float64), 0.0)
	assert.Equal(t, en["real"].(float64)+en["fake"].(float64), en["total"].(float64))
	assert.Equal(t, true, body["model_ready"])
	assert.Equal(t, true, body["jobs_enabled"])
	assert.Greater(t, body["conspiracy_keywords"].(float64), 0.0)
}

func TestJobs_Enqueue(t *testing.T) {
	env := setupTestHandler(t, nil)

	w := env.do(t, http.MethodPost, "/api/jobs", `{"text":"`+realText+`","use_ml":false}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	assert.Equal(t, "job-123", body["job_id"])
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, []string{realText}, env.jobs.enqueued)
	assert.Equal(t, models.Options{UseFusion: true, UseML: false}, env.jobs.opts[0])
}

func TestJobs_EnqueueValidates(t *testing.T) {
	env := setupTestHandler(t, nil)

	w := env.do(t, http.MethodPost, "/api/jobs", `{"text":"tiny"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.jobs.enqueued)
}

func TestJobs_EnqueueFailure(t *testing.T) {
	env := setupTestHandler(t, nil)
	env.jobs.err = errors.New("redis down")

	w := env.do(t, http.MethodPost, "/api/jobs", `{"text":"`+realText+`"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "redis down")
}

func TestJobs_Status(t *testing.T) {
	env := setupTestHandler(t, nil)
	env.jobs.statuses["job-123"] = &models.JobStatus{
		JobID: "job-123",
		State: "completed",
		Result: &models.Prediction{
			Verdict: models.Verdict{Prediction: models.LabelReal, Confidence: 0.9},
			Text:    strings.Repeat("a", 300),
		},
	}

	w := env.do(t, http.MethodGet, "/api/jobs/job-123", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.JobStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "completed", status.State)
	require.NotNil(t, status.Result)
	assert.Equal(t, models.LabelReal, status.Result.Prediction)
	assert.Len(t, status.Result.Text, previewLength+3)

	w = env.do(t, http.MethodGet, "/api/jobs/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["status"])
}

func TestJobs_WithoutQueue(t *testing.T) {
	h := NewHandler(analyzer.New(), Config{MetricsHandler: http.NotFoundHandler()})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(`{"text":"`+realText+`"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	h := newHandler(analyzer.New(), Config{MetricsHandler: http.NotFoundHandler()})
	panicky := h.recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/predict", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w)["error"])
}

func TestHTTPMetrics(t *testing.T) {
	env := setupTestHandler(t, nil)

	env.do(t, http.MethodGet, "/api/jobs/abc", "")
	env.do(t, http.MethodPost, "/api/predict", `{}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequestsTotal.WithLabelValues("/api/jobs/{id}", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequestsTotal.WithLabelValues("/api/predict", "400")))
}

func TestCORS(t *testing.T) {
	env := setupTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
	assert.Equal(t, "żół...", preview("żółty", 3))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHandler(analyzer.New(), Config{
		Metrics:        metrics.New("veracity", reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"text":"`+realText+`"}`))
	h.ServeHTTP(httptest.NewRecorder(), req)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `veracity_predictions_total{language="en",method="trained_kb_fusion",prediction="REAL"} 1`)
	assert.Contains(t, w.Body.String(), "veracity_http_requests_total")
}
