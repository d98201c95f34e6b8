package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zombar/veracity/internal/analyzer"
	"github.com/zombar/veracity/internal/api"
	"github.com/zombar/veracity/internal/metrics"
	"github.com/zombar/veracity/internal/mlmodel"
	"github.com/zombar/veracity/internal/ollama"
	"github.com/zombar/veracity/internal/queue"
	"github.com/zombar/veracity/internal/tracing"
	"github.com/zombar/veracity/internal/verification"
	"github.com/zombar/veracity/pkg/logging"
)

// Model backends selectable with -model-backend
const (
	backendNeural = "neural"
	backendOllama = "ollama"
	backendNone   = "none"
)

// modelRetryInterval is the pause between failed background initializations
const modelRetryInterval = 30 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	logger := logging.New(os.Stdout, getEnv("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	logger.Info("veracity service initializing", "version", api.Version)

	tp, err := tracing.InitTracer("veracity")
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	var (
		port           = flag.String("port", getEnv("PORT", "8080"), "Server port (env: PORT)")
		modelBackend   = flag.String("model-backend", getEnv("MODEL_BACKEND", backendNeural), "Model backend: neural, ollama or none (env: MODEL_BACKEND)")
		ollamaURL      = flag.String("ollama-url", getEnv("OLLAMA_URL", ollama.DefaultURL), "Ollama API URL (env: OLLAMA_URL)")
		ollamaModel    = flag.String("ollama-model", getEnv("OLLAMA_MODEL", ollama.DefaultModel), "Ollama model to use (env: OLLAMA_MODEL)")
		ollamaRPS      = flag.Float64("ollama-rps", getEnvFloat("OLLAMA_RPS", ollama.DefaultRequestsPerSecond), "Ollama requests per second (env: OLLAMA_RPS)")
		initTimeout    = flag.Duration("model-init-timeout", getEnvDuration("MODEL_INIT_TIMEOUT", mlmodel.DefaultInitTimeout), "Model initialization timeout (env: MODEL_INIT_TIMEOUT)")
		predictTimeout = flag.Duration("model-predict-timeout", getEnvDuration("MODEL_PREDICT_TIMEOUT", mlmodel.DefaultPredictTimeout), "Model prediction timeout (env: MODEL_PREDICT_TIMEOUT)")
		redisAddr      = flag.String("redis-addr", getEnv("REDIS_ADDR", ""), "Redis address for async jobs, empty disables them (env: REDIS_ADDR)")
		concurrency    = flag.Int("worker-concurrency", getEnvInt("WORKER_CONCURRENCY", 4), "Async job worker concurrency (env: WORKER_CONCURRENCY)")
		runWorker      = flag.Bool("worker", getEnvBool("RUN_WORKER", true), "Process async jobs in this process (env: RUN_WORKER)")
	)
	flag.Parse()

	m := metrics.New("veracity", prometheus.DefaultRegisterer)

	backend, err := newBackend(*modelBackend, *ollamaURL, *ollamaModel, *ollamaRPS)
	if err != nil {
		logger.Error("failed to configure model backend", "error", err, "backend", *modelBackend)
		os.Exit(1)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	verifier, err := verification.Default()
	if err != nil {
		logger.Error("failed to load verification rules", "error", err)
		os.Exit(1)
	}

	var (
		textAnalyzer *analyzer.Analyzer
		apiCfg       = api.Config{Metrics: m, Verifier: verifier}
	)
	if backend != nil {
		adapter := mlmodel.NewAdapter(backend, mlmodel.Config{
			InitTimeout:    *initTimeout,
			PredictTimeout: *predictTimeout,
		})
		go initializeModel(ctx, adapter, m, logger)
		textAnalyzer = analyzer.NewWithModel(adapter)
		apiCfg.Model = adapter
		logger.Info("model backend configured", "backend", adapter.Name())
	} else {
		logger.Info("model backend disabled, using rule-based classification")
		textAnalyzer = analyzer.New()
	}

	var worker *queue.Worker
	if *redisAddr != "" {
		jobs := queue.NewClient(queue.ClientConfig{RedisAddr: *redisAddr})
		defer func() {
			if err := jobs.Close(); err != nil {
				logger.Error("error closing queue client", "error", err)
			}
		}()
		apiCfg.Jobs = jobs

		if *runWorker {
			worker = queue.NewWorker(queue.WorkerConfig{
				RedisAddr:   *redisAddr,
				Concurrency: *concurrency,
			}, textAnalyzer, m)
			go func() {
				if err := worker.Start(); err != nil {
					logger.Error("worker stopped", "error", err)
				}
			}()
		}
		logger.Info("async jobs enabled", "redis_addr", *redisAddr, "worker", *runWorker)
	}

	apiHandler := api.NewHandler(textAnalyzer, apiCfg)

	// HTTP logging -> tracing -> handlers
	handler := logging.HTTPLoggingMiddleware(logger)(
		tracing.HTTPMiddleware("veracity")(apiHandler),
	)

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: *predictTimeout + 60*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("veracity service starting",
			"port", *port,
			"model_backend", *modelBackend,
			"jobs_enabled", *redisAddr != "",
		)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if worker != nil {
		worker.Shutdown()
	}

	logger.Info("server stopped")
}

// newBackend builds the configured model backend. It returns nil for "none".
func newBackend(name, ollamaURL, ollamaModel string, ollamaRPS float64) (mlmodel.Backend, error) {
	switch name {
	case backendNeural:
		return mlmodel.NewNetwork(mlmodel.DefaultNetworkConfig()), nil
	case backendOllama:
		client, err := ollama.New(ollamaURL, ollamaModel, ollamaRPS)
		if err != nil {
			return nil, err
		}
		return client, nil
	case backendNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown model backend %q", name)
	}
}

// initializeModel loads the model in the background, retrying until it
// succeeds or ctx is cancelled. Requests are served rule-only meanwhile.
func initializeModel(ctx context.Context, adapter *mlmodel.Adapter, m *metrics.Metrics, logger *slog.Logger) {
	m.SetModelReady(false)
	for {
		start := time.Now()
		err := adapter.Initialize(ctx)
		if err == nil {
			m.SetModelReady(true)
			logger.Info("model ready", "model", adapter.Name(), "took", time.Since(start).String())
			return
		}
		logger.Warn("model initialization failed, serving rule-based verdicts",
			"model", adapter.Name(),
			"error", err,
			"retry_in", modelRetryInterval.String(),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(modelRetryInterval):
		}
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
