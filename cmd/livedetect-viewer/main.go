package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livedetect/pkg/config"
	"livedetect/pkg/detect"
	"livedetect/pkg/infer"
	"livedetect/pkg/media"
	"livedetect/pkg/viewer"
)

func main() {
	var (
		relayURL   = flag.String("relay-url", "", "relay websocket URL")
		backendURL = flag.String("backend-url", "", "inference service websocket URL")
		modelPath  = flag.String("model", "", "model path on the inference service")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	cfg := config.LoadViewer()
	if *relayURL != "" {
		cfg.RelayURL = *relayURL
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)

	logger.Info("starting viewer",
		"relay", cfg.RelayURL,
		"backend", cfg.BackendURL,
		"model", cfg.ModelPath)

	backend := infer.NewRemoteBackend(infer.RemoteConfig{
		URL:    cfg.BackendURL,
		Logger: logger,
	})

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := backend.Connect(startCtx); err != nil {
		logger.Error("failed to connect to inference service", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	pipeline, err := detect.NewPipeline(detect.Config{
		Backend:        backend,
		QueueCapacity:  cfg.QueueCapacity,
		ScoreThreshold: float32(cfg.ScoreThreshold),
		Preprocess:     detect.DefaultPreprocessConfig(),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("failed to create pipeline", "error", err)
		os.Exit(1)
	}

	if err := pipeline.LoadModel(startCtx, cfg.ModelPath); err != nil {
		logger.Error("failed to load model", "error", err)
		os.Exit(1)
	}

	v, err := viewer.New(viewer.Config{
		RelayURL:   cfg.RelayURL,
		STUN:       cfg.STUNServers,
		Pipeline:   pipeline,
		Decoder:    media.NewJPEGDecoder(logger),
		Renderer:   media.NewHeadlessRenderer(),
		Logger:     logger,
		MaxRetries: cfg.MaxRetries,
		OnManualPlay: func() {
			logger.Warn("automatic playback recovery exhausted, manual resume required")
		},
	})
	if err != nil {
		logger.Error("failed to create viewer", "error", err)
		os.Exit(1)
	}

	if err := v.Start(startCtx); err != nil {
		logger.Error("failed to start viewer", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping viewer")

	if err := v.Stop(); err != nil {
		logger.Error("viewer shutdown error", "error", err)
	}

	logger.Info("viewer stopped")
}

// setupLogger creates a structured logger
func setupLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: config.ParseLevel(level),
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
