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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"voice-dialogue/internal/config"
	"voice-dialogue/internal/jobs"
	"voice-dialogue/internal/tts"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	listen := flag.String("listen", "", "Listen address, overrides jobs.listen")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Jobs.Listen = *listen
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.SlogLevel()}))
	slog.SetDefault(logger)

	if cfg.OpenAI.APIKey == "" {
		logger.Error("OPENAI_API_KEY is not set")
		return 1
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobs.NewMetrics(reg)

	backend := tts.NewOpenAISynthesizer(cfg.OpenAI, cfg.TTS.Format, cfg.Jobs.OutputDir, logger)
	svc, err := jobs.NewService(backend, cfg.Jobs, jobs.WithMetrics(metrics), jobs.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create job service", "error", err)
		return 1
	}

	mux := http.NewServeMux()
	jobs.NewHandler(svc, metrics, logger).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Jobs.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Synthesis service listening",
			"address", cfg.Jobs.Listen,
			"output_dir", cfg.Jobs.OutputDir,
			"artifact_ttl", cfg.Jobs.ArtifactTTL,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down synthesis service")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Stop accepting requests first, then wait for running jobs.
		err := server.Shutdown(sctx)
		if serr := svc.Shutdown(sctx); serr != nil {
			logger.Warn("Jobs still running at shutdown", "error", serr)
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Synthesis service stopped with error", "error", err)
		return 1
	}
	logger.Info("Synthesis service stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	config.ApplyEnv(cfg)
	return cfg, config.Validate(cfg)
}
