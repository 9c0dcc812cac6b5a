// cmd/dispatcher/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-transcriber/internal/bus"
	"github.com/tendant/simple-transcriber/internal/dispatch"
	"github.com/tendant/simple-transcriber/internal/gce"
	"github.com/tendant/simple-transcriber/internal/status"
	"github.com/tendant/simple-transcriber/internal/storage"
	"github.com/tendant/simple-transcriber/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		fatal(logger, "load config", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref := gce.InstanceRef{Project: cfg.Project, Zone: cfg.Zone, Name: cfg.InstanceName}
	logger.Info("dispatcher starting",
		"listen_addr", cfg.ListenAddr,
		"bucket", cfg.Bucket,
		"instance", ref.String(),
		"storage_backend", cfg.StorageBackend,
		"has_token", cfg.Token != "",
	)

	store, err := buildStore(ctx, cfg)
	if err != nil {
		fatal(logger, "build object store", err, "backend", cfg.StorageBackend)
	}

	instances, err := gce.NewInstances(ctx)
	if err != nil {
		fatal(logger, "create compute client", err)
	}

	opts := []dispatch.Option{}

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL, "transcribe-dispatcher")
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
		opts = append(opts, dispatch.WithEvents(nc))

		if _, err := nc.SubscribeJSON(cfg.ResultSubject, logJobDone(logger)); err != nil {
			fatal(logger, "subscribe job results", err, "subject", cfg.ResultSubject)
		}
		logger.Info("listening for job results", "subject", cfg.ResultSubject)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		opts = append(opts, dispatch.WithStatusLookup(status.NewLookup(rdb)))
		logger.Info("job status lookups enabled", "redis_addr", cfg.RedisAddr)
	}

	srv := dispatch.New(dispatch.Config{
		Bucket:          cfg.Bucket,
		Scheme:          cfg.storageScheme(),
		Token:           cfg.Token,
		Instance:        ref,
		Keys:            cfg.Keys,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		PublicBaseURL:   cfg.PublicBaseURL,
		AllowedOrigins:  cfg.AllowedOrigins,
		DispatchSubject: cfg.DispatchSubject,
	}, store, instances, logger, opts...)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "err", err)
		}
	}()

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "serve http", err, "addr", cfg.ListenAddr)
	}
	logger.Info("dispatcher stopped")
}

func buildStore(ctx context.Context, cfg config) (storage.Store, error) {
	if cfg.StorageBackend == "local" {
		return storage.NewLocal(cfg.LocalStorageRoot)
	}
	return storage.NewGCS(ctx)
}

func logJobDone(logger *slog.Logger) func(ctx context.Context, data []byte) {
	return func(_ context.Context, data []byte) {
		var done schema.JobDone
		if err := json.Unmarshal(data, &done); err != nil {
			logger.Warn("decode job result failed", "err", err)
			return
		}
		attrs := []any{"job_id", done.JobID, "final_stage", done.FinalStage, "processing_time_ms", done.ProcessingTimeMs}
		if done.FinalStage != schema.StageUploaded && done.FinalStage != schema.StageUploadSkipped {
			logger.Error("job failed", append(attrs, "failure_type", done.FailureType, "err", done.Error)...)
			return
		}
		logger.Info("job completed", append(attrs, "remote_path", done.RemotePath, "failure_type", done.FailureType)...)
	}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
