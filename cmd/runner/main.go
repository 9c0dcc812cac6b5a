// cmd/runner/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-transcriber/internal/bus"
	"github.com/tendant/simple-transcriber/internal/gce"
	"github.com/tendant/simple-transcriber/internal/host"
	"github.com/tendant/simple-transcriber/internal/metadata"
	"github.com/tendant/simple-transcriber/internal/runner"
	"github.com/tendant/simple-transcriber/internal/status"
	"github.com/tendant/simple-transcriber/internal/storage"
	"github.com/tendant/simple-transcriber/internal/transcribe"
)

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid config, shutting down host", "err", err)
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if serr := host.NewOnce(fallbackShutdowner()).Shutdown(sctx); serr != nil {
			logger.Error("host shutdown failed", "err", serr)
		}
		cancel()
		fatal(logger, "load config", err)
	}
	logger.Info("runner starting",
		"work_root", cfg.WorkRoot,
		"output_root", cfg.OutputRoot,
		"tool", cfg.TranscribeBin,
		"device", cfg.TranscribeDevice,
		"timeout", cfg.TranscribeTimeout,
		"salvage", cfg.Salvage,
		"host_shutdown", cfg.HostShutdown,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	md := metadata.NewClient(nil, cfg.Keys)

	stores := buildStores(ctx, cfg, logger)

	tool := transcribe.NewTool(transcribe.ToolConfig{
		Binary:    cfg.TranscribeBin,
		Device:    cfg.TranscribeDevice,
		ExtraArgs: cfg.TranscribeArgs,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	})
	if err := tool.Available(); err != nil {
		logger.Warn("transcription tool not found", "tool", tool.Name(), "err", err)
	}

	reporters, flush := buildReporters(ctx, cfg, logger)

	instance := ""
	if inst, err := md.Instance(ctx); err != nil {
		logger.Warn("resolve instance identity failed", "err", err)
	} else {
		instance = inst.Name
		logger.Info("running on instance", "project", inst.ProjectID, "zone", inst.Zone, "instance", inst.Name)
	}

	r := runner.New(runner.Config{
		WorkRoot:        cfg.WorkRoot,
		OutputRoot:      cfg.OutputRoot,
		ArtifactPattern: cfg.ArtifactPattern,
		Timeout:         cfg.TranscribeTimeout,
		Salvage:         cfg.Salvage,
		Instance:        instance,
	}, runner.Deps{
		Params:   md,
		Stores:   stores,
		Tool:     tool,
		Host:     buildShutdowner(ctx, cfg, md, logger),
		Reporter: reporters,
		Logger:   logger,
		Flush:    flush,
	})

	out := r.Run(ctx)
	if !out.OK() {
		logger.Error("job failed", "job_id", out.JobID, "stage", out.Stage, "failure_type", out.Failure, "err", out.Err)
		os.Exit(1)
	}
	logger.Info("job finished", "job_id", out.JobID, "stage", out.Stage, "remote_path", out.RemotePath)
}

// buildStores registers every object store that can be configured. A store
// that fails to initialize is left out; jobs referencing it fail at download
// or upload and still shut the host down.
func buildStores(ctx context.Context, cfg config, logger *slog.Logger) *storage.Registry {
	stores := storage.NewRegistry()

	gcsStore, err := storage.NewGCS(ctx)
	if err != nil {
		logger.Error("gcs store unavailable", "err", err)
	} else {
		stores.Register("gs", gcsStore)
	}

	if cfg.S3.Endpoint != "" {
		s3Store, err := storage.NewS3(cfg.S3)
		if err != nil {
			logger.Error("s3 store unavailable", "endpoint", cfg.S3.Endpoint, "err", err)
		} else {
			stores.Register("s3", s3Store)
		}
	}
	if cfg.LocalStorageRoot != "" {
		localStore, err := storage.NewLocal(cfg.LocalStorageRoot)
		if err != nil {
			logger.Error("local store unavailable", "root", cfg.LocalStorageRoot, "err", err)
		} else {
			stores.Register("local", localStore)
		}
	}
	logger.Info("object stores ready", "schemes", stores.Schemes())
	return stores
}

func buildShutdowner(ctx context.Context, cfg config, md *metadata.Client, logger *slog.Logger) host.Shutdowner {
	switch cfg.HostShutdown {
	case shutdownNone:
		logger.Warn("host shutdown disabled")
		return host.Noop{}
	case shutdownCompute:
		instances, err := gce.NewInstances(ctx)
		if err == nil {
			return &host.InstanceStopper{Locator: md, Compute: instances}
		}
		logger.Error("compute api unavailable, falling back to poweroff", "err", err)
	}
	return host.NewPowerOff(cfg.ShutdownCommand)
}

func buildReporters(ctx context.Context, cfg config, logger *slog.Logger) (status.Reporter, func(context.Context)) {
	var reporters status.Multi
	var closers []func(context.Context)

	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL, "transcribe-runner")
		if err != nil {
			logger.Error("nats unavailable, lifecycle events disabled", "nats_url", cfg.NATSURL, "err", err)
		} else {
			logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "subject", cfg.ResultSubject)
			reporters = append(reporters, status.NewNATS(nc, cfg.ResultSubject, logger))
			closers = append(closers, func(ctx context.Context) {
				if err := nc.Flush(ctx); err != nil {
					logger.Warn("flush nats failed", "err", err)
				}
				nc.Close()
			})
		}
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis ping failed, status writes may fail", "redis_addr", cfg.RedisAddr, "err", err)
		}
		cancel()
		reporters = append(reporters, status.NewRedis(rdb, logger))
		closers = append(closers, func(context.Context) { _ = rdb.Close() })
	}

	flush := func(ctx context.Context) {
		for _, c := range closers {
			c(ctx)
		}
	}
	return reporters, flush
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
