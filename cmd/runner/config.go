// cmd/runner/config.go
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tendant/simple-transcriber/internal/host"
	"github.com/tendant/simple-transcriber/internal/metadata"
	"github.com/tendant/simple-transcriber/internal/storage"
	"github.com/tendant/simple-transcriber/internal/transcribe"
)

const (
	shutdownPowerOff = "poweroff"
	shutdownCompute  = "compute"
	shutdownNone     = "none"
)

type config struct {
	WorkRoot        string
	OutputRoot      string
	ArtifactPattern string
	Keys            metadata.Keys

	TranscribeBin     string
	TranscribeDevice  string
	TranscribeArgs    []string
	TranscribeTimeout time.Duration
	Salvage           bool

	HostShutdown    string
	ShutdownCommand []string

	S3 storage.S3Config
	// LocalStorageRoot serves local:// locators from a directory tree.
	LocalStorageRoot string

	NATSURL       string
	ResultSubject string
	RedisAddr     string
	RedisPassword string

	LogLevel slog.Level
}

func LoadConfig() (config, error) {
	keys := metadata.DefaultKeys()
	cfg := config{
		WorkRoot:        getenv("WORK_ROOT", "/tmp/transcribe"),
		OutputRoot:      getenv("OUTPUT_ROOT", ""),
		ArtifactPattern: getenv("ARTIFACT_PATTERN", transcribe.DefaultArtifactPattern),
		Keys: metadata.Keys{
			InputLocator:    getenv("METADATA_KEY_INPUT", keys.InputLocator),
			OutputBucket:    getenv("METADATA_KEY_OUTPUT_BUCKET", keys.OutputBucket),
			CredentialToken: getenv("METADATA_KEY_TOKEN", keys.CredentialToken),
			JobID:           getenv("METADATA_KEY_JOB_ID", keys.JobID),
		},
		TranscribeBin:    getenv("TRANSCRIBE_BIN", transcribe.DefaultBinary),
		TranscribeDevice: getenv("TRANSCRIBE_DEVICE", ""),
		TranscribeArgs:   strings.Fields(getenv("TRANSCRIBE_ARGS", "")),
		Salvage:          getenvBool("SALVAGE_PARTIAL_OUTPUT", false),
		HostShutdown:     strings.ToLower(getenv("HOST_SHUTDOWN", shutdownPowerOff)),
		ShutdownCommand:  strings.Fields(getenv("SHUTDOWN_COMMAND", "shutdown -h now")),
		S3: storage.S3Config{
			Endpoint:  getenv("S3_ENDPOINT", ""),
			AccessKey: getenv("S3_ACCESS_KEY", ""),
			SecretKey: getenv("S3_SECRET_KEY", ""),
			UseSSL:    getenvBool("S3_USE_SSL", true),
			Region:    getenv("S3_REGION", ""),
		},
		LocalStorageRoot: getenv("LOCAL_STORAGE_ROOT", ""),
		NATSURL:          getenv("NATS_URL", ""),
		ResultSubject:    getenv("TRANSCRIBE_RESULT_SUBJECT", "transcribe.done"),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
	}

	timeout, err := parseNonNegativeDuration(getenv("TRANSCRIBE_TIMEOUT", "4h"), "TRANSCRIBE_TIMEOUT")
	if err != nil {
		return config{}, err
	}
	cfg.TranscribeTimeout = timeout

	switch cfg.HostShutdown {
	case shutdownPowerOff, shutdownCompute, shutdownNone:
	default:
		return config{}, fmt.Errorf("HOST_SHUTDOWN must be one of poweroff, compute, none (got %q)", cfg.HostShutdown)
	}
	if cfg.HostShutdown == shutdownPowerOff && len(cfg.ShutdownCommand) == 0 {
		return config{}, fmt.Errorf("SHUTDOWN_COMMAND must not be empty")
	}

	if cfg.S3.Endpoint != "" && (cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "") {
		return config{}, fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENDPOINT is set")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// fallbackShutdowner is used when the config cannot be loaded. Only an
// explicit HOST_SHUTDOWN=none keeps the host running.
func fallbackShutdowner() host.Shutdowner {
	if strings.ToLower(getenv("HOST_SHUTDOWN", "")) == shutdownNone {
		return host.Noop{}
	}
	return host.NewPowerOff(strings.Fields(getenv("SHUTDOWN_COMMAND", "")))
}

func parseNonNegativeDuration(value, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative (got %s)", name, d)
	}
	return d, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true" || val == "1"
}
