// cmd/dispatcher/config.go
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tendant/simple-transcriber/internal/dispatch"
	"github.com/tendant/simple-transcriber/internal/metadata"
)

type config struct {
	ListenAddr     string
	Project        string
	Zone           string
	InstanceName   string
	Bucket         string
	Token          string
	MaxUploadBytes int64
	PublicBaseURL  string
	AllowedOrigins []string
	Keys           metadata.Keys

	StorageBackend   string
	LocalStorageRoot string

	NATSURL         string
	ResultSubject   string
	DispatchSubject string
	RedisAddr       string
	RedisPassword   string

	LogLevel slog.Level
}

func LoadConfig() (config, error) {
	keys := metadata.DefaultKeys()
	cfg := config{
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		Project:       getenv("GCP_PROJECT", ""),
		Zone:          getenv("GCE_ZONE", "us-east1-b"),
		InstanceName:  getenv("GCE_INSTANCE_NAME", "transcribe-worker-vm"),
		Bucket:        getenv("GCS_BUCKET_NAME", ""),
		Token:         getenv("HUGGING_FACE_TOKEN", ""),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", ""),
		Keys: metadata.Keys{
			InputLocator:    getenv("METADATA_KEY_INPUT", keys.InputLocator),
			OutputBucket:    getenv("METADATA_KEY_OUTPUT_BUCKET", keys.OutputBucket),
			CredentialToken: getenv("METADATA_KEY_TOKEN", keys.CredentialToken),
			JobID:           getenv("METADATA_KEY_JOB_ID", keys.JobID),
		},
		StorageBackend:   strings.ToLower(getenv("STORAGE_BACKEND", "gcs")),
		LocalStorageRoot: getenv("LOCAL_STORAGE_ROOT", "./data/buckets"),
		NATSURL:          getenv("NATS_URL", ""),
		ResultSubject:    getenv("TRANSCRIBE_RESULT_SUBJECT", "transcribe.done"),
		DispatchSubject:  getenv("DISPATCH_SUBJECT", "transcribe.dispatched"),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
	}

	if origins := getenv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	maxBytes, err := parsePositiveInt64(getenv("MAX_UPLOAD_BYTES", strconv.Itoa(dispatch.DefaultMaxUploadBytes)), "MAX_UPLOAD_BYTES")
	if err != nil {
		return config{}, err
	}
	cfg.MaxUploadBytes = maxBytes

	if cfg.Project == "" {
		return config{}, fmt.Errorf("GCP_PROJECT is required")
	}
	if cfg.Bucket == "" {
		return config{}, fmt.Errorf("GCS_BUCKET_NAME is required")
	}
	switch cfg.StorageBackend {
	case "gcs", "local":
	default:
		return config{}, fmt.Errorf("STORAGE_BACKEND must be gcs or local (got %q)", cfg.StorageBackend)
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// storageScheme is the locator scheme the runner resolves uploads under.
func (c config) storageScheme() string {
	if c.StorageBackend == "local" {
		return "local"
	}
	return "gs"
}

func parsePositiveInt64(value, name string) (int64, error) {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
