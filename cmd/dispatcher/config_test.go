package main

import (
	"reflect"
	"testing"
)

func setDispatcherEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range []string{
		"LISTEN_ADDR", "GCP_PROJECT", "GCE_ZONE", "GCE_INSTANCE_NAME", "GCS_BUCKET_NAME",
		"HUGGING_FACE_TOKEN", "MAX_UPLOAD_BYTES", "PUBLIC_BASE_URL", "CORS_ALLOWED_ORIGINS",
		"STORAGE_BACKEND", "LOCAL_STORAGE_ROOT", "NATS_URL", "REDIS_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	setDispatcherEnv(t, map[string]string{"GCP_PROJECT": "proj", "GCS_BUCKET_NAME": "transcripts"})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Zone != "us-east1-b" || cfg.InstanceName != "transcribe-worker-vm" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxUploadBytes != 16<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.MaxUploadBytes)
	}
	if cfg.StorageBackend != "gcs" || cfg.Keys.CredentialToken != "huggingface-token" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.storageScheme() != "gs" {
		t.Fatalf("unexpected scheme %q", cfg.storageScheme())
	}
}

func TestLoadConfigLocalBackendScheme(t *testing.T) {
	setDispatcherEnv(t, map[string]string{
		"GCP_PROJECT":     "proj",
		"GCS_BUCKET_NAME": "transcripts",
		"STORAGE_BACKEND": "LOCAL",
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.storageScheme() != "local" {
		t.Fatalf("unexpected scheme %q", cfg.storageScheme())
	}
}

func TestLoadConfigOrigins(t *testing.T) {
	setDispatcherEnv(t, map[string]string{
		"GCP_PROJECT":          "proj",
		"GCS_BUCKET_NAME":      "transcripts",
		"CORS_ALLOWED_ORIGINS": "https://a.example.com, ,https://b.example.com",
	})

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("origins = %v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing project", map[string]string{"GCS_BUCKET_NAME": "b"}},
		{"missing bucket", map[string]string{"GCP_PROJECT": "p"}},
		{"bad upload limit", map[string]string{"GCP_PROJECT": "p", "GCS_BUCKET_NAME": "b", "MAX_UPLOAD_BYTES": "-5"}},
		{"bad backend", map[string]string{"GCP_PROJECT": "p", "GCS_BUCKET_NAME": "b", "STORAGE_BACKEND": "ftp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setDispatcherEnv(t, tt.env)
			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
