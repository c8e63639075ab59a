package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("REGISTRY_BACKEND", "")
	t.Setenv("JOB_DISPATCH", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("MAX_INGREDIENT_CHARS", "")
	t.Setenv("RELAY_TIMEOUT", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RegistryBackend != RegistryMemory {
		t.Fatalf("RegistryBackend = %q, want %q", cfg.RegistryBackend, RegistryMemory)
	}
	if cfg.JobDispatch != DispatchInProcess {
		t.Fatalf("JobDispatch = %q, want %q", cfg.JobDispatch, DispatchInProcess)
	}
	if cfg.MaxIngredientChars != 1000 {
		t.Fatalf("MaxIngredientChars = %d, want 1000", cfg.MaxIngredientChars)
	}
	if cfg.RelayTimeout != 2*time.Second {
		t.Fatalf("RelayTimeout = %s, want 2s", cfg.RelayTimeout)
	}
	if cfg.StorageRetention != 24*time.Hour {
		t.Fatalf("StorageRetention = %s, want 24h", cfg.StorageRetention)
	}
	expected := "http://localhost:8080/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := "http://localhost:1919/static"
	if cfg.StorageBaseURL != expected {
		t.Fatalf("StorageBaseURL mismatch: got %q want %q", cfg.StorageBaseURL, expected)
	}
}

func TestLoadConfigRequiresBackendSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "redis without url", env: map[string]string{"REGISTRY_BACKEND": "redis", "REDIS_URL": ""}},
		{name: "postgres without dsn", env: map[string]string{"REGISTRY_BACKEND": "postgres", "DATABASE_URL": ""}},
		{name: "nats without url", env: map[string]string{"REGISTRY_BACKEND": "redis", "REDIS_URL": "redis://localhost:6379", "JOB_DISPATCH": "nats", "NATS_URL": ""}},
		{name: "nats with memory registry", env: map[string]string{"REGISTRY_BACKEND": "memory", "JOB_DISPATCH": "nats", "NATS_URL": "nats://localhost:4222"}},
		{name: "s3 without bucket", env: map[string]string{"STORAGE_BACKEND": "s3", "S3_BUCKET": ""}},
		{name: "unknown registry", env: map[string]string{"REGISTRY_BACKEND": "dynamo"}},
		{name: "ttl shorter than keepalive", env: map[string]string{"REGISTRY_TTL": "30s"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected LoadConfig to fail")
			}
		})
	}
}

func TestLoadConfigParsesOriginsAndDurations(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://app.example.com ,, http://localhost:5173")
	t.Setenv("RELAY_TIMEOUT", "750ms")
	t.Setenv("PROGRESS_NOTICES", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:5173"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %#v, want %#v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Fatalf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}
	if cfg.RelayTimeout != 750*time.Millisecond {
		t.Fatalf("RelayTimeout = %s, want 750ms", cfg.RelayTimeout)
	}
	if cfg.ProgressNotices {
		t.Fatalf("ProgressNotices = true, want false")
	}
}
