package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "NATS_URL", "DATABASE_URL", "MINIO_ENDPOINT",
		"MAX_ATTEMPTS", "EXEC_TIMEOUT", "WORKER_CONCURRENCY",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.MaxAttempts != 3 || cfg.Concurrency != 4 {
		t.Fatalf("unexpected worker defaults: attempts=%d concurrency=%d", cfg.MaxAttempts, cfg.Concurrency)
	}
	if cfg.ExecTimeout != 10*time.Minute || cfg.LeaseDuration != 5*time.Minute {
		t.Fatalf("unexpected timeouts: exec=%v lease=%v", cfg.ExecTimeout, cfg.LeaseDuration)
	}
	if cfg.Minio.Bucket != "documents" {
		t.Fatalf("unexpected bucket: %s", cfg.Minio.Bucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("EXEC_TIMEOUT", "90s")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "minio")
	t.Setenv("MINIO_SECRET_KEY", "minio123")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("unexpected max attempts: %d", cfg.MaxAttempts)
	}
	if cfg.ExecTimeout != 90*time.Second {
		t.Fatalf("unexpected exec timeout: %v", cfg.ExecTimeout)
	}
	if !cfg.Minio.UseSSL {
		t.Fatal("MINIO_USE_SSL override not applied")
	}
}

func TestLoadInvalidInteger(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid MAX_ATTEMPTS")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "")
	t.Setenv("LEASE_DURATION", "five minutes")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid LEASE_DURATION")
	}
}

func TestLoadMinioWithoutCredentials(t *testing.T) {
	t.Setenv("LEASE_DURATION", "")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "")
	t.Setenv("MINIO_SECRET_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for minio endpoint without credentials")
	}
}
