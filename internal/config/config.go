// Package config loads process configuration from the environment. Every
// knob has a default that works for a single-node development run with the
// in-memory ledger, store and transport.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/CoderFake/document-processing-system/internal/artifact"
)

type Config struct {
	// HTTPAddr is the API listen address.
	HTTPAddr string

	// NATSURL enables the JetStream transport when set; empty selects the
	// in-process transport (single-node runs and tests).
	NATSURL     string
	NATSAckWait time.Duration

	// DatabaseURL enables the Postgres ledger when set; empty selects the
	// in-memory ledger.
	DatabaseURL string

	// Minio holds the object store settings; an empty endpoint selects the
	// in-memory store.
	Minio artifact.MinioConfig

	// ToolsConfig is an optional YAML file overriding external tool paths.
	ToolsConfig string

	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	LeaseDuration  time.Duration
	ExecTimeout    time.Duration
	SweepInterval  time.Duration
	Concurrency    int
	WorkDir        string
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		NATSURL:     getenv("NATS_URL", ""),
		DatabaseURL: getenv("DATABASE_URL", ""),
		ToolsConfig: getenv("TOOLS_CONFIG", ""),
		WorkDir:     getenv("WORK_DIR", ""),
		Minio: artifact.MinioConfig{
			Endpoint:  getenv("MINIO_ENDPOINT", ""),
			AccessKey: getenv("MINIO_ACCESS_KEY", ""),
			SecretKey: getenv("MINIO_SECRET_KEY", ""),
			Bucket:    getenv("MINIO_BUCKET", "documents"),
		},
	}

	var err error
	if cfg.MaxAttempts, err = getenvInt("MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	if cfg.Concurrency, err = getenvInt("WORKER_CONCURRENCY", 4); err != nil {
		return Config{}, err
	}
	if cfg.NATSAckWait, err = getenvDuration("NATS_ACK_WAIT", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = getenvDuration("RETRY_BASE_DELAY", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxDelay, err = getenvDuration("RETRY_MAX_DELAY", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.LeaseDuration, err = getenvDuration("LEASE_DURATION", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.ExecTimeout, err = getenvDuration("EXEC_TIMEOUT", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = getenvDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	cfg.Minio.UseSSL = getenvBool("MINIO_USE_SSL", false)

	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.Minio.Endpoint != "" && (cfg.Minio.AccessKey == "" || cfg.Minio.SecretKey == "") {
		return Config{}, fmt.Errorf("MINIO_ENDPOINT is set but credentials are missing")
	}
	return cfg, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func getenvInt(key string, defaultValue int) (int, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val := getenv(key, "")
	if val == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 5m: %w", key, err)
	}
	return d, nil
}
