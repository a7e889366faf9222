package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/edvin/rollout/internal/model"
)

type Config struct {
	DatabaseURL     string
	TemporalAddress string
	HTTPListenAddr  string
	MetricsAddr     string
	LogLevel        string
	ServiceName     string

	// TargetsFile is the YAML file describing the deployment targets. It is
	// loaded once at process start; targets are immutable afterwards.
	TargetsFile string

	// WorkspaceDir is the directory under which checked-out source trees
	// live; a run's source ref names a subdirectory of it.
	WorkspaceDir   string
	DockerfileName string

	// ImageRepository is the registry repository built images are tagged
	// into (e.g. "registry.example.com/myorg/app").
	ImageRepository string

	RegistryUsername     string
	RegistryPassword     string
	RegistryPasswordFile string

	// WebhookSecret is the shared secret used to verify push-event webhook
	// signatures.
	WebhookSecret string

	RetryMaxAttempts        int
	RetryInitialBackoffSecs int
	RetryMaxBackoffSecs     int
	BuildTimeoutSecs        int
	PublishTimeoutSecs      int
	RolloutTimeoutSecs      int
	RolloutQueueTimeoutSecs int

	RunRetentionDays int

	MigrationsDir string

	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		TemporalAddress: getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		HTTPListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsAddr:     getEnv("METRICS_ADDR", ""),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ServiceName:     getEnv("SERVICE_NAME", "rollout"),

		TargetsFile:    getEnv("TARGETS_FILE", "targets.yaml"),
		WorkspaceDir:   getEnv("WORKSPACE_DIR", ""),
		DockerfileName: getEnv("DOCKERFILE_NAME", "Dockerfile"),

		ImageRepository: getEnv("IMAGE_REPOSITORY", ""),

		RegistryUsername:     getEnv("REGISTRY_USERNAME", ""),
		RegistryPassword:     getEnv("REGISTRY_PASSWORD", ""),
		RegistryPasswordFile: getEnv("REGISTRY_PASSWORD_FILE", ""),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		RetryMaxAttempts:        getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoffSecs: getEnvInt("RETRY_INITIAL_BACKOFF_SECS", 5),
		RetryMaxBackoffSecs:     getEnvInt("RETRY_MAX_BACKOFF_SECS", 60),
		BuildTimeoutSecs:        getEnvInt("BUILD_TIMEOUT_SECS", 900),
		PublishTimeoutSecs:      getEnvInt("PUBLISH_TIMEOUT_SECS", 300),
		RolloutTimeoutSecs:      getEnvInt("ROLLOUT_TIMEOUT_SECS", 600),
		RolloutQueueTimeoutSecs: getEnvInt("ROLLOUT_QUEUE_TIMEOUT_SECS", 3600),

		RunRetentionDays: getEnvInt("RUN_RETENTION_DAYS", 90),

		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),
	}

	if cfg.RegistryPassword == "" && cfg.RegistryPasswordFile != "" {
		data, err := os.ReadFile(cfg.RegistryPasswordFile)
		if err != nil {
			return nil, fmt.Errorf("read registry password file: %w", err)
		}
		cfg.RegistryPassword = strings.TrimSpace(string(data))
	}

	return cfg, nil
}

// Validate checks that the fields required by the given binary role
// ("api" or "worker") are set.
func (c *Config) Validate(role string) error {
	var missing []string

	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.TargetsFile == "" {
		missing = append(missing, "TARGETS_FILE")
	}

	if role == "worker" {
		if c.WorkspaceDir == "" {
			missing = append(missing, "WORKSPACE_DIR")
		}
		if c.ImageRepository == "" {
			missing = append(missing, "IMAGE_REPOSITORY")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// PipelineSettings snapshots the retry and timeout configuration in the shape
// handed to pipeline workflows.
func (c *Config) PipelineSettings() model.PipelineSettings {
	return model.PipelineSettings{
		MaxAttempts:         c.RetryMaxAttempts,
		InitialBackoffSecs:  c.RetryInitialBackoffSecs,
		MaxBackoffSecs:      c.RetryMaxBackoffSecs,
		BuildTimeoutSecs:    c.BuildTimeoutSecs,
		PublishTimeoutSecs:  c.PublishTimeoutSecs,
		RolloutTimeoutSecs:  c.RolloutTimeoutSecs,
		RolloutQueueTimeout: c.RolloutQueueTimeoutSecs,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
