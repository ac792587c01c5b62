// Package config provides configuration loading from environment variables
// and scheduler configuration lookups.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the condor agent.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	ScheddName     string        // Default schedd for queries (empty = local schedd)
	SubmitDir      string        // Staging root; empty falls back to CONDOR_AGENT_SUBMIT_DIR
	CondorBinDir   string        // Directory holding condor_* binaries (empty = PATH)
	CommandTimeout time.Duration // Per-command bound (0 = unbounded)
	MaxUploadSize  int64         // Request body cap in bytes
	ConfigOverlay  string        // YAML overlay file or URL (empty = none)

	LogLevel  string
	LogFormat string

	TracesExporter string
	OTLPEndpoint   string
	TraceSampling  float64
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8008"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		ScheddName:     GetEnv("SCHEDD_NAME", ""),
		SubmitDir:      GetEnv("SUBMIT_DIR", ""),
		CondorBinDir:   GetEnv("CONDOR_BIN_DIR", ""),
		CommandTimeout: GetDurationEnv("COMMAND_TIMEOUT", 10*time.Minute),
		MaxUploadSize:  GetInt64Env("MAX_UPLOAD_SIZE", 1<<30),
		ConfigOverlay:  GetEnv("CONDOR_CONFIG_OVERLAY", ""),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		TracesExporter: GetEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint:   GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		TraceSampling:  GetFloatEnv("OTEL_TRACES_SAMPLER_ARG", 1.0),
	}
}
