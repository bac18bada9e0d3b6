package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go-medscan/internal/imaging"
)

// Backend names accepted by MODEL_BACKEND.
const (
	BackendStub   = "stub"
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

// Saliency modes accepted by SALIENCY_MODE.
const (
	SaliencyAuto      = "auto"
	SaliencyOcclusion = "occlusion"
	SaliencySynthetic = "synthetic"
	SaliencyNone      = "none"
)

type Config struct {
	Host             string
	Port             string
	RequestTimeout   time.Duration
	InferenceTimeout time.Duration
	MaxUploadSize    int64

	UploadDir       string
	UploadURLPrefix string

	Backend          string
	ModelPath        string
	MetadataPath     string
	ONNXRuntimeLib   string
	InferenceURL     string
	StubLatency      time.Duration
	SaliencyMode     string
	OcclusionPatch   int
	OcclusionStride  int
	OcclusionWorkers int

	SentryDSN   string
	Environment string
	LogLevel    string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:             getEnvOrDefault("HOST", "0.0.0.0"),
		Port:             getEnvOrDefault("PORT", "8080"),
		RequestTimeout:   parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		InferenceTimeout: parseDurationOrDefault("INFERENCE_TIMEOUT", 10*time.Second),
		MaxUploadSize:    parseIntOrDefault("MAX_UPLOAD_SIZE", 16*1024*1024), // 16MB
		UploadDir:        getEnvOrDefault("UPLOAD_DIR", "./static/uploads"),
		UploadURLPrefix:  getEnvOrDefault("UPLOAD_URL_PREFIX", "/static/uploads"),
		Backend:          strings.ToLower(getEnvOrDefault("MODEL_BACKEND", BackendStub)),
		ModelPath:        getEnvOrDefault("MODEL_PATH", "./models/model.onnx"),
		MetadataPath:     getEnvOrDefault("MODEL_METADATA_PATH", "./models/model_metadata.json"),
		ONNXRuntimeLib:   os.Getenv("ONNXRUNTIME_LIB"),
		InferenceURL:     getEnvOrDefault("INFERENCE_URL", "http://localhost:5000/predict"),
		StubLatency:      parseDurationOrDefault("STUB_LATENCY", 0),
		SaliencyMode:     strings.ToLower(getEnvOrDefault("SALIENCY_MODE", SaliencyAuto)),
		OcclusionPatch:   int(parseIntOrDefault("OCCLUSION_PATCH", 32)),
		OcclusionStride:  int(parseIntOrDefault("OCCLUSION_STRIDE", 32)),
		OcclusionWorkers: int(parseIntOrDefault("OCCLUSION_WORKERS", 0)),
		SentryDSN:        os.Getenv("SENTRY_DSN"),
		Environment:      getEnvOrDefault("APP_ENV", "production"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants LoadFromEnv relies on. It is exported so CLI flag
// overrides can be re-checked.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.RequestTimeout <= 0 || c.InferenceTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, inference=%s)",
			c.RequestTimeout, c.InferenceTimeout)
	}
	if strings.TrimSpace(c.UploadDir) == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	switch c.Backend {
	case BackendStub, BackendONNX, BackendRemote:
	default:
		return fmt.Errorf("unsupported MODEL_BACKEND: %q", c.Backend)
	}
	switch c.SaliencyMode {
	case SaliencyAuto, SaliencyOcclusion, SaliencySynthetic, SaliencyNone:
	default:
		return fmt.Errorf("unsupported SALIENCY_MODE: %q", c.SaliencyMode)
	}
	if c.OcclusionPatch <= 0 || c.OcclusionStride <= 0 {
		return fmt.Errorf("occlusion patch and stride must be > 0 (got patch=%d, stride=%d)",
			c.OcclusionPatch, c.OcclusionStride)
	}
	if c.OcclusionPatch > imaging.Size || imaging.Size%c.OcclusionPatch != 0 || c.OcclusionStride != c.OcclusionPatch {
		return fmt.Errorf("OCCLUSION_PATCH must divide %d and equal OCCLUSION_STRIDE (got patch=%d, stride=%d)",
			imaging.Size, c.OcclusionPatch, c.OcclusionStride)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
