// Package config loads cortex's daemon configuration from a YAML file plus
// environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AcquisitionConfig bounds the layered crawl: how many pages per layer, how
// long L3 rendering is allowed to run, and which domains are off-limits.
type AcquisitionConfig struct {
	MaxPages         int      `yaml:"max_pages"`
	MaxDepth         int      `yaml:"max_depth"`
	RequestTimeout   int      `yaml:"request_timeout_seconds"`
	RenderTimeout    int      `yaml:"render_timeout_seconds"`
	RenderBudget     int      `yaml:"render_budget"`
	Concurrency      int      `yaml:"concurrency"`
	UserAgent        string   `yaml:"user_agent"`
	RespectRobots    bool     `yaml:"respect_robots"`
	DisallowedHosts  []string `yaml:"disallowed_hosts"`
	KnownAPIDomains  []string `yaml:"known_api_domains"`
}

// EmbeddingConfig points at the pluggable HTTP embedding endpoint used for
// VisualStore's image embeddings; the FeatureEncoder does not use it.
type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Path      string `yaml:"path"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	APIHeader string `yaml:"api_header"`
	Timeout   int    `yaml:"timeout_seconds"`
	Dimension int    `yaml:"dimension"`
}

// VectorIndexConfig names a VectorIndex backend ("memory" or "qdrant"); no
// component reads this section at present.
type VectorIndexConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "qdrant"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"`
}

// S3SSEConfig configures server-side encryption for the S3 object store.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id"`
}

// S3Config configures the optional S3-compatible archival backend for
// SiteMap / VisualMemoryStore snapshots.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint"`
	Prefix                string      `yaml:"prefix"`
	AccessKey             string      `yaml:"access_key"`
	SecretKey             string      `yaml:"secret_key"`
	UsePathStyle          bool        `yaml:"use_path_style"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// ObsConfig configures tracing/metrics export.
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
	OTLP           string `yaml:"otlp_endpoint"`
}

// MCPServerConfig describes a single tool/registry name exposed over the
// agent-facing protocol (ProtocolDispatcher).
type MCPServerConfig struct {
	Name string `yaml:"name"`
}

// Config is cortex's top-level daemon configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	LogPath      string             `yaml:"log_path"`
	LogLevel     string             `yaml:"log_level"`
	EventBufSize int                `yaml:"event_buffer_size"`
	DeltaKeep    int                `yaml:"delta_keep"`
	Acquisition  AcquisitionConfig  `yaml:"acquisition"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	VectorIndex  VectorIndexConfig  `yaml:"vector_index"`
	S3           S3Config           `yaml:"s3"`
	Obs          ObsConfig          `yaml:"observability"`
	MCPServers   []MCPServerConfig  `yaml:"mcp_servers"`
}

// Default returns the baseline configuration used when no config file is
// present; the fields read in applyEnv can also be overridden via
// environment variables in Load.
func Default() Config {
	return Config{
		DataDir:      "./data",
		LogLevel:     "info",
		EventBufSize: 256,
		DeltaKeep:    50,
		Acquisition: AcquisitionConfig{
			MaxPages:        500,
			MaxDepth:        6,
			RequestTimeout:  15,
			RenderTimeout:   10,
			RenderBudget:    40,
			Concurrency:     8,
			UserAgent:       "cortex-cartographer/1.0",
			RespectRobots:   true,
			DisallowedHosts: nil,
		},
		Embedding: EmbeddingConfig{
			Path:      "/v1/embeddings",
			Model:     "clip-vit-base-patch32",
			Timeout:   30,
			Dimension: 512,
		},
		VectorIndex: VectorIndexConfig{
			Backend: "memory",
			Metric:  "cosine",
		},
	}
}

// Load reads a YAML file at path (if non-empty and present) over the default
// configuration, then applies CORTEX_* environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("CORTEX_DATA_DIR")); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_LOG_PATH")); v != "" {
		cfg.LogPath = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_EVENT_BUFFER_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EventBufSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_DELTA_KEEP")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DeltaKeep = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_MAX_PAGES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Acquisition.MaxPages = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_USER_AGENT")); v != "" {
		cfg.Acquisition.UserAgent = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_EMBEDDING_BASE_URL")); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_VECTOR_BACKEND")); v != "" {
		cfg.VectorIndex.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_VECTOR_DSN")); v != "" {
		cfg.VectorIndex.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CORTEX_S3_BUCKET")); v != "" {
		cfg.S3.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); v != "" {
		cfg.Obs.OTLP = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.Obs.ServiceName = v
	}
}
