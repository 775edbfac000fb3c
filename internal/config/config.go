// Package config loads application configuration from a YAML file, a .env
// file, and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Search   SearchConfig   `mapstructure:"search"`
	Chunk    ChunkConfig    `mapstructure:"chunk"`
	Server   ServerConfig   `mapstructure:"server"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type LLMConfig struct {
	Provider   string `mapstructure:"provider"`
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	EmbedModel string `mapstructure:"embed_model"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

type SearchConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

type ChunkConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}
	if c.Vector.Collection == "" {
		warnings = append(warnings, "vector.collection is empty")
	}
	if c.Search.MaxResults <= 0 {
		warnings = append(warnings, fmt.Sprintf("search.max_results %d must be positive", c.Search.MaxResults))
	}
	if c.Chunk.Size <= 0 {
		warnings = append(warnings, fmt.Sprintf("chunk.size %d must be positive", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		warnings = append(warnings, fmt.Sprintf("chunk.overlap %d must be in [0, chunk.size)", c.Chunk.Overlap))
	}
	return warnings
}

// legacyEnvAliases maps config keys to the flat environment variable names the
// original deployment scripts use. They apply only when set.
var legacyEnvAliases = map[string]string{
	"llm.api_key":        "GROQ_API_KEY",
	"llm.embed_model":    "EMBEDDING_MODEL",
	"vector.api_key":     "QDRANT_API_KEY",
	"vector.collection":  "COLLECTION_NAME",
	"search.max_results": "MAX_SEARCH_RESULTS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.model", "openai/gpt-oss-20b")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "pdf_chunks")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("chunk.size", 500)
	v.SetDefault("chunk.overlap", 100)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("temporal.host", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "docquery-ingest")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env, and the environment apply. A missing file at an explicit path is an
// error; a missing .env is not.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("DOCQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	for key, env := range legacyEnvAliases {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}
	applyQdrantURL(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}
	return &cfg, nil
}

// applyQdrantURL splits a QDRANT_URL like https://host:6334 into host, port,
// and TLS settings.
func applyQdrantURL(v *viper.Viper) {
	raw := os.Getenv("QDRANT_URL")
	if raw == "" {
		return
	}

	useTLS := strings.HasPrefix(raw, "https://")
	hostPort := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	hostPort = strings.TrimSuffix(hostPort, "/")

	host := hostPort
	port := 6334
	if i := strings.LastIndex(hostPort, ":"); i >= 0 {
		host = hostPort[:i]
		fmt.Sscanf(hostPort[i+1:], "%d", &port)
	}

	v.Set("vector.host", host)
	v.Set("vector.port", port)
	v.Set("vector.use_tls", useTLS)
}
