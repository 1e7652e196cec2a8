// Package config loads the credentials and tuning knobs the memory
// substrate's constructors need: graph backend connection info, the
// distributed lock's Redis address, notification stream settings, and
// the configured summarizer provider's API key/model. Values are
// explicit constructor inputs throughout this module — nothing here is
// read from a global.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document. An optional YAML file
// supplies defaults; environment variables always take precedence, so
// deployments can override any field without editing the file.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Redis      RedisConfig      `yaml:"redis"`
	Notify     NotifyConfig     `yaml:"notify"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
}

// GraphConfig selects and configures the graph.Backend.
type GraphConfig struct {
	// Backend is "inmem" or "mongo".
	Backend         string `yaml:"backend"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	NodesCollection string `yaml:"nodes_collection"`
	EdgesCollection string `yaml:"edges_collection"`
}

// RedisConfig configures the redislock.Locks and notify/pulse.Bus, both
// of which share one Redis deployment in a typical install.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// NotifyConfig configures the Pulse-backed notification bus.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	StreamName string `yaml:"stream_name"`
}

// SummarizerConfig selects the LLM provider backing the summarizer
// adapter and its credentials.
type SummarizerConfig struct {
	// Provider is "anthropic", "openai", or "bedrock".
	Provider      string  `yaml:"provider"`
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	AWSRegion     string  `yaml:"aws_region"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Load reads an optional YAML file at path (skipped when path is empty
// or does not exist) and then applies environment variable overrides.
// Environment variables always win over the file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Graph: GraphConfig{Backend: "inmem"},
		Redis: RedisConfig{Address: "localhost:6379", LockTTL: 30 * time.Second},
	}

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_GRAPH_BACKEND")); v != "" {
		cfg.Graph.Backend = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_MONGO_URI")); v != "" {
		cfg.Graph.MongoURI = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_MONGO_DATABASE")); v != "" {
		cfg.Graph.MongoDatabase = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_REDIS_ADDRESS")); v != "" {
		cfg.Redis.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_REDIS_PASSWORD")); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_REDIS_DB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_NOTIFY_ENABLED")); v != "" {
		cfg.Notify.Enabled = strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_NOTIFY_STREAM")); v != "" {
		cfg.Notify.StreamName = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_SUMMARIZER_PROVIDER")); v != "" {
		cfg.Summarizer.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_SUMMARIZER_API_KEY")); v != "" {
		cfg.Summarizer.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_SUMMARIZER_MODEL")); v != "" {
		cfg.Summarizer.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLMEM_AWS_REGION")); v != "" {
		cfg.Summarizer.AWSRegion = v
	}
}
