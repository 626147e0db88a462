// Package config loads DICE's service-mode settings (§6: "CLI surface... not
// part of the core") via github.com/spf13/viper, so an operator can run the
// pipeline as a long-lived process without the library itself knowing
// anything about environment variables or config files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kittclouds/dice/internal/dicerr"
)

// LLMConfig configures the Anthropic collaborator (pkg/llm).
type LLMConfig struct {
	APIKey     string
	Model      string
	MaxTokens  int64
	Timeout    time.Duration
	MaxRetries int
}

// EmbedConfig configures the embedding collaborator (pkg/embed).
type EmbedConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// StoreConfig configures the SQLite-backed repository (internal/store).
type StoreConfig struct {
	DSN string
}

// AnalyzerConfig configures the incremental windowed analyzer (pkg/analyzer).
type AnalyzerConfig struct {
	WindowSize   int
	Overlap      int
	TriggerEvery int
}

// ReviserConfig configures the revision stage (pkg/reviser).
type ReviserConfig struct {
	TopK               int
	AutoMergeThreshold float64
}

// WorkerPoolConfig configures cross-context concurrency (internal/workerpool).
type WorkerPoolConfig struct {
	Capacity int
}

// TelemetryConfig configures the OpenTelemetry trace provider (internal/telemetry).
type TelemetryConfig struct {
	ServiceName string
}

// Config is the complete set of settings a dicectl process reads at startup.
// The core library itself is never constructed from Config directly; each
// package's own Config/NewConfig builder validates its own slice of these
// values at construction time, per §7.
type Config struct {
	LLM        LLMConfig
	Embed      EmbedConfig
	Store      StoreConfig
	Analyzer   AnalyzerConfig
	Reviser    ReviserConfig
	WorkerPool WorkerPoolConfig
	Telemetry  TelemetryConfig
}

// Load builds a Config from (in increasing priority) built-in defaults, an
// optional config file at path, and environment variables prefixed DICE_
// (e.g. DICE_LLM_APIKEY, DICE_STORE_DSN). path may be empty to skip the file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("dice")
	v.SetEnvKeyReplacer(envKeyReplacer())
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := Config{
		LLM: LLMConfig{
			APIKey:     v.GetString("llm.apikey"),
			Model:      v.GetString("llm.model"),
			MaxTokens:  v.GetInt64("llm.maxtokens"),
			Timeout:    v.GetDuration("llm.timeout"),
			MaxRetries: v.GetInt("llm.maxretries"),
		},
		Embed: EmbedConfig{
			APIKey:  v.GetString("embed.apikey"),
			BaseURL: v.GetString("embed.baseurl"),
			Model:   v.GetString("embed.model"),
		},
		Store: StoreConfig{
			DSN: v.GetString("store.dsn"),
		},
		Analyzer: AnalyzerConfig{
			WindowSize:   v.GetInt("analyzer.windowsize"),
			Overlap:      v.GetInt("analyzer.overlap"),
			TriggerEvery: v.GetInt("analyzer.triggerevery"),
		},
		Reviser: ReviserConfig{
			TopK:               v.GetInt("reviser.topk"),
			AutoMergeThreshold: v.GetFloat64("reviser.automergethreshold"),
		},
		WorkerPool: WorkerPoolConfig{
			Capacity: v.GetInt("workerpool.capacity"),
		},
		Telemetry: TelemetryConfig{
			ServiceName: v.GetString("telemetry.servicename"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.model", "claude-3-5-haiku-20241022")
	v.SetDefault("llm.maxtokens", 2048)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.maxretries", 3)

	v.SetDefault("embed.model", "text-embedding-ada-002")

	v.SetDefault("store.dsn", "dice.db")

	v.SetDefault("analyzer.windowsize", 20)
	v.SetDefault("analyzer.overlap", 5)
	v.SetDefault("analyzer.triggerevery", 1)

	v.SetDefault("reviser.topk", 10)
	v.SetDefault("reviser.automergethreshold", 0.95)

	v.SetDefault("workerpool.capacity", 8)

	v.SetDefault("telemetry.servicename", "dice")
}

// validate reports the config-level constraints that don't already belong to
// a single package's own builder (e.g. cross-cutting required fields for
// running as a service at all). Per-package threshold validation still
// happens in each package's own NewConfig.
func (c Config) validate() error {
	if c.Analyzer.Overlap >= c.Analyzer.WindowSize {
		return dicerr.Config("config.Load", "analyzer.overlap must be less than analyzer.windowsize")
	}
	if c.WorkerPool.Capacity <= 0 {
		return dicerr.Config("config.Load", "workerpool.capacity must be positive")
	}
	return nil
}

// envKeyReplacer maps a viper key like "llm.apikey" to the environment
// variable suffix LLM_APIKEY, read under the DICE_ prefix set by Load.
func envKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
