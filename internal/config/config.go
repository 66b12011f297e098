// Package config holds the daemon's configuration struct, its defaults,
// and its validators (spec.md §6). YAML authoring/merging/CLI-flag
// plumbing is an external, out-of-scope concern per spec.md §1's
// Non-goals; LoadFile is only the thin seam the daemon needs to read a
// single YAML document from disk, grounded on the teacher's
// gopkg.in/yaml.v3-tagged Config struct (internal/config/config.go).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncMethod is the closed set of spoke synchronization mechanisms.
type SyncMethod string

const (
	SyncSyncthing SyncMethod = "syncthing"
	SyncRsync     SyncMethod = "rsync"
)

// EmbeddingProvider is the closed set of embedding backends.
type EmbeddingProvider string

const (
	EmbeddingOllama EmbeddingProvider = "ollama"
	EmbeddingGenAI  EmbeddingProvider = "genai"
	EmbeddingMock   EmbeddingProvider = "mock"
)

// RsyncOptions configures the (externally executed) rsync invocation for
// a spoke. ExtraArgs is validated to reject remote-shell overrides,
// which would let a config file smuggle arbitrary command execution
// into an rsync invocation.
type RsyncOptions struct {
	ExtraArgs []string `yaml:"extra_args"`
}

// SpokeConfig describes one secondary transcript source synced
// one-way into the hub.
type SpokeConfig struct {
	Name         string        `yaml:"name"`
	SyncMethod   SyncMethod    `yaml:"sync_method"`
	Path         string        `yaml:"path"`
	Source       string        `yaml:"source,omitempty"`
	Enabled      bool          `yaml:"enabled"`
	Schedule     string        `yaml:"schedule,omitempty"`
	RsyncOptions *RsyncOptions `yaml:"rsync_options,omitempty"`
}

// HubConfig configures the hub process.
type HubConfig struct {
	SessionsDir string `yaml:"sessions_dir"`
	DatabaseDir string `yaml:"database_dir"`
	WebUIPort   int    `yaml:"web_ui_port"`
}

// DaemonConfig configures the ingestion pipeline and consolidation
// scheduler tunables enumerated in spec.md §6.
type DaemonConfig struct {
	IdleTimeoutMinutes     int `yaml:"idle_timeout_minutes"`
	ParallelWorkers        int `yaml:"parallel_workers"`
	MaxRetries             int `yaml:"max_retries"`
	RetryDelaySeconds      int `yaml:"retry_delay_seconds"`
	AnalysisTimeoutMinutes int `yaml:"analysis_timeout_minutes"`
	MaxConcurrentAnalysis  int `yaml:"max_concurrent_analysis"`
	MaxQueueSize           int `yaml:"max_queue_size"`

	ReanalysisSchedule          string `yaml:"reanalysis_schedule"`
	ConnectionDiscoverySchedule string `yaml:"connection_discovery_schedule"`
	PatternAggregationSchedule  string `yaml:"pattern_aggregation_schedule"`
	ClusteringSchedule          string `yaml:"clustering_schedule"`

	ReanalysisLimit                  int `yaml:"reanalysis_limit"`
	ConnectionDiscoveryLimit         int `yaml:"connection_discovery_limit"`
	ConnectionDiscoveryLookbackDays  int `yaml:"connection_discovery_lookback_days"`
	ConnectionDiscoveryCooldownHours int `yaml:"connection_discovery_cooldown_hours"`

	EmbeddingProvider   EmbeddingProvider `yaml:"embedding_provider"`
	EmbeddingModel      string            `yaml:"embedding_model"`
	EmbeddingAPIKey     string            `yaml:"embedding_api_key,omitempty"`
	EmbeddingBaseURL    string            `yaml:"embedding_base_url,omitempty"`
	EmbeddingDimensions int               `yaml:"embedding_dimensions,omitempty"`

	AnalyzerCommand string   `yaml:"analyzer_command"`
	AnalyzerArgs    []string `yaml:"analyzer_args,omitempty"`
	SkillsDir       string   `yaml:"skills_dir,omitempty"`
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	PromptFile      string   `yaml:"prompt_file"`
}

// QueryConfig configures the out-of-scope read API's default provider/model.
// The core only carries these values through; it never issues a query itself.
type QueryConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Config is the daemon's complete configuration document.
type Config struct {
	Hub    HubConfig     `yaml:"hub"`
	Spokes []SpokeConfig `yaml:"spokes"`
	Daemon DaemonConfig  `yaml:"daemon"`
	Query  QueryConfig   `yaml:"query"`
}

// DefaultConfig returns the configuration spec.md §6 documents as defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Hub: HubConfig{
			SessionsDir: filepath.Join(home, ".pi", "agent", "sessions"),
			DatabaseDir: filepath.Join(home, ".pi-brain", "data"),
			WebUIPort:   8765,
		},
		Daemon: DaemonConfig{
			IdleTimeoutMinutes:               10,
			ParallelWorkers:                  1,
			MaxRetries:                       3,
			RetryDelaySeconds:                60,
			AnalysisTimeoutMinutes:           30,
			MaxConcurrentAnalysis:            1,
			MaxQueueSize:                     1000,
			ReanalysisSchedule:               "0 2 * * *",
			ConnectionDiscoverySchedule:      "0 3 * * *",
			PatternAggregationSchedule:       "0 3 * * *",
			ClusteringSchedule:               "0 4 * * *",
			ReanalysisLimit:                  100,
			ConnectionDiscoveryLimit:         100,
			ConnectionDiscoveryLookbackDays:  7,
			ConnectionDiscoveryCooldownHours: 24,
			EmbeddingProvider:                EmbeddingOllama,
			EmbeddingModel:                   "embeddinggemma",
			AnalyzerCommand:                  "pi-analyze",
		},
	}
}

// LoadFile reads a single YAML document from path, starting from
// DefaultConfig so any field the document omits keeps its default.
// A missing file is not an error: the defaults are returned as-is.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// AnalysisTimeout returns the per-job analyzer timeout as a duration.
func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Daemon.AnalysisTimeoutMinutes) * time.Minute
}

// IdleTimeout returns the watcher's quiescence window as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Daemon.IdleTimeoutMinutes) * time.Minute
}

// RetryDelay returns the analyzer's base retry backoff delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Daemon.RetryDelaySeconds) * time.Second
}

// EnabledSpokes returns the spokes with Enabled set, in declared order.
func (c *Config) EnabledSpokes() []SpokeConfig {
	var out []SpokeConfig
	for _, s := range c.Spokes {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}
