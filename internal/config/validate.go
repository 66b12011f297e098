package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration against spec.md §6's validators:
// ports in [1,65535], positive-integer checks where noted, cron
// expressions of exactly 5 whitespace-separated fields, no duplicate
// spoke names, rsync spokes require a source, and rsyncOptions.extraArgs
// rejecting a remote-shell override. It is grounded on the teacher's
// ValidateCoreLimits style (internal/config/limits.go): one guard per
// field, returning on the first violation with a field-naming message.
func (c *Config) Validate() error {
	if err := c.validateHub(); err != nil {
		return err
	}
	if err := c.validateSpokes(); err != nil {
		return err
	}
	if err := c.validateDaemon(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHub() error {
	if c.Hub.WebUIPort < 1 || c.Hub.WebUIPort > 65535 {
		return fmt.Errorf("hub.web_ui_port must be in [1,65535], got %d", c.Hub.WebUIPort)
	}
	if c.Hub.SessionsDir == "" {
		return fmt.Errorf("hub.sessions_dir must not be empty")
	}
	if c.Hub.DatabaseDir == "" {
		return fmt.Errorf("hub.database_dir must not be empty")
	}
	return nil
}

func (c *Config) validateSpokes() error {
	seen := make(map[string]bool, len(c.Spokes))
	for _, s := range c.Spokes {
		if s.Name == "" {
			return fmt.Errorf("spokes: every spoke must have a name")
		}
		if seen[s.Name] {
			return fmt.Errorf("spokes: duplicate spoke name %q", s.Name)
		}
		seen[s.Name] = true

		switch s.SyncMethod {
		case SyncSyncthing, SyncRsync:
		default:
			return fmt.Errorf("spokes[%s].sync_method must be syncthing or rsync, got %q", s.Name, s.SyncMethod)
		}

		if s.SyncMethod == SyncRsync && s.Source == "" {
			return fmt.Errorf("spokes[%s]: rsync spokes require source", s.Name)
		}

		if s.RsyncOptions != nil {
			for _, arg := range s.RsyncOptions.ExtraArgs {
				if isRemoteShellOverride(arg) {
					return fmt.Errorf("spokes[%s].rsync_options.extra_args: %q is a code-execution hazard (--rsh/-e overrides are rejected)", s.Name, arg)
				}
			}
		}
	}
	return nil
}

// isRemoteShellOverride reports whether arg equals or is prefixed by an
// rsync remote-shell flag (--rsh or -e), the injection vector spec.md
// §6 calls out by name.
func isRemoteShellOverride(arg string) bool {
	return arg == "--rsh" || strings.HasPrefix(arg, "--rsh=") ||
		arg == "-e" || strings.HasPrefix(arg, "-e=") || strings.HasPrefix(arg, "-e")
}

func (c *Config) validateDaemon() error {
	d := &c.Daemon

	positive := map[string]int{
		"idle_timeout_minutes":     d.IdleTimeoutMinutes,
		"parallel_workers":         d.ParallelWorkers,
		"max_retries":              d.MaxRetries,
		"retry_delay_seconds":      d.RetryDelaySeconds,
		"analysis_timeout_minutes": d.AnalysisTimeoutMinutes,
		"max_concurrent_analysis":  d.MaxConcurrentAnalysis,
		"max_queue_size":           d.MaxQueueSize,
		"reanalysis_limit":         d.ReanalysisLimit,
		"connection_discovery_limit": d.ConnectionDiscoveryLimit,
	}
	for field, v := range positive {
		if v <= 0 {
			return fmt.Errorf("daemon.%s must be positive, got %d", field, v)
		}
	}

	schedules := map[string]string{
		"reanalysis_schedule":           d.ReanalysisSchedule,
		"connection_discovery_schedule": d.ConnectionDiscoverySchedule,
		"pattern_aggregation_schedule":  d.PatternAggregationSchedule,
		"clustering_schedule":           d.ClusteringSchedule,
	}
	for field, expr := range schedules {
		if err := ValidateCronExpression(expr); err != nil {
			return fmt.Errorf("daemon.%s: %w", field, err)
		}
	}

	switch d.EmbeddingProvider {
	case EmbeddingOllama, EmbeddingGenAI, EmbeddingMock, "":
	default:
		return fmt.Errorf("daemon.embedding_provider must be one of ollama/genai/mock, got %q", d.EmbeddingProvider)
	}

	if d.AnalyzerCommand == "" {
		return fmt.Errorf("daemon.analyzer_command must not be empty")
	}

	return nil
}

// ValidateCronExpression checks that expr has exactly 5 whitespace
// separated fields, naming the offending field count on failure per the
// "Cron robustness" testable property in spec.md §8.
func ValidateCronExpression(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression %q must have exactly 5 fields (minute hour day-of-month month day-of-week), got %d", expr, len(fields))
	}
	return nil
}
