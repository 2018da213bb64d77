// Package config holds the engine tuning knobs. Every value here is a
// default, not an invariant: thresholds and decay constants are meant to be
// adjusted per deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads Go duration strings ("15m", "48h")
// from YAML.
type Duration time.Duration

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Config models focusflow.yml.
type Config struct {
	Analyzer struct {
		// MinSampleSize is the fewest qualifying events an insight needs
		// before it may overwrite the previous one.
		MinSampleSize int `yaml:"min_sample_size"`
		// ConfidenceCap clamps confidence below 1.0 to leave room for revision.
		ConfidenceCap float64 `yaml:"confidence_cap"`
		// InsightTTL deactivates insights that have not been refreshed.
		InsightTTL Duration `yaml:"insight_ttl"`
		// RunEvery rate-limits event-triggered re-analysis per user.
		RunEvery Duration `yaml:"run_every"`
		// Budget bounds one analysis pass; remaining insight types are
		// skipped and reported when it runs out.
		Budget Duration `yaml:"budget"`
	} `yaml:"analyzer"`
	Suggestions struct {
		// ConfidenceFloor gates pattern-based suggestions.
		ConfidenceFloor float64 `yaml:"confidence_floor"`
		// RuleConfidence is assigned to rule-based suggestions: certain
		// checks minus a small penalty for heuristic uncertainty.
		RuleConfidence float64 `yaml:"rule_confidence"`
		// OverloadThreshold is the pending-task count per (date, time block)
		// above which an overload warning fires.
		OverloadThreshold int `yaml:"overload_threshold"`
		// StaleAfterDays marks untouched pending tasks as stale.
		StaleAfterDays int `yaml:"stale_after_days"`
		// BreakdownMinutes is the estimate at which a task with no subtasks
		// gets a breakdown suggestion.
		BreakdownMinutes int `yaml:"breakdown_minutes"`
		// TTL expires unanswered suggestions.
		TTL Duration `yaml:"ttl"`
		// PrioritySpeedup: urgent tasks must complete in under this fraction
		// of the overall mean before priority escalation is suggested.
		PrioritySpeedup float64 `yaml:"priority_speedup"`
		// Budget bounds one generation pass.
		Budget Duration `yaml:"budget"`
	} `yaml:"suggestions"`
}

// Default returns the stock tuning profile.
func Default() *Config {
	var cfg Config
	cfg.Analyzer.MinSampleSize = 5
	cfg.Analyzer.ConfidenceCap = 0.95
	cfg.Analyzer.InsightTTL = Duration(30 * 24 * time.Hour)
	cfg.Analyzer.RunEvery = Duration(15 * time.Minute)
	cfg.Analyzer.Budget = Duration(10 * time.Second)
	cfg.Suggestions.ConfidenceFloor = 0.6
	cfg.Suggestions.RuleConfidence = 0.9
	cfg.Suggestions.OverloadThreshold = 4
	cfg.Suggestions.StaleAfterDays = 14
	cfg.Suggestions.BreakdownMinutes = 90
	cfg.Suggestions.TTL = Duration(7 * 24 * time.Hour)
	cfg.Suggestions.PrioritySpeedup = 0.75
	cfg.Suggestions.Budget = Duration(10 * time.Second)
	return &cfg
}

// Validate ensures the tuning values are usable.
func (c *Config) Validate() error {
	if c.Analyzer.MinSampleSize < 1 {
		return fmt.Errorf("analyzer.min_sample_size must be >= 1")
	}
	if c.Analyzer.ConfidenceCap <= 0 || c.Analyzer.ConfidenceCap >= 1 {
		return fmt.Errorf("analyzer.confidence_cap must be in (0, 1)")
	}
	if c.Analyzer.RunEvery < 0 {
		return fmt.Errorf("analyzer.run_every must not be negative")
	}
	if c.Suggestions.ConfidenceFloor < 0 || c.Suggestions.ConfidenceFloor > 1 {
		return fmt.Errorf("suggestions.confidence_floor must be in [0, 1]")
	}
	if c.Suggestions.RuleConfidence <= 0 || c.Suggestions.RuleConfidence > 1 {
		return fmt.Errorf("suggestions.rule_confidence must be in (0, 1]")
	}
	if c.Suggestions.OverloadThreshold < 1 {
		return fmt.Errorf("suggestions.overload_threshold must be >= 1")
	}
	if c.Suggestions.StaleAfterDays < 1 {
		return fmt.Errorf("suggestions.stale_after_days must be >= 1")
	}
	if c.Suggestions.TTL <= 0 {
		return fmt.Errorf("suggestions.ttl must be positive")
	}
	if c.Suggestions.PrioritySpeedup <= 0 || c.Suggestions.PrioritySpeedup >= 1 {
		return fmt.Errorf("suggestions.priority_speedup must be in (0, 1)")
	}
	return nil
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".focusflow", "focusflow.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Omitted sections
// keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
