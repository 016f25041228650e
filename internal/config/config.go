// Package config loads the optional .palletaudit.yaml settings file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DeusData/pallet-audit/internal/inventory"
	"github.com/DeusData/pallet-audit/internal/llm"
	"github.com/DeusData/pallet-audit/internal/threat"
)

// FileName is looked up in the working directory when no path is given.
const FileName = ".palletaudit.yaml"

// APIKeyEnv holds the Gemini API key, usually set through .env.
const APIKeyEnv = "GEMINI_API_KEY"

// Config holds user-overridable settings. Unset fields fall back to the
// defaults returned by the Effective* accessors.
type Config struct {
	Patterns PatternsConfig `yaml:"patterns"`
	Output   OutputConfig   `yaml:"output"`
	LLM      LLMConfig      `yaml:"llm"`
}

// PatternsConfig controls the threat patterns handed to the engine.
type PatternsConfig struct {
	// ReplaceDefaults drops the built-in patterns so only Extra apply.
	// Default: false.
	ReplaceDefaults *bool `yaml:"replace_defaults"`

	// Extra patterns are appended after the built-in ones.
	Extra []threat.ThreatPattern `yaml:"extra"`
}

// OutputConfig names the files a run writes.
type OutputConfig struct {
	// Inventory is where discover writes. Default: asset-inventory.json.
	Inventory *string `yaml:"inventory"`

	// SnapshotDB is the SQLite file holding the last annotated snapshot.
	// Empty disables the snapshot. Default: empty.
	SnapshotDB *string `yaml:"snapshot_db"`

	// MetricsFile is a node-exporter textfile written after analyze.
	// Empty disables it. Default: empty.
	MetricsFile *string `yaml:"metrics_file"`
}

// LLMConfig tunes the optional language-model client.
type LLMConfig struct {
	Model     *string  `yaml:"model"`
	RPS       *float64 `yaml:"rps"`
	Burst     *int     `yaml:"burst"`
	CacheSize *int     `yaml:"cache_size"`
}

// Default returns an empty configuration.
func Default() *Config {
	return &Config{}
}

// Load reads the config at path, or FileName in the working directory when
// path is empty. A missing or invalid file yields the defaults.
func Load(path string) *Config {
	if path == "" {
		path = FileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("config.read", "path", path, "err", err)
		}
		return Default()
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("config.invalid", "path", path, "err", err)
		return Default()
	}
	slog.Debug("config.loaded", "path", path)
	return cfg
}

// LoadDir reads FileName from dir.
func LoadDir(dir string) *Config {
	return Load(filepath.Join(dir, FileName))
}

// LoadEnv loads KEY=value pairs from the given .env files (".env" when none
// are named) without overriding variables already set. Missing files are
// ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// APIKey returns the Gemini API key from the environment.
func APIKey() string {
	return os.Getenv(APIKeyEnv)
}

// EffectivePatterns returns the built-in patterns (unless replaced) followed
// by the configured extras.
func (c *Config) EffectivePatterns() []threat.ThreatPattern {
	var out []threat.ThreatPattern
	if c.Patterns.ReplaceDefaults == nil || !*c.Patterns.ReplaceDefaults {
		out = append(out, threat.DefaultPatterns()...)
	}
	return append(out, c.Patterns.Extra...)
}

// EffectiveInventoryPath returns the configured inventory path or the default.
func (c *Config) EffectiveInventoryPath() string {
	if c.Output.Inventory != nil && *c.Output.Inventory != "" {
		return *c.Output.Inventory
	}
	return inventory.DefaultOutputPath
}

// EffectiveSnapshotDB returns the snapshot database path; empty means off.
func (c *Config) EffectiveSnapshotDB() string {
	if c.Output.SnapshotDB != nil {
		return *c.Output.SnapshotDB
	}
	return ""
}

// EffectiveMetricsFile returns the metrics textfile path; empty means off.
func (c *Config) EffectiveMetricsFile() string {
	if c.Output.MetricsFile != nil {
		return *c.Output.MetricsFile
	}
	return ""
}

// EffectiveModel returns the configured model or llm.DefaultModel.
func (c *Config) EffectiveModel() string {
	if c.LLM.Model != nil && *c.LLM.Model != "" {
		return *c.LLM.Model
	}
	return llm.DefaultModel
}

// EffectiveRPS returns the request rate limit. Default: 1 per second.
func (c *Config) EffectiveRPS() float64 {
	if c.LLM.RPS != nil {
		return *c.LLM.RPS
	}
	return 1
}

// EffectiveBurst returns the limiter burst. Default: 1.
func (c *Config) EffectiveBurst() int {
	if c.LLM.Burst != nil && *c.LLM.Burst > 0 {
		return *c.LLM.Burst
	}
	return 1
}

// EffectiveCacheSize returns the response cache size. Default: 256.
func (c *Config) EffectiveCacheSize() int {
	if c.LLM.CacheSize != nil {
		return *c.LLM.CacheSize
	}
	return 256
}
