// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader assembles the effective configuration from defaults, an optional
// YAML file, and the environment, in ascending precedence.
type Loader struct {
	filePath string
}

// NewLoader creates a loader for the given optional config file path.
func NewLoader(filePath string) *Loader {
	return &Loader{filePath: filePath}
}

// Load produces a validated AppConfig.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.filePath != "" {
		fileCfg, err := readFile(l.filePath)
		if err != nil {
			return AppConfig{}, fmt.Errorf("read config file: %w", err)
		}
		cfg = merge(cfg, fileCfg)
	}

	cfg = applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// readFile parses a YAML configuration file into a sparse AppConfig.
func readFile(path string) (AppConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-provided path
	if err != nil {
		return AppConfig{}, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// merge overlays non-zero file values onto the defaults.
func merge(base, file AppConfig) AppConfig {
	out := base
	if file.DataDir != "" {
		out.DataDir = file.DataDir
	}
	if file.ListenAddr != "" {
		out.ListenAddr = file.ListenAddr
	}
	if file.APIToken != "" {
		out.APIToken = file.APIToken
	}
	if file.LibraryRoot != "" {
		out.LibraryRoot = file.LibraryRoot
	}
	if file.Match != (Thresholds{}) {
		out.Match = file.Match
	}
	if file.WorkFuzzyThreshold != 0 {
		out.WorkFuzzyThreshold = file.WorkFuzzyThreshold
	}
	if file.WorkFuzzyMaxWorks != 0 {
		out.WorkFuzzyMaxWorks = file.WorkFuzzyMaxWorks
	}
	if file.VectorTopK != 0 {
		out.VectorTopK = file.VectorTopK
	}
	if file.DiscoveryBatchSize != 0 {
		out.DiscoveryBatchSize = file.DiscoveryBatchSize
	}
	if file.ScanWorkers != 0 {
		out.ScanWorkers = file.ScanWorkers
	}
	if len(file.ScanExtensions) > 0 {
		out.ScanExtensions = file.ScanExtensions
	}
	if file.ScanMaxFileMB != 0 {
		out.ScanMaxFileMB = file.ScanMaxFileMB
	}
	if file.ScanWatch {
		out.ScanWatch = true
	}
	if file.ScanWatchDelay != 0 {
		out.ScanWatchDelay = file.ScanWatchDelay
	}
	if file.QueueSkipCooldown != 0 {
		out.QueueSkipCooldown = file.QueueSkipCooldown
	}
	if file.AuditRetainDays != 0 {
		out.AuditRetainDays = file.AuditRetainDays
	}
	if file.ResolverCacheTTL != 0 {
		out.ResolverCacheTTL = file.ResolverCacheTTL
	}
	if file.RedisAddr != "" {
		out.RedisAddr = file.RedisAddr
	}
	if file.OTLPEndpoint != "" {
		out.OTLPEndpoint = file.OTLPEndpoint
	}
	if file.LogLevel != "" {
		out.LogLevel = file.LogLevel
	}
	return out
}
