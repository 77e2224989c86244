// SPDX-License-Identifier: MIT

// Package config loads and validates the airwave runtime configuration.
// Precedence is ENV > file > defaults; the effective configuration is exposed
// as an immutable Snapshot that callers read by value.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Thresholds holds the four live-tunable similarity thresholds of the matcher.
type Thresholds struct {
	ArtistAuto   float64 `yaml:"artist_auto" json:"artist_auto"`
	ArtistReview float64 `yaml:"artist_review" json:"artist_review"`
	TitleAuto    float64 `yaml:"title_auto" json:"title_auto"`
	TitleReview  float64 `yaml:"title_review" json:"title_review"`
}

// DefaultThresholds returns the shipped threshold defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ArtistAuto:   0.85,
		ArtistReview: 0.70,
		TitleAuto:    0.80,
		TitleReview:  0.70,
	}
}

// Validate enforces 0 <= review <= auto <= 1 for both axes.
func (t Thresholds) Validate() error {
	check := func(name string, review, auto float64) error {
		if review < 0 || auto > 1 || review > auto {
			return fmt.Errorf("%s thresholds out of range: review=%.3f auto=%.3f (want 0 <= review <= auto <= 1)", name, review, auto)
		}
		return nil
	}
	if err := check("artist", t.ArtistReview, t.ArtistAuto); err != nil {
		return err
	}
	return check("title", t.TitleReview, t.TitleAuto)
}

// AppConfig is the validated application configuration.
type AppConfig struct {
	DataDir     string `yaml:"data_dir"`
	ListenAddr  string `yaml:"listen"`
	APIToken    string `yaml:"api_token"`
	LibraryRoot string `yaml:"library_root"`

	Match Thresholds `yaml:"match"`

	WorkFuzzyThreshold float64 `yaml:"work_fuzzy_threshold"`
	WorkFuzzyMaxWorks  int     `yaml:"work_fuzzy_max_works"`
	VectorTopK         int     `yaml:"vector_topk"`
	DiscoveryBatchSize int     `yaml:"discovery_batch_size"`

	ScanWorkers    int           `yaml:"scan_workers"`
	ScanExtensions []string      `yaml:"scan_extensions"`
	ScanMaxFileMB  int           `yaml:"scan_max_file_mb"`
	ScanWatch      bool          `yaml:"scan_watch"`
	ScanWatchDelay time.Duration `yaml:"scan_watch_delay"`

	QueueSkipCooldown time.Duration `yaml:"queue_skip_cooldown"`
	AuditRetainDays   int           `yaml:"audit_retain_days"`

	ResolverCacheTTL time.Duration `yaml:"resolver_cache_ttl"`
	RedisAddr        string        `yaml:"redis_addr"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
	LogLevel     string `yaml:"log_level"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:            "/var/lib/airwave",
		ListenAddr:         ":8080",
		Match:              DefaultThresholds(),
		WorkFuzzyThreshold: 0.85,
		WorkFuzzyMaxWorks:  500,
		VectorTopK:         5,
		DiscoveryBatchSize: 500,
		ScanWorkers:        4,
		ScanExtensions:     []string{".mp3", ".flac", ".m4a", ".ogg", ".opus", ".wav"},
		ScanMaxFileMB:      512,
		ScanWatchDelay:     5 * time.Second,
		QueueSkipCooldown:  14 * 24 * time.Hour,
		AuditRetainDays:    30,
		ResolverCacheTTL:   30 * time.Second,
		LogLevel:           "info",
	}
}

// Validate checks the configuration for internal consistency.
func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if err := c.Match.Validate(); err != nil {
		return err
	}
	if c.WorkFuzzyThreshold < 0 || c.WorkFuzzyThreshold > 1 {
		return fmt.Errorf("work_fuzzy_threshold out of range: %.3f", c.WorkFuzzyThreshold)
	}
	if c.WorkFuzzyMaxWorks < 0 {
		return fmt.Errorf("work_fuzzy_max_works must be >= 0")
	}
	if c.VectorTopK < 1 {
		return fmt.Errorf("vector_topk must be >= 1")
	}
	if c.DiscoveryBatchSize < 1 {
		return fmt.Errorf("discovery_batch_size must be >= 1")
	}
	if c.ScanWorkers < 1 {
		return fmt.Errorf("scan_workers must be >= 1")
	}
	if c.AuditRetainDays < 1 {
		return fmt.Errorf("audit_retain_days must be >= 1")
	}
	return nil
}

// applyEnv overlays environment variables onto the configuration.
func applyEnv(c AppConfig) AppConfig {
	c.DataDir = ParseString("AIRWAVE_DATA", c.DataDir)
	c.ListenAddr = ParseString("AIRWAVE_LISTEN", c.ListenAddr)
	c.APIToken = ParseString("AIRWAVE_API_TOKEN", c.APIToken)
	c.LibraryRoot = ParseString("AIRWAVE_LIBRARY_ROOT", c.LibraryRoot)

	c.Match.ArtistAuto = ParseFloat("AIRWAVE_MATCH_ARTIST_AUTO", c.Match.ArtistAuto)
	c.Match.ArtistReview = ParseFloat("AIRWAVE_MATCH_ARTIST_REVIEW", c.Match.ArtistReview)
	c.Match.TitleAuto = ParseFloat("AIRWAVE_MATCH_TITLE_AUTO", c.Match.TitleAuto)
	c.Match.TitleReview = ParseFloat("AIRWAVE_MATCH_TITLE_REVIEW", c.Match.TitleReview)

	c.WorkFuzzyThreshold = ParseFloat("AIRWAVE_WORK_FUZZY_THRESHOLD", c.WorkFuzzyThreshold)
	c.WorkFuzzyMaxWorks = ParseInt("AIRWAVE_WORK_FUZZY_MAX_WORKS", c.WorkFuzzyMaxWorks)
	c.VectorTopK = ParseInt("AIRWAVE_VECTOR_TOPK", c.VectorTopK)
	c.DiscoveryBatchSize = ParseInt("AIRWAVE_DISCOVERY_BATCH_SIZE", c.DiscoveryBatchSize)

	c.ScanWorkers = ParseInt("AIRWAVE_SCAN_WORKERS", c.ScanWorkers)
	if raw := ParseString("AIRWAVE_SCAN_EXTENSIONS", ""); raw != "" {
		exts := make([]string, 0, 8)
		for _, e := range strings.Split(raw, ",") {
			e = strings.TrimSpace(strings.ToLower(e))
			if e == "" {
				continue
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts = append(exts, e)
		}
		if len(exts) > 0 {
			c.ScanExtensions = exts
		}
	}
	c.ScanMaxFileMB = ParseInt("AIRWAVE_SCAN_MAX_FILE_MB", c.ScanMaxFileMB)
	c.ScanWatch = ParseBool("AIRWAVE_SCAN_WATCH", c.ScanWatch)
	c.ScanWatchDelay = ParseDuration("AIRWAVE_SCAN_WATCH_DELAY", c.ScanWatchDelay)

	c.QueueSkipCooldown = ParseDuration("AIRWAVE_QUEUE_SKIP_COOLDOWN", c.QueueSkipCooldown)
	c.AuditRetainDays = ParseInt("AIRWAVE_JOB_RETAIN_AUDIT_DAYS", c.AuditRetainDays)

	c.ResolverCacheTTL = ParseDuration("AIRWAVE_RESOLVER_CACHE_TTL", c.ResolverCacheTTL)
	c.RedisAddr = ParseString("AIRWAVE_REDIS_ADDR", c.RedisAddr)

	c.OTLPEndpoint = ParseString("AIRWAVE_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.LogLevel = ParseString("AIRWAVE_LOG_LEVEL", c.LogLevel)
	return c
}
