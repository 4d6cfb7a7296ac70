// Package config loads the service configuration from JSON with
// environment substitution.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/skillmatch/internal/repo"
	"github.com/nidhogg/skillmatch/internal/scoring"
	"github.com/nidhogg/skillmatch/internal/selector"
	"github.com/nidhogg/skillmatch/internal/stats"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Scoring      scoring.Config     `json:"scoring"`
	Assignment   AssignmentConfig   `json:"assignment"`
	Retry        RetryConfig        `json:"retry"`
	Stats        stats.Config       `json:"stats"`
	Endorsements EndorsementsConfig `json:"endorsements"`
	Notify       NotifyConfig       `json:"notify"`
	Sweep        SweepConfig        `json:"sweep"`
	Authz        AuthzConfig        `json:"authz"`
}

type ServerConfig struct {
	Port             int    `json:"port"`
	LogLevel         string `json:"log_level"`
	RequestTimeoutMS int    `json:"request_timeout_ms"`
	MigrationsDir    string `json:"migrations_dir"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type AssignmentConfig struct {
	DefaultStrategy string `json:"default_strategy"`
	DefaultTopN     int    `json:"default_top_n"`
	MaxTopN         int    `json:"max_top_n"`
}

// RetryConfig bounds optimistic-commit retries. Intervals are milliseconds.
type RetryConfig struct {
	MaxAttempts       int     `json:"max_attempts"`
	InitialIntervalMS int     `json:"initial_interval_ms"`
	MaxIntervalMS     int     `json:"max_interval_ms"`
	Multiplier        float64 `json:"multiplier"`
}

// Policy converts the config into a repo.RetryPolicy.
func (r RetryConfig) Policy() repo.RetryPolicy {
	return repo.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: time.Duration(r.InitialIntervalMS) * time.Millisecond,
		MaxInterval:     time.Duration(r.MaxIntervalMS) * time.Millisecond,
		Multiplier:      r.Multiplier,
	}
}

type EndorsementsConfig struct {
	Enabled bool `json:"enabled"`
	// Backend is "store" (the primary store) or "neo4j".
	Backend string `json:"backend"`
}

type NotifyConfig struct {
	Buffer            int           `json:"buffer"`
	RedisStreamPrefix string        `json:"redis_stream_prefix"`
	Slack             SlackConfig   `json:"slack"`
	Discord           DiscordConfig `json:"discord"`
}

type SlackConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DiscordConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type SweepConfig struct {
	Workers int `json:"workers"`
}

// AuthzConfig maps role names to capabilities. An empty map allows everything.
type AuthzConfig struct {
	Roles map[string][]string `json:"roles"`
}

// Default returns a config that runs fully in memory.
func Default() *Config {
	r := repo.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			LogLevel:         "info",
			RequestTimeoutMS: 15000,
			MigrationsDir:    "migrations",
		},
		Scoring: scoring.DefaultConfig(),
		Assignment: AssignmentConfig{
			DefaultStrategy: string(selector.Hybrid),
			DefaultTopN:     5,
			MaxTopN:         50,
		},
		Retry: RetryConfig{
			MaxAttempts:       r.MaxAttempts,
			InitialIntervalMS: int(r.InitialInterval / time.Millisecond),
			MaxIntervalMS:     int(r.MaxInterval / time.Millisecond),
			Multiplier:        r.Multiplier,
		},
		Stats:        stats.DefaultConfig(),
		Endorsements: EndorsementsConfig{Enabled: true, Backend: "store"},
		Notify:       NotifyConfig{Buffer: 256, RedisStreamPrefix: "skillmatch:"},
		Sweep:        SweepConfig{Workers: 4},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references and overlays the result on Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	w := c.Scoring.Weights
	for name, v := range map[string]float64{
		"skill_match": w.SkillMatch, "workload": w.Workload,
		"performance": w.Performance, "experience": w.Experience,
	} {
		if v < 0 {
			return fmt.Errorf("scoring.weights.%s must not be negative", name)
		}
	}
	if w.SkillMatch+w.Workload+w.Performance+w.Experience <= 0 {
		return fmt.Errorf("scoring.weights must sum to a positive value")
	}
	if math.Abs(w.SkillMatch+w.Workload+w.Performance+w.Experience-1) > 1e-6 {
		return fmt.Errorf("scoring.weights must sum to 1")
	}
	if c.Scoring.MinSkillMatch < 0 || c.Scoring.MinSkillMatch > 1 {
		return fmt.Errorf("scoring.min_skill_match must be within [0,1]")
	}
	if c.Scoring.DifficultyMin > c.Scoring.DifficultyMax {
		return fmt.Errorf("scoring.difficulty_min exceeds difficulty_max")
	}
	if c.Scoring.BaselineHours <= 0 || c.Scoring.DifficultyNormalize <= 0 {
		return fmt.Errorf("scoring.baseline_hours and difficulty_normalize must be positive")
	}
	if _, err := selector.ParseStrategy(c.Assignment.DefaultStrategy); err != nil {
		return fmt.Errorf("assignment.default_strategy: %w", err)
	}
	if c.Assignment.DefaultTopN <= 0 || c.Assignment.MaxTopN < c.Assignment.DefaultTopN {
		return fmt.Errorf("assignment.default_top_n must be positive and not above max_top_n")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	for name, v := range map[string]float64{
		"overloaded_threshold":  c.Stats.OverloadedThreshold,
		"underloaded_threshold": c.Stats.UnderloadedThreshold,
		"late_factor":           c.Stats.LateFactor,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("stats.%s must be within [0,1]", name)
		}
	}
	switch c.Endorsements.Backend {
	case "", "store", "neo4j":
	default:
		return fmt.Errorf("endorsements.backend %q is not one of store, neo4j", c.Endorsements.Backend)
	}
	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep.workers must be at least 1")
	}
	return nil
}
