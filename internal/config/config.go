package config

import (
	"time"

	"github.com/storyline-ai/storyline/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Backend BackendConfig `mapstructure:"backend"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ServerConfig configures the local HTTP surface.
type ServerConfig struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout"`
}

// BackendConfig configures the upstream workflow service. An empty base
// URL means standalone mode: commands apply locally and no feed runs.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Timeout string `mapstructure:"timeout"`
}

// EngineConfig configures run tracking.
type EngineConfig struct {
	DedupWindow    string `mapstructure:"dedup_window"`
	LogCapacity    int    `mapstructure:"log_capacity"`
	ApprovalPolicy string `mapstructure:"approval_policy"`
	BusBuffer      int    `mapstructure:"bus_buffer"`
}

// ShutdownGrace parses the shutdown timeout, falling back to 10s.
func (c ServerConfig) ShutdownGrace() time.Duration {
	if d, err := time.ParseDuration(c.ShutdownTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// RequestTimeout parses the backend timeout, falling back to 10s.
func (c BackendConfig) RequestTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// Window parses the dedup window, falling back to 1s.
func (c EngineConfig) Window() time.Duration {
	if d, err := time.ParseDuration(c.DedupWindow); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// Policy parses the approval policy, falling back to overwrite.
func (c EngineConfig) Policy() core.ApprovalPolicy {
	if p, err := core.ParseApprovalPolicy(c.ApprovalPolicy); err == nil {
		return p
	}
	return core.ApprovalOverwrite
}
