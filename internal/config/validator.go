package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/storyline-ai/storyline/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Domain converts the collected errors into a single DomainError with one
// detail per offending field.
func (e ValidationErrors) Domain() *core.DomainError {
	err := core.ErrValidation(core.CodeInvalidConfig, "invalid configuration")
	for _, v := range e {
		err.WithDetail(v.Field, v.Message)
	}
	return err
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateBackend(&cfg.Backend)
	v.validateEngine(&cfg.Engine)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Host == "" {
		v.addError("server.host", cfg.Host, "host required")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}

	if _, err := time.ParseDuration(cfg.ShutdownTimeout); err != nil {
		v.addError("server.shutdown_timeout", cfg.ShutdownTimeout, "invalid duration format")
	}
}

func (v *Validator) validateBackend(cfg *BackendConfig) {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("backend.base_url", cfg.BaseURL, "must be an absolute http(s) URL")
		} else if u.Scheme != "http" && u.Scheme != "https" {
			v.addError("backend.base_url", cfg.BaseURL, "scheme must be http or https")
		}
	}

	if _, err := time.ParseDuration(cfg.Timeout); err != nil {
		v.addError("backend.timeout", cfg.Timeout, "invalid duration format")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if d, err := time.ParseDuration(cfg.DedupWindow); err != nil {
		v.addError("engine.dedup_window", cfg.DedupWindow, "invalid duration format")
	} else if d <= 0 {
		v.addError("engine.dedup_window", cfg.DedupWindow, "must be positive")
	}

	if cfg.LogCapacity < 1 || cfg.LogCapacity > 10000 {
		v.addError("engine.log_capacity", cfg.LogCapacity, "must be between 1 and 10000")
	}

	if _, err := core.ParseApprovalPolicy(cfg.ApprovalPolicy); err != nil {
		v.addError("engine.approval_policy", cfg.ApprovalPolicy, "must be one of: overwrite, queue")
	}

	if cfg.BusBuffer < 1 {
		v.addError("engine.bus_buffer", cfg.BusBuffer, "must be positive")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
