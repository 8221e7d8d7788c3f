package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigYAML contains the default configuration YAML content.
// `storyline init` writes it; the values mirror the loader defaults.
const DefaultConfigYAML = `# Storyline Configuration
#
# Values not specified here use sensible defaults.

log:
  # debug | info | warn | error
  level: info
  # auto picks text on a terminal, json otherwise
  format: auto
  # Optional file target; empty logs to stderr
  file: ""

server:
  host: 127.0.0.1
  port: 8844
  cors_origins: ["*"]
  shutdown_timeout: 10s

# Workflow service connection. Leave base_url empty to run standalone:
# commands then apply locally and no event feed is consumed.
backend:
  base_url: ""
  token: ""
  timeout: 10s

engine:
  # Identical (type, message) pairs inside this window are suppressed
  dedup_window: 1s
  # Oldest activity entries are evicted beyond this many
  log_capacity: 100
  # What a second approval request does while one is pending:
  # overwrite | queue
  approval_policy: overwrite
  bus_buffer: 256
`

// DefaultConfigPath returns the user-level configuration path. The file
// name matches what the loader searches for, so a file written here is
// picked up without --config.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "storyline", ".storyline.yaml"), nil
}

// WriteDefault writes the default configuration to path. Unless force is
// set, an existing file is left untouched and reported as an error.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("checking config file: %w", err)
		}
	}
	return AtomicWrite(path, []byte(DefaultConfigYAML))
}
