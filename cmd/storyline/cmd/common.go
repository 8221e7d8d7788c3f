package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/storyline-ai/storyline/internal/config"
)

// loadConfig loads the effective configuration honoring --config.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

// resolveServerAddr picks the explicit addr when given, otherwise builds
// one from the configured server host and port.
func resolveServerAddr(addr string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port), nil
}
