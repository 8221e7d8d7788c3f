package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/storyline-ai/storyline/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file with documented settings.

By default the file lands at ./.storyline.yaml where the loader picks it
up for this directory. With --global it goes to the user-level config
directory instead.`,
	RunE: runInit,
}

var (
	initForce  bool
	initGlobal bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "Write to the user-level config directory")
}

func runInit(_ *cobra.Command, _ []string) error {
	var configPath string
	if initGlobal {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		configPath = path
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		configPath = filepath.Join(cwd, ".storyline.yaml")
	}

	if err := config.WriteDefault(configPath, initForce); err != nil {
		return err
	}

	if quiet {
		fmt.Println(configPath)
		return nil
	}

	fmt.Printf("Configuration written to %s\n", configPath)
	fmt.Println("Edit it and start the server with 'storyline serve'")
	return nil
}
