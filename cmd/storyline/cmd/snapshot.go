package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/storyline-ai/storyline/internal/clip"
	"github.com/storyline-ai/storyline/internal/config"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/tui"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export a tracked run to a file",
	Long: `Export a run's tracked state (run, metrics, activity log) from a
running storyline server to a JSON or YAML file.

Examples:
  # Export the default run
  storyline snapshot

  # Export a specific run as YAML
  storyline snapshot --run run-42 --format yaml -o run-42.yaml

  # Export and put the final post on the clipboard
  storyline snapshot --copy`,
	RunE: runSnapshot,
}

var (
	snapshotAddr   string
	snapshotRunID  string
	snapshotOutput string
	snapshotFormat string
	snapshotCopy   bool
)

func init() {
	rootCmd.AddCommand(snapshotCmd)

	snapshotCmd.Flags().StringVar(&snapshotAddr, "addr", "",
		"Server address (default from config)")
	snapshotCmd.Flags().StringVar(&snapshotRunID, "run", "",
		"Run ID to export (default: the server's default run)")
	snapshotCmd.Flags().StringVarP(&snapshotOutput, "output", "o", "",
		"Output path (default: ./storyline-<run>-<timestamp>.<format>)")
	snapshotCmd.Flags().StringVar(&snapshotFormat, "format", "json",
		"Output format: json | yaml")
	snapshotCmd.Flags().BoolVar(&snapshotCopy, "copy", false,
		"Also copy the final post to the clipboard")
}

func runSnapshot(_ *cobra.Command, _ []string) error {
	addr, err := resolveServerAddr(snapshotAddr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := tui.NewClient(addr)
	var snap *engine.Snapshot
	if snapshotRunID == "" {
		snap, err = client.FetchDefault(ctx)
	} else {
		snap, err = client.FetchRun(ctx, snapshotRunID)
	}
	if err != nil {
		return err
	}

	data, err := encodeSnapshot(snap, snapshotFormat)
	if err != nil {
		return err
	}

	outputPath := strings.TrimSpace(snapshotOutput)
	if outputPath == "" {
		outputPath = filepath.Join(".", fmt.Sprintf("storyline-%s-%s.%s",
			snap.Run.ID, time.Now().UTC().Format("20060102-150405"), snapshotFormat))
	}

	if err := config.AtomicWrite(outputPath, data); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	if snapshotCopy {
		copySnapshotFinalPost(snap)
	}

	if quiet {
		fmt.Println(outputPath)
		return nil
	}

	fmt.Printf("Snapshot written to %s\n", outputPath)
	fmt.Printf("Run: %s (%s)\n", snap.Run.ID, snap.Run.Status)
	fmt.Printf("Log entries: %d\n", len(snap.Log))
	fmt.Printf("Suppressed duplicates: %d\n", snap.Suppressed)
	return nil
}

func copySnapshotFinalPost(snap *engine.Snapshot) {
	post := snap.Run.Outputs.FinalPost
	if post == "" {
		if !quiet {
			fmt.Println("No final post to copy yet")
		}
		return
	}
	result, err := clip.Copy(post)
	if err != nil {
		fmt.Fprintf(os.Stderr, "clipboard copy failed: %v\n", err)
		return
	}
	if quiet {
		return
	}
	if result.Method == clip.MethodFile {
		fmt.Printf("Final post written to %s\n", result.FilePath)
	} else {
		fmt.Printf("Final post copied (%s)\n", result.Method)
	}
}

func encodeSnapshot(snap *engine.Snapshot, format string) ([]byte, error) {
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	switch format {
	case "json":
		return append(raw, '\n'), nil
	case "yaml":
		// Round-trip through JSON so the YAML keys match the wire names.
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("encoding snapshot: %w", err)
		}
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown format %q (want json or yaml)", format)
	}
}
