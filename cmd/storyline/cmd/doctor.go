package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/storyline-ai/storyline/internal/backend"
	"github.com/storyline-ai/storyline/internal/config"
	"github.com/storyline-ai/storyline/internal/diagnostics"
	"github.com/storyline-ai/storyline/internal/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and connectivity",
	Long:  "Verify the configuration, the workflow service connection, and the local server, and report host resource usage.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	fmt.Println("Checking configuration...")
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  ✗ %v\n", err)
		return fmt.Errorf("configuration check failed")
	}

	healthy := true
	if err := config.ValidateConfig(cfg); err != nil {
		var issues config.ValidationErrors
		if errors.As(err, &issues) {
			for _, issue := range issues {
				fmt.Printf("  ✗ %s: %s\n", issue.Field, issue.Message)
			}
		} else {
			fmt.Printf("  ✗ %v\n", err)
		}
		healthy = false
	} else {
		fmt.Println("  ✓ configuration valid")
	}
	fmt.Println()

	fmt.Println("Checking workflow service...")
	fmt.Println()

	if cfg.Backend.BaseURL == "" {
		fmt.Println("  ○ standalone mode (no backend configured)")
	} else {
		client := backend.NewClient(backend.Config{
			BaseURL: cfg.Backend.BaseURL,
			Token:   cfg.Backend.Token,
			Timeout: cfg.Backend.RequestTimeout(),
		}, logging.NewNop())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Health(ctx); err != nil {
			fmt.Printf("  ✗ %s unreachable: %v\n", cfg.Backend.BaseURL, err)
			healthy = false
		} else {
			fmt.Printf("  ✓ %s reachable\n", cfg.Backend.BaseURL)
		}
		cancel()
	}
	fmt.Println()

	fmt.Println("Checking local server...")
	fmt.Println()

	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	if serverRunning(addr) {
		fmt.Printf("  ✓ %s answering\n", addr)
	} else {
		fmt.Printf("  ○ %s not running (start it with 'storyline serve')\n", addr)
	}
	fmt.Println()

	metrics := diagnostics.NewSystemMetricsCollector().Collect()
	fmt.Println("Host resources:")
	fmt.Println()
	if metrics.CPUModel != "" {
		fmt.Printf("  cpu:        %s (%d cores, %d threads)\n", metrics.CPUModel, metrics.CPUCores, metrics.CPUThreads)
	}
	fmt.Printf("  memory:     %.0f / %.0f MB (%.1f%%)\n", metrics.MemUsedMB, metrics.MemTotalMB, metrics.MemPercent)
	fmt.Printf("  disk:       %.1f / %.1f GB (%.1f%%)\n", metrics.DiskUsedGB, metrics.DiskTotalGB, metrics.DiskPercent)
	fmt.Printf("  load:       %.2f %.2f %.2f\n", metrics.LoadAvg1, metrics.LoadAvg5, metrics.LoadAvg15)
	fmt.Printf("  goroutines: %d\n", metrics.Goroutines)
	fmt.Println()

	if !healthy {
		fmt.Println("Some checks failed")
		return fmt.Errorf("doctor check failed")
	}

	fmt.Println("All checks passed")
	return nil
}

// serverRunning probes the local health endpoint. Failures just mean the
// server is not up, which is fine for doctor.
func serverRunning(addr string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
