package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ".storyline.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config, err error) {
			if err != nil {
				return
			}
			select {
			case reloads <- cfg:
			default:
			}
		})
	}()

	// Let the watcher register before touching the file.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case cfg := <-reloads:
		if cfg.Log.Level != "debug" {
			t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after rewrite")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_ReportsBrokenConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ".storyline.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadErrs := make(chan error, 4)
	go func() {
		_ = Watch(ctx, path, func(_ *Config, err error) {
			if err != nil {
				select {
				case reloadErrs <- err:
				default:
				}
			}
		})
	}()

	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte(":\n\t::not yaml"), 0o600); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case err := <-reloadErrs:
		if err == nil {
			t.Error("expected a reload error for broken yaml")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload error observed")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "missing", ".storyline.yaml"), func(*Config, error) {})
	if err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
