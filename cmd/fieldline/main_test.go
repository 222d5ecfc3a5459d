package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	originalEnv := os.Getenv("FIELDLINE_CONFIG")
	defer os.Setenv("FIELDLINE_CONFIG", originalEnv)

	os.Setenv("FIELDLINE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_StartsAndStops verifies a minimal config boots and shuts down
// cleanly on context cancellation.
func TestRun_StartsAndStops(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gateway:
  id: test-gateway

database:
  path: ` + filepath.Join(tmpDir, "fieldline.db") + `

logging:
  level: error
  format: text

sinks:
  storage:
    enabled: false
  mqtt:
    enabled: false
  http:
    enabled: false
  databoard:
    enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	originalEnv := os.Getenv("FIELDLINE_CONFIG")
	defer os.Setenv("FIELDLINE_CONFIG", originalEnv)
	os.Setenv("FIELDLINE_CONFIG", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	// Give startup a moment, then request shutdown.
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() = %v, want clean shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not shut down")
	}
}

func TestGetConfigPath(t *testing.T) {
	originalEnv := os.Getenv("FIELDLINE_CONFIG")
	defer os.Setenv("FIELDLINE_CONFIG", originalEnv)

	os.Setenv("FIELDLINE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	os.Setenv("FIELDLINE_CONFIG", "/etc/fieldline/config.yaml")
	if got := getConfigPath(); got != "/etc/fieldline/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}
