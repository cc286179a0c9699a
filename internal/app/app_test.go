package app

import (
	"os"
	"path/filepath"
	"testing"
)

// TestNewApp_InitializesAllComponents verifies that NewApp wires every
// component (store, registry, codec, engine, dispatcher, supervisor, hub,
// HTTP server) non-nil in inline mode.
func TestNewApp_InitializesAllComponents(t *testing.T) {
	configPath := writeTestConfig(t, true)

	a, err := NewApp(configPath)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer a.Close()

	if a.Config == nil {
		t.Error("Config is nil")
	}
	if a.Logger == nil {
		t.Error("Logger is nil")
	}
	if a.Store == nil {
		t.Error("Store is nil")
	}
	if a.Registry == nil {
		t.Error("Registry is nil")
	}
	if a.Codec == nil {
		t.Error("Codec is nil")
	}
	if a.Engine == nil {
		t.Error("Engine is nil")
	}
	if a.Dispatcher == nil {
		t.Error("Dispatcher is nil")
	}
	if a.Supervisor == nil {
		t.Error("Supervisor is nil")
	}
	if a.Hub == nil {
		t.Error("Hub is nil")
	}
	if a.HTTP == nil {
		t.Error("HTTP is nil")
	}
	if a.StartupTime.IsZero() {
		t.Error("StartupTime is zero")
	}
}

// TestNewApp_CloseIsIdempotent verifies that calling Close multiple times
// does not panic.
func TestNewApp_CloseIsIdempotent(t *testing.T) {
	configPath := writeTestConfig(t, true)

	a, err := NewApp(configPath)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	a.Close()
	a.Close()
}

// TestNewApp_InvalidConfigReturnsError verifies that an invalid config file
// returns a meaningful error.
func TestNewApp_InvalidConfigReturnsError(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")
	os.WriteFile(configPath, []byte("{{{{invalid toml"), 0644)

	_, err := NewApp(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid config content, got nil")
	}
}

// --- test helpers ---

// writeTestConfig creates a minimal rocketd.toml in a temp directory.
// inline enables inline_mode so the test never needs a SurrealDB instance.
func writeTestConfig(t *testing.T, inline bool) string {
	t.Helper()
	dir := t.TempDir()

	config := `
environment = "test"

[rocket]
max_worker_threads = 2
heartbeat_seconds = 1
max_poll_seconds = 1
re_check_seconds = 5
inline_mode = ` + boolLiteral(inline) + `

[logging]
level = "error"
`
	configPath := filepath.Join(dir, "rocketd.toml")
	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func boolLiteral(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
