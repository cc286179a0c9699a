package common

import "testing"

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("ROCKETD_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_NewDefault_RocketFields(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Rocket.MaxWorkerThreads != 10 {
		t.Errorf("Rocket.MaxWorkerThreads default = %d, want 10", cfg.Rocket.MaxWorkerThreads)
	}
	if cfg.Rocket.HeartbeatSeconds != 5 {
		t.Errorf("Rocket.HeartbeatSeconds default = %d, want 5", cfg.Rocket.HeartbeatSeconds)
	}
	if cfg.Rocket.InlineMode {
		t.Errorf("Rocket.InlineMode default = true, want false")
	}
}

func TestConfig_MaxWorkerThreadsEnvOverride(t *testing.T) {
	t.Setenv("ROCKETD_MAX_WORKER_THREADS", "25")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if cfg.Rocket.MaxWorkerThreads != 25 {
		t.Errorf("Rocket.MaxWorkerThreads = %d after env override, want 25", cfg.Rocket.MaxWorkerThreads)
	}
}

func TestConfig_InlineModeEnvOverride(t *testing.T) {
	t.Setenv("ROCKETD_INLINE_MODE", "true")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if !cfg.Rocket.InlineMode {
		t.Errorf("Rocket.InlineMode = false after env override, want true")
	}
}

func TestConfig_CodecSecretEnvOverride(t *testing.T) {
	t.Setenv("ROCKETD_CODEC_SECRET", "secret-from-env")
	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)
	if cfg.Codec.MasterSecret != "secret-from-env" {
		t.Errorf("Codec.MasterSecret = %q, want %q", cfg.Codec.MasterSecret, "secret-from-env")
	}
}

func TestConfig_StorageAddressEnvOverrides(t *testing.T) {
	t.Setenv("ROCKETD_JOBS_ADDRESS", "ws://jobs:8000/rpc")
	t.Setenv("ROCKETD_SLICES_ADDRESS", "ws://slices:8000/rpc")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Storage.Jobs.Address != "ws://jobs:8000/rpc" {
		t.Errorf("Storage.Jobs.Address = %q, want %q", cfg.Storage.Jobs.Address, "ws://jobs:8000/rpc")
	}
	if cfg.Storage.Slices.Address != "ws://slices:8000/rpc" {
		t.Errorf("Storage.Slices.Address = %q, want %q", cfg.Storage.Slices.Address, "ws://slices:8000/rpc")
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Environment = "production"
	if !cfg.IsProduction() {
		t.Errorf("IsProduction() = false for environment %q, want true", cfg.Environment)
	}
	cfg.Environment = "development"
	if cfg.IsProduction() {
		t.Errorf("IsProduction() = true for environment %q, want false", cfg.Environment)
	}
}
