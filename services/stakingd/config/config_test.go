package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stakingd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STAKINGD_JWT_SECRET", "")
	path := writeConfig(t, `
listen: " :9000 "
storage: MEMORY
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.Storage != StorageMemory {
		t.Fatalf("expected memory storage, got %q", cfg.Storage)
	}
	if cfg.StreamInterval != 2*time.Second {
		t.Fatalf("unexpected stream interval %s", cfg.StreamInterval)
	}
	if _, ok := cfg.RateLimits["settle"]; !ok {
		t.Fatalf("expected default settle rate limit")
	}
	if cfg.GenesisPath == "" || cfg.DataDir == "" {
		t.Fatalf("expected default paths to be populated")
	}
}

func TestLoadConfigSecretFromEnv(t *testing.T) {
	t.Setenv("STAKE_SECRET", "from-env")
	path := writeConfig(t, `
auth:
  enabled: true
  secret_env: STAKE_SECRET
  issuer: stakingd
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("expected secret from environment, got %q", cfg.Auth.Secret)
	}
}

func TestLoadConfigRejections(t *testing.T) {
	t.Setenv("STAKINGD_JWT_SECRET", "")
	cases := map[string]string{
		"unknown field":   "listen: \":1\"\nbogus: true\n",
		"storage backend": "storage: redis\n",
		"history dsn":     "history:\n  driver: sqlite\n",
		"history driver":  "history:\n  driver: mysql\n  dsn: x\n",
		"auth secret":     "auth:\n  enabled: true\n",
		"rate limit":      "rate_limits:\n  settle:\n    rps: 0\n    burst: 1\n",
		"sample ratio":    "telemetry:\n  sample_ratio: 1.5\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	t.Setenv("STAKINGD_JWT_SECRET", "example-secret")
	cfg, err := Load(filepath.Join("..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Secret != "example-secret" {
		t.Fatalf("unexpected auth config %+v", cfg.Auth)
	}
	if cfg.History.Driver != "sqlite" || cfg.RateLimits["admin"].Burst != 5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
