package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	d, ok := cfg.Device("Malloc0")
	if !ok {
		t.Fatal("default config should define Malloc0")
	}
	if d.Type != DeviceMemory || d.ClusterSize != DefaultClusterSize {
		t.Errorf("unexpected default device: %+v", d)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	content := `
log:
  level: debug
engine:
  cache_size_mb: 64
  start_timeout: 5s
devices:
  - name: Nvme0n1
    type: local
    path: /tmp/nvme0
    cluster_size: 65536
  - name: Remote0
    type: minio
    bucket: bench
    endpoint: localhost:9000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log config = %+v", cfg.Log)
	}
	if cfg.Engine.CacheSizeMB != 64 || cfg.Engine.StartTimeout != 5*time.Second {
		t.Errorf("engine config = %+v", cfg.Engine)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(cfg.Devices))
	}
	if _, ok := cfg.Device("Malloc0"); ok {
		t.Error("file devices should replace the defaults")
	}
	d, _ := cfg.Device("Nvme0n1")
	if d.ClusterSize != 65536 || d.Path != "/tmp/nvme0" {
		t.Errorf("device = %+v", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromFile_JSONWithoutDevices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.json")
	if err := os.WriteFile(path, []byte(`{"engine": {"cache_size_mb": 8}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if _, ok := cfg.Device("Malloc0"); !ok {
		t.Error("missing device list should fall back to defaults")
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.conf")
	if err := os.WriteFile(path, []byte("[Malloc]"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Log.Level = "trace" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero cache", func(c *Config) { c.Engine.CacheSizeMB = 0 }},
		{"unnamed device", func(c *Config) { c.Devices[0].Name = "" }},
		{"duplicate device", func(c *Config) { c.Devices = append(c.Devices, c.Devices[0]) }},
		{"bad type", func(c *Config) { c.Devices[0].Type = "floppy" }},
		{"s3 without bucket", func(c *Config) { c.Devices[0].Type = DeviceS3 }},
		{"minio without endpoint", func(c *Config) {
			c.Devices[0].Type = DeviceMinio
			c.Devices[0].Bucket = "b"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Devices = append(cfg.Devices, DeviceConfig{Name: "remote-0", Type: DeviceMinio})

	t.Setenv("BLOBBENCH_LOG_LEVEL", "warn")
	t.Setenv("BLOBBENCH_CACHE_SIZE_MB", "32")
	t.Setenv("BLOBBENCH_FORMAT_IF_BLANK", "false")
	t.Setenv("BLOBBENCH_START_TIMEOUT", "2s")
	t.Setenv("BLOBBENCH_REMOTE_0_ACCESS_KEY", "ak")
	t.Setenv("BLOBBENCH_REMOTE_0_SECRET_KEY", "sk")

	LoadFromEnv(cfg)

	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.Engine.CacheSizeMB != 32 || cfg.Engine.FormatIfBlank || cfg.Engine.StartTimeout != 2*time.Second {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	d, _ := cfg.Device("remote-0")
	if d.AccessKey != "ak" || d.SecretKey != "sk" {
		t.Errorf("credentials not applied: %+v", d)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("BLOBBENCH_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("BLOBBENCH_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(dir, "bench.yaml")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("BLOBBENCH_TEST_DOTENV"); got != "loaded" {
		t.Errorf("got %q, want loaded", got)
	}

	// Missing .env is not an error.
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "bench.yaml")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}

func TestLoad_DotEnvCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bench.yaml")
	content := `
devices:
  - name: remote0
    type: minio
    bucket: bench
    endpoint: localhost:9000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	env := "BLOBBENCH_REMOTE0_ACCESS_KEY=from-dotenv\nBLOBBENCH_REMOTE0_SECRET_KEY=secret\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("BLOBBENCH_REMOTE0_ACCESS_KEY")
		os.Unsetenv("BLOBBENCH_REMOTE0_SECRET_KEY")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, ok := cfg.Device("remote0")
	if !ok {
		t.Fatal("device remote0 missing")
	}
	if d.AccessKey != "from-dotenv" || d.SecretKey != "secret" {
		t.Errorf("credentials from .env not applied: %+v", d)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestResolveAndEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Devices = []DeviceConfig{{Name: "Disk0", Type: DeviceLocal, Path: filepath.Join(root, "disk0")}}
	cfg.Report.HistoryPath = filepath.Join(root, "reports", "history.db")
	cfg.Resolve()

	if cfg.Devices[0].ClusterSize != DefaultClusterSize {
		t.Errorf("cluster size = %d", cfg.Devices[0].ClusterSize)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{filepath.Join(root, "disk0"), filepath.Join(root, "reports")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s", dir)
		}
	}
}
