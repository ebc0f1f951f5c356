package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("RETRIEVAL_PORT", "9090")
	os.Setenv("RETRIEVAL_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("RETRIEVAL_PORT")
		os.Unsetenv("RETRIEVAL_LOG_LEVEL")
	}()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
host: "127.0.0.1"
port: 8888
log:
  level: warn
  format: json
qdrant:
  url: "http://custom:6333"
retrieval:
  rrf_k: 80
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Host)
	}

	if cfg.Port != 8888 {
		t.Errorf("Port = %d, want 8888", cfg.Port)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %s, want warn", cfg.Log.Level)
	}

	if cfg.Qdrant.URL != "http://custom:6333" {
		t.Errorf("Qdrant.URL = %s, want http://custom:6333", cfg.Qdrant.URL)
	}

	if cfg.Retrieval.RRFK != 80 {
		t.Errorf("Retrieval.RRFK = %d, want 80", cfg.Retrieval.RRFK)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid bus type",
			modify: func(c *Config) {
				c.Bus.Type = "invalid"
			},
			wantErr: true,
		},
		{
			name: "rrf_k zero",
			modify: func(c *Config) {
				c.Retrieval.RRFK = 0
			},
			wantErr: true,
		},
		{
			name: "deadline shorter than channel timeout",
			modify: func(c *Config) {
				c.Retrieval.ChannelTimeoutMS = 3000
				c.Retrieval.RequestDeadlineMS = 2000
			},
			wantErr: true,
		},
		{
			name: "empty namespace default",
			modify: func(c *Config) {
				c.Retrieval.NamespaceDefault = ""
			},
			wantErr: true,
		},
		{
			name: "weight profile does not sum to 1.0",
			modify: func(c *Config) {
				c.Retrieval.WeightProfiles["factual"] = Weights{Vector: 0.9, Sparse: 0.9}
			},
			wantErr: true,
		},
		{
			name: "intent confidence threshold out of range",
			modify: func(c *Config) {
				c.Intent.ConfidenceThreshold = 1.5
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{
		Host: "localhost",
		Port: 8080,
	}

	if addr := cfg.Address(); addr != "localhost:8080" {
		t.Errorf("Address() = %s, want localhost:8080", addr)
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{}

	cfg.Log.Level = "debug"
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true for debug level")
	}

	cfg.Log.Level = "info"
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false for info level")
	}
}

func TestDefaultWeightProfilesSumToOne(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	for intent, w := range cfg.Retrieval.WeightProfiles {
		sum := w.Vector + w.Sparse + w.GraphLocal + w.GraphGlobal
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("weight profile %q sums to %.4f, want 1.0", intent, sum)
		}
	}
}
