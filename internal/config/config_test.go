package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sigma.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.Pipeline.Workers != 4 || cfg.Condition.MaxDepth != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Input.Mode != "redis" || cfg.Input.Redis.BlockTimeout != 5*time.Second {
		t.Fatalf("unexpected input defaults: %+v", cfg.Input)
	}
	if cfg.Database.Enabled {
		t.Fatalf("database should be disabled by default")
	}
	if cfg.Pipeline.BatchSize != 500 || cfg.Pipeline.FlushInterval != 2*time.Second {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Input.Kafka.FromStart {
		t.Fatalf("kafka should start from the latest offset by default")
	}
}

func TestLoad_File(t *testing.T) {
	p := writeConfig(t, `
server:
  addr: ":9090"
rules:
  path: /etc/sigma/rules
input:
  mode: kafka
  kafka:
    brokers: ["k1:9092", "k2:9092"]
    topic: winlogs
pipeline:
  workers: 12
condition:
  max_depth: 16
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Rules.Path != "/etc/sigma/rules" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Input.Mode != "kafka" || !reflect.DeepEqual(cfg.Input.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) {
		t.Fatalf("unexpected kafka config: %+v", cfg.Input.Kafka)
	}
	if cfg.Input.Kafka.Group != "sigma-detect" {
		t.Fatalf("group default lost: %q", cfg.Input.Kafka.Group)
	}
	if cfg.Pipeline.Workers != 12 || cfg.Condition.MaxDepth != 16 {
		t.Fatalf("unexpected pipeline/condition: %+v %+v", cfg.Pipeline, cfg.Condition)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, "pipeline:\n  workers: 2\n")
	t.Setenv("SIGMA_PIPELINE_WORKERS", "7")
	t.Setenv("SIGMA_SERVER_ADDR", ":7000")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Pipeline.Workers != 7 || cfg.Server.Addr != ":7000" {
		t.Fatalf("env not applied: workers=%d addr=%s", cfg.Pipeline.Workers, cfg.Server.Addr)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"mode":     "input:\n  mode: file\n",
		"workers":  "pipeline:\n  workers: 0\n",
		"batch":    "pipeline:\n  batch_size: -5\n",
		"depth":    "condition:\n  max_depth: -1\n",
		"password": "input:\n  redis:\n    password: hunter2\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
