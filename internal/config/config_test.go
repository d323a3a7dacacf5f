package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Orchestrator.ReconcileInterval != 5*time.Second {
		t.Fatalf("expected default reconcile interval 5s, got %s", c.Project.Orchestrator.ReconcileInterval)
	}
	if c.Project.Snapshots.Store != "memory" {
		t.Fatalf("expected default snapshot store memory, got %q", c.Project.Snapshots.Store)
	}
	if !strings.HasPrefix(c.LogsDir(), filepath.Join(projectDir, ConvoyDir)) {
		t.Fatalf("unexpected logs dir: %s", c.LogsDir())
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	convoyDir := filepath.Join(projectDir, ConvoyDir)
	if err := os.MkdirAll(convoyDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
orchestrator:
  reconcile_interval: 2s
  agent_types: [worker, critic]
  agents_file: fleet.yaml
snapshots:
  store: sqlite
  dsn: state/custom.db
workflows:
  dir: plans
`)
	if err := os.WriteFile(filepath.Join(convoyDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Orchestrator.ReconcileInterval != 2*time.Second {
		t.Fatalf("expected 2s interval, got %s", c.Project.Orchestrator.ReconcileInterval)
	}
	if len(c.Project.Orchestrator.AgentTypes) != 2 || c.Project.Orchestrator.AgentTypes[0] != "worker" {
		t.Fatalf("unexpected agent types: %v", c.Project.Orchestrator.AgentTypes)
	}
	if c.Project.Snapshots.Store != "sqlite" || c.Project.Snapshots.DSN != "state/custom.db" {
		t.Fatalf("unexpected snapshot config: %+v", c.Project.Snapshots)
	}
	if c.AgentsFilePath() != filepath.Join(convoyDir, "fleet.yaml") {
		t.Fatalf("unexpected agents file path: %s", c.AgentsFilePath())
	}
	if c.WorkflowsDir() != filepath.Join(convoyDir, "plans") {
		t.Fatalf("unexpected workflows dir: %s", c.WorkflowsDir())
	}
}

func TestNewConfigRejectsBadInterval(t *testing.T) {
	projectDir := t.TempDir()
	convoyDir := filepath.Join(projectDir, ConvoyDir)
	if err := os.MkdirAll(convoyDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := "orchestrator:\n  reconcile_interval: soon\n"
	if err := os.WriteFile(filepath.Join(convoyDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatalf("expected parse error for bad interval")
	}
}

func TestInitConvoyDir(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitConvoyDir(projectDir); err != nil {
		t.Fatalf("InitConvoyDir returned error: %v", err)
	}
	for _, sub := range []string{"logs", "state", "workflows"} {
		if _, err := os.Stat(filepath.Join(projectDir, ConvoyDir, sub)); err != nil {
			t.Fatalf("expected %s directory: %v", sub, err)
		}
	}
	configPath := filepath.Join(projectDir, ConvoyDir, "config.yaml")
	written, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("expected default config written: %v", err)
	}

	// A second init must not clobber an edited config.
	edited := append(written, []byte("\n# local notes\n")...)
	if err := os.WriteFile(configPath, edited, 0644); err != nil {
		t.Fatal(err)
	}
	if err := InitConvoyDir(projectDir); err != nil {
		t.Fatalf("second InitConvoyDir returned error: %v", err)
	}
	after, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(edited) {
		t.Fatalf("init overwrote an existing config")
	}
}
