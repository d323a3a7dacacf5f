// internal/config/config.go
//
// This package handles configuration and the .convoy directory structure.
// Every project that uses Convoy gets a .convoy/ folder created in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ConvoyDir is the name of the directory we create in each project
	ConvoyDir = ".convoy"

	defaultReconcileInterval = 5 * time.Second
	defaultSnapshotStore     = "memory"
)

const defaultProjectConfigYAML = `# convoy project configuration
version: 1

orchestrator:
  # How often the reconciler converges running agents toward the desired set.
  reconcile_interval: 5s
  # Agent types the reconciler manages. Use [all] to manage every type.
  agent_types: [all]
  # Declarative agent configs, re-read every reconcile tick.
  agents_file: agents.yaml

snapshots:
  # memory | sqlite | redis
  store: memory
  # sqlite: path to the database file. redis: host:port address.
  dsn: ""

workflows:
  # Directory scanned for workflow definition files.
  dir: workflows
`

// OrchestratorConfig captures reconciler preferences from .convoy/config.yaml.
type OrchestratorConfig struct {
	ReconcileInterval time.Duration `yaml:"-"`
	AgentTypes        []string      `yaml:"agent_types"`
	AgentsFile        string        `yaml:"agents_file"`
}

// UnmarshalYAML accepts reconcile_interval as a duration string ("5s").
func (c *OrchestratorConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ReconcileInterval string   `yaml:"reconcile_interval"`
		AgentTypes        []string `yaml:"agent_types"`
		AgentsFile        string   `yaml:"agents_file"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.AgentTypes = raw.AgentTypes
	c.AgentsFile = raw.AgentsFile
	c.ReconcileInterval = 0
	if raw.ReconcileInterval != "" {
		parsed, err := time.ParseDuration(raw.ReconcileInterval)
		if err != nil {
			return fmt.Errorf("reconcile_interval: %w", err)
		}
		c.ReconcileInterval = parsed
	}
	return nil
}

// SnapshotConfig selects the execution snapshot store.
type SnapshotConfig struct {
	Store string `yaml:"store"`
	DSN   string `yaml:"dsn,omitempty"`
}

// WorkflowConfig captures workflow loading preferences.
type WorkflowConfig struct {
	Dir string `yaml:"dir"`
}

// ProjectConfig models .convoy/config.yaml.
type ProjectConfig struct {
	Version      int                `yaml:"version"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Snapshots    SnapshotConfig     `yaml:"snapshots"`
	Workflows    WorkflowConfig     `yaml:"workflows"`
}

// Config holds the runtime configuration for Convoy.
type Config struct {
	// ProjectDir is the directory where the user ran `convoy` from
	ProjectDir string

	// ConvoyProjectDir is ProjectDir/.convoy
	ConvoyProjectDir string

	Project ProjectConfig
}

// InitConvoyDir creates the .convoy directory structure in the given project
// directory and writes a default config.yaml on first use.
//
// Structure created:
// .convoy/
// ├── logs/       <- orchestration and workflow activity log
// ├── state/      <- snapshot stores that persist to disk
// └── workflows/  <- workflow definition files
func InitConvoyDir(projectDir string) error {
	convoyDir := filepath.Join(projectDir, ConvoyDir)

	dirs := []string{
		filepath.Join(convoyDir, "logs"),
		filepath.Join(convoyDir, "state"),
		filepath.Join(convoyDir, "workflows"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(convoyDir, "config.yaml"))
}

// NewConfig creates a Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		ConvoyProjectDir: filepath.Join(projectDir, ConvoyDir),
		Project:          defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ConvoyProjectDir, "logs")
}

// StateDir returns the path to the state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.ConvoyProjectDir, "state")
}

// WorkflowsDir returns the directory scanned for workflow files.
func (c *Config) WorkflowsDir() string {
	dir := c.Project.Workflows.Dir
	if dir == "" {
		dir = "workflows"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.ConvoyProjectDir, dir)
}

// AgentsFilePath returns the on-disk location of the declarative agent list.
func (c *Config) AgentsFilePath() string {
	file := c.Project.Orchestrator.AgentsFile
	if file == "" {
		file = "agents.yaml"
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(c.ConvoyProjectDir, file)
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ConvoyProjectDir, "config.yaml")
}

func (c *Config) loadProjectConfig() error {
	data, err := os.ReadFile(c.ProjectConfigPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", c.ProjectConfigPath(), err)
	}
	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.ProjectConfigPath(), err)
	}
	c.Project = parsed.normalized()
	return nil
}

func (cfg ProjectConfig) normalized() ProjectConfig {
	if cfg.Orchestrator.ReconcileInterval <= 0 {
		cfg.Orchestrator.ReconcileInterval = defaultReconcileInterval
	}
	if len(cfg.Orchestrator.AgentTypes) == 0 {
		cfg.Orchestrator.AgentTypes = []string{"all"}
	}
	if cfg.Snapshots.Store == "" {
		cfg.Snapshots.Store = defaultSnapshotStore
	}
	return cfg
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Orchestrator: OrchestratorConfig{
			ReconcileInterval: defaultReconcileInterval,
			AgentTypes:        []string{"all"},
			AgentsFile:        "agents.yaml",
		},
		Snapshots: SnapshotConfig{Store: defaultSnapshotStore},
		Workflows: WorkflowConfig{Dir: "workflows"},
	}
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644); err != nil {
		return fmt.Errorf("config: write default config: %w", err)
	}
	return nil
}
