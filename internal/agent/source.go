package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source produces the desired agent list on demand. The reconciler re-queries
// the source every cycle; implementations make no caching guarantee.
type Source interface {
	Configs() ([]Config, error)
}

// StaticSource serves a fixed config list.
type StaticSource struct {
	configs []Config
}

// NewStaticSource validates and captures the given configs.
func NewStaticSource(configs ...Config) (*StaticSource, error) {
	if err := validateConfigList(configs); err != nil {
		return nil, err
	}
	clones := make([]Config, len(configs))
	for i, cfg := range configs {
		clones[i] = cfg.Clone()
	}
	return &StaticSource{configs: clones}, nil
}

// Configs returns a copy of the captured list.
func (s *StaticSource) Configs() ([]Config, error) {
	out := make([]Config, len(s.configs))
	for i, cfg := range s.configs {
		out[i] = cfg.Clone()
	}
	return out, nil
}

// FileSource reads a YAML agent list from disk on every call, so edits take
// effect on the next reconcile cycle without a restart.
type FileSource struct {
	Path string
}

// NewFileSource points a source at a YAML file.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

type agentsFile struct {
	Agents []Config `yaml:"agents"`
}

// Configs parses the file. A missing file yields an empty desired set rather
// than an error so the orchestrator can start before the file exists.
func (s *FileSource) Configs() ([]Config, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("agent: read %s: %w", s.Path, err)
	}
	var parsed agentsFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("agent: parse %s: %w", s.Path, err)
	}
	if err := validateConfigList(parsed.Agents); err != nil {
		return nil, fmt.Errorf("agent: %s: %w", s.Path, err)
	}
	return parsed.Agents, nil
}

func validateConfigList(configs []Config) error {
	seen := map[string]struct{}{}
	for idx, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("agent config[%d]: %w", idx, err)
		}
		if _, dup := seen[cfg.ID]; dup {
			return fmt.Errorf("agent: duplicate config id %s", cfg.ID)
		}
		seen[cfg.ID] = struct{}{}
	}
	return nil
}
