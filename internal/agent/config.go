package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RestartPolicy bounds crash-driven respawns for one agent.
type RestartPolicy struct {
	// MaxRestarts is the number of automatic respawns allowed before the
	// reconciler marks the agent unrecoverable. Zero means restart forever.
	MaxRestarts int `yaml:"max_restarts,omitempty" json:"max_restarts,omitempty"`
	// Backoff is the wait before a crash-driven respawn.
	Backoff time.Duration `yaml:"-" json:"backoff,omitempty"`
}

// UnmarshalYAML accepts backoff as a duration string ("250ms", "2s").
func (p *RestartPolicy) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxRestarts int    `yaml:"max_restarts"`
		Backoff     string `yaml:"backoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.MaxRestarts = raw.MaxRestarts
	p.Backoff = 0
	if raw.Backoff != "" {
		parsed, err := time.ParseDuration(raw.Backoff)
		if err != nil {
			return fmt.Errorf("agent: restart backoff: %w", err)
		}
		p.Backoff = parsed
	}
	return nil
}

// Config is the desired declarative description of one agent process. The
// reconciler re-reads config lists every cycle, so a Config must stay a plain
// value with no runtime state attached.
type Config struct {
	ID      string            `yaml:"id" json:"id"`
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	Type    string            `yaml:"type,omitempty" json:"type,omitempty"`
	Module  string            `yaml:"module,omitempty" json:"module,omitempty"`
	Model   string            `yaml:"model,omitempty" json:"model,omitempty"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Restart RestartPolicy     `yaml:"restart,omitempty" json:"restart,omitempty"`
}

// Validate ensures the config can be spawned.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("agent: config id is required")
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("agent %s: command is required", c.ID)
	}
	if c.Restart.MaxRestarts < 0 {
		return fmt.Errorf("agent %s: max_restarts must be >= 0", c.ID)
	}
	return nil
}

// DisplayName returns the human-facing name, falling back to the id.
func (c Config) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	clone := c
	if len(c.Args) > 0 {
		clone.Args = append([]string(nil), c.Args...)
	}
	if len(c.Env) > 0 {
		clone.Env = make(map[string]string, len(c.Env))
		for key, value := range c.Env {
			clone.Env[key] = value
		}
	}
	return clone
}

// Environ renders the Env map as KEY=VALUE pairs in sorted order.
func (c Config) Environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for key := range c.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+c.Env[key])
	}
	return out
}
