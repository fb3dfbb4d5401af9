package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"taskroom/internal/domain"
)

// Config models the per-project settings document (taskroom.yml).
type Config struct {
	Project struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"project" json:"project"`
	Tasks TaskSettings `yaml:"tasks" json:"tasks"`
	Chat  ChatSettings `yaml:"chat" json:"chat"`
}

type TaskSettings struct {
	DefaultStatus   domain.TaskStatus `yaml:"default_status" json:"default_status"`
	DefaultPriority domain.Priority   `yaml:"default_priority" json:"default_priority"`
	// AllowReopen lets callers move a task out of DONE or CANCELED.
	AllowReopen *bool `yaml:"allow_reopen,omitempty" json:"allow_reopen,omitempty"`
}

type ChatSettings struct {
	MarkReadOnView *bool `yaml:"mark_read_on_view,omitempty" json:"mark_read_on_view,omitempty"`
}

// ReopenAllowed defaults to true.
func (t TaskSettings) ReopenAllowed() bool {
	return t.AllowReopen == nil || *t.AllowReopen
}

// MarkReadOnViewEnabled defaults to true.
func (c ChatSettings) MarkReadOnViewEnabled() bool {
	return c.MarkReadOnView == nil || *c.MarkReadOnView
}

// Apply fills an empty status or priority with the project defaults.
func (t TaskSettings) Apply(status *domain.TaskStatus, priority *domain.Priority) {
	if status != nil && *status == "" {
		*status = t.DefaultStatus
	}
	if priority != nil && *priority == "" {
		*priority = t.DefaultPriority
	}
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with taskroom project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Project.ID) == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if !c.Tasks.DefaultStatus.Valid() {
		return fmt.Errorf("config.tasks.default_status %q is not a task status", c.Tasks.DefaultStatus)
	}
	if c.Tasks.DefaultStatus.Terminal() {
		return fmt.Errorf("config.tasks.default_status must not be a closed status")
	}
	if !c.Tasks.DefaultPriority.Valid() {
		return fmt.Errorf("config.tasks.default_priority %q is not a priority", c.Tasks.DefaultPriority)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskroom.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing task
// defaults fall back to OPEN and MEDIUM.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Tasks.DefaultStatus == "" {
		cfg.Tasks.DefaultStatus = domain.StatusOpen
	}
	if cfg.Tasks.DefaultPriority == "" {
		cfg.Tasks.DefaultPriority = domain.PriorityMedium
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `project:
  id: %s

tasks:
  default_status: OPEN
  default_priority: MEDIUM
  allow_reopen: true

chat:
  mark_read_on_view: true
`
