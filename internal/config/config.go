package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models airtech.yml.
type Config struct {
	Serial struct {
		Prefix string `yaml:"prefix"`
	} `yaml:"serial"`
	Departments []string `yaml:"departments"`
	Assignees   []string `yaml:"assignees"`
	Server      struct {
		Listen    string `yaml:"listen"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with airtech init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Serial.Prefix) == "" {
		return fmt.Errorf("config.serial.prefix is required")
	}
	if strings.Contains(c.Serial.Prefix, "-") {
		return fmt.Errorf("config.serial.prefix must not contain '-'")
	}
	if len(c.Departments) == 0 {
		return fmt.Errorf("config.departments is required")
	}
	for i, d := range c.Departments {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("config.departments[%d] is empty", i)
		}
	}
	if len(c.Assignees) == 0 {
		return fmt.Errorf("config.assignees is required")
	}
	for i, a := range c.Assignees {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("config.assignees[%d] is empty", i)
		}
	}
	return nil
}

// ValidDepartment reports whether d is in the configured catalog.
func (c *Config) ValidDepartment(d string) bool {
	for _, v := range c.Departments {
		if v == d {
			return true
		}
	}
	return false
}

// ValidAssignee reports whether a is in the configured roster.
func (c *Config) ValidAssignee(a string) bool {
	for _, v := range c.Assignees {
		if v == a {
			return true
		}
	}
	return false
}

// DefaultAssignee is the first entry of the configured roster.
func (c *Config) DefaultAssignee() string {
	if len(c.Assignees) == 0 {
		return ""
	}
	return c.Assignees[0]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "airtech.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
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

const defaultTemplate = `serial:
  prefix: AIRTECH

departments:
  - Mechanical
  - Electrical
  - Production
  - Quality
  - Other

assignees:
  - Person A
  - Person B
  - Person C
  - Person D

server:
  listen: 127.0.0.1:8080
  jwt_secret: ""
`
