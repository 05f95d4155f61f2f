package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models machinepark.yml.
type Config struct {
	Park struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"park"`
	Notifications struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"notifications"`
	Specialties []string `yaml:"specialties"`
	Plates      struct {
		Prefix   string `yaml:"prefix"`
		Attempts int    `yaml:"attempts"`
	} `yaml:"plates"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Park.ID == "" {
		return fmt.Errorf("config.park.id is required")
	}
	if c.Park.Kind != "machine-park" {
		return fmt.Errorf("config.park.kind must be 'machine-park'")
	}
	if c.Plates.Prefix == "" {
		return fmt.Errorf("config.plates.prefix is required")
	}
	if c.Plates.Attempts < 1 {
		return fmt.Errorf("config.plates.attempts must be >= 1")
	}
	if len(c.Specialties) == 0 {
		return fmt.Errorf("config.specialties is required")
	}
	for _, s := range c.Specialties {
		if s == "" {
			return fmt.Errorf("config.specialties contains empty specialty")
		}
	}
	for kind := range c.Notifications.Catalog {
		if kind == "" {
			return fmt.Errorf("config.notifications.catalog contains empty kind")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "machinepark.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(parkID string) string {
	return fmt.Sprintf(defaultTemplate, parkID)
}

// Default returns the default Config struct for a park.
func Default(parkID string) *Config {
	var cfg Config
	cfg.Park.ID = parkID
	cfg.Park.Kind = "machine-park"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, parkID))).Decode(&cfg)
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

const defaultTemplate = `park:
  id: %s
  kind: machine-park

notifications:
  catalog:
    "Nuevo montaje":
      description: "A machine was registered and needs assembly"
    "Comprobar maquina recreativa":
      description: "A machine is ready for verification"
    "Reensamblar maquina recreativa":
      description: "Verification failed; machine needs rework"
    "Distribuir maquina recreativa":
      description: "A machine is ready to be deployed to a commerce"
    "Dar mantenimiento a maquina recreativa":
      description: "A deployed machine broke down"
    "Maquina recreativa reparada":
      description: "Maintenance finished successfully"
    "Maquina recreativa retirada":
      description: "Maintenance failed; machine retired"

specialties:
  - Ensamblador
  - Comprobador
  - Mantenimiento

plates:
  prefix: PLA
  attempts: 5

webhooks: []
`
