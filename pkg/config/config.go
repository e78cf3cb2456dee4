// Package config handles project configuration loading and validation
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/layerforge/layerforge/pkg/types"
)

// ConfigFileNames are the project file names searched in order
var ConfigFileNames = []string{
	"layerforge.config.json",
	"layerforge.config.yaml",
	"layerforge.config.yml",
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig locates the project configuration file under root
func (m *Manager) FindConfig(root string) (string, error) {
	for _, name := range ConfigFileNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no configuration file found in %s (looked for %v)", root, ConfigFileNames)
}

// LoadConfig loads and validates configuration from a file. JSON is
// tried first, then YAML.
func (m *Manager) LoadConfig(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg types.ProjectConfig

	if err := json.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	if err := yaml.Unmarshal(data, &cfg); err == nil {
		return m.validateConfig(&cfg)
	}

	return nil, fmt.Errorf("failed to parse config as JSON or YAML")
}

// ValidateConfig checks structural soundness of a configuration
func (m *Manager) ValidateConfig(cfg *types.ProjectConfig) error {
	if cfg.Version != "1.0" {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}
	if cfg.Name == "" {
		return fmt.Errorf("missing collection name")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("invalid output dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if len(cfg.Layers) == 0 {
		return fmt.Errorf("no layers defined")
	}

	layerIDs := make(map[int]bool)
	for i := range cfg.Layers {
		layer := &cfg.Layers[i]
		if layer.Name == "" {
			return fmt.Errorf("layer %d: missing name", layer.ID)
		}
		if layerIDs[layer.ID] {
			return fmt.Errorf("duplicate layer id: %d", layer.ID)
		}
		layerIDs[layer.ID] = true

		if err := m.validateLayer(layer); err != nil {
			return fmt.Errorf("layer '%s': %w", layer.Name, err)
		}
	}

	// Rules may only target layers that exist
	for i := range cfg.Layers {
		for j := range cfg.Layers[i].Traits {
			trait := &cfg.Layers[i].Traits[j]
			for _, rule := range trait.Rules {
				if !layerIDs[rule.TargetLayer] {
					return fmt.Errorf("trait '%s' rule targets unknown layer %d",
						trait.Name, rule.TargetLayer)
				}
				if rule.TargetLayer == cfg.Layers[i].ID {
					return fmt.Errorf("trait '%s' rule targets its own layer", trait.Name)
				}
			}
		}
	}

	groupNames := make(map[string]bool)
	for _, group := range cfg.Groups {
		if group.Name == "" {
			return fmt.Errorf("uniqueness group missing name")
		}
		if groupNames[group.Name] {
			return fmt.Errorf("duplicate uniqueness group: %s", group.Name)
		}
		groupNames[group.Name] = true

		if len(group.Layers) == 0 {
			return fmt.Errorf("uniqueness group '%s' covers no layers", group.Name)
		}
		for _, id := range group.Layers {
			if !layerIDs[id] {
				return fmt.Errorf("uniqueness group '%s' references unknown layer %d", group.Name, id)
			}
		}
	}

	return nil
}

// GetDefaultConfig returns a starting configuration for a new project
func (m *Manager) GetDefaultConfig(name string) *types.ProjectConfig {
	enabled := true
	return &types.ProjectConfig{
		Version:   "1.0",
		Name:      name,
		Width:     1024,
		Height:    1024,
		AssetRoot: "assets",
		OutputDir: "output",
		Layers: []types.Layer{
			{
				ID:    1,
				Name:  "Background",
				Order: 0,
				Traits: []types.Trait{
					{ID: 1, Name: "Default", Weight: 3, Asset: "background/default.png"},
				},
			},
		},
		Generation: &types.GenerationSettings{},
		Logging: &types.LoggingConfig{
			Level: types.LogLevelInfo,
		},
		Notify: &types.NotificationConfig{
			Enabled: &enabled,
		},
	}
}

// Request builds a generation request from the configuration
func Request(cfg *types.ProjectConfig, count int) *types.GenerationRequest {
	return &types.GenerationRequest{
		Count:      count,
		Width:      cfg.Width,
		Height:     cfg.Height,
		NamePrefix: cfg.Name,
		Layers:     cfg.Layers,
		Groups:     cfg.Groups,
	}
}

func (m *Manager) validateConfig(cfg *types.ProjectConfig) (*types.ProjectConfig, error) {
	if err := m.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Manager) validateLayer(layer *types.Layer) error {
	if len(layer.Traits) == 0 {
		return fmt.Errorf("no traits defined")
	}

	traitIDs := make(map[int]bool)
	for i := range layer.Traits {
		trait := &layer.Traits[i]
		if trait.Name == "" {
			return fmt.Errorf("trait %d: missing name", trait.ID)
		}
		if traitIDs[trait.ID] {
			return fmt.Errorf("duplicate trait id: %d", trait.ID)
		}
		traitIDs[trait.ID] = true

		if trait.Weight < 0 || trait.Weight > 5 {
			return fmt.Errorf("trait '%s': weight %d outside 1..5", trait.Name, trait.Weight)
		}
		if trait.Ruler && len(trait.Rules) == 0 {
			return fmt.Errorf("trait '%s': marked as ruler but carries no rules", trait.Name)
		}
	}
	return nil
}
