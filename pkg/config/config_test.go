package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

const validJSON = `{
  "version": "1.0",
  "name": "Test Collection",
  "width": 512,
  "height": 512,
  "layers": [
    {
      "id": 1,
      "name": "Background",
      "order": 0,
      "traits": [
        {"id": 1, "name": "red", "weight": 3},
        {"id": 2, "name": "blue"}
      ]
    },
    {
      "id": 2,
      "name": "Shape",
      "order": 1,
      "traits": [
        {"id": 3, "name": "circle", "ruler": true,
         "rules": [{"targetLayer": 1, "forbidden": [2]}]}
      ]
    }
  ],
  "groups": [{"name": "all", "layers": [1, 2], "active": true}]
}`

const validYAML = `version: "1.0"
name: Test Collection
width: 256
height: 256
layers:
  - id: 1
    name: Background
    order: 0
    traits:
      - id: 1
        name: red
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfig(t, "layerforge.config.json", validJSON)

	cfg, err := NewManager().LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Name != "Test Collection" || len(cfg.Layers) != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if !cfg.Layers[1].Traits[0].Ruler {
		t.Error("ruler flag lost in parsing")
	}
	if len(cfg.Groups) != 1 || !cfg.Groups[0].Active {
		t.Errorf("groups = %+v", cfg.Groups)
	}
}

func TestLoadConfigYAMLFallback(t *testing.T) {
	path := writeConfig(t, "layerforge.config.yaml", validYAML)

	cfg, err := NewManager().LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 256 || cfg.Layers[0].Traits[0].Name != "red" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigUnparseable(t *testing.T) {
	path := writeConfig(t, "layerforge.config.json", "{not json: [nor yaml")
	if _, err := NewManager().LoadConfig(path); err == nil {
		t.Error("unparseable config did not error")
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *types.ProjectConfig {
		return &types.ProjectConfig{
			Version: "1.0",
			Name:    "c",
			Width:   64,
			Height:  64,
			Layers: []types.Layer{
				{ID: 1, Name: "a", Traits: []types.Trait{{ID: 1, Name: "x"}}},
				{ID: 2, Name: "b", Traits: []types.Trait{{ID: 2, Name: "y"}}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*types.ProjectConfig)
	}{
		{"bad version", func(c *types.ProjectConfig) { c.Version = "2.0" }},
		{"no name", func(c *types.ProjectConfig) { c.Name = "" }},
		{"zero height", func(c *types.ProjectConfig) { c.Height = 0 }},
		{"no layers", func(c *types.ProjectConfig) { c.Layers = nil }},
		{"duplicate layer id", func(c *types.ProjectConfig) { c.Layers[1].ID = 1 }},
		{"layer without traits", func(c *types.ProjectConfig) { c.Layers[0].Traits = nil }},
		{"duplicate trait id", func(c *types.ProjectConfig) {
			c.Layers[0].Traits = append(c.Layers[0].Traits, types.Trait{ID: 1, Name: "dup"})
		}},
		{"weight out of range", func(c *types.ProjectConfig) { c.Layers[0].Traits[0].Weight = 9 }},
		{"ruler without rules", func(c *types.ProjectConfig) { c.Layers[0].Traits[0].Ruler = true }},
		{"rule targets unknown layer", func(c *types.ProjectConfig) {
			c.Layers[0].Traits[0].Ruler = true
			c.Layers[0].Traits[0].Rules = []types.CompatibilityRule{{TargetLayer: 99}}
		}},
		{"rule targets own layer", func(c *types.ProjectConfig) {
			c.Layers[0].Traits[0].Ruler = true
			c.Layers[0].Traits[0].Rules = []types.CompatibilityRule{{TargetLayer: 1}}
		}},
		{"group unknown layer", func(c *types.ProjectConfig) {
			c.Groups = []types.UniquenessGroup{{Name: "g", Layers: []int{7}}}
		}},
		{"group without layers", func(c *types.ProjectConfig) {
			c.Groups = []types.UniquenessGroup{{Name: "g"}}
		}},
	}

	m := NewManager()
	if err := m.ValidateConfig(base()); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := m.ValidateConfig(cfg); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestFindConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewManager().FindConfig(dir); err == nil {
		t.Error("found config in empty directory")
	}

	path := filepath.Join(dir, "layerforge.config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0644); err != nil {
		t.Fatal(err)
	}
	found, err := NewManager().FindConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if found != path {
		t.Errorf("found %s, want %s", found, path)
	}
}

func TestRequestFromConfig(t *testing.T) {
	path := writeConfig(t, "layerforge.config.json", validJSON)
	cfg, err := NewManager().LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	req := Request(cfg, 25)
	if req.Count != 25 || req.Width != 512 || len(req.Layers) != 2 {
		t.Errorf("req = %+v", req)
	}
	if req.NamePrefix != "Test Collection" {
		t.Errorf("name prefix = %q", req.NamePrefix)
	}
}

func TestReloadManagerTrigger(t *testing.T) {
	path := writeConfig(t, "layerforge.config.json", validJSON)

	rm := NewReloadManager(path, logger.CreateLoggerWithOutput("", "error", nil))
	loaded := make(chan *types.ProjectConfig, 1)
	rm.AddCallback(func(cfg *types.ProjectConfig, err error) {
		if err == nil {
			loaded <- cfg
		}
	})

	rm.TriggerReload()

	select {
	case cfg := <-loaded:
		if cfg.Name != "Test Collection" {
			t.Errorf("reloaded cfg = %+v", cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestReloadManagerWatchLifecycle(t *testing.T) {
	path := writeConfig(t, "layerforge.config.json", validJSON)
	rm := NewReloadManager(path, logger.CreateLoggerWithOutput("", "error", nil))

	if rm.IsWatching() {
		t.Error("watching before start")
	}
	if err := rm.StartWatching(); err != nil {
		t.Fatal(err)
	}
	if !rm.IsWatching() {
		t.Error("not watching after start")
	}
	if err := rm.StartWatching(); err == nil {
		t.Error("double start did not error")
	}
	if err := rm.StopWatching(); err != nil {
		t.Fatal(err)
	}
	if rm.IsWatching() {
		t.Error("still watching after stop")
	}
}
