// Package catalog loads trait asset files from disk and binds their
// payloads into the layer catalog a run is built from.
package catalog

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	// register decoders for asset validation
	_ "image/jpeg"
	_ "image/png"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// Loader resolves trait asset references against an asset root
type Loader struct {
	assetRoot string
	logger    logger.Logger
}

// NewLoader creates a loader rooted at assetRoot
func NewLoader(assetRoot string, log logger.Logger) *Loader {
	return &Loader{assetRoot: assetRoot, logger: log}
}

// Load reads every referenced asset into its trait's payload. Layers are
// copied; the input config is not mutated.
func (l *Loader) Load(layers []types.Layer) ([]types.Layer, error) {
	out := make([]types.Layer, len(layers))
	for i := range layers {
		out[i] = layers[i]
		out[i].Traits = make([]types.Trait, len(layers[i].Traits))
		copy(out[i].Traits, layers[i].Traits)

		for j := range out[i].Traits {
			trait := &out[i].Traits[j]
			if len(trait.Payload) > 0 {
				continue // already bound, e.g. programmatic catalogs
			}
			if trait.Asset == "" {
				return nil, fmt.Errorf("layer '%s' trait '%s': no asset path and no payload",
					out[i].Name, trait.Name)
			}

			payload, err := l.readAsset(trait.Asset)
			if err != nil {
				return nil, fmt.Errorf("layer '%s' trait '%s': %w", out[i].Name, trait.Name, err)
			}
			trait.Payload = payload
		}
	}

	l.logger.Debug("catalog assets loaded",
		logger.WithField("layers", len(out)),
		logger.WithField("root", l.assetRoot))
	return out, nil
}

// Validate checks that every referenced asset exists and decodes as an
// image, without keeping payloads in memory.
func (l *Loader) Validate(layers []types.Layer) error {
	for i := range layers {
		for j := range layers[i].Traits {
			trait := &layers[i].Traits[j]

			var data []byte
			switch {
			case len(trait.Payload) > 0:
				data = trait.Payload
			case trait.Asset != "":
				var err error
				data, err = l.readAsset(trait.Asset)
				if err != nil {
					return fmt.Errorf("layer '%s' trait '%s': %w", layers[i].Name, trait.Name, err)
				}
			default:
				return fmt.Errorf("layer '%s' trait '%s': no asset path and no payload",
					layers[i].Name, trait.Name)
			}

			if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
				return fmt.Errorf("layer '%s' trait '%s': asset is not a decodable image: %w",
					layers[i].Name, trait.Name, err)
			}
		}
	}
	return nil
}

func (l *Loader) readAsset(ref string) ([]byte, error) {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.assetRoot, ref)
	}

	// Asset references must stay inside the asset root
	if !filepath.IsAbs(ref) {
		rel, err := filepath.Rel(l.assetRoot, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("asset path escapes asset root: %s", ref)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	return data, nil
}
