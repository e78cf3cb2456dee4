// Package compositor renders a solved trait assignment into an encoded
// pixel buffer plus ordered attribute metadata.
package compositor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"sort"

	xdraw "golang.org/x/image/draw"

	"github.com/layerforge/layerforge/pkg/cache"
	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// Pipeline composites trait payloads back-to-front onto a reused drawing
// surface. A Pipeline is owned by one generation controller for one run
// and must not be shared.
type Pipeline struct {
	width   int
	height  int
	quality int

	surface     *image.RGBA
	decodeCache *cache.Cache
	logger      logger.Logger
}

// New creates a pipeline for the given output dimensions. The decode
// cache is supplied per run; pass nil to decode every payload each time.
func New(width, height, jpegQuality int, decodeCache *cache.Cache, log logger.Logger) (*Pipeline, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid output dimensions %dx%d", width, height)
	}
	return &Pipeline{
		width:       width,
		height:      height,
		quality:     jpegQuality,
		surface:     image.NewRGBA(image.Rect(0, 0, width, height)),
		decodeCache: decodeCache,
		logger:      log,
	}, nil
}

// Render composites the assignment in stacking order and encodes the
// result. The returned artifact owns its buffers; the pipeline keeps no
// reference to them.
func (p *Pipeline) Render(index int, name string, layers []types.Layer, assignment types.Assignment) (*types.Artifact, error) {
	ordered := stackingOrder(layers)

	p.clearSurface()

	anyLossless := false
	attributes := make([]types.Attribute, 0, len(ordered))

	for _, layer := range ordered {
		trait, ok := assignment[layer.ID]
		if !ok {
			continue // skipped optional layer
		}

		decoded, lossless, err := p.decode(trait)
		if err != nil {
			return nil, fmt.Errorf("layer %q trait %q: %w", layer.Name, trait.Name, err)
		}
		if lossless {
			anyLossless = true
		}

		// Plain alpha-over, no other blend modes
		xdraw.Draw(p.surface, p.surface.Bounds(), decoded, image.Point{}, xdraw.Over)

		attributes = append(attributes, types.Attribute{Layer: layer.Name, Trait: trait.Name})
	}

	// Lossless output when any source was lossless; otherwise stay lossy
	// and favor the smaller encoding.
	format := types.ImageFormatJPEG
	if anyLossless {
		format = types.ImageFormatPNG
	}

	encoded, err := p.encode(p.surface, format)
	if err != nil {
		return nil, fmt.Errorf("encode artifact %d: %w", index, err)
	}

	return &types.Artifact{
		Index:      index,
		Name:       name,
		Image:      encoded,
		Format:     format,
		Attributes: attributes,
	}, nil
}

// Preview renders the assignment at a reduced edge size for progress
// sampling. Previews are always PNG.
func (p *Pipeline) Preview(layers []types.Layer, assignment types.Assignment, edge int) ([]byte, error) {
	if edge <= 0 {
		edge = 128
	}

	p.clearSurface()
	for _, layer := range stackingOrder(layers) {
		trait, ok := assignment[layer.ID]
		if !ok {
			continue
		}
		decoded, _, err := p.decode(trait)
		if err != nil {
			return nil, err
		}
		xdraw.Draw(p.surface, p.surface.Bounds(), decoded, image.Point{}, xdraw.Over)
	}

	w, h := fitWithin(p.width, p.height, edge)
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(small, small.Bounds(), p.surface, p.surface.Bounds(), xdraw.Over, nil)

	return p.encode(small, types.ImageFormatPNG)
}

// decode turns a trait payload into a surface already scaled to the output
// dimensions. Scaling happens as part of decoding so no full-resolution
// intermediate copy is kept. Results go through the per-run decode cache.
func (p *Pipeline) decode(trait *types.Trait) (*image.RGBA, bool, error) {
	key := fmt.Sprintf("trait:%d:%dx%d", trait.ID, p.width, p.height)
	if p.decodeCache != nil {
		if cached, ok := p.decodeCache.Get(key); ok {
			d := cached.(*decoded)
			return d.surface, d.lossless, nil
		}
	}

	if len(trait.Payload) == 0 {
		return nil, false, fmt.Errorf("trait has no payload")
	}

	src, formatName, err := image.Decode(bytes.NewReader(trait.Payload))
	if err != nil {
		return nil, false, fmt.Errorf("decode payload: %w", err)
	}

	surface := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	if src.Bounds().Dx() == p.width && src.Bounds().Dy() == p.height {
		xdraw.Draw(surface, surface.Bounds(), src, src.Bounds().Min, xdraw.Src)
	} else {
		xdraw.CatmullRom.Scale(surface, surface.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	}

	lossless := formatName != "jpeg"

	if p.decodeCache != nil {
		p.decodeCache.Set(key, &decoded{surface: surface, lossless: lossless})
	}
	return surface, lossless, nil
}

type decoded struct {
	surface  *image.RGBA
	lossless bool
}

func (p *Pipeline) encode(img image.Image, format types.ImageFormat) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case types.ImageFormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.quality}); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (p *Pipeline) clearSurface() {
	pix := p.surface.Pix
	for i := range pix {
		pix[i] = 0
	}
}

// stackingOrder returns layers sorted by their stacking order, back first
func stackingOrder(layers []types.Layer) []types.Layer {
	ordered := make([]types.Layer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})
	return ordered
}

// fitWithin scales (w, h) proportionally so the longer edge equals edge
func fitWithin(w, h, edge int) (int, int) {
	if w >= h {
		scaled := h * edge / w
		if scaled < 1 {
			scaled = 1
		}
		return edge, scaled
	}
	scaled := w * edge / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, edge
}
