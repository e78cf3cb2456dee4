package compositor

import (
	"encoding/json"
	"fmt"

	"github.com/layerforge/layerforge/pkg/types"
)

// MetadataFormatter turns an artifact's attribute list into serialized
// metadata. The engine only supplies the ordered attributes plus
// index-based naming; formatting beyond that is a caller concern.
type MetadataFormatter func(artifact *types.Artifact, collection string) ([]byte, error)

// FormatterByName resolves a formatter selector. Empty and "json" map to
// the built-in formatter.
func FormatterByName(name string) (MetadataFormatter, error) {
	switch name {
	case "", "json":
		return JSONMetadata, nil
	default:
		return nil, fmt.Errorf("unknown metadata format %q", name)
	}
}

type jsonMetadata struct {
	Name       string            `json:"name"`
	Index      int               `json:"index"`
	Image      string            `json:"image"`
	Attributes []types.Attribute `json:"attributes"`
}

// JSONMetadata is the built-in formatter: a flat JSON document with the
// ordered attribute list.
func JSONMetadata(artifact *types.Artifact, collection string) ([]byte, error) {
	doc := jsonMetadata{
		Name:       artifact.Name,
		Index:      artifact.Index,
		Image:      artifact.FileName(),
		Attributes: artifact.Attributes,
	}
	if collection != "" {
		doc.Name = fmt.Sprintf("%s #%d", collection, artifact.Index)
	}
	return json.MarshalIndent(doc, "", "  ")
}
