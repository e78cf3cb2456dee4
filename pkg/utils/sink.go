// Package utils provides the artifact output sink
package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/layerforge/layerforge/pkg/compositor"
	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// OutputSink writes finished artifacts and their metadata to a
// collection directory.
type OutputSink struct {
	dir        string
	collection string
	formatter  compositor.MetadataFormatter
	logger     logger.Logger
	written    int
}

// NewOutputSink creates the output directory and a sink over it
func NewOutputSink(dir, collection string, formatter compositor.MetadataFormatter, log logger.Logger) (*OutputSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory not set")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	log.Debug("output sink ready", logger.WithField("dir", dir))
	return &OutputSink{dir: dir, collection: collection, formatter: formatter, logger: log}, nil
}

// Write persists one artifact's image and metadata files. Both writes go
// through a temp file and rename so partial files never carry final
// names.
func (s *OutputSink) Write(artifact *types.Artifact) error {
	if err := s.writeAtomic(artifact.FileName(), artifact.Image); err != nil {
		return fmt.Errorf("artifact %d: %w", artifact.Index, err)
	}

	metadata, err := s.formatter(artifact, s.collection)
	if err != nil {
		return fmt.Errorf("artifact %d: failed to format metadata: %w", artifact.Index, err)
	}
	if err := s.writeAtomic(artifact.MetadataFileName(), metadata); err != nil {
		return fmt.Errorf("artifact %d: %w", artifact.Index, err)
	}

	s.written++
	return nil
}

// WriteAll persists a chunk of artifacts in order
func (s *OutputSink) WriteAll(artifacts []*types.Artifact) error {
	for _, a := range artifacts {
		if err := s.Write(a); err != nil {
			return err
		}
	}
	return nil
}

// Written returns the number of artifacts persisted so far
func (s *OutputSink) Written() int { return s.written }

// Dir returns the sink's output directory
func (s *OutputSink) Dir() string { return s.dir }

func (s *OutputSink) writeAtomic(name string, data []byte) error {
	target := filepath.Join(s.dir, name)
	temp := target + ".tmp"

	if err := os.WriteFile(temp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(temp, target); err != nil {
		os.Remove(temp)
		return fmt.Errorf("failed to finalize %s: %w", name, err)
	}
	return nil
}
