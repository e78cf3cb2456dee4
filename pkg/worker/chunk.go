package worker

import (
	"runtime"

	"github.com/layerforge/layerforge/pkg/types"
)

// Pressure bands for adapting the chunk size. Between the two bands the
// current size is kept.
const (
	shrinkPressure = 0.80
	growPressure   = 0.40
)

// chunker adapts the number of artifacts buffered per flush to observed
// memory pressure: shrink under pressure, grow under slack, always within
// hard bounds.
type chunker struct {
	size      int
	min       int
	max       int
	softLimit uint64

	readMemory func() uint64 // stubbed in tests
}

func newChunker(settings *types.GenerationSettings) *chunker {
	c := &chunker{
		min:        settings.GetMinChunkSize(),
		max:        settings.GetMaxChunkSize(),
		softLimit:  settings.GetMemorySoftLimit(),
		readMemory: heapInUse,
	}
	c.size = (c.min + c.max) / 2
	if c.size < c.min {
		c.size = c.min
	}
	return c
}

// Size returns the current chunk size
func (c *chunker) Size() int { return c.size }

// Observe samples memory pressure, adapts the chunk size, and returns the
// snapshot for progress reporting.
func (c *chunker) Observe() types.MemorySnapshot {
	heap := c.readMemory()
	pressure := float64(heap) / float64(c.softLimit)

	switch {
	case pressure >= shrinkPressure:
		c.size /= 2
		if c.size < c.min {
			c.size = c.min
		}
	case pressure <= growPressure:
		c.size *= 2
		if c.size > c.max {
			c.size = c.max
		}
	}

	return types.MemorySnapshot{
		HeapBytes:  heap,
		LimitBytes: c.softLimit,
		Pressure:   pressure,
	}
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapInuse
}
