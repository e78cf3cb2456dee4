package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

func testLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("", "error", nil)
}

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testRequest builds a 2x2 catalog (4 combinations) with a uniqueness
// group over both layers.
func testRequest(t *testing.T, count int) *types.GenerationRequest {
	t.Helper()
	return &types.GenerationRequest{
		Count:  count,
		Width:  4,
		Height: 4,
		Layers: []types.Layer{
			{ID: 1, Name: "Color", Order: 0, Traits: []types.Trait{
				{ID: 1, Name: "red", Payload: solidPNG(t, color.RGBA{255, 0, 0, 255})},
				{ID: 2, Name: "blue", Payload: solidPNG(t, color.RGBA{0, 0, 255, 255})},
			}},
			{ID: 2, Name: "Shape", Order: 1, Traits: []types.Trait{
				{ID: 3, Name: "circle", Payload: solidPNG(t, color.RGBA{0, 255, 0, 255})},
				{ID: 4, Name: "square", Payload: solidPNG(t, color.RGBA{255, 255, 0, 255})},
			}},
		},
		Groups: []types.UniquenessGroup{
			{Name: "all", Layers: []int{1, 2}, Active: true},
		},
	}
}

type capture struct {
	messages []types.WorkerMessage
}

func (c *capture) emit(msg types.WorkerMessage) {
	c.messages = append(c.messages, msg)
}

func (c *capture) byKind(kind types.MessageKind) []types.WorkerMessage {
	var out []types.WorkerMessage
	for _, m := range c.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func runController(t *testing.T, req *types.GenerationRequest, settings *types.GenerationSettings) (*Controller, *capture, *types.RunResult) {
	t.Helper()
	sink := &capture{}
	c := NewController(ControllerConfig{
		RunID:    "run-1",
		TaskID:   "task-1",
		Request:  req,
		Settings: settings,
		Emit:     sink.emit,
		Logger:   testLogger(),
		Seed:     42,
	})
	result := c.Run(context.Background())
	return c, sink, result
}

// TestScenarioD: count 0 completes immediately with zero artifacts
func TestRunZeroCount(t *testing.T) {
	_, sink, result := runController(t, testRequest(t, 0), nil)

	if result.Status != types.RunStatusCompleted {
		t.Fatalf("status = %s, want completed (err=%s)", result.Status, result.Err)
	}
	if result.Generated != 0 {
		t.Errorf("generated = %d, want 0", result.Generated)
	}
	if len(sink.byKind(types.MessageKindArtifact)) != 0 {
		t.Error("zero-count run emitted artifacts")
	}
}

func TestRunStreamingProducesUniqueArtifactsInOrder(t *testing.T) {
	c, sink, result := runController(t, testRequest(t, 4), nil)

	if c.Mode() != types.DeliveryModeStreaming {
		t.Fatalf("mode = %s, want streaming", c.Mode())
	}
	if result.Status != types.RunStatusCompleted || result.Generated != 4 {
		t.Fatalf("result = %+v, want 4 completed", result)
	}

	artifacts := sink.byKind(types.MessageKindArtifact)
	if len(artifacts) != 4 {
		t.Fatalf("artifact messages = %d, want 4", len(artifacts))
	}

	seen := make(map[string]bool)
	for i, msg := range artifacts {
		a := msg.Artifacts[0]
		if a.Index != i+1 {
			t.Errorf("artifact %d has index %d, want strictly increasing from 1", i, a.Index)
		}
		if len(a.Image) == 0 {
			t.Errorf("artifact %d has empty image", a.Index)
		}
		key := a.Attributes[0].Trait + "+" + a.Attributes[1].Trait
		if seen[key] {
			t.Errorf("duplicate combination %s despite active uniqueness group", key)
		}
		seen[key] = true
	}

	if len(sink.byKind(types.MessageKindResult)) != 1 {
		t.Error("want exactly one terminal result message")
	}
	if len(sink.byKind(types.MessageKindPreview)) == 0 {
		t.Error("streaming run emitted no previews")
	}
}

func TestRunChunkedFlushes(t *testing.T) {
	req := testRequest(t, 4)
	req.Groups = nil // allow duplicates; we only care about chunking

	threshold := 2
	minChunk, maxChunk := 2, 2
	settings := &types.GenerationSettings{
		StreamThreshold: &threshold,
		MinChunkSize:    &minChunk,
		MaxChunkSize:    &maxChunk,
	}

	c, sink, result := runController(t, req, settings)
	if c.Mode() != types.DeliveryModeChunked {
		t.Fatalf("mode = %s, want chunked", c.Mode())
	}
	if result.Status != types.RunStatusCompleted || result.Generated != 4 {
		t.Fatalf("result = %+v, want 4 completed", result)
	}

	chunks := sink.byKind(types.MessageKindChunk)
	if len(chunks) != 2 {
		t.Fatalf("chunk messages = %d, want 2", len(chunks))
	}
	total := 0
	lastIndex := 0
	for _, msg := range chunks {
		total += len(msg.Artifacts)
		for _, a := range msg.Artifacts {
			if a.Index <= lastIndex {
				t.Error("chunked artifacts out of order")
			}
			lastIndex = a.Index
		}
	}
	if total != 4 {
		t.Errorf("chunked artifacts = %d, want 4", total)
	}

	// Chunked progress carries a memory snapshot
	for _, msg := range sink.byKind(types.MessageKindProgress) {
		if msg.Progress.Memory == nil {
			t.Error("chunked progress without memory snapshot")
		}
	}

	if len(sink.byKind(types.MessageKindPreview)) != 0 {
		t.Error("previews are streaming-only")
	}
}

// TestFeasibilityBoundary: requesting exactly the estimate succeeds,
// estimate+1 fails fast before any artifact is generated.
func TestFeasibilityBoundary(t *testing.T) {
	if _, _, result := runController(t, testRequest(t, 4), nil); result.Status != types.RunStatusCompleted {
		t.Fatalf("exact-estimate run failed: %+v", result)
	}

	_, sink, result := runController(t, testRequest(t, 5), nil)
	if result.Status != types.RunStatusFailed {
		t.Fatalf("estimate+1 run did not fail: %+v", result)
	}
	if !strings.Contains(result.Err, "unique combinations") {
		t.Errorf("error %q does not describe the feasibility ceiling", result.Err)
	}
	if len(sink.byKind(types.MessageKindArtifact)) != 0 {
		t.Error("feasibility failure emitted artifacts")
	}
}

func TestFeasibilityZeroSatisfiable(t *testing.T) {
	req := testRequest(t, 1)
	for i := range req.Layers[0].Traits {
		req.Layers[0].Traits[i].Ruler = true
		req.Layers[0].Traits[i].Rules = []types.CompatibilityRule{
			{TargetLayer: 2, Forbidden: []int{3, 4}},
		}
	}

	_, _, result := runController(t, req, nil)
	if result.Status != types.RunStatusFailed {
		t.Fatalf("unsatisfiable run did not fail: %+v", result)
	}
	if !strings.Contains(result.Err, "zero satisfiable") {
		t.Errorf("error %q does not describe unsatisfiability", result.Err)
	}
}

func TestRunRespectsRules(t *testing.T) {
	req := testRequest(t, 3)
	req.Layers[0].Traits[0].Ruler = true
	req.Layers[0].Traits[0].Rules = []types.CompatibilityRule{
		{TargetLayer: 2, Forbidden: []int{4}}, // red forbids square
	}

	_, sink, result := runController(t, req, nil)
	if result.Status != types.RunStatusCompleted {
		t.Fatalf("run failed: %+v", result)
	}
	for _, msg := range sink.byKind(types.MessageKindArtifact) {
		a := msg.Artifacts[0]
		if a.Attributes[0].Trait == "red" && a.Attributes[1].Trait == "square" {
			t.Error("emitted artifact pairs red with square")
		}
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &capture{}
	c := NewController(ControllerConfig{
		RunID:    "run-1",
		TaskID:   "task-1",
		Request:  testRequest(t, 4),
		Settings: nil,
		Emit:     sink.emit,
		Logger:   testLogger(),
		Seed:     1,
	})
	result := c.Run(ctx)

	if result.Status != types.RunStatusCancelled {
		t.Fatalf("status = %s, want cancelled", result.Status)
	}
	if result.Generated != 0 {
		t.Errorf("generated = %d before cancel honored, want 0", result.Generated)
	}
}

func TestRunInvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.GenerationRequest)
	}{
		{"negative count", func(r *types.GenerationRequest) { r.Count = -1 }},
		{"zero width", func(r *types.GenerationRequest) { r.Width = 0 }},
		{"no layers", func(r *types.GenerationRequest) { r.Layers = nil }},
		{"unknown metadata format", func(r *types.GenerationRequest) { r.MetadataFormat = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t, 1)
			tt.mutate(req)
			_, _, result := runController(t, req, nil)
			if result.Status != types.RunStatusFailed {
				t.Errorf("status = %s, want failed", result.Status)
			}
		})
	}
}

func TestChunkerAdaptsToMemoryPressure(t *testing.T) {
	minChunk, maxChunk, limitMB := 2, 32, 1
	settings := &types.GenerationSettings{
		MinChunkSize:      &minChunk,
		MaxChunkSize:      &maxChunk,
		MemorySoftLimitMB: &limitMB,
	}

	c := newChunker(settings)
	start := c.Size()

	// Full pressure shrinks down to the floor
	c.readMemory = func() uint64 { return 1 << 20 }
	for i := 0; i < 10; i++ {
		snapshot := c.Observe()
		if snapshot.Pressure < shrinkPressure {
			t.Fatalf("stub pressure %f below shrink band", snapshot.Pressure)
		}
	}
	if c.Size() != minChunk {
		t.Errorf("size = %d under pressure, want floor %d (started %d)", c.Size(), minChunk, start)
	}

	// Slack grows back up to the ceiling
	c.readMemory = func() uint64 { return 0 }
	for i := 0; i < 10; i++ {
		c.Observe()
	}
	if c.Size() != maxChunk {
		t.Errorf("size = %d under slack, want ceiling %d", c.Size(), maxChunk)
	}
}
