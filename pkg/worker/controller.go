// Package worker hosts the generation controller and the worker actor
// that the orchestrator schedules runs onto.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/layerforge/layerforge/pkg/cache"
	"github.com/layerforge/layerforge/pkg/compositor"
	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/solver"
	"github.com/layerforge/layerforge/pkg/types"
	"github.com/layerforge/layerforge/pkg/uniqueness"
)

// decodeCacheCapacity bounds the per-run decode cache. Traits are reused
// heavily across artifacts, so LRU fits the access pattern.
const decodeCacheCapacity = 256

// ControllerConfig wires one generation run
type ControllerConfig struct {
	RunID       string
	TaskID      string
	WorkerIndex int
	Request     *types.GenerationRequest
	Settings    *types.GenerationSettings
	Emit        func(types.WorkerMessage)
	Logger      logger.Logger
	// Seed fixes solver randomness; zero means time-seeded
	Seed int64
}

// Controller drives the per-item loop of one run: solve, render, track,
// emit, report. It owns its solver, tracker, pipeline and decode cache
// exclusively for the run's duration.
type Controller struct {
	cfg      ControllerConfig
	settings *types.GenerationSettings

	solver   *solver.Solver
	tracker  *uniqueness.Tracker
	pipeline *compositor.Pipeline
	chunker  *chunker

	status    types.RunStatus
	mode      types.DeliveryMode
	generated int
}

// NewController validates nothing yet; validation is the first phase of
// Run so failures flow through the normal terminal notice.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		cfg:      cfg,
		settings: cfg.Settings,
		status:   types.RunStatusIdle,
	}
}

// Status returns the controller's current lifecycle state
func (c *Controller) Status() types.RunStatus { return c.status }

// Mode returns the delivery mode chosen during validation
func (c *Controller) Mode() types.DeliveryMode { return c.mode }

// Run executes the full run and always emits exactly one terminal result.
// Cancellation is cooperative: the context is checked at loop boundaries
// only, never preemptively.
func (c *Controller) Run(ctx context.Context) *types.RunResult {
	started := time.Now()

	result := c.run(ctx)
	result.Duration = time.Since(started)
	result.RunID = c.cfg.RunID

	c.emit(types.WorkerMessage{
		Kind:        types.MessageKindResult,
		TaskID:      c.cfg.TaskID,
		WorkerIndex: c.cfg.WorkerIndex,
		Result:      result,
	})
	return result
}

func (c *Controller) run(ctx context.Context) *types.RunResult {
	req := c.cfg.Request

	c.status = types.RunStatusValidating
	if err := c.validate(); err != nil {
		c.status = types.RunStatusFailed
		c.cfg.Logger.Error("run validation failed", logger.WithField("error", err))
		return &types.RunResult{
			Status:    types.RunStatusFailed,
			Requested: req.Count,
			Err:       err.Error(),
		}
	}

	// Requested count of zero completes immediately with no artifacts
	if req.Count == 0 {
		c.status = types.RunStatusCompleted
		return &types.RunResult{Status: types.RunStatusCompleted, Requested: 0}
	}

	c.status = types.RunStatusRunning
	if c.mode == types.DeliveryModeStreaming {
		return c.runStreaming(ctx)
	}
	return c.runChunked(ctx)
}

// validate is the pre-run phase: request sanity, component construction,
// and the feasibility estimate. Feasibility errors are the only class
// required to surface before any work begins.
func (c *Controller) validate() error {
	req := c.cfg.Request
	if req == nil {
		return fmt.Errorf("missing generation request")
	}
	if req.Count < 0 {
		return fmt.Errorf("requested count %d is negative", req.Count)
	}
	if req.Width <= 0 || req.Height <= 0 {
		return fmt.Errorf("invalid output dimensions %dx%d", req.Width, req.Height)
	}
	if len(req.Layers) == 0 {
		return fmt.Errorf("catalog has no layers")
	}
	if _, err := compositor.FormatterByName(req.MetadataFormat); err != nil {
		return err
	}

	opts := []solver.Option{}
	if c.cfg.Seed != 0 {
		opts = append(opts, solver.WithRandSource(c.cfg.Seed))
	}
	c.solver = solver.New(req.Layers, c.cfg.Logger, opts...)
	c.tracker = uniqueness.NewTracker()
	c.tracker.Reset()
	c.chunker = newChunker(c.settings)

	decodeCache := cache.New(decodeCacheCapacity, cache.PolicyLRU)
	pipeline, err := compositor.New(req.Width, req.Height, c.settings.GetJPEGQuality(), decodeCache, c.cfg.Logger)
	if err != nil {
		return err
	}
	c.pipeline = pipeline

	if req.Count <= c.settings.GetStreamThreshold() {
		c.mode = types.DeliveryModeStreaming
	} else {
		c.mode = types.DeliveryModeChunked
	}

	if req.Count == 0 {
		return nil
	}

	estimate := c.solver.Estimate(req.Groups, c.settings.GetFeasibilityBudget())
	if estimate.Exact && estimate.Satisfiable == 0 {
		return fmt.Errorf("rule configuration yields zero satisfiable combinations")
	}
	if estimate.Ceiling < req.Count {
		return fmt.Errorf("requested %d artifacts but at most %d unique combinations are achievable",
			req.Count, estimate.Ceiling)
	}
	return nil
}

// produceOne solves, renders and commits the artifact at the given index.
// Solver and render failures both return an error; the caller retries the
// same index until the exhaustion threshold.
func (c *Controller) produceOne(index int) (*types.Artifact, types.Assignment, error) {
	req := c.cfg.Request

	assignment, err := c.solver.Solve(func(a types.Assignment) bool {
		return c.tracker.CheckAll(req.Groups, a)
	})
	if err != nil {
		return nil, nil, err
	}

	name := fmt.Sprintf("%d", index)
	if req.NamePrefix != "" {
		name = fmt.Sprintf("%s %d", req.NamePrefix, index)
	}

	artifact, err := c.pipeline.Render(index, name, req.Layers, assignment)
	if err != nil {
		// Item-granular: logged and retried, never fatal on its own
		c.cfg.Logger.Warn("render failed, abandoning item attempt",
			logger.WithField("index", index),
			logger.WithField("error", err))
		return nil, nil, err
	}

	// Commit only after the assignment is fully accepted
	c.tracker.CommitAll(req.Groups, assignment)
	return artifact, assignment, nil
}

func (c *Controller) runStreaming(ctx context.Context) *types.RunResult {
	req := c.cfg.Request
	threshold := c.settings.GetExhaustionThreshold()
	previewEvery := sampleInterval(req.Count)

	failures := 0
	for index := 1; index <= req.Count; {
		if cancelled(ctx) {
			return c.cancelledResult()
		}

		artifact, assignment, err := c.produceOne(index)
		if err != nil {
			failures++
			if failures >= threshold {
				return c.exhaustedResult(failures)
			}
			continue // retry the same index
		}
		failures = 0
		c.generated++

		c.emit(types.WorkerMessage{
			Kind:        types.MessageKindArtifact,
			TaskID:      c.cfg.TaskID,
			WorkerIndex: c.cfg.WorkerIndex,
			Artifacts:   []*types.Artifact{artifact},
		})

		// Low-resolution previews are a streaming-only nicety
		if index%previewEvery == 0 {
			if preview, err := c.pipeline.Preview(req.Layers, assignment, c.settings.GetPreviewSize()); err == nil {
				c.emit(types.WorkerMessage{
					Kind:        types.MessageKindPreview,
					TaskID:      c.cfg.TaskID,
					WorkerIndex: c.cfg.WorkerIndex,
					Preview:     &types.PreviewNotice{RunID: c.cfg.RunID, Index: index, Image: preview},
				})
			}
		}

		c.maybeProgress()
		index++
	}

	c.status = types.RunStatusCompleted
	return &types.RunResult{
		Status:    types.RunStatusCompleted,
		Generated: c.generated,
		Requested: req.Count,
	}
}

func (c *Controller) runChunked(ctx context.Context) *types.RunResult {
	req := c.cfg.Request
	threshold := c.settings.GetExhaustionThreshold()

	buffer := make([]*types.Artifact, 0, c.chunker.Size())
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		chunk := buffer
		buffer = make([]*types.Artifact, 0, c.chunker.Size())
		c.emit(types.WorkerMessage{
			Kind:        types.MessageKindChunk,
			TaskID:      c.cfg.TaskID,
			WorkerIndex: c.cfg.WorkerIndex,
			Artifacts:   chunk,
		})
	}

	failures := 0
	for index := 1; index <= req.Count; {
		if cancelled(ctx) {
			// In-flight buffered work is abandoned on cancel
			return c.cancelledResult()
		}

		artifact, _, err := c.produceOne(index)
		if err != nil {
			failures++
			if failures >= threshold {
				flush()
				return c.exhaustedResult(failures)
			}
			continue
		}
		failures = 0
		c.generated++
		buffer = append(buffer, artifact)

		if len(buffer) >= c.chunker.Size() {
			flush()
			c.progressWithMemory()
		}
		index++
	}

	flush()
	c.status = types.RunStatusCompleted
	return &types.RunResult{
		Status:    types.RunStatusCompleted,
		Generated: c.generated,
		Requested: req.Count,
	}
}

// maybeProgress emits throttled progress during streaming runs
func (c *Controller) maybeProgress() {
	every := sampleInterval(c.cfg.Request.Count)
	if c.generated%every != 0 && c.generated != c.cfg.Request.Count {
		return
	}
	c.emitProgress(nil)
}

// progressWithMemory emits progress including the memory snapshot that
// just adapted the chunk size.
func (c *Controller) progressWithMemory() {
	snapshot := c.chunker.Observe()
	c.emitProgress(&snapshot)
}

func (c *Controller) emitProgress(memory *types.MemorySnapshot) {
	c.emit(types.WorkerMessage{
		Kind:        types.MessageKindProgress,
		TaskID:      c.cfg.TaskID,
		WorkerIndex: c.cfg.WorkerIndex,
		Progress: &types.ProgressNotice{
			RunID:     c.cfg.RunID,
			Generated: c.generated,
			Total:     c.cfg.Request.Count,
			Status:    fmt.Sprintf("generated %d of %d", c.generated, c.cfg.Request.Count),
			Memory:    memory,
		},
	})
}

func (c *Controller) cancelledResult() *types.RunResult {
	c.status = types.RunStatusCancelled
	c.cfg.Logger.Info("run cancelled",
		logger.WithField("generated", c.generated),
		logger.WithField("requested", c.cfg.Request.Count))
	return &types.RunResult{
		Status:    types.RunStatusCancelled,
		Generated: c.generated,
		Requested: c.cfg.Request.Count,
	}
}

func (c *Controller) exhaustedResult(failures int) *types.RunResult {
	c.status = types.RunStatusFailed
	err := fmt.Errorf("combination space exhausted after %d consecutive failures (%d of %d generated)",
		failures, c.generated, c.cfg.Request.Count)
	c.cfg.Logger.Error(err.Error())
	return &types.RunResult{
		Status:    types.RunStatusFailed,
		Generated: c.generated,
		Requested: c.cfg.Request.Count,
		Err:       err.Error(),
	}
}

func (c *Controller) emit(msg types.WorkerMessage) {
	if c.cfg.Emit != nil {
		c.cfg.Emit(msg)
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// sampleInterval spaces previews and progress so roughly ten fire per run
func sampleInterval(count int) int {
	every := count / 10
	if every < 1 {
		every = 1
	}
	return every
}
