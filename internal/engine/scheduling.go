package engine

import (
	"time"

	"github.com/layerforge/layerforge/pkg/types"
)

// classifyComplexity tiers a request by how long its run is likely to
// take: item count, catalog depth and output resolution all contribute.
func classifyComplexity(req *types.GenerationRequest) types.TaskComplexity {
	score := 0
	if req.Count > 500 {
		score++
	}
	if req.Count > 5000 {
		score++
	}
	if len(req.Layers) > 8 {
		score++
	}
	pixels := req.Width * req.Height
	if pixels >= 2048*2048 {
		score++
	}
	if pixels >= 4096*4096 {
		score++
	}

	switch {
	case score >= 3:
		return types.TaskComplexityHeavy
	case score >= 1:
		return types.TaskComplexityModerate
	default:
		return types.TaskComplexityLight
	}
}

// queueWeight converts complexity into scaling pressure units
func queueWeight(c types.TaskComplexity) int {
	if c == types.TaskComplexityHeavy {
		return 2
	}
	return 1
}

// durationScale biases a worker's historical average when estimating a
// task of the given complexity.
func durationScale(c types.TaskComplexity) float64 {
	switch c {
	case types.TaskComplexityHeavy:
		return 4.0
	case types.TaskComplexityModerate:
		return 2.0
	default:
		return 1.0
	}
}

// pickWorker selects an eligible handle, breaking ties by lower
// historical average duration, then by fewer errors. A run owns its
// worker for its whole duration, so only idle healthy workers are
// eligible; nil means the task must queue.
func pickWorker(handles map[int]*workerHandle) *workerHandle {
	var best *workerHandle
	for _, h := range handles {
		if h.state != types.WorkerStateHealthy || len(h.tasks) > 0 {
			continue
		}
		if best == nil || betterCandidate(h, best) {
			best = h
		}
	}
	return best
}

func betterCandidate(h, than *workerHandle) bool {
	ha, ta := h.averageDuration(), than.averageDuration()
	if ha != ta {
		return ha < ta
	}
	return h.errors < than.errors
}

func (h *workerHandle) averageDuration() time.Duration {
	if h.completed == 0 {
		return 0
	}
	return h.totalDuration / time.Duration(h.completed)
}
