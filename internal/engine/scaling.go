package engine

import (
	"runtime"

	"github.com/layerforge/layerforge/pkg/types"
)

// PoolState is the scaling input snapshot taken by the orchestrator
type PoolState struct {
	Workers int
	Busy    int
	Idle    int
	// Queued is complexity-weighted: heavy tasks count double
	Queued int
}

// DeviceProfile bounds the pool for the machine this process runs on.
// Thresholds ride along so target computation stays a pure function of
// its two inputs.
type DeviceProfile struct {
	CPUs              int
	MinWorkers        int
	MaxWorkers        int
	ScaleUpPressure   float64
	ScaleDownPressure float64
}

// DeriveDeviceProfile builds a profile from the host and settings. An
// unset pool ceiling derives from the CPU count, keeping one core free
// for the orchestrator and the encoder-heavy render loops.
func DeriveDeviceProfile(settings *types.GenerationSettings) DeviceProfile {
	max := settings.GetMaxWorkers()
	if max <= 0 {
		max = runtime.NumCPU() - 1
		if max < 1 {
			max = 1
		}
	}
	min := settings.GetMinWorkers()
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return DeviceProfile{
		CPUs:              runtime.NumCPU(),
		MinWorkers:        min,
		MaxWorkers:        max,
		ScaleUpPressure:   settings.GetScaleUpPressure(),
		ScaleDownPressure: settings.GetScaleDownPressure(),
	}
}

// targetWorkerCount computes the desired pool size from queue pressure.
// Pressure is outstanding work per worker; the pool grows one worker at a
// time above the upper threshold and shrinks one at a time below the
// lower, always inside the profile's bounds.
func targetWorkerCount(state PoolState, profile DeviceProfile) int {
	target := state.Workers
	if target < profile.MinWorkers {
		return profile.MinWorkers
	}

	pressure := float64(state.Queued+state.Busy) / float64(target)
	switch {
	case pressure >= profile.ScaleUpPressure:
		target++
	case pressure <= profile.ScaleDownPressure && state.Idle > 0:
		target--
	}

	if target > profile.MaxWorkers {
		target = profile.MaxWorkers
	}
	if target < profile.MinWorkers {
		target = profile.MinWorkers
	}
	return target
}
