// Package notifier surfaces run lifecycle notifications on the desktop
package notifier

import (
	"fmt"
	"runtime"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// RunNotifier announces run starts and terminal results
type RunNotifier struct {
	enabled      bool
	successSound string
	failureSound string
	logger       logger.Logger
}

// Config represents notification configuration
type Config struct {
	Enabled      bool
	SuccessSound string
	FailureSound string
}

// FromProjectConfig derives notifier config from the project file.
// Notifications default to on.
func FromProjectConfig(cfg *types.NotificationConfig) Config {
	out := Config{Enabled: true}
	if cfg == nil {
		return out
	}
	if cfg.Enabled != nil {
		out.Enabled = *cfg.Enabled
	}
	out.SuccessSound = cfg.SuccessSound
	out.FailureSound = cfg.FailureSound
	return out
}

// New creates a run notifier
func New(config Config, log logger.Logger) *RunNotifier {
	return &RunNotifier{
		enabled:      config.Enabled,
		successSound: config.SuccessSound,
		failureSound: config.FailureSound,
		logger:       log,
	}
}

// NotifyRunStart announces that generation has begun
func (n *RunNotifier) NotifyRunStart(collection string, count int) {
	if !n.enabled {
		return
	}
	n.send("⚒ LayerForge", fmt.Sprintf("Generating %d %s artifacts...", count, collection), "")
}

// NotifyRunResult announces a run's terminal result
func (n *RunNotifier) NotifyRunResult(collection string, result *types.RunResult) {
	if !n.enabled || result == nil {
		return
	}

	switch result.Status {
	case types.RunStatusCompleted:
		n.send("✅ Generation Complete",
			fmt.Sprintf("%s: %d artifacts in %s", collection, result.Generated, formatDuration(result.Duration)),
			n.successSound)
	case types.RunStatusCancelled:
		n.send("⏹ Generation Cancelled",
			fmt.Sprintf("%s: %d of %d artifacts produced", collection, result.Generated, result.Requested),
			"")
	case types.RunStatusFailed:
		n.send("❌ Generation Failed",
			fmt.Sprintf("%s: %s", collection, result.Err),
			n.failureSound)
	}
}

func (n *RunNotifier) send(title, message, soundName string) {
	switch runtime.GOOS {
	case "darwin", "linux", "windows":
		if err := beeep.Notify(title, message, ""); err != nil {
			n.logger.Debug("failed to send notification", logger.WithField("error", err))
		}
		if soundName != "" {
			if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
				n.logger.Debug("failed to play sound", logger.WithField("error", err))
			}
		}
	default:
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
