package notifier_test

import (
	"testing"
	"time"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/notifier"
	"github.com/layerforge/layerforge/pkg/types"
)

func testLog() logger.Logger {
	return logger.CreateLoggerWithOutput("", "error", nil)
}

func TestNotifier_RunStart(t *testing.T) {
	n := notifier.New(notifier.Config{Enabled: true}, testLog())

	// Shows a system notification where one is available; the test only
	// verifies it does not crash.
	n.NotifyRunStart("Test Collection", 100)
}

func TestNotifier_RunResult(t *testing.T) {
	n := notifier.New(notifier.Config{
		Enabled:      true,
		SuccessSound: "default",
		FailureSound: "alert",
	}, testLog())

	n.NotifyRunResult("Test Collection", &types.RunResult{
		Status:    types.RunStatusCompleted,
		Generated: 100,
		Duration:  5 * time.Second,
	})
	n.NotifyRunResult("Test Collection", &types.RunResult{
		Status: types.RunStatusFailed,
		Err:    "combination space exhausted",
	})
	n.NotifyRunResult("Test Collection", &types.RunResult{
		Status:    types.RunStatusCancelled,
		Generated: 40,
		Requested: 100,
	})
	n.NotifyRunResult("Test Collection", nil)
}

func TestNotifier_Disabled(t *testing.T) {
	n := notifier.New(notifier.Config{Enabled: false}, testLog())
	n.NotifyRunStart("quiet", 1)
	n.NotifyRunResult("quiet", &types.RunResult{Status: types.RunStatusCompleted})
}

func TestFromProjectConfig(t *testing.T) {
	if cfg := notifier.FromProjectConfig(nil); !cfg.Enabled {
		t.Error("nil config should default to enabled")
	}

	disabled := false
	cfg := notifier.FromProjectConfig(&types.NotificationConfig{
		Enabled:      &disabled,
		SuccessSound: "ding",
	})
	if cfg.Enabled {
		t.Error("explicit disable ignored")
	}
	if cfg.SuccessSound != "ding" {
		t.Errorf("success sound = %q", cfg.SuccessSound)
	}
}
