package process

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/layerforge/layerforge/pkg/logger"
)

func testLog() logger.Logger {
	return logger.CreateLoggerWithOutput("", "error", nil)
}

func TestShutdownHandlersRunInReverseOrder(t *testing.T) {
	m := NewManager(testLog())

	var order []int
	done := make(chan struct{})
	m.RegisterShutdownHandler(func() { order = append(order, 1) })
	m.RegisterShutdownHandler(func() { order = append(order, 2) })
	m.RegisterShutdownHandler(func() {
		order = append(order, 3)
		close(done)
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown handlers never ran")
	}

	// Handler 3 runs first; it closes done, then 2 and 1 follow. Wait
	// for the goroutine to finish before inspecting the full order.
	m.wg.Wait()
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("order = %v, want [3 2 1]", order)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	m := NewManager(testLog())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx)
	if !m.IsRunning() {
		t.Error("manager not running after start")
	}

	m.Stop()
	if m.IsRunning() {
		t.Error("manager still running after stop")
	}
}

func TestIsAlive(t *testing.T) {
	if !IsAlive(os.Getpid()) {
		t.Error("own process reported dead")
	}
	if IsAlive(0) {
		t.Error("pid 0 reported alive")
	}
	if IsAlive(-5) {
		t.Error("negative pid reported alive")
	}
}
