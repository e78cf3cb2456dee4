package state

import (
	"testing"
	"time"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

func testStateLogger() logger.Logger {
	return logger.CreateLoggerWithOutput("", "error", nil)
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), testStateLogger())
}

func TestInitializeAndReadRun(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, testStateLogger())

	run, err := m.InitializeRun("run-1", 100, "/tmp/out")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusValidating {
		t.Errorf("status = %s, want validating", run.Status)
	}
	if run.Requested != 100 {
		t.Errorf("requested = %d, want 100", run.Requested)
	}

	// A fresh manager over the same root must load it from disk
	other := NewManager(root, testStateLogger())
	loaded, err := other.ReadRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.RunID != "run-1" || loaded.OutputDir != "/tmp/out" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestUpdateProgress(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.InitializeRun("run-2", 50, ""); err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateProgress("run-2", 10); err != nil {
		t.Fatal(err)
	}

	run, err := m.ReadRun("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusRunning || run.Generated != 10 {
		t.Errorf("run = %+v, want 10 running", run)
	}
}

func TestCompleteRun(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.InitializeRun("run-3", 5, ""); err != nil {
		t.Fatal(err)
	}

	err := m.CompleteRun("run-3", &types.RunResult{
		Status:    types.RunStatusCompleted,
		Generated: 5,
		Duration:  2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	run, _ := m.ReadRun("run-3")
	if run.Status != types.RunStatusCompleted || run.Generated != 5 {
		t.Errorf("run = %+v, want 5 completed", run)
	}
	if run.Active() {
		t.Error("completed run reports active")
	}
}

func TestUpdateUnknownRun(t *testing.T) {
	m := newTestManager(t)
	if err := m.UpdateProgress("ghost", 1); err == nil {
		t.Error("updating an unknown run did not error")
	}
}

func TestRemoveRun(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.InitializeRun("run-4", 1, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveRun("run-4"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ReadRun("run-4"); err == nil {
		t.Error("removed run still readable")
	}
	// Removing twice is not an error
	if err := m.RemoveRun("run-4"); err != nil {
		t.Errorf("second remove errored: %v", err)
	}
}

func TestDiscoverRuns(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.InitializeRun(id, 1, ""); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := m.DiscoverRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("discovered %d runs, want 3", len(runs))
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := runs[id]; !ok {
			t.Errorf("run %s missing from discovery", id)
		}
	}
}

func TestCleanupMarksUnfinishedRunsFailed(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.InitializeRun("run-5", 10, ""); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateProgress("run-5", 3); err != nil {
		t.Fatal(err)
	}

	if err := m.Cleanup(); err != nil {
		t.Fatal(err)
	}

	run, err := m.loadRunFile("run-5")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusFailed {
		t.Errorf("status = %s after cleanup, want failed", run.Status)
	}
	if run.ProcessID != 0 {
		t.Errorf("processId = %d after cleanup, want 0", run.ProcessID)
	}
}

func TestActiveHeartbeat(t *testing.T) {
	run := &RunState{Status: types.RunStatusRunning, Heartbeat: time.Now()}
	if !run.Active() {
		t.Error("fresh running heartbeat reports inactive")
	}
	run.Heartbeat = time.Now().Add(-time.Minute)
	if run.Active() {
		t.Error("stale heartbeat reports active")
	}
}
