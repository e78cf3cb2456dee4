// Package state persists per-run progress files so other processes (the
// status command in particular) can observe active generation runs.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// heartbeatStaleAfter is how old a heartbeat may be before the owning
// process is presumed dead.
const heartbeatStaleAfter = 30 * time.Second

// RunState is the persisted view of one generation run
type RunState struct {
	RunID     string          `json:"runId"`
	Status    types.RunStatus `json:"status"`
	Requested int             `json:"requested"`
	Generated int             `json:"generated"`
	StartedAt time.Time       `json:"startedAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	ProcessID int             `json:"processId"`
	Heartbeat time.Time       `json:"heartbeat"`
	OutputDir string          `json:"outputDir,omitempty"`
	LastError string          `json:"lastError,omitempty"`
	Duration  time.Duration   `json:"duration,omitempty"`
}

// Active reports whether the run's owning process still appears alive
func (s *RunState) Active() bool {
	if s.Status != types.RunStatusRunning && s.Status != types.RunStatusValidating {
		return false
	}
	return time.Since(s.Heartbeat) <= heartbeatStaleAfter
}

// Manager owns the run state directory for one project root
type Manager struct {
	stateDir string
	logger   logger.Logger

	mu     sync.RWMutex
	runs   map[string]*RunState
	hbStop chan struct{}
	hbTick *time.Ticker
}

// NewManager creates a manager rooted at <projectRoot>/.layerforge/state
func NewManager(projectRoot string, log logger.Logger) *Manager {
	stateDir := filepath.Join(projectRoot, ".layerforge", "state")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("failed to create state directory", logger.WithField("error", err))
	}
	return &Manager{
		stateDir: stateDir,
		logger:   log,
		runs:     make(map[string]*RunState),
	}
}

// InitializeRun writes the initial state file for a run
func (m *Manager) InitializeRun(runID string, requested int, outputDir string) (*RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	run := &RunState{
		RunID:     runID,
		Status:    types.RunStatusValidating,
		Requested: requested,
		StartedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		ProcessID: os.Getpid(),
		OutputDir: outputDir,
	}

	if err := m.saveRunFile(run); err != nil {
		return nil, fmt.Errorf("failed to save initial run state: %w", err)
	}
	m.runs[runID] = run
	return run, nil
}

// ReadRun returns the state for a run, loading from disk if needed
func (m *Manager) ReadRun(runID string) (*RunState, error) {
	m.mu.RLock()
	if run, ok := m.runs[runID]; ok {
		m.mu.RUnlock()
		return run, nil
	}
	m.mu.RUnlock()
	return m.loadRunFile(runID)
}

// UpdateProgress records generation progress for a run
func (m *Manager) UpdateProgress(runID string, generated int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.lookupLocked(runID)
	if err != nil {
		return err
	}
	run.Status = types.RunStatusRunning
	run.Generated = generated
	run.UpdatedAt = time.Now()
	run.Heartbeat = run.UpdatedAt
	return m.saveRunFile(run)
}

// CompleteRun records the terminal result for a run
func (m *Manager) CompleteRun(runID string, result *types.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, err := m.lookupLocked(runID)
	if err != nil {
		return err
	}
	run.Status = result.Status
	run.Generated = result.Generated
	run.Duration = result.Duration
	run.LastError = result.Err
	run.UpdatedAt = time.Now()
	run.Heartbeat = run.UpdatedAt
	return m.saveRunFile(run)
}

// RemoveRun deletes a run's state file
func (m *Manager) RemoveRun(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runs, runID)
	if err := os.Remove(m.runFilePath(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run state file: %w", err)
	}
	return nil
}

// DiscoverRuns loads every run state file in the directory, including
// runs owned by other processes.
func (m *Manager) DiscoverRuns() (map[string]*RunState, error) {
	runs := make(map[string]*RunState)

	files, err := os.ReadDir(m.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return runs, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		runID := file.Name()[:len(file.Name())-5]
		run, err := m.loadRunFile(runID)
		if err != nil {
			m.logger.Warn("failed to load run state file",
				logger.WithField("run", runID),
				logger.WithField("error", err))
			continue
		}
		runs[runID] = run
	}
	return runs, nil
}

// StartHeartbeat refreshes run heartbeats until the context ends
func (m *Manager) StartHeartbeat(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hbTick != nil {
		return
	}
	m.hbStop = make(chan struct{})
	m.hbTick = time.NewTicker(10 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.hbStop:
				return
			case <-m.hbTick.C:
				m.refreshHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater
func (m *Manager) StopHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hbTick != nil {
		m.hbTick.Stop()
		m.hbTick = nil
	}
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
}

// Cleanup marks this process's unfinished runs as failed on shutdown
func (m *Manager) Cleanup() error {
	m.StopHeartbeat()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, run := range m.runs {
		if run.Status == types.RunStatusRunning || run.Status == types.RunStatusValidating {
			run.Status = types.RunStatusFailed
			run.LastError = "process terminated before run completed"
			run.UpdatedAt = time.Now()
		}
		run.ProcessID = 0
		if err := m.saveRunFile(run); err != nil {
			m.logger.Warn("failed to save final run state",
				logger.WithField("run", run.RunID),
				logger.WithField("error", err))
		}
	}
	return nil
}

func (m *Manager) lookupLocked(runID string) (*RunState, error) {
	if run, ok := m.runs[runID]; ok {
		return run, nil
	}
	run, err := m.loadRunFile(runID)
	if err != nil {
		return nil, fmt.Errorf("run state not found: %s", runID)
	}
	m.runs[runID] = run
	return run, nil
}

func (m *Manager) runFilePath(runID string) string {
	return filepath.Join(m.stateDir, runID+".json")
}

func (m *Manager) loadRunFile(runID string) (*RunState, error) {
	data, err := os.ReadFile(m.runFilePath(runID))
	if err != nil {
		return nil, err
	}
	var run RunState
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run state file: %w", err)
	}
	return &run, nil
}

func (m *Manager) saveRunFile(run *RunState) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	// Write atomically so readers never observe a partial file
	target := m.runFilePath(run.RunID)
	temp := target + ".tmp"
	if err := os.WriteFile(temp, data, 0644); err != nil {
		return fmt.Errorf("failed to write run state file: %w", err)
	}
	if err := os.Rename(temp, target); err != nil {
		os.Remove(temp)
		return fmt.Errorf("failed to rename run state file: %w", err)
	}
	return nil
}

func (m *Manager) refreshHeartbeats() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, run := range m.runs {
		run.Heartbeat = now
		if err := m.saveRunFile(run); err != nil {
			m.logger.Debug("failed to refresh heartbeat",
				logger.WithField("run", run.RunID),
				logger.WithField("error", err))
		}
	}
}
