// Package mocks provides hand-written test doubles for the project's
// interfaces.
package mocks

import (
	"context"
	"sync"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// LogEntry is one captured log call
type LogEntry struct {
	Level   string
	Message string
	Fields  []logger.Field
}

// MockLogger records every log call for assertion
type MockLogger struct {
	mu      sync.Mutex
	entries []LogEntry
	scope   string
}

// NewMockLogger creates a recording logger
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Info(message string, fields ...logger.Field) {
	m.record("info", message, fields)
}

func (m *MockLogger) Error(message string, fields ...logger.Field) {
	m.record("error", message, fields)
}

func (m *MockLogger) Warn(message string, fields ...logger.Field) {
	m.record("warn", message, fields)
}

func (m *MockLogger) Debug(message string, fields ...logger.Field) {
	m.record("debug", message, fields)
}

func (m *MockLogger) Success(message string, fields ...logger.Field) {
	m.record("success", message, fields)
}

// WithScope returns the same recorder; entries from scoped loggers land
// in the parent so tests have one place to look.
func (m *MockLogger) WithScope(scope string) logger.Logger {
	m.mu.Lock()
	m.scope = scope
	m.mu.Unlock()
	return m
}

// Entries returns a copy of everything recorded so far
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// HasMessage reports whether any entry at the given level contains the
// message verbatim.
func (m *MockLogger) HasMessage(level, message string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && e.Message == message {
			return true
		}
	}
	return false
}

func (m *MockLogger) record(level, message string, fields []logger.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, LogEntry{Level: level, Message: message, Fields: fields})
}

// MockPoolWorker is a scripted pool worker for orchestrator consumers.
// Handle decides the response to each inbound message; returning zero or
// more messages that are sent back on the outbox.
type MockPoolWorker struct {
	WorkerIndex int
	Handle      func(msg types.WorkerMessage) []types.WorkerMessage

	outbox chan<- types.WorkerMessage
	inbox  chan types.WorkerMessage
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMockPoolWorker creates a scripted worker. A nil handler echoes
// ready on initialize and pong on ping, and swallows everything else.
func NewMockPoolWorker(index int, outbox chan<- types.WorkerMessage, handle func(types.WorkerMessage) []types.WorkerMessage) *MockPoolWorker {
	m := &MockPoolWorker{
		WorkerIndex: index,
		Handle:      handle,
		outbox:      outbox,
		inbox:       make(chan types.WorkerMessage, 64),
	}
	if m.Handle == nil {
		m.Handle = m.defaultHandle
	}
	return m
}

func (m *MockPoolWorker) Index() int                        { return m.WorkerIndex }
func (m *MockPoolWorker) Inbox() chan<- types.WorkerMessage { return m.inbox }

func (m *MockPoolWorker) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop()
}

func (m *MockPoolWorker) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *MockPoolWorker) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case msg := <-m.inbox:
			for _, reply := range m.Handle(msg) {
				select {
				case m.outbox <- reply:
				case <-m.ctx.Done():
					return
				}
			}
		}
	}
}

func (m *MockPoolWorker) defaultHandle(msg types.WorkerMessage) []types.WorkerMessage {
	switch msg.Kind {
	case types.MessageKindInitialize:
		return []types.WorkerMessage{{Kind: types.MessageKindReady, WorkerIndex: m.WorkerIndex}}
	case types.MessageKindPing:
		return []types.WorkerMessage{{
			Kind:        types.MessageKindPong,
			WorkerIndex: m.WorkerIndex,
			PingID:      msg.PingID,
		}}
	default:
		return nil
	}
}
