// Package engine hosts the worker-pool orchestrator: worker lifecycle,
// task scheduling, health probing, dynamic scaling and message routing.
// A single event loop owns all scheduling state; workers are isolated
// actors reached only through their inboxes.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
	"github.com/layerforge/layerforge/pkg/worker"
)

// taskChannelCapacity buffers per-task deliveries so slow consumers do
// not immediately stall the routing loop.
const taskChannelCapacity = 1024

// PoolWorker is the orchestrator's view of a worker actor
type PoolWorker interface {
	Index() int
	Inbox() chan<- types.WorkerMessage
	Start(ctx context.Context)
	Stop()
}

// WorkerFactory creates pool workers; tests substitute their own
type WorkerFactory func(index int, outbox chan<- types.WorkerMessage, settings *types.GenerationSettings, log logger.Logger) PoolWorker

func defaultFactory(index int, outbox chan<- types.WorkerMessage, settings *types.GenerationSettings, log logger.Logger) PoolWorker {
	return worker.New(index, outbox, settings, log)
}

// Config wires an Orchestrator
type Config struct {
	Settings *types.GenerationSettings
	Logger   logger.Logger
	// Factory overrides worker construction; nil uses the real worker
	Factory WorkerFactory
}

// TaskHandle is the caller's end of a submitted task. Messages carries
// every notice the task's worker emits (artifacts, chunks, progress,
// previews) and is closed after the terminal result. The caller must
// drain it.
type TaskHandle struct {
	ID         string
	Complexity types.TaskComplexity
	Messages   <-chan types.WorkerMessage
}

// Wait drains the handle until the terminal result arrives, discarding
// intermediate notices.
func (h *TaskHandle) Wait(ctx context.Context) (*types.RunResult, error) {
	for {
		select {
		case msg, ok := <-h.Messages:
			if !ok {
				return nil, fmt.Errorf("task %s ended without a result", h.ID)
			}
			if msg.Kind == types.MessageKindResult {
				return msg.Result, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WorkerStatus is one worker's row in a pool snapshot
type WorkerStatus struct {
	Index     int               `json:"index"`
	State     types.WorkerState `json:"state"`
	Tasks     int               `json:"tasks"`
	Restarts  int               `json:"restarts"`
	Completed int               `json:"completed"`
	Errors    int               `json:"errors"`
}

// PoolStatus is a point-in-time snapshot of the pool
type PoolStatus struct {
	Workers []WorkerStatus `json:"workers"`
	Pending int            `json:"pending"`
}

type task struct {
	id         string
	request    *types.GenerationRequest
	complexity types.TaskComplexity
	messages   chan types.WorkerMessage

	worker    int // assigned worker index, -1 while queued
	deadline  time.Time
	cancelled bool
	expired   bool // deadline elapsed; terminal result reports failure
}

type workerHandle struct {
	worker PoolWorker
	state  types.WorkerState
	tasks  map[string]*task

	restarts      int
	errors        int
	completed     int
	totalDuration time.Duration
	idleSince     time.Time

	probeID   string
	probeSent time.Time
}

// Orchestrator owns the worker pool. All scheduling state lives on the
// event loop goroutine; the exported methods communicate with it through
// channels only.
type Orchestrator struct {
	settings *types.GenerationSettings
	logger   logger.Logger
	factory  WorkerFactory
	profile  DeviceProfile

	outbox   chan types.WorkerMessage
	submitCh chan *task
	cancelCh chan string
	statusCh chan chan PoolStatus

	workers   map[int]*workerHandle
	tasks     map[string]*task
	pending   []*task
	nextIndex int

	group     *SafeGroup
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mu        sync.Mutex
}

// New creates an orchestrator; Start brings the pool up
func New(cfg Config) *Orchestrator {
	factory := cfg.Factory
	if factory == nil {
		factory = defaultFactory
	}
	return &Orchestrator{
		settings: cfg.Settings,
		logger:   cfg.Logger.WithScope("engine"),
		factory:  factory,
		outbox:   make(chan types.WorkerMessage, 256),
		submitCh: make(chan *task),
		cancelCh: make(chan string, 16),
		statusCh: make(chan chan PoolStatus),
		workers:  make(map[int]*workerHandle),
		tasks:    make(map[string]*task),
	}
}

// Start spawns the minimum pool and launches the event loop
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is already running")
	}
	o.isRunning = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.group, _ = NewSafeGroup(o.ctx, o.logger)
	o.mu.Unlock()

	o.profile = DeriveDeviceProfile(o.settings)
	o.logger.Info("starting worker pool",
		logger.WithField("min_workers", o.profile.MinWorkers),
		logger.WithField("max_workers", o.profile.MaxWorkers))

	for i := 0; i < o.profile.MinWorkers; i++ {
		o.spawnWorker()
	}

	o.group.Go(o.loop)
	return nil
}

// StopWithContext shuts the pool down, bounded by the given context
func (o *Orchestrator) StopWithContext(ctx context.Context) {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return
	}
	o.isRunning = false
	o.mu.Unlock()

	o.logger.Info("stopping worker pool")
	o.cancel()

	done := make(chan struct{})
	go func() {
		_ = o.group.Wait() // panics already logged by SafeGroup
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("worker pool stopped")
	case <-ctx.Done():
		o.logger.Warn("worker pool shutdown timed out", logger.WithField("error", ctx.Err()))
	}
}

// Stop shuts the pool down with a default 30 second grace period
func (o *Orchestrator) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	o.StopWithContext(ctx)
}

// Submit queues a generation request and returns its handle
func (o *Orchestrator) Submit(req *types.GenerationRequest) (*TaskHandle, error) {
	o.mu.Lock()
	running := o.isRunning
	o.mu.Unlock()
	if !running {
		return nil, fmt.Errorf("orchestrator is not running")
	}

	t := &task{
		id:         uuid.NewString(),
		request:    req,
		complexity: classifyComplexity(req),
		messages:   make(chan types.WorkerMessage, taskChannelCapacity),
		worker:     -1,
	}

	select {
	case o.submitCh <- t:
	case <-o.ctx.Done():
		return nil, fmt.Errorf("orchestrator is shutting down")
	}

	return &TaskHandle{ID: t.id, Complexity: t.complexity, Messages: t.messages}, nil
}

// Cancel asks the task's worker to stop cooperatively
func (o *Orchestrator) Cancel(taskID string) {
	o.mu.Lock()
	running := o.isRunning
	o.mu.Unlock()
	if !running {
		return
	}
	select {
	case o.cancelCh <- taskID:
	case <-o.ctx.Done():
	}
}

// Status snapshots the pool from the event loop
func (o *Orchestrator) Status(ctx context.Context) (PoolStatus, error) {
	reply := make(chan PoolStatus, 1)
	select {
	case o.statusCh <- reply:
	case <-ctx.Done():
		return PoolStatus{}, ctx.Err()
	case <-o.ctx.Done():
		return PoolStatus{}, fmt.Errorf("orchestrator is shutting down")
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return PoolStatus{}, ctx.Err()
	}
}

// Generate submits a request and blocks until its terminal result,
// invoking onMessage for every intermediate notice. onMessage may be nil.
func (o *Orchestrator) Generate(ctx context.Context, req *types.GenerationRequest, onMessage func(types.WorkerMessage)) (*types.RunResult, error) {
	handle, err := o.Submit(req)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case msg, ok := <-handle.Messages:
			if !ok {
				return nil, fmt.Errorf("task %s ended without a result", handle.ID)
			}
			if msg.Kind == types.MessageKindResult {
				return msg.Result, nil
			}
			if onMessage != nil {
				onMessage(msg)
			}
		case <-ctx.Done():
			o.Cancel(handle.ID)
			return nil, ctx.Err()
		}
	}
}

// loop is the single writer over all scheduling state
func (o *Orchestrator) loop() error {
	healthTick := time.NewTicker(o.settings.GetHealthInterval())
	defer healthTick.Stop()
	scaleTick := time.NewTicker(o.settings.GetHealthInterval() * 2)
	defer scaleTick.Stop()

	for {
		select {
		case <-o.ctx.Done():
			o.shutdownWorkers()
			return nil

		case t := <-o.submitCh:
			o.tasks[t.id] = t
			o.assign(t)

		case id := <-o.cancelCh:
			o.requestCancel(id)

		case msg := <-o.outbox:
			o.handleMessage(msg)

		case reply := <-o.statusCh:
			reply <- o.snapshot()

		case now := <-healthTick.C:
			o.checkHealth(now)
			o.checkDeadlines(now)

		case <-scaleTick.C:
			o.rescale()
		}
	}
}

func (o *Orchestrator) spawnWorker() *workerHandle {
	index := o.nextIndex
	o.nextIndex++

	pw := o.factory(index, o.outbox, o.settings, o.logger)
	h := &workerHandle{
		worker:    pw,
		state:     types.WorkerStateInitializing,
		tasks:     make(map[string]*task),
		idleSince: time.Now(),
	}
	o.workers[index] = h

	pw.Start(o.ctx)
	o.deliver(h, types.WorkerMessage{Kind: types.MessageKindInitialize, WorkerIndex: index})
	o.logger.Debug("worker spawned", logger.WithField("worker", index))
	return h
}

// assign hands the task to the best eligible worker, or queues it
func (o *Orchestrator) assign(t *task) {
	h := pickWorker(o.workers)
	if h == nil {
		o.pending = append(o.pending, t)
		o.logger.Debug("no eligible worker, task queued", logger.WithField("task", t.id))
		return
	}

	index := h.worker.Index()
	if !o.deliver(h, types.WorkerMessage{
		Kind:    types.MessageKindStart,
		TaskID:  t.id,
		Request: t.request,
	}) {
		o.pending = append(o.pending, t)
		return
	}

	timeout := time.Duration(float64(o.settings.GetTaskTimeout()) * durationScale(t.complexity))
	t.worker = index
	t.deadline = time.Now().Add(timeout)
	h.tasks[t.id] = t

	o.logger.Debug("task assigned",
		logger.WithField("task", t.id),
		logger.WithField("worker", index),
		logger.WithField("complexity", t.complexity))
}

// drainPending retries queued tasks; called whenever capacity may have
// appeared (worker ready, task finished, pool grown).
func (o *Orchestrator) drainPending() {
	if len(o.pending) == 0 {
		return
	}
	queued := o.pending
	o.pending = nil
	for _, t := range queued {
		o.assign(t)
	}
}

// deliver sends to a worker inbox without ever blocking the loop. A full
// inbox reports failure so the caller can queue instead.
func (o *Orchestrator) deliver(h *workerHandle, msg types.WorkerMessage) bool {
	select {
	case h.worker.Inbox() <- msg:
		return true
	default:
		o.logger.Warn("worker inbox full", logger.WithField("worker", h.worker.Index()))
		return false
	}
}

func (o *Orchestrator) handleMessage(msg types.WorkerMessage) {
	switch msg.Kind {
	case types.MessageKindReady:
		if h, ok := o.workers[msg.WorkerIndex]; ok {
			h.state = types.WorkerStateHealthy
			o.logger.Debug("worker ready", logger.WithField("worker", msg.WorkerIndex))
			o.drainPending()
		}

	case types.MessageKindPong:
		if h, ok := o.workers[msg.WorkerIndex]; ok && msg.PingID == h.probeID {
			h.probeID = ""
			if h.state == types.WorkerStateUnresponsive || h.state == types.WorkerStateDegraded {
				h.state = types.WorkerStateHealthy
				o.drainPending()
			}
		}

	case types.MessageKindResult:
		o.finishTask(msg)

	case types.MessageKindArtifact, types.MessageKindChunk,
		types.MessageKindProgress, types.MessageKindPreview:
		if t := o.routeTask(msg); t != nil {
			o.forward(t, msg)
		}

	default:
		o.logger.Warn("unroutable message", logger.WithField("kind", msg.Kind))
	}
}

// routeTask matches a message to its task by id, falling back to the
// emitting worker's single assigned task. Messages from a worker that no
// longer owns the task (stragglers from before a restart) are dropped:
// routing them would corrupt the reassigned run's stream.
func (o *Orchestrator) routeTask(msg types.WorkerMessage) *task {
	if t, ok := o.tasks[msg.TaskID]; ok {
		if t.worker != msg.WorkerIndex {
			o.logger.Warn("dropping message from non-owning worker",
				logger.WithField("task", msg.TaskID),
				logger.WithField("worker", msg.WorkerIndex))
			return nil
		}
		return t
	}
	if h, ok := o.workers[msg.WorkerIndex]; ok && len(h.tasks) == 1 {
		for _, t := range h.tasks {
			return t
		}
	}
	o.logger.Warn("message for unknown task",
		logger.WithField("task", msg.TaskID),
		logger.WithField("worker", msg.WorkerIndex))
	return nil
}

func (o *Orchestrator) finishTask(msg types.WorkerMessage) {
	t := o.routeTask(msg)
	if t == nil {
		return
	}

	// A deadline-expired task is a failure even though the worker wound
	// it down through the cooperative cancel path.
	if t.expired && msg.Result != nil && msg.Result.Status == types.RunStatusCancelled {
		msg.Result.Status = types.RunStatusFailed
		msg.Result.Err = fmt.Sprintf("run exceeded its %s deadline and was terminated", t.complexity)
	}

	if h, ok := o.workers[t.worker]; ok {
		delete(h.tasks, t.id)
		if len(h.tasks) == 0 {
			h.idleSince = time.Now()
		}
		if msg.Result != nil {
			h.completed++
			h.totalDuration += msg.Result.Duration
			if msg.Result.Failed() {
				h.errors++
			}
		}
	}
	delete(o.tasks, t.id)

	o.forward(t, msg)
	close(t.messages)
	o.drainPending()
}

// forward delivers to the task's consumer; blocks on a full channel
// rather than dropping artifacts, bounded by shutdown.
func (o *Orchestrator) forward(t *task, msg types.WorkerMessage) {
	select {
	case t.messages <- msg:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) requestCancel(taskID string) {
	t, ok := o.tasks[taskID]
	if !ok {
		return
	}
	t.cancelled = true
	if h, ok := o.workers[t.worker]; ok {
		o.deliver(h, types.WorkerMessage{Kind: types.MessageKindCancel, TaskID: taskID})
	}
}

// checkHealth probes every live worker and restarts the ones whose
// previous probe went unanswered past the timeout.
func (o *Orchestrator) checkHealth(now time.Time) {
	timeout := o.settings.GetHealthTimeout()
	var unresponsive []int
	for index, h := range o.workers {
		if h.probeID != "" && now.Sub(h.probeSent) > timeout {
			o.logger.Warn("worker missed health probe",
				logger.WithField("worker", index),
				logger.WithField("probe", h.probeID))
			h.state = types.WorkerStateUnresponsive
			unresponsive = append(unresponsive, index)
			continue
		}

		if h.probeID == "" {
			h.probeID = uuid.NewString()
			h.probeSent = now
			if !o.deliver(h, types.WorkerMessage{Kind: types.MessageKindPing, PingID: h.probeID}) {
				// Inbox full counts the same as an unanswered probe
				h.state = types.WorkerStateDegraded
			}
		}
	}

	// Restarts mutate the worker map, so they run after the probe sweep
	for _, index := range unresponsive {
		o.restartWorker(index, o.workers[index])
	}
}

// checkDeadlines terminates tasks that outlived their complexity-scaled
// timeout. The worker winds down cooperatively, and the terminal result
// is reported to the caller as a failure, not a cancellation.
func (o *Orchestrator) checkDeadlines(now time.Time) {
	for _, t := range o.tasks {
		if t.worker >= 0 && !t.cancelled && now.After(t.deadline) {
			o.logger.Warn("task deadline exceeded, terminating",
				logger.WithField("task", t.id),
				logger.WithField("complexity", t.complexity))
			t.expired = true
			o.requestCancel(t.id)
		}
	}
}

// restartWorker recycles an unresponsive worker within its restart
// budget; past the budget it is removed for good. Its tasks requeue
// either way. The replacement takes a fresh pool index: anything the old
// actor still emits carries the retired index and fails routing's
// ownership checks instead of polluting the reassigned run.
func (o *Orchestrator) restartWorker(index int, h *workerHandle) {
	o.reclaimTasks(h)
	delete(o.workers, index)

	old := h.worker
	o.group.Go(func() error {
		old.Stop()
		return nil
	})

	h.restarts++
	h.state = types.WorkerStateRemoved
	if h.restarts > o.settings.GetMaxRestarts() {
		o.logger.Error("worker exceeded restart budget, removing",
			logger.WithField("worker", index),
			logger.WithField("restarts", h.restarts))
		o.drainPending()
		return
	}

	replacement := o.spawnWorker()
	replacement.restarts = h.restarts
	replacement.errors = h.errors
	replacement.completed = h.completed
	replacement.totalDuration = h.totalDuration

	o.logger.Info("restarted worker",
		logger.WithField("worker", index),
		logger.WithField("replacement", replacement.worker.Index()),
		logger.WithField("restart", h.restarts))
}

// reclaimTasks moves a worker's assignments back to the pending queue
func (o *Orchestrator) reclaimTasks(h *workerHandle) {
	for id, t := range h.tasks {
		delete(h.tasks, id)
		t.worker = -1
		o.pending = append(o.pending, t)
		o.logger.Info("task reclaimed for reassignment", logger.WithField("task", id))
	}
}

// rescale adjusts the pool toward the pressure-derived target
func (o *Orchestrator) rescale() {
	state := PoolState{Workers: len(o.workers)}
	for _, t := range o.pending {
		state.Queued += queueWeight(t.complexity)
	}
	for _, h := range o.workers {
		if len(h.tasks) > 0 {
			state.Busy++
		} else if h.state == types.WorkerStateHealthy {
			state.Idle++
		}
	}

	target := targetWorkerCount(state, o.profile)
	switch {
	case target > len(o.workers):
		o.spawnWorker()
		o.drainPending()
	case target < len(o.workers):
		o.retireIdleWorker()
	}
}

// retireIdleWorker removes one worker that has been idle past the idle
// timeout, never shrinking below the profile floor.
func (o *Orchestrator) retireIdleWorker() {
	if len(o.workers) <= o.profile.MinWorkers {
		return
	}
	cutoff := time.Now().Add(-o.settings.GetIdleTimeout())
	for index, h := range o.workers {
		if h.state == types.WorkerStateHealthy && len(h.tasks) == 0 && h.idleSince.Before(cutoff) {
			o.logger.Info("retiring idle worker", logger.WithField("worker", index))
			h.state = types.WorkerStateRemoved
			delete(o.workers, index)
			old := h.worker
			o.group.Go(func() error {
				old.Stop()
				return nil
			})
			return
		}
	}
}

func (o *Orchestrator) shutdownWorkers() {
	for _, h := range o.workers {
		h.worker.Stop()
	}
}

func (o *Orchestrator) snapshot() PoolStatus {
	status := PoolStatus{Pending: len(o.pending)}
	for index, h := range o.workers {
		status.Workers = append(status.Workers, WorkerStatus{
			Index:     index,
			State:     h.state,
			Tasks:     len(h.tasks),
			Restarts:  h.restarts,
			Completed: h.completed,
			Errors:    h.errors,
		})
	}
	sort.Slice(status.Workers, func(i, j int) bool {
		return status.Workers[i].Index < status.Workers[j].Index
	})
	return status
}
