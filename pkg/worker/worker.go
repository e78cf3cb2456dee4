package worker

import (
	"context"
	"sync"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// Worker is an isolated actor the orchestrator schedules runs onto. It
// shares no memory with the orchestrator or other workers; all
// coordination is message passing through its inbox and outbox. One run
// owns the worker for its duration.
type Worker struct {
	index    int
	inbox    chan types.WorkerMessage
	outbox   chan<- types.WorkerMessage
	settings *types.GenerationSettings
	logger   logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker. Messages emitted by the worker (ready, pong,
// artifacts, progress, results) arrive on outbox.
func New(index int, outbox chan<- types.WorkerMessage, settings *types.GenerationSettings, log logger.Logger) *Worker {
	return &Worker{
		index:    index,
		inbox:    make(chan types.WorkerMessage, 64),
		outbox:   outbox,
		settings: settings,
		logger:   log.WithScope(types.WorkerScope(index)),
	}
}

// Index returns the worker's pool index
func (w *Worker) Index() int { return w.index }

// Inbox returns the channel control messages are delivered on
func (w *Worker) Inbox() chan<- types.WorkerMessage { return w.inbox }

// Start launches the worker's message loop
func (w *Worker) Start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
}

// Stop terminates the worker, cancelling any active run, and waits for
// the loop to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	var (
		runCancel context.CancelFunc
		runDone   chan struct{}
	)

	finishRun := func() {
		runCancel() // release the run's context
		runCancel = nil
		runDone = nil
	}

	for {
		select {
		case <-w.ctx.Done():
			if runCancel != nil {
				runCancel()
				<-runDone
			}
			return

		case <-runDone:
			finishRun()

		case msg := <-w.inbox:
			switch msg.Kind {
			case types.MessageKindInitialize:
				w.send(types.WorkerMessage{Kind: types.MessageKindReady, WorkerIndex: w.index})

			case types.MessageKindPing:
				// Liveness probe: echo the id so the monitor can
				// match the response to its probe.
				w.send(types.WorkerMessage{
					Kind:        types.MessageKindPong,
					WorkerIndex: w.index,
					PingID:      msg.PingID,
				})

			case types.MessageKindStart:
				// A finished run whose done signal has not been
				// consumed yet does not make the worker busy.
				if runDone != nil {
					select {
					case <-runDone:
						finishRun()
					default:
					}
				}
				if runDone != nil {
					w.send(types.WorkerMessage{
						Kind:        types.MessageKindResult,
						TaskID:      msg.TaskID,
						WorkerIndex: w.index,
						Result: &types.RunResult{
							RunID:  msg.TaskID,
							Status: types.RunStatusFailed,
							Err:    "worker already owns a run",
						},
					})
					continue
				}
				runCancel, runDone = w.startRun(msg)

			case types.MessageKindCancel:
				if runCancel != nil {
					runCancel()
				}

			default:
				w.logger.Warn("unexpected message kind", logger.WithField("kind", msg.Kind))
			}
		}
	}
}

// startRun launches the generation controller for one task. The run
// executes in its own goroutine so the loop keeps answering liveness
// probes; cancellation stays cooperative inside the controller.
func (w *Worker) startRun(msg types.WorkerMessage) (context.CancelFunc, chan struct{}) {
	runCtx, cancel := context.WithCancel(w.ctx)
	done := make(chan struct{})

	controller := NewController(ControllerConfig{
		RunID:       msg.TaskID,
		TaskID:      msg.TaskID,
		WorkerIndex: w.index,
		Request:     msg.Request,
		Settings:    w.settings,
		Emit:        w.send,
		Logger:      w.logger,
	})

	go func() {
		defer close(done)
		controller.Run(runCtx)
	}()

	return cancel, done
}

func (w *Worker) send(msg types.WorkerMessage) {
	select {
	case w.outbox <- msg:
	case <-w.ctx.Done():
	}
}
