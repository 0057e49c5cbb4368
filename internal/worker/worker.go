// Package worker runs one component in its own goroutine, feeding it commands
// from a command channel and publishing its telemetry on a telemetry channel.
//
// Every cycle first applies all queued commands in FIFO order, then performs
// one work unit and emits one record. The EXIT command or cancellation of the
// run context stops the loop after the component's cleanup hook has run.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/autocar/internal/command"
	"github.com/banshee-data/autocar/internal/component"
	"github.com/banshee-data/autocar/internal/monitoring"
	"github.com/banshee-data/autocar/internal/telemetry"
)

var (
	// ErrInterrupted is returned by Run when the context was cancelled.
	ErrInterrupted = errors.New("worker interrupted")
	// ErrAlreadyStarted is returned when Run is called a second time.
	ErrAlreadyStarted = errors.New("worker already started")
)

// DefaultCleanupTimeout bounds the component's cleanup hook.
const DefaultCleanupTimeout = 5 * time.Second

// State is the lifecycle state of a worker.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Status is a point-in-time snapshot of a worker.
type Status struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Cycles      uint64    `json:"cycles"`
	Commands    uint64    `json:"commands"`
	ApplyErrors uint64    `json:"apply_errors"`
	RunErrors   uint64    `json:"run_errors"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Options configures a worker. Zero values get sensible defaults.
type Options struct {
	// Commands and Telemetry default to fresh channels.
	Commands  *command.Channel
	Telemetry *telemetry.Channel
	// Metrics may be shared between workers; nil disables metrics.
	Metrics *Metrics
	// OnError is called from the worker goroutine for every rejected
	// command.
	OnError        func(cmd command.Command, err error)
	CleanupTimeout time.Duration
}

// Worker drives exactly one component.
type Worker struct {
	id        uuid.UUID
	comp      component.Component
	cmds      *command.Channel
	tel       *telemetry.Channel
	metrics   *Metrics
	onError   func(command.Command, error)
	cleanupTO time.Duration
	logf      func(format string, v ...interface{})

	started     atomic.Bool
	cleanupOnce sync.Once
	done        chan struct{}

	mu     sync.Mutex
	status Status
	err    error
}

// New wraps comp in a worker. The worker is idle until Start or Run.
func New(comp component.Component, opts Options) *Worker {
	if opts.Commands == nil {
		opts.Commands = command.NewChannel()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewChannel()
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = DefaultCleanupTimeout
	}
	id := uuid.New()
	return &Worker{
		id:        id,
		comp:      comp,
		cmds:      opts.Commands,
		tel:       opts.Telemetry,
		metrics:   opts.Metrics,
		onError:   opts.OnError,
		cleanupTO: opts.CleanupTimeout,
		logf:      monitoring.Prefixed(comp.Name()),
		done:      make(chan struct{}),
		status:    Status{ID: id.String(), Name: comp.Name(), State: StateIdle},
	}
}

// ID returns the worker's unique id.
func (w *Worker) ID() uuid.UUID { return w.id }

// Name returns the component's source name.
func (w *Worker) Name() string { return w.comp.Name() }

// Schema returns the layout of the records the worker publishes.
func (w *Worker) Schema() telemetry.Schema { return w.comp.Schema() }

// Commands returns the worker's inbound command channel.
func (w *Worker) Commands() *command.Channel { return w.cmds }

// Telemetry returns the worker's outbound telemetry channel.
func (w *Worker) Telemetry() *telemetry.Channel { return w.tel }

// Send normalizes raw and queues it for the next cycle.
func (w *Worker) Send(raw any) error { return w.cmds.Send(raw) }

// Exit queues the EXIT sentinel.
func (w *Worker) Exit() { w.cmds.Push(command.Exit) }

// Done is closed when the loop has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Start runs the loop in a new goroutine.
func (w *Worker) Start(ctx context.Context) {
	go func() { _ = w.Run(ctx) }()
}

// Wait blocks until the loop returns and reports its result.
func (w *Worker) Wait() error {
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Status returns a snapshot of the worker's counters.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run executes the worker loop on the calling goroutine until EXIT is
// received or ctx is cancelled. EXIT yields nil, cancellation ErrInterrupted.
func (w *Worker) Run(ctx context.Context) (err error) {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer func() {
		w.mu.Lock()
		w.err = err
		w.status.State = StateStopped
		w.mu.Unlock()
		w.gauge(0)
		close(w.done)
	}()

	w.mu.Lock()
	w.status.State = StateRunning
	w.status.StartedAt = time.Now()
	w.mu.Unlock()
	w.gauge(1)

	if initer, ok := w.comp.(component.Initializer); ok {
		if err := initer.Initialize(ctx); err != nil {
			w.cleanup()
			if ctx.Err() != nil {
				return fmt.Errorf("%s: %w", w.Name(), ErrInterrupted)
			}
			return fmt.Errorf("%s: initialize: %w", w.Name(), err)
		}
	}

	for {
		if w.applyPending(ctx) {
			w.logf("exit requested")
			w.cleanup()
			return nil
		}
		if ctx.Err() != nil {
			w.cleanup()
			return fmt.Errorf("%s: %w", w.Name(), ErrInterrupted)
		}

		start := time.Now()
		if err := w.comp.Run(ctx); err != nil {
			if ctx.Err() != nil {
				w.cleanup()
				return fmt.Errorf("%s: %w", w.Name(), ErrInterrupted)
			}
			w.recordRunError(err)
		}
		w.comp.Emit(w.tel)

		w.mu.Lock()
		w.status.Cycles++
		w.mu.Unlock()
		if w.metrics != nil {
			w.metrics.Cycles.WithLabelValues(w.Name()).Inc()
			w.metrics.CycleDuration.WithLabelValues(w.Name()).Observe(time.Since(start).Seconds())
		}
	}
}

// applyPending applies every queued command and reports whether EXIT was
// seen. Commands queued behind EXIT are left unapplied.
func (w *Worker) applyPending(ctx context.Context) bool {
	for {
		cmd, ok := w.cmds.TryPop()
		if !ok {
			return false
		}
		w.mu.Lock()
		w.status.Commands++
		w.mu.Unlock()
		if w.metrics != nil {
			w.metrics.Commands.WithLabelValues(w.Name()).Inc()
		}
		if cmd.IsExit() {
			return true
		}
		if err := w.comp.Apply(ctx, cmd); err != nil {
			w.recordApplyError(cmd, err)
		}
	}
}

func (w *Worker) recordApplyError(cmd command.Command, err error) {
	w.logf("command %s rejected: %v", cmd, err)
	w.mu.Lock()
	w.status.ApplyErrors++
	w.status.LastError = err.Error()
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.ApplyErrors.WithLabelValues(w.Name()).Inc()
	}
	if w.onError != nil {
		w.onError(cmd, err)
	}
}

func (w *Worker) recordRunError(err error) {
	w.mu.Lock()
	w.status.RunErrors++
	w.status.LastError = err.Error()
	n := w.status.RunErrors
	w.mu.Unlock()
	if n == 1 || n%100 == 0 {
		w.logf("run failed (%d so far): %v", n, err)
	}
	if w.metrics != nil {
		w.metrics.RunErrors.WithLabelValues(w.Name()).Inc()
	}
}

// cleanup runs the component's cancel hook at most once, on a fresh context
// so that an interrupted worker can still park its hardware.
func (w *Worker) cleanup() {
	w.cleanupOnce.Do(func() {
		w.mu.Lock()
		w.status.State = StateStopping
		w.mu.Unlock()

		c, ok := w.comp.(component.Canceler)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), w.cleanupTO)
		defer cancel()
		if err := c.Cancel(ctx); err != nil {
			w.logf("cleanup failed: %v", err)
		}
	})
}

func (w *Worker) gauge(v float64) {
	if w.metrics != nil {
		w.metrics.Running.WithLabelValues(w.Name()).Set(v)
	}
}
