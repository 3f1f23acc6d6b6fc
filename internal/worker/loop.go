// Package worker runs the single poll loop that backs every endpoint and
// discovery session.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"go.uber.org/zap"
)

// DefaultGranularity is the poll timeout used when none is configured.
const DefaultGranularity = 200 * time.Millisecond

// MinGranularity is the smallest accepted poll timeout.
const MinGranularity = time.Millisecond

// State is the lifecycle state of a Loop.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Loop owns at most one worker goroutine. The running flag and granularity
// are atomics so the host goroutine may change them while the worker polls.
type Loop struct {
	name        string
	state       atomic.Int32
	running     atomic.Bool
	granularity atomic.Int64

	// mu serializes Go and Stop; it is never held while the worker runs host code.
	mu     sync.Mutex
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped loop. A granularity of zero selects DefaultGranularity.
func New(name string, granularity time.Duration) *Loop {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	l := &Loop{name: name}
	l.SetGranularity(granularity)
	return l
}

// Name returns the loop's name as used in logs.
func (l *Loop) Name() string {
	return l.name
}

// Go spawns the worker goroutine running body. It fails if a previous worker
// is still alive. body should call Poll (or check Running) and return when
// the loop is stopped.
func (l *Loop) Go(body func(ctx context.Context)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		default:
			return bridgeerr.NewAlreadyRunning(l.name)
		}
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.done = make(chan struct{})
	l.running.Store(true)
	l.state.Store(int32(StateStarting))

	ctx, done := l.ctx, l.done
	go func() {
		defer close(done)
		defer l.state.Store(int32(StateStopped))
		defer l.running.Store(false)
		l.protect(func() { body(ctx) })
	}()

	logging.Debug("Worker started", zap.String("worker", l.name))
	return nil
}

// Poll runs cycle repeatedly, passing the current granularity, until the
// loop is stopped. The running flag is checked at the top of every cycle. A
// panic inside one cycle is recovered and logged; the loop continues.
func (l *Loop) Poll(cycle func(timeout time.Duration)) {
	l.state.Store(int32(StateRunning))
	for l.running.Load() {
		l.protect(func() { cycle(l.Granularity()) })
	}
}

// Sleep waits for d or until the loop is stopped. It returns false if the
// loop was stopped.
func (l *Loop) Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return l.running.Load()
	case <-ctx.Done():
		return false
	}
}

// MarkRunning moves a starting loop to running. Bodies that do setup work
// before calling Poll use it once setup succeeds.
func (l *Loop) MarkRunning() {
	l.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
}

// Finish ends Poll after the current cycle. It is called from the worker
// itself when its work is done, so a later Go can start a new worker.
func (l *Loop) Finish() {
	l.running.Store(false)
}

// Stop clears the running flag, cancels the worker context and waits for the
// worker to exit. It is safe to call more than once and concurrently with
// SetGranularity. It must not be called from the worker goroutine itself,
// which includes host callbacks invoked by that worker.
func (l *Loop) Stop() {
	l.mu.Lock()
	done, cancel := l.done, l.cancel
	l.mu.Unlock()

	if done == nil {
		return
	}

	l.running.Store(false)
	if cancel != nil {
		cancel()
	}
	<-done
	logging.Debug("Worker stopped", zap.String("worker", l.name))
}

// Running reports whether the worker should keep polling.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Done returns a channel closed when the current worker exits, or nil if
// no worker was ever started.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// SetGranularity updates the poll timeout. The worker picks it up on its
// next cycle.
func (l *Loop) SetGranularity(d time.Duration) {
	if d < MinGranularity {
		d = MinGranularity
	}
	l.granularity.Store(int64(d))
	logging.Debug("Setting granularity",
		zap.String("worker", l.name),
		zap.Duration("granularity", d),
	)
}

// Granularity returns the current poll timeout.
func (l *Loop) Granularity() time.Duration {
	return time.Duration(l.granularity.Load())
}

func (l *Loop) protect(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := bridgeerr.FromPanic(l.name, r)
			obs.WorkerPanicsTotal.WithLabelValues(l.name).Inc()
			logging.Error("Recovered panic in worker",
				zap.String("worker", l.name),
				zap.Error(err),
			)
		}
	}()
	fn()
}
