package host

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"go.uber.org/zap"
)

// Bridge serializes every event from every worker into the host context.
//
// One Bridge is created per host and handed to each endpoint and session. Its
// mutex is the only synchronization point between worker goroutines and host
// state: a worker blocks in Deliver while another worker's event is being
// invoked.
type Bridge struct {
	mu      sync.Mutex
	invoker Invoker
	alive   atomic.Bool
}

// NewBridge creates a bridge that invokes into inv.
func NewBridge(inv Invoker) *Bridge {
	b := &Bridge{invoker: inv}
	b.alive.Store(true)
	return b
}

// Deliver invokes event on target inside the host context.
//
// It returns a HostUnavailable error once Shutdown has been called; callers
// drop the event and do not retry. A panic raised by the invoker is recovered
// and returned as an Unknown error.
func (b *Bridge) Deliver(target Handle, event Event, args ...interface{}) (err error) {
	if !b.alive.Load() {
		obs.HostEventsDropped.WithLabelValues("host_unavailable").Inc()
		return bridgeerr.NewHostUnavailable(string(event))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Shutdown may have won the race for the lock.
	if !b.alive.Load() {
		obs.HostEventsDropped.WithLabelValues("host_unavailable").Inc()
		return bridgeerr.NewHostUnavailable(string(event))
	}

	start := time.Now()
	defer func() {
		obs.HostDeliverySeconds.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			obs.HostEventsDropped.WithLabelValues("host_panic").Inc()
			err = bridgeerr.FromPanic(string(event), r)
			logging.Error("Host invocation panicked",
				zap.String("event", string(event)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := b.invoker.Invoke(target, event, args...); err != nil {
		obs.HostEventsDropped.WithLabelValues("host_error").Inc()
		return fmt.Errorf("host rejected %s: %w", event, err)
	}
	obs.HostEventsTotal.WithLabelValues(string(event)).Inc()
	return nil
}

// Shutdown marks the host context as torn down. It waits for an in-flight
// delivery to finish, so no invocation runs after it returns. It must not be
// called from inside an invocation.
func (b *Bridge) Shutdown() {
	b.alive.Store(false)
	b.mu.Lock()
	//nolint:staticcheck // empty critical section waits out the in-flight delivery
	b.mu.Unlock()
	logging.Debug("Host bridge shut down")
}

// Alive reports whether the host context still accepts events.
func (b *Bridge) Alive() bool {
	return b.alive.Load()
}
