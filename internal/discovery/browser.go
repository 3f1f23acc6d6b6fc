package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/muurk/netbridge/internal/bridgeerr"
	"github.com/muurk/netbridge/internal/host"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"github.com/muurk/netbridge/internal/worker"
	"go.uber.org/zap"
)

// BrowserConfig configures a Browser.
type BrowserConfig struct {
	Type   string // default DefaultServiceType
	Domain string // default DefaultDomain

	// Target, if set, restricts resolution to explicitly tracked names and
	// is tracked from the start. Without it every service seen is resolved.
	Target string

	// Granularity is the worker's poll timeout.
	Granularity time.Duration
	// SweepInterval is the time between browse sweeps (default 2s).
	SweepInterval time.Duration
	// BrowseWindow is how long each sweep listens (default 1s).
	BrowseWindow time.Duration
	// ResolveTimeout bounds each resolve (default 5s).
	ResolveTimeout time.Duration
	// MissedSweeps is how many consecutive sweeps a service may be absent
	// before it is reported removed (default 2).
	MissedSweeps int
	// RetryInitial and RetryMax bound client recreation delays.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func (c *BrowserConfig) setDefaults() {
	if c.Type == "" {
		c.Type = DefaultServiceType
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.BrowseWindow <= 0 {
		c.BrowseWindow = time.Second
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = 5 * time.Second
	}
	if c.MissedSweeps <= 0 {
		c.MissedSweeps = 2
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
}

type resolveResult struct {
	name  string
	entry *ServiceEntry
	err   error
}

// Browser watches for services of one type and reports resolutions and
// removals to the host.
type Browser struct {
	cfg     BrowserConfig
	backend Backend
	bridge  host.Deliverer
	object  host.Handle
	loop    *worker.Loop

	// mu guards the target maps against host-side AddTarget/RemoveTarget.
	mu      sync.Mutex
	targets map[string]*ServiceTarget
	// monitored holds names picked up on sight while the browser has no
	// targets. The first AddTarget ends monitor mode for good.
	monitored map[string]*ServiceTarget
	monitor   bool

	// Worker-only.
	client    Client
	missed    map[string]int
	attempted map[string]bool
	results   chan resolveResult
	lastSweep time.Time
	retry     *backoff.ExponentialBackOff
	retryAt   time.Time
	resolvers sync.WaitGroup
}

// NewBrowser creates a stopped browser whose events target object.
func NewBrowser(b Backend, bridge host.Deliverer, object host.Handle, cfg BrowserConfig) *Browser {
	cfg.setDefaults()

	br := &Browser{
		cfg:     cfg,
		backend: b,
		bridge:  bridge,
		object:  object,
		targets:   make(map[string]*ServiceTarget),
		monitored: make(map[string]*ServiceTarget),
		monitor:   cfg.Target == "",
		loop:      worker.New("browser "+cfg.Type, cfg.Granularity),
	}
	if cfg.Target != "" {
		br.targets[key(cfg.Target)] = &ServiceTarget{Name: cfg.Target}
	}
	return br
}

func key(name string) string {
	return strings.ToLower(name)
}

// AddTarget starts tracking name. It is safe while the worker runs. On a
// browser created without a target it also ends monitor mode: names that
// were only being monitored are dropped without a serviceRemoved, except
// name itself, which keeps its resolved state.
func (b *Browser) AddTarget(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key(name)
	if b.monitor {
		b.monitor = false
		if t, ok := b.monitored[k]; ok {
			b.targets[k] = t
			delete(b.monitored, k)
		}
		for _, t := range b.monitored {
			if t.Resolved {
				obs.DiscoveryServices.Dec()
			}
		}
		b.monitored = make(map[string]*ServiceTarget)
	}
	if _, ok := b.targets[k]; !ok {
		b.targets[k] = &ServiceTarget{Name: name}
	}
}

// RemoveTarget stops tracking name. No event is delivered for it. Removing
// the last target does not bring back monitor mode.
func (b *Browser) RemoveTarget(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.targets[key(name)]; ok {
		if t.Resolved {
			obs.DiscoveryServices.Dec()
		}
		delete(b.targets, key(name))
	}
}

// Targets returns a copy of the tracked targets ordered by name. Names seen
// in monitor mode are not targets.
func (b *Browser) Targets() []ServiceTarget {
	b.mu.Lock()
	out := make([]ServiceTarget, 0, len(b.targets))
	for _, t := range b.targets {
		out = append(out, *t)
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start spawns the worker.
func (b *Browser) Start() error {
	if err := b.loop.Go(b.run); err != nil {
		return err
	}
	logging.LogDiscovery("browse_started", b.cfg.Target, b.cfg.Type,
		zap.String("backend", b.backend.Name()),
	)
	return nil
}

// Stop cancels browse and resolve work, closes the client and joins the
// worker. No event is delivered after it returns. Start may be called again.
func (b *Browser) Stop() {
	b.loop.Stop()
}

// Running reports whether the worker is polling.
func (b *Browser) Running() bool {
	return b.loop.Running()
}

// SetGranularity changes the worker's poll timeout.
func (b *Browser) SetGranularity(d time.Duration) {
	b.loop.SetGranularity(d)
}

func (b *Browser) run(ctx context.Context) {
	b.missed = make(map[string]int)
	b.attempted = make(map[string]bool)
	b.results = make(chan resolveResult, 64)
	b.lastSweep = time.Time{}
	b.retryAt = time.Time{}
	b.retry = backoff.NewExponentialBackOff()
	b.retry.InitialInterval = b.cfg.RetryInitial
	b.retry.MaxInterval = b.cfg.RetryMax
	b.retry.MaxElapsedTime = 0
	b.retry.Reset()

	defer b.teardown()

	b.loop.Poll(func(timeout time.Duration) {
		b.cycle(ctx, timeout)
	})
}

func (b *Browser) cycle(ctx context.Context, timeout time.Duration) {
	if b.client == nil && !time.Now().Before(b.retryAt) {
		client, err := b.backend.NewClient()
		if err != nil {
			b.clientFailed(err)
		} else {
			b.client = client
		}
	}

	if b.client != nil && time.Since(b.lastSweep) >= b.cfg.SweepInterval {
		b.sweep(ctx)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-b.results:
		b.handleResolve(r)
		// Drain whatever else is ready without waiting.
		for {
			select {
			case r := <-b.results:
				b.handleResolve(r)
			default:
				return
			}
		}
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (b *Browser) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, b.cfg.BrowseWindow)
	entries, err := b.client.Browse(sweepCtx, b.cfg.Type, b.cfg.Domain)
	cancel()
	b.lastSweep = time.Now()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		b.clientFailed(err)
		return
	}
	b.retry.Reset()

	present := make(map[string]*ServiceEntry, len(entries))
	for _, entry := range entries {
		present[key(entry.Instance)] = entry
	}

	for k, entry := range present {
		if _, seen := b.missed[k]; !seen {
			logging.LogDiscovery("service_new", entry.Instance, b.cfg.Type)
		}
		b.missed[k] = 0
		b.newService(ctx, entry.Instance)
	}

	for k, n := range b.missed {
		if _, ok := present[k]; ok {
			continue
		}
		n++
		if n < b.cfg.MissedSweeps {
			b.missed[k] = n
			continue
		}
		delete(b.missed, k)
		delete(b.attempted, k)
		b.removedService(k)
	}
}

// newService starts resolving name if it is tracked and has not been tried
// since it last appeared. A failed resolve is retried only after the service
// disappears and comes back.
func (b *Browser) newService(ctx context.Context, name string) {
	b.mu.Lock()
	t := b.lookup(key(name))
	if t == nil && b.monitor {
		t = &ServiceTarget{Name: name}
		b.monitored[key(name)] = t
	}
	resolved := t != nil && t.Resolved
	b.mu.Unlock()

	if t == nil || resolved || b.attempted[key(name)] {
		return
	}

	b.attempted[key(name)] = true
	client := b.client
	b.resolvers.Add(1)
	go func() {
		defer b.resolvers.Done()
		rctx, cancel := context.WithTimeout(ctx, b.cfg.ResolveTimeout)
		defer cancel()

		entry, err := client.Resolve(rctx, name, b.cfg.Type, b.cfg.Domain)
		select {
		case b.results <- resolveResult{name: name, entry: entry, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (b *Browser) handleResolve(r resolveResult) {
	k := key(r.name)

	if r.err != nil {
		obs.DiscoveryResolveFail.Inc()
		logging.LogDiscovery("resolve_failed", r.name, b.cfg.Type, zap.Error(r.err))
		b.deliver(host.ServiceResolveFailed, r.name)
		return
	}

	// The service may have gone away while the resolve was in flight.
	if _, stillThere := b.missed[k]; !stillThere {
		return
	}

	b.mu.Lock()
	t := b.lookup(k)
	ok := t != nil
	if ok && !t.Resolved {
		t.Resolved = true
		t.Entry = r.entry
		obs.DiscoveryServices.Inc()
	} else {
		ok = false
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	logging.LogDiscovery("service_resolved", r.name, b.cfg.Type,
		zap.String("host", r.entry.HostName),
		zap.String("address", r.entry.Address),
		zap.Int("port", r.entry.Port),
	)
	b.deliver(host.ServiceResolved, r.name, r.entry.HostName, r.entry.Address, r.entry.Port)
}

// removedService reports name's disappearance if it had been resolved.
func (b *Browser) removedService(k string) {
	b.mu.Lock()
	t := b.lookup(k)
	wasResolved := t != nil && t.Resolved
	name := k
	if t != nil {
		name = t.Name
		t.Resolved = false
	}
	delete(b.monitored, k)
	b.mu.Unlock()

	logging.LogDiscovery("service_gone", name, b.cfg.Type, zap.Bool("was_resolved", wasResolved))
	if !wasResolved {
		return
	}
	obs.DiscoveryServices.Dec()
	b.deliver(host.ServiceRemoved, name)
}

// lookup finds k among the targets or the monitored names. b.mu must be held.
func (b *Browser) lookup(k string) *ServiceTarget {
	if t, ok := b.targets[k]; ok {
		return t
	}
	return b.monitored[k]
}

func (b *Browser) clientFailed(err error) {
	logging.Warn("Discovery client failed",
		zap.String("type", b.cfg.Type),
		zap.Error(err),
	)
	if b.client != nil {
		_ = b.client.Close()
		b.client = nil
	}
	delay := b.retry.NextBackOff()
	if delay == backoff.Stop {
		delay = b.cfg.RetryMax
	}
	b.retryAt = time.Now().Add(delay)
	obs.DiscoveryRecoveries.WithLabelValues("browser_client").Inc()
}

func (b *Browser) deliver(event host.Event, args ...interface{}) {
	if err := b.bridge.Deliver(b.object, event, args...); err != nil {
		if bridgeerr.IsHostUnavailable(err) {
			logging.Debug("Host unavailable, dropping event", zap.String("event", string(event)))
			return
		}
		logging.Warn("Host event failed", zap.String("event", string(event)), zap.Error(err))
	}
}

// teardown runs on the worker as it exits. Resolved flags are cleared so a
// restarted browser reports every service afresh.
func (b *Browser) teardown() {
	b.resolvers.Wait()
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			logging.Debug("Error closing discovery client", zap.Error(err))
		}
		b.client = nil
	}

	b.mu.Lock()
	for _, t := range b.targets {
		if t.Resolved {
			t.Resolved = false
			obs.DiscoveryServices.Dec()
		}
	}
	for _, t := range b.monitored {
		if t.Resolved {
			obs.DiscoveryServices.Dec()
		}
	}
	b.monitored = make(map[string]*ServiceTarget)
	b.mu.Unlock()

	logging.LogDiscovery("browse_stopped", b.cfg.Target, b.cfg.Type)
}
