package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/muurk/netbridge/internal/logging"
	"github.com/muurk/netbridge/internal/obs"
	"github.com/muurk/netbridge/internal/worker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// PublisherConfig describes an advertisement and how it is maintained.
type PublisherConfig struct {
	Name   string
	Type   string // default DefaultServiceType
	Port   int
	Domain string // default DefaultDomain
	Text   []string

	// Granularity is the worker's poll timeout.
	Granularity time.Duration
	// ProbeTimeout is how long a conflict probe listens (default 1s).
	ProbeTimeout time.Duration
	// AnnounceInterval is how often an established advertisement re-probes
	// for a concurrent registration of the same name (default 5s).
	AnnounceInterval time.Duration
	// RetryInitial and RetryMax bound the delay before a failed client is
	// recreated (defaults 500ms and 30s).
	RetryInitial time.Duration
	RetryMax     time.Duration

	// OnStateChange, if set, is called on the worker goroutine after every
	// transition. It must not call Close.
	OnStateChange func(state State, name string)
}

func (c *PublisherConfig) setDefaults() {
	if c.Type == "" {
		c.Type = DefaultServiceType
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = time.Second
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = 5 * time.Second
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
}

// Publisher keeps one service advertised under a unique name. Creating it
// starts its worker; Close withdraws the advertisement.
type Publisher struct {
	cfg     PublisherConfig
	backend Backend
	id      string
	loop    *worker.Loop

	state atomic.Int32

	mu   sync.RWMutex
	name string

	// Worker-only.
	client    Client
	group     Group
	lastProbe time.Time
	retry     *backoff.ExponentialBackOff

	// closeErr is written by teardown and read once the worker is joined.
	closeErr error
}

// NewPublisher validates cfg and starts advertising.
func NewPublisher(b Backend, cfg PublisherConfig) (*Publisher, error) {
	if cfg.Name == "" {
		return nil, errors.New("publisher name is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.New("publisher port must be between 1 and 65535")
	}
	cfg.setDefaults()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.RetryInitial
	retry.MaxInterval = cfg.RetryMax
	retry.MaxElapsedTime = 0
	retry.Reset()

	p := &Publisher{
		cfg:     cfg,
		backend: b,
		id:      uuid.NewString(),
		name:    cfg.Name,
		retry:   retry,
		loop:    worker.New("publisher "+cfg.Name, cfg.Granularity),
	}
	p.state.Store(int32(StateClientStart))

	if err := p.loop.Go(p.run); err != nil {
		return nil, err
	}
	logging.LogDiscovery("publish_started", cfg.Name, cfg.Type,
		zap.String("backend", b.Name()),
		zap.Int("port", cfg.Port),
	)
	return p, nil
}

// State returns the current state.
func (p *Publisher) State() State {
	return State(p.state.Load())
}

// Name returns the name currently advertised or being tried. It differs
// from the configured name after a collision.
func (p *Publisher) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// ID returns the identity carried in the advertisement's TXT record.
func (p *Publisher) ID() string {
	return p.id
}

// SetGranularity changes the worker's poll timeout.
func (p *Publisher) SetGranularity(d time.Duration) {
	p.loop.SetGranularity(d)
}

// Close stops the worker, withdraws the advertisement and releases the
// client. It returns the withdraw and close errors, and the same result on
// every later call.
func (p *Publisher) Close() error {
	p.loop.Stop()
	return p.closeErr
}

func (p *Publisher) run(ctx context.Context) {
	defer p.teardown()
	p.loop.Poll(func(timeout time.Duration) {
		p.step(ctx, timeout)
	})
}

// step performs one transition of the state machine.
func (p *Publisher) step(ctx context.Context, timeout time.Duration) {
	switch p.State() {
	case StateClientStart:
		client, err := p.backend.NewClient()
		if err != nil {
			p.fail(err)
			return
		}
		p.client = client
		p.setState(StateClientRunning)

	case StateClientRunning:
		p.setState(StateGroupUncommitted)

	case StateGroupUncommitted:
		conflict, err := p.probe(ctx, false)
		if err != nil {
			p.fail(err)
			return
		}
		if conflict {
			p.setState(StateGroupCollision)
			return
		}
		p.setState(StateGroupRegistering)

	case StateGroupRegistering:
		group, err := p.client.Register(ctx, p.registration())
		if err != nil {
			p.fail(err)
			return
		}
		p.group = group
		p.retry.Reset()
		p.setState(StateGroupEstablished)
		logging.LogDiscovery("service_established", p.Name(), p.cfg.Type,
			zap.Int("port", p.cfg.Port),
		)

	case StateGroupEstablished:
		if time.Since(p.lastProbe) < p.cfg.AnnounceInterval {
			p.loop.Sleep(ctx, timeout)
			return
		}
		yield, err := p.probe(ctx, true)
		if err != nil {
			p.fail(err)
			return
		}
		if yield {
			p.setState(StateGroupCollision)
		}

	case StateGroupCollision:
		p.withdraw()
		old := p.Name()
		renamed := AlternativeName(old)
		p.mu.Lock()
		p.name = renamed
		p.mu.Unlock()
		obs.DiscoveryRecoveries.WithLabelValues("rename").Inc()
		logging.LogDiscovery("service_collision", old, p.cfg.Type,
			zap.String("renamed_to", renamed),
		)
		p.setState(StateGroupUncommitted)

	case StateClientFailure:
		p.withdraw()
		p.closeClient()
		delay := p.retry.NextBackOff()
		if delay == backoff.Stop {
			delay = p.cfg.RetryMax
		}
		logging.Debug("Recreating discovery client",
			zap.String("name", p.Name()),
			zap.Duration("delay", delay),
		)
		if !p.loop.Sleep(ctx, delay) {
			return
		}
		obs.DiscoveryRecoveries.WithLabelValues("publisher_client").Inc()
		p.setState(StateClientStart)
	}
}

// probe looks for another advertisement under the current name. Before
// registration any foreign entry is a conflict. Once established, only an
// entry that wins the tie-break is: the side with the greater identity (or
// an entry from a non-netbridge publisher) makes this publisher yield.
func (p *Publisher) probe(ctx context.Context, established bool) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	entries, err := p.client.Browse(probeCtx, p.cfg.Type, p.cfg.Domain)
	p.lastProbe = time.Now()
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}

	name := p.Name()
	for _, entry := range entries {
		if !sameInstance(entry.Instance, name) {
			continue
		}
		other := entry.publisherID()
		if other == p.id {
			continue
		}
		if !established || other == "" || other > p.id {
			logging.Debug("Name conflict",
				zap.String("name", name),
				zap.String("other_id", other),
				zap.Bool("established", established),
			)
			return true, nil
		}
	}
	return false, nil
}

func (p *Publisher) registration() Registration {
	text := make([]string, 0, len(p.cfg.Text)+1)
	text = append(text, p.cfg.Text...)
	text = append(text, idKey+"="+p.id)
	return Registration{
		Instance: p.Name(),
		Service:  p.cfg.Type,
		Domain:   p.cfg.Domain,
		Port:     p.cfg.Port,
		Text:     text,
	}
}

func (p *Publisher) fail(err error) {
	logging.Warn("Discovery client failed",
		zap.String("name", p.Name()),
		zap.String("state", p.State().String()),
		zap.Error(err),
	)
	p.setState(StateClientFailure)
}

func (p *Publisher) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev == s {
		return
	}
	logging.Debug("Publisher state change",
		zap.String("name", p.Name()),
		zap.String("from", prev.String()),
		zap.String("to", s.String()),
	)
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(s, p.Name())
	}
}

func (p *Publisher) withdraw() {
	if p.group == nil {
		return
	}
	if err := p.group.Withdraw(); err != nil {
		logging.Warn("Failed to withdraw advertisement", zap.String("name", p.Name()), zap.Error(err))
	}
	p.group = nil
}

func (p *Publisher) closeClient() {
	if p.client == nil {
		return
	}
	if err := p.client.Close(); err != nil {
		logging.Debug("Error closing discovery client", zap.Error(err))
	}
	p.client = nil
}

// teardown runs on the worker as it exits.
func (p *Publisher) teardown() {
	var err error
	if p.group != nil {
		err = multierr.Append(err, p.group.Withdraw())
		p.group = nil
	}
	if p.client != nil {
		err = multierr.Append(err, p.client.Close())
		p.client = nil
	}
	if err != nil {
		logging.Warn("Errors while withdrawing service", zap.String("name", p.Name()), zap.Error(err))
	}
	p.closeErr = err
	logging.LogDiscovery("publish_stopped", p.Name(), p.cfg.Type)
}
