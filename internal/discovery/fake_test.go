package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// fakeNetwork is an in-memory multicast segment shared by every client a
// fakeBackend creates.
type fakeNetwork struct {
	mu     sync.Mutex
	ads    map[int]*ServiceEntry
	nextID int

	// Failure injection. Each counter is consumed one failure at a time.
	clientFailures int
	browseFailures int
	// unresolvable names never answer a resolve.
	unresolvable map[string]bool
	// resolveDelay is added to every successful resolve.
	resolveDelay time.Duration
	// withdrawErr is returned by every Withdraw after removing the entry.
	withdrawErr error

	clients int
	closed  int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		ads:          make(map[int]*ServiceEntry),
		unresolvable: make(map[string]bool),
	}
}

// advertise adds an entry as a foreign responder would and returns a
// function that withdraws it.
func (n *fakeNetwork) advertise(instance, service string, port int, txt ...string) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.add(instance, service, port, txt)
	return func() { n.remove(id) }
}

func (n *fakeNetwork) add(instance, service string, port int, txt []string) int {
	n.nextID++
	n.ads[n.nextID] = &ServiceEntry{
		Instance: instance,
		Service:  service,
		Domain:   DefaultDomain,
		HostName: fmt.Sprintf("host-%d.local.", n.nextID),
		Address:  fmt.Sprintf("10.0.0.%d", n.nextID),
		Port:     port,
		Metadata: parseText(txt),
	}
	return n.nextID
}

func (n *fakeNetwork) remove(id int) {
	n.mu.Lock()
	delete(n.ads, id)
	n.mu.Unlock()
}

// names returns the advertised instance names, sorted.
func (n *fakeNetwork) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.ads))
	for _, e := range n.ads {
		out = append(out, e.Instance)
	}
	sort.Strings(out)
	return out
}

func (n *fakeNetwork) setUnresolvable(name string) {
	n.mu.Lock()
	n.unresolvable[name] = true
	n.mu.Unlock()
}

func (n *fakeNetwork) failClients(count int) {
	n.mu.Lock()
	n.clientFailures = count
	n.mu.Unlock()
}

func (n *fakeNetwork) failBrowses(count int) {
	n.mu.Lock()
	n.browseFailures = count
	n.mu.Unlock()
}

func (n *fakeNetwork) openClients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients - n.closed
}

type fakeBackend struct {
	net *fakeNetwork
}

func (b fakeBackend) Name() string { return "fake" }

func (b fakeBackend) NewClient() (Client, error) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	if b.net.clientFailures > 0 {
		b.net.clientFailures--
		return nil, errors.New("daemon not running")
	}
	b.net.clients++
	return &fakeClient{net: b.net}, nil
}

type fakeClient struct {
	net    *fakeNetwork
	closed bool
}

func (c *fakeClient) Browse(ctx context.Context, service, _ string) ([]*ServiceEntry, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if c.net.browseFailures > 0 {
		c.net.browseFailures--
		return nil, errors.New("daemon connection lost")
	}
	var out []*ServiceEntry
	for _, e := range c.net.ads {
		if e.Service == service {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, sweepErr(ctx)
}

func (c *fakeClient) Resolve(ctx context.Context, instance, service, _ string) (*ServiceEntry, error) {
	c.net.mu.Lock()
	var found *ServiceEntry
	if !c.net.unresolvable[instance] {
		for _, e := range c.net.ads {
			if e.Service == service && sameInstance(e.Instance, instance) {
				cp := *e
				found = &cp
				break
			}
		}
	}
	delay := c.net.resolveDelay
	c.net.mu.Unlock()

	if found == nil {
		<-ctx.Done()
		return nil, resolveErr(ctx, "fake", instance)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, resolveErr(ctx, "fake", instance)
		}
	}
	return found, nil
}

func (c *fakeClient) Register(_ context.Context, reg Registration) (Group, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	id := c.net.add(reg.Instance, reg.Service, reg.Port, reg.Text)
	return &fakeGroup{net: c.net, id: id}, nil
}

func (c *fakeClient) Close() error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.net.closed++
	}
	return nil
}

type fakeGroup struct {
	net *fakeNetwork
	id  int
}

func (g *fakeGroup) Withdraw() error {
	g.net.remove(g.id)
	g.net.mu.Lock()
	defer g.net.mu.Unlock()
	return g.net.withdrawErr
}

// eventually polls cond until it holds or timeout passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
