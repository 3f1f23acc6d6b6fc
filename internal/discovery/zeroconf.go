package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/muurk/netbridge/internal/bridgeerr"
)

// drainGrace bounds how long abandoned result channels are drained so the
// engine's sender goroutine is never left blocked.
const drainGrace = 2 * time.Second

// ZeroconfBackend discovers and advertises with github.com/grandcat/zeroconf.
type ZeroconfBackend struct{}

// Name returns "zeroconf".
func (ZeroconfBackend) Name() string { return "zeroconf" }

// NewClient returns a zeroconf client. Resolvers are single-use in zeroconf
// (their sockets close when the browse context ends), so the client opens a
// fresh one per operation.
func (ZeroconfBackend) NewClient() (Client, error) {
	return &zeroconfClient{}, nil
}

type zeroconfClient struct{}

func (c *zeroconfClient) Browse(ctx context.Context, service, domain string) ([]*ServiceEntry, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, bridgeerr.NewTransient("zeroconf", "failed to create mDNS resolver", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, bridgeerr.NewTransient("zeroconf", "failed to browse for mDNS services", err)
	}

	found := make(map[string]*ServiceEntry)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return collectEntries(found), sweepErr(ctx)
			}
			if se := parseZeroconfEntry(entry, service, domain); se != nil {
				found[strings.ToLower(se.Instance)] = se
			}
		case <-ctx.Done():
			go drain[*zeroconf.ServiceEntry](entries)
			return collectEntries(found), sweepErr(ctx)
		}
	}
}

func (c *zeroconfClient) Resolve(ctx context.Context, instance, service, domain string) (*ServiceEntry, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, bridgeerr.NewTransient("zeroconf", "failed to create mDNS resolver", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Lookup(ctx, instance, service, domain, entries); err != nil {
		return nil, bridgeerr.NewTransient("zeroconf", "failed to look up "+instance, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, resolveErr(ctx, "zeroconf", instance)
			}
			se := parseZeroconfEntry(entry, service, domain)
			if se != nil && se.Address != "" && sameInstance(se.Instance, instance) {
				go drain[*zeroconf.ServiceEntry](entries)
				return se, nil
			}
		case <-ctx.Done():
			go drain[*zeroconf.ServiceEntry](entries)
			return nil, resolveErr(ctx, "zeroconf", instance)
		}
	}
}

func (c *zeroconfClient) Register(_ context.Context, reg Registration) (Group, error) {
	server, err := zeroconf.Register(reg.Instance, reg.Service, reg.Domain, reg.Port, reg.Text, nil)
	if err != nil {
		return nil, bridgeerr.NewTransient("zeroconf", "failed to register "+reg.Instance, err)
	}
	return &zeroconfGroup{server: server}, nil
}

func (c *zeroconfClient) Close() error {
	return nil
}

type zeroconfGroup struct {
	server *zeroconf.Server
}

func (g *zeroconfGroup) Withdraw() error {
	g.server.Shutdown()
	return nil
}

// parseZeroconfEntry converts a zeroconf service entry to a ServiceEntry.
// Returns nil for entries without an instance name.
func parseZeroconfEntry(entry *zeroconf.ServiceEntry, service, domain string) *ServiceEntry {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	if entry.Service != "" {
		service = entry.Service
	}
	if entry.Domain != "" {
		domain = entry.Domain
	}

	return &ServiceEntry{
		Instance:     unescapeLabel(entry.Instance),
		Service:      service,
		Domain:       domain,
		HostName:     entry.HostName,
		Address:      preferredAddress(entry.AddrIPv4, entry.AddrIPv6),
		Port:         entry.Port,
		Metadata:     parseText(entry.Text),
		DiscoveredAt: time.Now(),
	}
}

// sweepErr distinguishes a finished browse window from cancellation.
func sweepErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}

func resolveErr(ctx context.Context, session, instance string) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	cause := ctx.Err()
	if cause == nil {
		cause = fmt.Errorf("no answer for %s", instance)
	}
	return bridgeerr.NewResolveTimeout(session, instance, cause)
}

func collectEntries(found map[string]*ServiceEntry) []*ServiceEntry {
	out := make([]*ServiceEntry, 0, len(found))
	for _, se := range found {
		out = append(out, se)
	}
	return out
}

func drain[T any](ch <-chan T) {
	timer := time.NewTimer(drainGrace)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-timer.C:
			return
		}
	}
}
