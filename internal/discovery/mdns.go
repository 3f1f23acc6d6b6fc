package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/muurk/netbridge/internal/bridgeerr"
)

// defaultQueryWindow is used when a context carries no deadline.
const defaultQueryWindow = time.Second

// MDNSBackend discovers and advertises with github.com/hashicorp/mdns.
type MDNSBackend struct{}

// Name returns "mdns".
func (MDNSBackend) Name() string { return "mdns" }

// NewClient returns a hashicorp/mdns client.
func (MDNSBackend) NewClient() (Client, error) {
	return &mdnsClient{}, nil
}

type mdnsClient struct{}

// query runs one mdns.Query bounded by ctx and returns every complete entry
// it produced. mdns.Query never blocks on a full channel, so abandoning it
// on cancellation leaks nothing beyond its own timeout.
func (c *mdnsClient) query(ctx context.Context, service, domain string) ([]*mdns.ServiceEntry, error) {
	window := defaultQueryWindow
	if deadline, ok := ctx.Deadline(); ok {
		window = time.Until(deadline)
	}
	if window <= 0 {
		return nil, sweepErr(ctx)
	}

	entries := make(chan *mdns.ServiceEntry, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- mdns.Query(&mdns.QueryParam{
			Service: service,
			Domain:  strings.Trim(domain, "."),
			Timeout: window,
			Entries: entries,
		})
	}()

	var out []*mdns.ServiceEntry
	for {
		select {
		case entry := <-entries:
			out = append(out, entry)
		case err := <-errc:
			// Pick up anything queued before Query returned.
			for {
				select {
				case entry := <-entries:
					out = append(out, entry)
				default:
					if err != nil {
						return out, bridgeerr.NewTransient("mdns", "mDNS query failed", err)
					}
					return out, nil
				}
			}
		case <-ctx.Done():
			return out, sweepErr(ctx)
		}
	}
}

func (c *mdnsClient) Browse(ctx context.Context, service, domain string) ([]*ServiceEntry, error) {
	raw, err := c.query(ctx, service, domain)

	found := make(map[string]*ServiceEntry, len(raw))
	for _, entry := range raw {
		if se := parseMDNSEntry(entry, service, domain); se != nil {
			found[strings.ToLower(se.Instance)] = se
		}
	}
	return collectEntries(found), err
}

func (c *mdnsClient) Resolve(ctx context.Context, instance, service, domain string) (*ServiceEntry, error) {
	raw, err := c.query(ctx, service, domain)
	for _, entry := range raw {
		se := parseMDNSEntry(entry, service, domain)
		if se != nil && se.Address != "" && sameInstance(se.Instance, instance) {
			return se, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, resolveErr(ctx, "mdns", instance)
}

func (c *mdnsClient) Register(_ context.Context, reg Registration) (Group, error) {
	ips, err := localIPs()
	if err != nil {
		return nil, bridgeerr.NewTransient("mdns", "failed to list local addresses", err)
	}

	service, err := mdns.NewMDNSService(reg.Instance, reg.Service, reg.Domain, "", reg.Port, ips, reg.Text)
	if err != nil {
		return nil, bridgeerr.NewTransient("mdns", "failed to create service", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, bridgeerr.NewTransient("mdns", "failed to create mdns server", err)
	}
	return &mdnsGroup{server: server}, nil
}

func (c *mdnsClient) Close() error {
	return nil
}

type mdnsGroup struct {
	server *mdns.Server
}

func (g *mdnsGroup) Withdraw() error {
	if err := g.server.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down mdns server: %w", err)
	}
	return nil
}

// parseMDNSEntry converts a hashicorp/mdns entry to a ServiceEntry.
func parseMDNSEntry(entry *mdns.ServiceEntry, service, domain string) *ServiceEntry {
	if entry == nil || entry.Name == "" {
		return nil
	}

	instance := instanceFromName(entry.Name, service, domain)
	if instance == "" {
		return nil
	}

	var v4, v6 []net.IP
	if entry.AddrV4 != nil {
		v4 = append(v4, entry.AddrV4)
	}
	if entry.AddrV6 != nil {
		v6 = append(v6, entry.AddrV6)
	}

	return &ServiceEntry{
		Instance:     instance,
		Service:      service,
		Domain:       domain,
		HostName:     entry.Host,
		Address:      preferredAddress(v4, v6),
		Port:         entry.Port,
		Metadata:     parseText(entry.InfoFields),
		DiscoveredAt: time.Now(),
	}
}

// localIPs returns the non-loopback IPv4 addresses of every up interface.
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
