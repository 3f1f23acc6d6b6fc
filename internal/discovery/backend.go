package discovery

import (
	"context"
	"fmt"
	"strings"
)

// Backend creates discovery clients. Two implementations exist: "zeroconf"
// (github.com/grandcat/zeroconf) and "mdns" (github.com/hashicorp/mdns).
type Backend interface {
	Name() string
	NewClient() (Client, error)
}

// Client talks to the discovery engine. A client is used by one session
// worker at a time. Any error other than the caller's own cancellation means
// the client has failed and should be recreated.
type Client interface {
	// Browse collects instances of service until ctx's deadline. Reaching the
	// deadline is not an error; cancellation is.
	Browse(ctx context.Context, service, domain string) ([]*ServiceEntry, error)

	// Resolve looks up one instance, returning a ResolveTimeout error if it
	// does not answer before ctx's deadline.
	Resolve(ctx context.Context, instance, service, domain string) (*ServiceEntry, error)

	// Register advertises a service until the returned group is withdrawn.
	Register(ctx context.Context, reg Registration) (Group, error)

	Close() error
}

// Registration describes an advertisement.
type Registration struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	Text     []string
}

// Group is a committed advertisement.
type Group interface {
	Withdraw() error
}

// NewBackend returns the backend with the given name. The empty name
// selects zeroconf.
func NewBackend(name string) (Backend, error) {
	switch strings.ToLower(name) {
	case "", "zeroconf":
		return ZeroconfBackend{}, nil
	case "mdns", "hashicorp":
		return MDNSBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown discovery backend %q (expected zeroconf or mdns)", name)
	}
}

// Backends lists the accepted backend names.
func Backends() []string {
	return []string{"zeroconf", "mdns"}
}
