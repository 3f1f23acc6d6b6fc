// Package discovery publishes and browses DNS-SD services over multicast DNS.
//
// Two session types are provided. A Publisher keeps one service advertised
// under a unique instance name, renaming itself ("name #2", "name #3", ...)
// when another responder already owns the name. A Browser watches one service
// type and reports to the host when a tracked service resolves and when it
// disappears.
//
// # Backends
//
// The engine behind both sessions is a Backend. Two are built in:
//   - "zeroconf" uses github.com/grandcat/zeroconf (default)
//   - "mdns" uses github.com/hashicorp/mdns
//
// Neither engine pushes add and remove notifications, so the Browser runs
// periodic browse sweeps and treats a service as gone after it is missing
// from MissedSweeps consecutive sweeps.
//
// # Publishing
//
//	pub, err := discovery.NewPublisher(discovery.ZeroconfBackend{}, discovery.PublisherConfig{
//	    Name: "Studio",
//	    Type: "_netbridge._tcp",
//	    Port: 8080,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pub.Close()
//
// Each advertisement carries an "nbid" TXT record with a random identity.
// When two netbridge publishers register the same name at the same moment,
// the one with the smaller identity yields and renames.
//
// # Browsing
//
//	br := discovery.NewBrowser(backend, bridge, obj, discovery.BrowserConfig{
//	    Type:   "_netbridge._tcp",
//	    Target: "Studio",
//	})
//	if err := br.Start(); err != nil {
//	    return err
//	}
//	defer br.Stop()
//
// With an empty Target every service of the type is resolved and tracked.
// Events delivered to the host object:
//   - serviceResolved(name, hostName, address, port)
//   - serviceResolveFailed(name)
//   - serviceRemoved(name), only for services that had resolved
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Peers must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
