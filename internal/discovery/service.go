package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultServiceType is browsed and published when none is configured.
	DefaultServiceType = "_http._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// idKey is the TXT key carrying a publisher's random identity.
	idKey = "nbid"
)

// ServiceEntry is one service instance seen on the network.
type ServiceEntry struct {
	// Instance is the unescaped instance name (e.g., "Living Room #2")
	Instance string

	// Service is the service type (e.g., "_http._tcp")
	Service string

	// Domain is the mDNS domain (typically "local.")
	Domain string

	// HostName is the advertised host (e.g., "studio.local.")
	HostName string

	// Address is the preferred IP address, IPv4 when available
	Address string

	// Port is the service port
	Port int

	// Metadata contains the TXT record key/value pairs
	Metadata map[string]string

	// DiscoveredAt is when the entry was received
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the entry
func (e *ServiceEntry) String() string {
	return fmt.Sprintf("%s (%s) at %s", e.Instance, e.HostName, e.HostPort())
}

// HostPort returns address:port, bracketing IPv6 addresses.
func (e *ServiceEntry) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// GetMetadata retrieves a metadata value by key, or returns empty string if not found
func (e *ServiceEntry) GetMetadata(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// publisherID returns the identity a netbridge publisher attached, if any.
func (e *ServiceEntry) publisherID() string {
	return e.GetMetadata(idKey)
}

// parseText converts TXT records in "key=value" format into a map. A key
// without "=" maps to the empty string.
func parseText(txt []string) map[string]string {
	metadata := make(map[string]string, len(txt))
	for _, record := range txt {
		parts := strings.SplitN(record, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	return metadata
}

// preferredAddress picks the first IPv4 address, falling back to IPv6.
func preferredAddress(v4, v6 []net.IP) string {
	for _, ip := range v4 {
		if ip != nil {
			return ip.String()
		}
	}
	for _, ip := range v6 {
		if ip != nil {
			return ip.String()
		}
	}
	return ""
}

// instanceFromName strips "._service._proto.domain." from a full service
// instance name and unescapes the remaining label.
func instanceFromName(full, service, domain string) string {
	full = strings.TrimSuffix(full, ".")
	suffix := "." + strings.Trim(service, ".") + "." + strings.Trim(domain, ".")
	if strings.HasSuffix(strings.ToLower(full), strings.ToLower(suffix)) {
		full = full[:len(full)-len(suffix)]
	}
	return unescapeLabel(full)
}

// unescapeLabel reverses DNS presentation escaping ("\ " and "\032").
func unescapeLabel(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		if i+3 < len(s) && isDigit(s[i+1]) && isDigit(s[i+2]) && isDigit(s[i+3]) {
			v := int(s[i+1]-'0')*100 + int(s[i+2]-'0')*10 + int(s[i+3]-'0')
			if v <= 255 {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// sameInstance compares instance names the way DNS does, ignoring case.
func sameInstance(a, b string) bool {
	return strings.EqualFold(a, b)
}
