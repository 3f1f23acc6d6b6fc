package discovery

// ServiceTarget is a service name a browser tracks.
type ServiceTarget struct {
	Name     string
	Resolved bool
	// Entry is the last successful resolution, kept after removal.
	Entry *ServiceEntry
}
