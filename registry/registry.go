// Package registry advertises server-mode workers so other local clients can
// find them. It stands in for mDNS publication when mdns is requested.
package registry

import (
	"context"
	"sort"
	"sync"
)

// ServiceName is the name workers are advertised under.
const ServiceName = "workerlink"

// Instance describes one advertised worker.
type Instance struct {
	URL       string `json:"url"`
	Version   string `json:"version,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// Registry stores advertised instances. Entries registered with a TTL expire
// if their owner stops renewing them.
type Registry interface {
	Register(ctx context.Context, service string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, service string, url string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	Close() error
}

// Memory is an in-process Registry. TTLs are ignored; entries live until
// deregistered.
type Memory struct {
	mu       sync.RWMutex
	services map[string]map[string]Instance
}

// NewMemory returns an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{services: make(map[string]map[string]Instance)}
}

func (m *Memory) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.services[service] == nil {
		m.services[service] = make(map[string]Instance)
	}
	m.services[service][instance.URL] = instance
	return nil
}

func (m *Memory) Deregister(ctx context.Context, service string, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.services[service], url)
	if len(m.services[service]) == 0 {
		delete(m.services, service)
	}
	return nil
}

// Discover returns the instances of service sorted by URL.
func (m *Memory) Discover(ctx context.Context, service string) ([]Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instances := make([]Instance, 0, len(m.services[service]))
	for _, inst := range m.services[service] {
		instances = append(instances, inst)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].URL < instances[j].URL })
	return instances, nil
}

func (m *Memory) Close() error { return nil }
