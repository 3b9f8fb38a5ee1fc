// Package loadbalance picks one advertised worker when several are running,
// e.g. for attaching a front end to an existing server-mode worker.
//
// Two strategies are implemented:
//   - RoundRobin:      rotate through instances on every pick
//   - ConsistentHash:  the same key (a project directory) keeps landing on the same worker
package loadbalance

import (
	"errors"

	"workerlink/registry"
)

// ErrNoInstances is returned when there is nothing to pick from.
var ErrNoInstances = errors.New("no instances available")

// Balancer selects one instance. key is the caller's affinity key; strategies
// that have no use for it ignore it. Implementations are goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.Instance) (*registry.Instance, error)
	Name() string
}

// New returns the balancer called name ("round_robin" or "consistent_hash").
func New(name string) (Balancer, error) {
	switch name {
	case "", "consistent_hash":
		return NewConsistentHash(), nil
	case "round_robin":
		return &RoundRobin{}, nil
	default:
		return nil, errors.New("unknown balancer: " + name)
	}
}
