package client

import (
	"context"
	"fmt"

	"workerlink/loadbalance"
	"workerlink/registry"
)

// Attach finds a running server-mode worker advertised in reg and returns an
// Endpoint for it. key is passed to the balancer, usually the project
// directory, so repeated attaches from one project reach the same worker.
func Attach(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, key string) (Endpoint, registry.Instance, error) {
	instances, err := reg.Discover(ctx, registry.ServiceName)
	if err != nil {
		return Endpoint{}, registry.Instance{}, fmt.Errorf("discovering workers: %w", err)
	}
	inst, err := bal.Pick(key, instances)
	if err != nil {
		return Endpoint{}, registry.Instance{}, fmt.Errorf("picking worker: %w", err)
	}
	return Endpoint{URL: inst.URL}, *inst, nil
}
