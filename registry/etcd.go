package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Etcd implements Registry on etcd v3.
//
//	Key:   /workerlink/{service}/{url}
//	Value: JSON-encoded Instance
//
// Each entry is attached to a lease that is kept alive in the background, so
// a worker that dies without deregistering disappears after its TTL.
type Etcd struct {
	client *clientv3.Client
	log    zerolog.Logger

	mu      sync.Mutex
	leases  map[string]clientv3.LeaseID    // key → lease
	cancels map[string]context.CancelFunc // key → keepalive stop
}

const keyPrefix = "/workerlink/"

// NewEtcd connects to the given endpoints.
func NewEtcd(endpoints []string, log zerolog.Logger) (*Etcd, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	return &Etcd{
		client:  c,
		log:     log.With().Str("component", "registry").Logger(),
		leases:  make(map[string]clientv3.LeaseID),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

func instanceKey(service, url string) string {
	return keyPrefix + service + "/" + url
}

// Register puts instance under a lease of ttl seconds and keeps the lease alive
// until Deregister or Close.
func (r *Etcd) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("granting lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(service, instance.URL)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}

	// The keepalive outlives ctx, so it gets its own context.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keeping lease alive: %w", err)
	}

	r.mu.Lock()
	if prev, ok := r.cancels[key]; ok {
		prev()
	}
	r.leases[key] = lease.ID
	r.cancels[key] = cancel
	r.mu.Unlock()

	go func() {
		for range ch {
		}
		r.log.Debug().Str("key", key).Msg("Lease keepalive stopped")
	}()
	return nil
}

// Deregister stops renewing the entry's lease and removes it.
func (r *Etcd) Deregister(ctx context.Context, service string, url string) error {
	key := instanceKey(service, url)

	r.mu.Lock()
	cancel, ok := r.cancels[key]
	lease := r.leases[key]
	delete(r.cancels, key)
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		cancel()
		_, err := r.client.Revoke(ctx, lease)
		if err == nil {
			return nil // Revoking removes every key attached to the lease
		}
		r.log.Debug().Err(err).Str("key", key).Msg("Revoking lease failed, deleting key")
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Discover returns every instance currently registered for service.
func (r *Etcd) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close stops every keepalive and closes the client. Entries expire with their leases.
func (r *Etcd) Close() error {
	r.mu.Lock()
	for key, cancel := range r.cancels {
		cancel()
		delete(r.cancels, key)
	}
	r.leases = make(map[string]clientv3.LeaseID)
	r.mu.Unlock()
	return r.client.Close()
}
