package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/proxygen/apps/"

func applicationPrefix(application string) string {
	return keyPrefix + application + "/"
}

// EtcdRegistry implements the Registry interface using etcd v3. It serves as the phonebook
// of application servers:
//
//	Key:   /proxygen/apps/{Application}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and the entry is automatically removed.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)

	mu     sync.Mutex
	leases map[string]registration // key → lease of an instance registered here
}

type registration struct {
	lease     clientv3.LeaseID
	stopAlive context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 2 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c, leases: make(map[string]registration)}, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register adds an instance with a TTL lease and keeps the lease alive in the background
// until Deregister revokes it.
func (r *EtcdRegistry) Register(ctx context.Context, application string, instance ServiceInstance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := applicationPrefix(application) + instance.Addr
	_, err = r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive must outlive the registration call, so it gets its own context
	aliveCtx, stopAlive := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(aliveCtx, lease.ID)
	if err != nil {
		stopAlive()
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()

	r.mu.Lock()
	prev, replaced := r.leases[key]
	r.leases[key] = registration{lease: lease.ID, stopAlive: stopAlive}
	r.mu.Unlock()
	if replaced {
		prev.stopAlive()
		// the key now lives on the new lease, so revoking the old one leaves it in place
		if _, err := r.client.Revoke(ctx, prev.lease); err != nil {
			return err
		}
	}
	return nil
}

// Deregister removes an instance. Called during graceful shutdown before closing the listener.
// An instance registered through r has its lease revoked, which also stops the keep-alive.
func (r *EtcdRegistry) Deregister(ctx context.Context, application string, addr string) error {
	key := applicationPrefix(application) + addr
	r.mu.Lock()
	reg, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if !ok {
		_, err := r.client.Delete(ctx, key)
		return err
	}
	reg.stopAlive()
	_, err := r.client.Revoke(ctx, reg.lease)
	return err
}

// Watch re-reads the instance list on every change under the application prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, application string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, applicationPrefix(application), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, application)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances of an application.
func (r *EtcdRegistry) Discover(ctx context.Context, application string) ([]ServiceInstance, error) {
	resp, err := r.client.Get(ctx, applicationPrefix(application), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
