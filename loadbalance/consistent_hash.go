package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"proxygen/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same instance until the ring changes.
//
// Each real instance is mapped to N virtual nodes on the ring so that a handful of
// instances still spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	mu       sync.Mutex
	replicas int                                  // Virtual nodes per real instance
	ring     []uint32                             // Sorted hash values on the ring
	nodes    map[uint32]*registry.ServiceInstance // Hash value → instance mapping
	members  string                               // Addresses the ring was built from
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.ServiceInstance),
	}
}

// Add places an instance onto the hash ring with N virtual nodes.
func (b *ConsistentHashBalancer) Add(instance *registry.ServiceInstance) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(instance)
}

func (b *ConsistentHashBalancer) add(instance *registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the instance responsible for key. When instances differ from the set the
// ring was last built from, the ring is rebuilt first; a nil list uses the ring as is.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if instances != nil {
		b.sync(instances)
	}
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	// First node with hash >= key's hash, wrapping to the start of the ring
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) sync(instances []registry.ServiceInstance) {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	sort.Strings(addrs)
	members := strings.Join(addrs, ",")
	if members == b.members {
		return
	}
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.ServiceInstance, len(instances)*b.replicas)
	for i := range instances {
		inst := instances[i]
		b.add(&inst)
	}
	b.members = members
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
