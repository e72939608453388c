package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry. It suits single-host deployments and tests.
// TTLs are ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	instances map[string][]ServiceInstance
	watchers  map[string][]chan []ServiceInstance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string][]ServiceInstance),
		watchers:  make(map[string][]chan []ServiceInstance),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, application string, inst ServiceInstance, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[application]
	for i := range insts {
		if insts[i].Addr == inst.Addr {
			insts[i] = inst
			m.notify(application)
			return nil
		}
	}
	m.instances[application] = append(insts, inst)
	m.notify(application)
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, application string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	insts := m.instances[application]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[application] = append(insts[:i:i], insts[i+1:]...)
			m.notify(application)
			break
		}
	}
	return nil
}

func (m *MemoryRegistry) Discover(ctx context.Context, application string) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ServiceInstance(nil), m.instances[application]...), nil
}

func (m *MemoryRegistry) Watch(ctx context.Context, application string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	m.mu.Lock()
	m.watchers[application] = append(m.watchers[application], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		ws := m.watchers[application]
		for i, w := range ws {
			if w == ch {
				m.watchers[application] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// notify hands the latest list to each watcher, replacing an unread older one.
// m.mu must be held.
func (m *MemoryRegistry) notify(application string) {
	snapshot := append([]ServiceInstance(nil), m.instances[application]...)
	for _, w := range m.watchers[application] {
		select {
		case <-w:
		default:
		}
		w <- snapshot
	}
}
