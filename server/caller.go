package server

import (
	"context"
	"sync"
)

// Caller identifies the session a procedure runs for.
type Caller struct {
	ContextID   int32
	Application string
	User        string
	Location    string
}

type callerKey struct{}

// CallerFrom returns the session a procedure was invoked by.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// connState tracks the contexts opened over one connection so they end with it.
type connState struct {
	mu  sync.Mutex
	ids map[int32]struct{}
}

type connKey struct{}

func withConn(ctx context.Context, cs *connState) context.Context {
	return context.WithValue(ctx, connKey{}, cs)
}

func connFrom(ctx context.Context) *connState {
	cs, _ := ctx.Value(connKey{}).(*connState)
	return cs
}

func (cs *connState) add(id int32) {
	cs.mu.Lock()
	cs.ids[id] = struct{}{}
	cs.mu.Unlock()
}

func (cs *connState) remove(id int32) {
	cs.mu.Lock()
	delete(cs.ids, id)
	cs.mu.Unlock()
}

func (cs *connState) drain() []int32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]int32, 0, len(cs.ids))
	for id := range cs.ids {
		out = append(out, id)
	}
	cs.ids = map[int32]struct{}{}
	return out
}
