package taskqueue

import (
	"context"
	"sort"
	"sync"

	"github.com/harun/taskpilot/internal/observability"
	"github.com/rs/zerolog/log"
)

// Stats is a point-in-time snapshot of one processor.
type Stats struct {
	Key        string `json:"key"`
	Pending    int    `json:"pending"`
	Processing bool   `json:"processing"`
}

// Registry owns one Processor per key.
type Registry struct {
	mu         sync.Mutex
	processors map[string]*Processor
	inflight   map[string]*Pending
	closed     bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	observability.EnsureRegistered()
	return &Registry{
		processors: make(map[string]*Processor),
		inflight:   make(map[string]*Pending),
	}
}

// For returns the processor for key, creating it on first use. After Close
// it returns a destroyed processor that is not retained.
func (r *Registry) For(key string) *Processor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forLocked(key)
}

func (r *Registry) forLocked(key string) *Processor {
	if r.closed {
		p := New(key)
		p.Destroy()
		return p
	}

	if p, ok := r.processors[key]; ok {
		return p
	}

	p := New(key)
	r.processors[key] = p
	observability.SetActiveQueues(len(r.processors))
	log.Debug().Str("queue", key).Msg("Queue created")
	return p
}

// Enqueue runs op on the processor for key and waits for its outcome.
func (r *Registry) Enqueue(ctx context.Context, key string, op Operation) (any, error) {
	return r.For(key).Enqueue(ctx, op)
}

// Once runs op on key's processor unless an operation started through Once
// for the same key is still unsettled, in which case the caller shares that
// outcome. The in-flight entry is dropped as soon as the operation settles.
func (r *Registry) Once(ctx context.Context, key string, op Operation) (any, error) {
	r.mu.Lock()
	if pending, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		log.Debug().Str("queue", key).Msg("Joined in-flight operation")
		return pending.Wait(ctx)
	}

	pending := newPending()
	pending.onSettle = func() {
		r.mu.Lock()
		if r.inflight[key] == pending {
			delete(r.inflight, key)
		}
		r.mu.Unlock()
	}
	r.inflight[key] = pending
	p := r.forLocked(key)
	r.mu.Unlock()

	p.submit(ctx, op, pending)
	return pending.Wait(ctx)
}

// Remove destroys and forgets the processor for key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	p, ok := r.processors[key]
	if ok {
		delete(r.processors, key)
		observability.SetActiveQueues(len(r.processors))
	}
	r.mu.Unlock()

	if ok {
		p.Destroy()
	}
}

// Close destroys every processor. It is safe to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	processors := r.processors
	r.processors = make(map[string]*Processor)
	r.mu.Unlock()

	for _, p := range processors {
		p.Destroy()
	}
	observability.SetActiveQueues(0)
}

// Stats returns a snapshot for every live processor, sorted by key.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	processors := make([]*Processor, 0, len(r.processors))
	for _, p := range r.processors {
		processors = append(processors, p)
	}
	r.mu.Unlock()

	stats := make([]Stats, 0, len(processors))
	for _, p := range processors {
		stats = append(stats, Stats{
			Key:        p.Key(),
			Pending:    p.Pending(),
			Processing: p.IsProcessing(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key < stats[j].Key })
	return stats
}
