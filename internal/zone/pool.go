package zone

import (
	"sync"
	"time"

	"github.com/zoneward/rpcrt/internal/lifecycle"
)

// poolEntry is a pre-established neighbour connection record.
type poolEntry struct {
	conn            *lifecycle.Connection
	establishedAt   time.Time
	lastProbeOk     bool
	pendingEviction bool
	pendingSince    time.Time
}

// NeighbourPool is the mutex-guarded GridSquare-keyed map of warm
// standby Connections to the zones bordering the active one.
type NeighbourPool struct {
	mu      sync.RWMutex
	entries map[string]*poolEntry
}

func NewNeighbourPool() *NeighbourPool {
	return &NeighbourPool{entries: make(map[string]*poolEntry)}
}

func (p *NeighbourPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Get returns the warm Connection for key, if any, without disturbing
// its eviction state.
func (p *NeighbourPool) Get(key string) (*lifecycle.Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Take removes and returns the entry for key, used by the transition
// controller's "hit" path: once a warm connection is promoted to
// active it no longer belongs to the pool.
func (p *NeighbourPool) Take(key string) (*lifecycle.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	delete(p.entries, key)
	return e.conn, true
}

// Insert adds a freshly connected warm Connection, marked not pending
// eviction.
func (p *NeighbourPool) Insert(key string, conn *lifecycle.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[key] = &poolEntry{conn: conn, establishedAt: conn.EstablishedAt(), lastProbeOk: true}
}

// Keys returns every key currently pooled.
func (p *NeighbourPool) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.entries))
	for k := range p.entries {
		keys = append(keys, k)
	}
	return keys
}

// Reconcile implements the two-phase mark/evict sweep: any pooled key
// not in keep is marked pendingEviction on its first observation, and
// evicted on a later pass if it is still outside keep and its
// establishedAt is at least hysteresis old. Returns the evicted
// Connections so the caller can close them outside the lock.
func (p *NeighbourPool) Reconcile(keep map[string]struct{}, hysteresis time.Duration, now time.Time) []*lifecycle.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted []*lifecycle.Connection
	for key, e := range p.entries {
		if _, ok := keep[key]; ok {
			e.pendingEviction = false
			continue
		}
		if !e.pendingEviction {
			e.pendingEviction = true
			e.pendingSince = now
			continue
		}
		if now.Sub(e.establishedAt) >= hysteresis {
			evicted = append(evicted, e.conn)
			delete(p.entries, key)
		}
	}
	return evicted
}
