package main

import (
	"sync"
	"sync/atomic"

	"github.com/zoneward/rpcrt/internal/grain"
)

// world is the in-memory entity table one action server owns for its
// assigned zone. It is intentionally minimal: this reference server's
// job is to exercise the RPC/connection machinery end to end, not to
// host a real simulation.
type world struct {
	seq atomic.Int64

	mu      sync.RWMutex
	players map[string]grain.Vector2
}

func newWorld() *world {
	return &world{players: make(map[string]grain.Vector2)}
}

// connect registers a player at the origin if it is not already
// tracked and bumps the world-state sequence number.
func (w *world) connect(playerID string) {
	w.mu.Lock()
	if _, ok := w.players[playerID]; !ok {
		w.players[playerID] = grain.Vector2{}
	}
	w.mu.Unlock()
	w.seq.Add(1)
}

func (w *world) disconnect(playerID string) {
	w.mu.Lock()
	delete(w.players, playerID)
	w.mu.Unlock()
	w.seq.Add(1)
}

// snapshot builds the WorldState reply for GetWorldState.
func (w *world) snapshot() grain.WorldState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	entities := make([]grain.Entity, 0, len(w.players))
	for id, pos := range w.players {
		entities = append(entities, grain.Entity{EntityID: id, Position: pos, TypeTag: "player"})
	}
	return grain.WorldState{SequenceNumber: w.seq.Load(), Entities: entities}
}
