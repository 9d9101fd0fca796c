// Package realtime holds the live-connection side of the chat: the presence
// registry, the hub that owns every open connection, and the websocket pumps.
package realtime

import (
	"sort"
	"strconv"
	"sync"
)

// Registry maps an online user to the id of their current live connection.
// A user has at most one entry; a newer connection replaces the older one.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]string
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]string)}
}

// Register maps userID to connID and returns the connection id it replaced,
// or "" if the user was offline.
func (r *Registry) Register(userID int64, connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = connID
	return prev
}

// Unregister removes the mapping only if it still points at connID. A stale
// disconnect from a replaced connection leaves the newer mapping in place.
// It reports whether the registry changed.
func (r *Registry) Unregister(userID int64, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[userID]; !ok || cur != connID {
		return false
	}
	delete(r.conns, userID)
	return true
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// ConnectionOf returns the current connection id of userID.
func (r *Registry) ConnectionOf(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[userID]
	return id, ok
}

// Snapshot returns the online user ids as decimal strings, in ascending
// numeric order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
