// Package runtime owns live relay state: room membership, the broadcast
// broker, and connection lifecycle. It contains no wire or storage code.
package runtime

import (
	"sort"
	"sync"

	"room-relay/contract"
)

type roomEntry struct {
	mu      sync.Mutex
	members map[string]contract.Connection
	evicted bool
}

// Registry is the authoritative in-memory membership map. Each room
// carries its own lock so operations on different rooms run in
// parallel; only the room map itself is guarded globally.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*roomEntry)}
}

// Join adds the connection to the room, creating the in-memory entry on
// the fly. Re-joining is a no-op. It returns the member ids after the
// add and whether the entry was newly created. An entry evicted between
// lookup and lock is retried, so a join racing the last leave can never
// land on a dead room.
func (r *Registry) Join(room string, conn contract.Connection) (members []string, created bool) {
	for {
		r.mu.Lock()
		entry, ok := r.rooms[room]
		if !ok {
			entry = &roomEntry{members: make(map[string]contract.Connection)}
			r.rooms[room] = entry
			created = true
		}
		r.mu.Unlock()

		entry.mu.Lock()
		if entry.evicted {
			entry.mu.Unlock()
			continue
		}
		entry.members[conn.ID()] = conn
		ids := memberIDs(entry.members)
		entry.mu.Unlock()
		return ids, created
	}
}

// Leave removes the connection from the room, a no-op when either is
// unknown. When the last member leaves the entry is evicted from the
// registry; the report lets the caller apply the durable-deletion
// policy.
func (r *Registry) Leave(room string, conn contract.Connection) (empty bool) {
	r.mu.RLock()
	entry := r.rooms[room]
	r.mu.RUnlock()
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	if entry.evicted {
		entry.mu.Unlock()
		return false
	}
	delete(entry.members, conn.ID())
	if len(entry.members) > 0 {
		entry.mu.Unlock()
		return false
	}
	entry.evicted = true
	entry.mu.Unlock()

	r.mu.Lock()
	if r.rooms[room] == entry {
		delete(r.rooms, room)
	}
	r.mu.Unlock()
	return true
}

func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	entry := r.rooms[room]
	r.mu.RUnlock()
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return memberIDs(entry.members)
}

// Snapshot returns the live connection handles of a room for fan-out.
// The copy keeps broadcast delivery outside the room lock.
func (r *Registry) Snapshot(room string) []contract.Connection {
	r.mu.RLock()
	entry := r.rooms[room]
	r.mu.RUnlock()
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	conns := make([]contract.Connection, 0, len(entry.members))
	for _, conn := range entry.members {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) IsMember(room, connID string) bool {
	r.mu.RLock()
	entry := r.rooms[room]
	r.mu.RUnlock()
	if entry == nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	_, ok := entry.members[connID]
	return ok
}

// Counts reports live rooms and connections across all rooms, for the
// stats endpoint and the telemetry worker.
func (r *Registry) Counts() (rooms, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms = len(r.rooms)
	for _, entry := range r.rooms {
		entry.mu.Lock()
		clients += len(entry.members)
		entry.mu.Unlock()
	}
	return rooms, clients
}

func memberIDs(members map[string]contract.Connection) []string {
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
