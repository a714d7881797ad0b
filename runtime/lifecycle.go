package runtime

import (
	"sync"

	"github.com/samber/lo"
)

// Lifecycle tracks which rooms each connection joined so the close path
// can clean up membership even when the transport tears down abruptly.
// Both the transport close callback and administrative disconnects go
// through Forget, which hands out each connection's rooms exactly once;
// a repeated close is therefore a no-op. Actions for one connection are
// serialized by its transport read loop, so Track never races Forget
// for the same connection.
type Lifecycle struct {
	mu    sync.Mutex
	rooms map[string]map[string]struct{}
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{rooms: make(map[string]map[string]struct{})}
}

func (l *Lifecycle) Track(connID, room string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.rooms[connID]
	if !ok {
		set = make(map[string]struct{})
		l.rooms[connID] = set
	}
	set[room] = struct{}{}
}

func (l *Lifecycle) Untrack(connID, room string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.rooms[connID]
	if !ok {
		return
	}
	delete(set, room)
	if len(set) == 0 {
		delete(l.rooms, connID)
	}
}

func (l *Lifecycle) Rooms(connID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo.Keys(l.rooms[connID])
}

// Forget removes the connection and returns the rooms it was still
// joined to. A second call for the same connection returns nil.
func (l *Lifecycle) Forget(connID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.rooms[connID]
	if !ok {
		return nil
	}
	delete(l.rooms, connID)
	return lo.Keys(set)
}
