package chat

import (
	"sync"
	"time"
)

// Conn is a connected client session that can receive room events.
// Deliver must not block: it returns false when the outbound queue is full.
// Close must not block either; it may be called while a room is locked.
type Conn interface {
	ID() string
	UserID() string
	Deliver(ev Event) bool
	Close()
}

type room struct {
	// serializes persist + fan-out for the room
	seq         sync.Mutex
	lastCreated time.Time

	conns   map[string]Conn // guarded by Registry.mu
	holders int             // goroutines inside Serialize/Exclusive, guarded by Registry.mu
}

// Registry maps live connections to workspace rooms. It performs no authorization.
// A room exists only while it has connections or someone holds its lock.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	joined map[string]map[string]struct{} // conn id -> workspace ids

	// latest timestamp of any pruned room; recreated rooms start above it
	floor time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		joined: make(map[string]map[string]struct{}),
	}
}

// Join registers conn in the workspace room. Returns false if it was already there.
func (r *Registry) Join(conn Conn, workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.roomLocked(workspaceID)
	if _, ok := rm.conns[conn.ID()]; ok {
		return false
	}
	rm.conns[conn.ID()] = conn
	set, ok := r.joined[conn.ID()]
	if !ok {
		set = make(map[string]struct{})
		r.joined[conn.ID()] = set
	}
	set[workspaceID] = struct{}{}
	return true
}

// Leave removes conn from one room. Returns false if it was not there.
func (r *Registry) Leave(conn Conn, workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn.ID(), workspaceID)
}

// DisconnectAll removes conn from every room and returns the rooms it left
func (r *Registry) DisconnectAll(conn Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for ws := range r.joined[conn.ID()] {
		if r.leaveLocked(conn.ID(), ws) {
			left = append(left, ws)
		}
	}
	delete(r.joined, conn.ID())
	return left
}

// Members snapshots the connections joined to a room
func (r *Registry) Members(workspaceID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[workspaceID]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(rm.conns))
	for _, c := range rm.conns {
		out = append(out, c)
	}
	return out
}

// EvictUser removes every connection of userID from the room and returns them
func (r *Registry) EvictUser(workspaceID, userID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[workspaceID]
	if !ok {
		return nil
	}
	var evicted []Conn
	for id, c := range rm.conns {
		if c.UserID() == userID {
			evicted = append(evicted, c)
			r.leaveLocked(id, workspaceID)
		}
	}
	return evicted
}

// Rooms is the number of live rooms
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// IsMember reports whether conn is joined to the room
func (r *Registry) IsMember(conn Conn, workspaceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[conn.ID()][workspaceID]
	return ok
}

// Serialize runs fn while holding the room's ordering lock. createdAt passed to fn
// is now truncated to milliseconds and strictly after every timestamp previously
// committed in the room. It is committed only when fn succeeds.
func (r *Registry) Serialize(workspaceID string, now time.Time, fn func(createdAt time.Time) error) error {
	rm := r.acquire(workspaceID)
	defer r.release(workspaceID, rm)

	createdAt := now.Truncate(time.Millisecond)
	if !createdAt.After(rm.lastCreated) {
		createdAt = rm.lastCreated.Add(time.Millisecond)
	}
	if err := fn(createdAt); err != nil {
		return err
	}
	rm.lastCreated = createdAt
	return nil
}

// Exclusive runs fn while holding the room's ordering lock without reserving a
// timestamp. Used for room events that are not messages.
func (r *Registry) Exclusive(workspaceID string, fn func() error) error {
	rm := r.acquire(workspaceID)
	defer r.release(workspaceID, rm)
	return fn()
}

func (r *Registry) acquire(workspaceID string) *room {
	r.mu.Lock()
	rm := r.roomLocked(workspaceID)
	rm.holders++
	r.mu.Unlock()

	rm.seq.Lock()
	return rm
}

func (r *Registry) release(workspaceID string, rm *room) {
	rm.seq.Unlock()

	r.mu.Lock()
	rm.holders--
	r.pruneLocked(workspaceID, rm)
	r.mu.Unlock()
}

// Broadcast enqueues ev on every connection in the room. Connections whose queue is
// full are removed from all rooms and closed. Returns the number of deliveries.
func (r *Registry) Broadcast(workspaceID string, ev Event) int {
	delivered := 0
	var slow []Conn
	for _, c := range r.Members(workspaceID) {
		if c.Deliver(ev) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		r.DisconnectAll(c)
		c.Close()
	}
	return delivered
}

func (r *Registry) roomLocked(workspaceID string) *room {
	rm, ok := r.rooms[workspaceID]
	if !ok {
		rm = &room{conns: make(map[string]Conn), lastCreated: r.floor}
		r.rooms[workspaceID] = rm
	}
	return rm
}

func (r *Registry) leaveLocked(connID, workspaceID string) bool {
	rm, ok := r.rooms[workspaceID]
	if !ok {
		return false
	}
	if _, ok := rm.conns[connID]; !ok {
		return false
	}
	delete(rm.conns, connID)
	if set, ok := r.joined[connID]; ok {
		delete(set, workspaceID)
		if len(set) == 0 {
			delete(r.joined, connID)
		}
	}
	r.pruneLocked(workspaceID, rm)
	return true
}

// pruneLocked drops rm once nothing references it. holders == 0 means no one is
// inside seq, so lastCreated is stable here.
func (r *Registry) pruneLocked(workspaceID string, rm *room) {
	if rm.holders > 0 || len(rm.conns) > 0 || r.rooms[workspaceID] != rm {
		return
	}
	if rm.lastCreated.After(r.floor) {
		r.floor = rm.lastCreated
	}
	delete(r.rooms, workspaceID)
}
