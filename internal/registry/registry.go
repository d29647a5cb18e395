package registry

import (
	"fmt"
	"log/slog"
	"sync"
)

// Conn is a live client transport owned by the registry while registered.
type Conn interface {
	UserID() int64
	Send(frame any) error
	Close() error
}

type ScopeKind uint8

const (
	KindRoom ScopeKind = iota + 1
	KindGlobal
)

// Scope selects either one room's table or the global notification table.
type Scope struct {
	Kind   ScopeKind
	RoomID int64
}

var Global = Scope{Kind: KindGlobal}

func Room(id int64) Scope { return Scope{Kind: KindRoom, RoomID: id} }

func (s Scope) String() string {
	if s.Kind == KindGlobal {
		return "global"
	}
	return fmt.Sprintf("room:%d", s.RoomID)
}

// Render materializes a frame for one recipient.
type Render func(recipientID int64) any

type room struct {
	mu    sync.RWMutex
	conns map[int64]Conn // userID -> conn
	// dead is set once the room emptied; a dead room is never written again.
	dead bool
}

// Registry tracks connections held by this process. The room table has its
// own lock and every room is locked separately, so traffic in one room does
// not serialize the others.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int64]*room

	globalMu sync.RWMutex
	global   map[int64]Conn
}

func New() *Registry {
	return &Registry{
		rooms:  make(map[int64]*room),
		global: make(map[int64]Conn),
	}
}

// Connect registers c under s, replacing any previous connection of the
// same user in that scope.
func (r *Registry) Connect(c Conn, s Scope) {
	uid := c.UserID()
	if s.Kind == KindGlobal {
		r.globalMu.Lock()
		r.global[uid] = c
		r.globalMu.Unlock()
		return
	}

	for {
		rm := r.roomFor(s.RoomID)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			r.dropRoom(s.RoomID, rm)
			continue
		}
		rm.conns[uid] = c
		rm.mu.Unlock()
		return
	}
}

// Disconnect removes whatever connection userID holds in s. Safe to call
// for absent entries.
func (r *Registry) Disconnect(userID int64, s Scope) bool {
	return r.remove(userID, s, nil)
}

// DisconnectConn removes c only if it is still the registered connection,
// so a stale teardown never evicts a newer session of the same user.
func (r *Registry) DisconnectConn(c Conn, s Scope) bool {
	return r.remove(c.UserID(), s, c)
}

// Broadcast sends render(recipient) to every connection in s. A failed send
// evicts that recipient only. Returns the number of successful deliveries.
func (r *Registry) Broadcast(s Scope, render Render) int {
	delivered := 0
	for _, c := range r.snapshot(s) {
		if err := c.Send(render(c.UserID())); err != nil {
			r.evict(c, s, err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendGlobal delivers frame to userID's notification stream if it is held
// locally. Reports whether the frame was delivered.
func (r *Registry) SendGlobal(userID int64, frame any) bool {
	r.globalMu.RLock()
	c, ok := r.global[userID]
	r.globalMu.RUnlock()
	if !ok {
		return false
	}

	if err := c.Send(frame); err != nil {
		r.evict(c, Global, err)
		return false
	}
	return true
}

// HasRoomMember inspects only this process.
func (r *Registry) HasRoomMember(roomID, userID int64) bool {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok = rm.conns[userID]
	return ok && !rm.dead
}

func (r *Registry) HasRoom(roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

func (r *Registry) Stats() (rooms, roomConns, globalConns int) {
	r.mu.RLock()
	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		rm.mu.RLock()
		roomConns += len(rm.conns)
		rm.mu.RUnlock()
	}
	r.mu.RUnlock()

	r.globalMu.RLock()
	globalConns = len(r.global)
	r.globalMu.RUnlock()
	return rooms, roomConns, globalConns
}

func (r *Registry) roomFor(id int64) *room {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok = r.rooms[id]; !ok {
		rm = &room{conns: make(map[int64]Conn)}
		r.rooms[id] = rm
	}
	return rm
}

func (r *Registry) dropRoom(id int64, rm *room) {
	r.mu.Lock()
	if r.rooms[id] == rm {
		delete(r.rooms, id)
	}
	r.mu.Unlock()
}

func (r *Registry) remove(userID int64, s Scope, want Conn) bool {
	if s.Kind == KindGlobal {
		r.globalMu.Lock()
		defer r.globalMu.Unlock()
		cur, ok := r.global[userID]
		if !ok || (want != nil && cur != want) {
			return false
		}
		delete(r.global, userID)
		return true
	}

	r.mu.RLock()
	rm, ok := r.rooms[s.RoomID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	cur, ok := rm.conns[userID]
	if !ok || (want != nil && cur != want) {
		rm.mu.Unlock()
		return false
	}
	delete(rm.conns, userID)
	empty := len(rm.conns) == 0
	if empty {
		rm.dead = true
	}
	rm.mu.Unlock()

	if empty {
		r.dropRoom(s.RoomID, rm)
	}
	return true
}

func (r *Registry) snapshot(s Scope) []Conn {
	if s.Kind == KindGlobal {
		r.globalMu.RLock()
		defer r.globalMu.RUnlock()
		out := make([]Conn, 0, len(r.global))
		for _, c := range r.global {
			out = append(out, c)
		}
		return out
	}

	r.mu.RLock()
	rm, ok := r.rooms[s.RoomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]Conn, 0, len(rm.conns))
	for _, c := range rm.conns {
		out = append(out, c)
	}
	return out
}

func (r *Registry) evict(c Conn, s Scope, cause error) {
	if r.DisconnectConn(c, s) {
		slog.Warn("registry: send failed, connection dropped",
			"scope", s.String(), "user", c.UserID(), "err", cause)
	}
	if err := c.Close(); err != nil {
		slog.Debug("registry: close failed", "scope", s.String(), "user", c.UserID(), "err", err)
	}
}
