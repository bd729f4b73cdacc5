package realtime

import "sync"

// Rooms tracks which connections are subscribed to which logical
// channels, with both a forward index (room -> members, for fan-out)
// and a reverse index (connection -> rooms, for O(1) cascade on
// disconnect).
//
// A connection may watch any number of project rooms but at most one
// document room: the client shows one wiki page at a time, so joining a
// new document room implicitly leaves the previous one. A room whose
// membership reaches zero is deleted outright, never kept as an empty
// shell.
type Rooms struct {
	mu         sync.RWMutex
	rooms      map[RoomKey]map[Handle]bool
	byConn     map[Handle]map[RoomKey]bool
	currentDoc map[Handle]string // documentId of the connection's document room
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:      make(map[RoomKey]map[Handle]bool),
		byConn:     make(map[Handle]map[RoomKey]bool),
		currentDoc: make(map[Handle]string),
	}
}

// Join adds h to the room. Joining a room the connection is already in
// is idempotent. For document rooms the previous document room, if any,
// is left implicitly and returned so the caller can cascade (editing
// sessions for the abandoned page must stop too).
func (r *Rooms) Join(h Handle, key RoomKey) (left RoomKey, leftPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if key.Kind == RoomDocument {
		if prev, ok := r.currentDoc[h]; ok && prev != key.ID {
			prevKey := DocumentRoom(prev)
			r.removeLocked(h, prevKey)
			left, leftPrev = prevKey, true
		}
		r.currentDoc[h] = key.ID
	}

	if r.rooms[key] == nil {
		r.rooms[key] = make(map[Handle]bool)
	}
	r.rooms[key][h] = true
	if r.byConn[h] == nil {
		r.byConn[h] = make(map[RoomKey]bool)
	}
	r.byConn[h][key] = true
	return left, leftPrev
}

// Leave removes h from the room. Leaving a room the connection never
// joined is a no-op, not an error.
func (r *Rooms) Leave(h Handle, key RoomKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(h, key)
	if key.Kind == RoomDocument && r.currentDoc[h] == key.ID {
		delete(r.currentDoc, h)
	}
}

func (r *Rooms) removeLocked(h Handle, key RoomKey) {
	if members, ok := r.rooms[key]; ok {
		delete(members, h)
		if len(members) == 0 {
			delete(r.rooms, key)
		}
	}
	if keys, ok := r.byConn[h]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.byConn, h)
		}
	}
}

// Members returns the member set of a room. The second return reports
// whether the room exists at all: an emptied room is deleted, so a
// lookup after the last leave returns found == false.
func (r *Rooms) Members(key RoomKey) (members []Handle, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.rooms[key]
	if !ok {
		return nil, false
	}
	members = make([]Handle, 0, len(set))
	for h := range set {
		members = append(members, h)
	}
	return members, true
}

// Contains reports whether h is a member of the room.
func (r *Rooms) Contains(key RoomKey, h Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key][h]
}

// RoomsOf returns every room the connection is currently a member of.
func (r *Rooms) RoomsOf(h Handle) []RoomKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := r.byConn[h]
	if len(keys) == 0 {
		return nil
	}
	out := make([]RoomKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	return out
}

// RemoveAll removes the connection from every room it belongs to and
// returns the affected room keys, captured before removal. This is the
// disconnect cascade entry point.
func (r *Rooms) RemoveAll(h Handle) []RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys, ok := r.byConn[h]
	if !ok {
		delete(r.currentDoc, h)
		return nil
	}
	affected := make([]RoomKey, 0, len(keys))
	for key := range keys {
		affected = append(affected, key)
		if members, ok := r.rooms[key]; ok {
			delete(members, h)
			if len(members) == 0 {
				delete(r.rooms, key)
			}
		}
	}
	delete(r.byConn, h)
	delete(r.currentDoc, h)
	return affected
}

// Count reports the number of live rooms.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
