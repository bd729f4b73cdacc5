package realtime

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateHandle is returned when the transport layer reuses a
// handle that is still live. Handles are fresh per upgrade, so this is
// a defensive check, not an expected path.
var ErrDuplicateHandle = errors.New("connection handle already registered")

// Sender delivers an encoded event to one client connection. The
// websocket adapter implements it; tests substitute a recorder.
type Sender interface {
	Send(ev Event) error
}

type connState struct {
	identity   Identity
	sender     Sender
	status     Status
	lastActive time.Time
}

// Registry tracks every live connection and its derived identity and
// presence state. It is the leaf of the realtime core: rooms, editing
// sessions and the dispatcher all resolve handles through it.
//
// State is guarded by a single mutex; every operation is an in-memory
// map touch, never blocking I/O.
type Registry struct {
	mu     sync.RWMutex
	conns  map[Handle]*connState
	byUser map[string]map[Handle]bool // userId -> live handles, for direct notification
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[Handle]*connState),
		byUser: make(map[string]map[Handle]bool),
		now:    time.Now,
	}
}

// Register records a freshly authenticated connection as online.
func (r *Registry) Register(h Handle, identity Identity, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[h]; exists {
		return ErrDuplicateHandle
	}
	r.conns[h] = &connState{
		identity:   identity,
		sender:     sender,
		status:     StatusOnline,
		lastActive: r.now(),
	}
	if r.byUser[identity.UserID] == nil {
		r.byUser[identity.UserID] = make(map[Handle]bool)
	}
	r.byUser[identity.UserID][h] = true
	return nil
}

// Unregister removes a connection. It is idempotent: disconnect
// notifications can race with explicit leaves, so removing an absent
// handle is a no-op. The cascade into rooms and editing sessions is the
// hub's job; the registry only owns the handle itself.
func (r *Registry) Unregister(h Handle) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[h]
	if !ok {
		return Identity{}, false
	}
	delete(r.conns, h)
	if handles, ok := r.byUser[c.identity.UserID]; ok {
		delete(handles, h)
		if len(handles) == 0 {
			delete(r.byUser, c.identity.UserID)
		}
	}
	return c.identity, true
}

// IdentityOf resolves a handle to its owning identity.
func (r *Registry) IdentityOf(h Handle) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[h]
	if !ok {
		return Identity{}, false
	}
	return c.identity, true
}

// SenderOf returns the transport sender for a handle.
func (r *Registry) SenderOf(h Handle) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[h]
	if !ok {
		return nil, false
	}
	return c.sender, true
}

// StatusOf returns the connection's current presence status.
func (r *Registry) StatusOf(h Handle) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[h]
	if !ok {
		return "", false
	}
	return c.status, true
}

// SetStatus updates presence state and refreshes last activity.
func (r *Registry) SetStatus(h Handle, s Status) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[h]
	if !ok {
		return Identity{}, false
	}
	c.status = s
	c.lastActive = r.now()
	return c.identity, true
}

// Touch refreshes the last-activity timestamp. Called for every
// inbound client event so the away sweep only catches truly idle
// connections.
func (r *Registry) Touch(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[h]; ok {
		c.lastActive = r.now()
	}
}

// HandlesOf returns every live connection of a user.
func (r *Registry) HandlesOf(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := r.byUser[userID]
	if len(handles) == 0 {
		return nil
	}
	out := make([]Handle, 0, len(handles))
	for h := range handles {
		out = append(out, h)
	}
	return out
}

// IdleSince returns online connections whose last activity is older
// than cutoff. Used by the auto-away sweep.
func (r *Registry) IdleSince(cutoff time.Time) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handle
	for h, c := range r.conns {
		if c.status == StatusOnline && c.lastActive.Before(cutoff) {
			out = append(out, h)
		}
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
