package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/storage"
)

// captureSender records everything delivered to one connection.
type captureSender struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *captureSender) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("transport closed")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSender) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *captureSender) countType(t EventType) int {
	n := 0
	for _, ev := range s.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// recordingDispatcher counts gateway dispatches without any fan-out.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingDispatcher) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// fakeStore returns a canned entity or error and counts calls.
type fakeStore struct {
	entity *storage.Entity
	err    error

	mu    sync.Mutex
	calls int
}

func (f *fakeStore) record() error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) CreateEntity(_ context.Context, kind storage.EntityKind, ref storage.Ref, _ json.RawMessage) (*storage.Entity, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.entity, nil
}

func (f *fakeStore) UpdateEntity(_ context.Context, kind storage.EntityKind, id string, _ json.RawMessage) (*storage.Entity, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.entity, nil
}

func (f *fakeStore) DeleteEntity(_ context.Context, kind storage.EntityKind, id string) (*storage.Entity, error) {
	if err := f.record(); err != nil {
		return nil, err
	}
	return f.entity, nil
}

type allowAll struct{}

func (allowAll) Authorize(context.Context, Identity, string) error { return nil }

type denyAll struct{}

func (denyAll) Authorize(context.Context, Identity, string) error {
	return errors.New("not a member")
}

func taskEntity(id, projectID string) *storage.Entity {
	return &storage.Entity{
		Kind:        storage.KindTask,
		ID:          id,
		WorkspaceID: "ws1",
		ProjectID:   projectID,
		Data:        json.RawMessage(`{"title":"write the launch doc"}`),
	}
}

func testIdentity(userID string) Identity {
	return Identity{UserID: userID, DisplayName: "User " + userID, WorkspaceID: "ws1"}
}

// newTestHub wires a hub with in-memory fakes and returns the pieces
// tests poke at.
func newTestHub(store storage.Store) (*Hub, *Registry, *Rooms, *EditingSessions) {
	registry := NewRegistry()
	rooms := NewRooms()
	editing := NewEditingSessions()
	dispatcher := NewDispatcher(registry, rooms, nil)
	gateway := NewGateway(store, allowAll{}, dispatcher)
	presence := NewPresence(registry, rooms, dispatcher)
	hub := NewHub(registry, rooms, editing, dispatcher, gateway, presence)
	return hub, registry, rooms, editing
}

// connect registers a fresh connection on the hub and returns its
// capture sender.
func connect(hub *Hub, handle Handle, userID string) *captureSender {
	sender := &captureSender{}
	if err := hub.Connect(context.Background(), handle, testIdentity(userID), sender); err != nil {
		panic(err)
	}
	return sender
}
