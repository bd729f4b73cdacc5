package realtime

import (
	"context"
	"testing"
	"time"
)

func TestPresence_SetStatusBroadcastsToProjectRooms(t *testing.T) {
	ctx := context.Background()
	hub, _, _, _ := newTestHub(&fakeStore{})

	a := connect(hub, "a", "u1")
	b := connect(hub, "b", "u2")
	hub.JoinRoom(ctx, "a", ProjectRoom("p1"))
	hub.JoinRoom(ctx, "b", ProjectRoom("p1"))

	if err := hub.SetPresence(ctx, "a", StatusAway); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}

	// The origin gets its own transition confirmed.
	for name, s := range map[string]*captureSender{"a": a, "b": b} {
		if got := s.countType(EventPresenceChanged); got != 1 {
			t.Errorf("%s received %d presence-changed events, want 1", name, got)
		}
	}
	for _, ev := range b.all() {
		if ev.Type == EventPresenceChanged {
			p := ev.Payload.(PresencePayload)
			if p.UserID != "u1" || p.Status != StatusAway {
				t.Errorf("presence payload = %+v, want u1 away", p)
			}
		}
	}
}

func TestPresence_DocumentRoomsSkipped(t *testing.T) {
	ctx := context.Background()
	hub, _, _, _ := newTestHub(&fakeStore{})

	connect(hub, "a", "u1")
	b := connect(hub, "b", "u2")
	hub.JoinRoom(ctx, "a", DocumentRoom("doc1"))
	hub.JoinRoom(ctx, "b", DocumentRoom("doc1"))

	if err := hub.SetPresence(ctx, "a", StatusAway); err != nil {
		t.Fatalf("SetPresence failed: %v", err)
	}
	if got := b.countType(EventPresenceChanged); got != 0 {
		t.Errorf("document room received %d presence events, want 0 (editing events cover documents)", got)
	}
}

func TestPresence_InvalidStatus(t *testing.T) {
	hub, _, _, _ := newTestHub(&fakeStore{})
	connect(hub, "a", "u1")

	if err := hub.SetPresence(context.Background(), "a", Status("busy")); err == nil {
		t.Error("SetPresence accepted an unknown status")
	}
	if err := hub.SetPresence(context.Background(), "ghost", StatusAway); err != ErrUnknownHandle {
		t.Errorf("SetPresence on unknown handle = %v, want ErrUnknownHandle", err)
	}
}

func TestPresence_IdleConnectionsGoAway(t *testing.T) {
	registry := NewRegistry()
	rooms := NewRooms()
	dispatcher := NewDispatcher(registry, rooms, nil)
	p := NewPresence(registry, rooms, dispatcher)

	base := time.Now()
	registry.now = func() time.Time { return base }
	a := &captureSender{}
	registry.Register("a", testIdentity("u1"), a)
	rooms.Join("a", ProjectRoom("p1"))

	// Same pass the sweep makes, without the ticker.
	registry.now = time.Now
	for _, h := range registry.IdleSince(base.Add(time.Minute)) {
		if err := p.SetStatus(context.Background(), h, StatusAway); err != nil {
			t.Fatalf("sweep SetStatus failed: %v", err)
		}
	}

	if status, _ := registry.StatusOf("a"); status != StatusAway {
		t.Errorf("status after sweep = %v, want away", status)
	}
	if got := a.countType(EventPresenceChanged); got != 1 {
		t.Errorf("idle connection received %d presence events, want its own away confirmation", got)
	}
}
