package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/storage"
)

func TestGateway_SuccessDispatchesExactlyOnce(t *testing.T) {
	store := &fakeStore{entity: taskEntity("t1", "p1")}
	rec := &recordingDispatcher{}
	g := NewGateway(store, allowAll{}, rec)

	entity, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), Mutation{
		Kind:        MutateTaskCreate,
		WorkspaceID: "ws1",
		ProjectID:   "p1",
		Fields:      json.RawMessage(`{"title":"ship it"}`),
	})
	if merr != nil {
		t.Fatalf("Apply failed: %v", merr)
	}
	if entity == nil || entity.ID != "t1" {
		t.Fatalf("Apply returned %+v, want the persisted entity", entity)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("dispatched %d events, want exactly 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventTaskCreated || ev.Room != "project:p1" || ev.Origin != "origin" {
		t.Errorf("event = %+v, want task-created in project:p1 from origin", ev)
	}
	if ev.IncludeOrigin {
		t.Error("mutation-derived event must exclude its origin")
	}
}

func TestGateway_StorageFailureNoBroadcast(t *testing.T) {
	store := &fakeStore{err: errors.New("connection reset")}
	rec := &recordingDispatcher{}
	g := NewGateway(store, allowAll{}, rec)

	_, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), Mutation{
		Kind:        MutateTaskUpdate,
		WorkspaceID: "ws1",
		EntityID:    "t1",
		Fields:      json.RawMessage(`{"status":"done"}`),
	})
	if merr == nil || merr.Code != ErrCodeStorage {
		t.Fatalf("Apply = %v, want storage error", merr)
	}
	if got := len(rec.all()); got != 0 {
		t.Errorf("dispatched %d events after storage failure, want 0", got)
	}
}

func TestGateway_NotFound(t *testing.T) {
	store := &fakeStore{err: storage.ErrNotFound}
	rec := &recordingDispatcher{}
	g := NewGateway(store, allowAll{}, rec)

	_, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), Mutation{
		Kind:        MutateCommentDelete,
		WorkspaceID: "ws1",
		EntityID:    "c1",
	})
	if merr == nil || merr.Code != ErrCodeNotFound {
		t.Fatalf("Apply = %v, want not_found", merr)
	}
	if got := len(rec.all()); got != 0 {
		t.Errorf("dispatched %d events for a missing entity, want 0", got)
	}
}

func TestGateway_UnauthorizedNeverTouchesStorage(t *testing.T) {
	store := &fakeStore{entity: taskEntity("t1", "p1")}
	rec := &recordingDispatcher{}
	g := NewGateway(store, denyAll{}, rec)

	_, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), Mutation{
		Kind:        MutateTaskCreate,
		WorkspaceID: "ws-other",
		ProjectID:   "p1",
		Fields:      json.RawMessage(`{"title":"nope"}`),
	})
	if merr == nil || merr.Code != ErrCodeUnauthorized {
		t.Fatalf("Apply = %v, want unauthorized", merr)
	}
	if store.callCount() != 0 {
		t.Errorf("storage called %d times for an unauthorized mutation, want 0", store.callCount())
	}
	if got := len(rec.all()); got != 0 {
		t.Errorf("dispatched %d events for an unauthorized mutation, want 0", got)
	}
}

func TestGateway_Validation(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
	}{
		{"unknown kind", Mutation{Kind: "task-rename", WorkspaceID: "ws1"}},
		{"missing workspace", Mutation{Kind: MutateTaskCreate, ProjectID: "p1", Fields: json.RawMessage(`{}`)}},
		{"task-create without project", Mutation{Kind: MutateTaskCreate, WorkspaceID: "ws1", Fields: json.RawMessage(`{"a":1}`)}},
		{"task-update without entity", Mutation{Kind: MutateTaskUpdate, WorkspaceID: "ws1", Fields: json.RawMessage(`{"a":1}`)}},
		{"document-update without document", Mutation{Kind: MutateDocumentUpdate, WorkspaceID: "ws1", Fields: json.RawMessage(`{"a":1}`)}},
		{"comment-add without parent", Mutation{Kind: MutateCommentAdd, WorkspaceID: "ws1", Fields: json.RawMessage(`{"a":1}`)}},
		{"update without fields", Mutation{Kind: MutateProjectUpdate, WorkspaceID: "ws1", ProjectID: "p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{entity: taskEntity("t1", "p1")}
			rec := &recordingDispatcher{}
			g := NewGateway(store, allowAll{}, rec)

			_, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), tt.m)
			if merr == nil || merr.Code != ErrCodeInvalid {
				t.Fatalf("Apply = %v, want invalid", merr)
			}
			if store.callCount() != 0 {
				t.Errorf("storage called for an invalid request")
			}
		})
	}
}

func TestGateway_DocumentMutationTargetsDocumentRoom(t *testing.T) {
	doc := &storage.Entity{Kind: storage.KindDocument, ID: "d1", WorkspaceID: "ws1", DocumentID: "d1"}
	store := &fakeStore{entity: doc}
	rec := &recordingDispatcher{}
	g := NewGateway(store, allowAll{}, rec)

	_, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), Mutation{
		Kind:        MutateDocumentUpdate,
		WorkspaceID: "ws1",
		DocumentID:  "d1",
		Fields:      json.RawMessage(`{"content":"# Title"}`),
	})
	if merr != nil {
		t.Fatalf("Apply failed: %v", merr)
	}
	events := rec.all()
	if len(events) != 1 || events[0].Room != "document:d1" {
		t.Fatalf("events = %+v, want one document-updated in document:d1", events)
	}
}

func TestGateway_CommentOnDocumentTargetsDocumentRoom(t *testing.T) {
	comment := &storage.Entity{Kind: storage.KindComment, ID: "c1", WorkspaceID: "ws1", DocumentID: "d1"}
	store := &fakeStore{entity: comment}
	rec := &recordingDispatcher{}
	g := NewGateway(store, allowAll{}, rec)

	_, merr := g.Apply(context.Background(), "origin", testIdentity("u1"), Mutation{
		Kind:        MutateCommentAdd,
		WorkspaceID: "ws1",
		DocumentID:  "d1",
		Fields:      json.RawMessage(`{"body":"looks good"}`),
	})
	if merr != nil {
		t.Fatalf("Apply failed: %v", merr)
	}
	events := rec.all()
	if len(events) != 1 || events[0].Type != EventCommentAdded || events[0].Room != "document:d1" {
		t.Fatalf("events = %+v, want comment-added in document:d1", events)
	}
}
