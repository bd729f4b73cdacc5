package storage

import (
	"context"
	"testing"
)

// The SQL paths need a live database; these cover the pure dispatch
// logic that rejects bad kinds before any query is built.

func TestCreateEntityUnknownKind(t *testing.T) {
	p := &Postgres{}
	if _, err := p.CreateEntity(context.Background(), "widget", Ref{WorkspaceID: "ws1"}, nil); err == nil {
		t.Error("CreateEntity accepted an unknown kind")
	}
}

func TestUpdateEntityUnknownKind(t *testing.T) {
	p := &Postgres{}
	if _, err := p.UpdateEntity(context.Background(), "widget", "id1", nil); err == nil {
		t.Error("UpdateEntity accepted an unknown kind")
	}
}

func TestDeleteEntityRestrictedKinds(t *testing.T) {
	p := &Postgres{}
	// Only tasks and comments support delete; projects and documents
	// are never deleted through the realtime path.
	for _, kind := range []EntityKind{KindProject, KindDocument, "widget"} {
		if _, err := p.DeleteEntity(context.Background(), kind, "id1"); err == nil {
			t.Errorf("DeleteEntity accepted kind %q", kind)
		}
	}
}

func TestNullableString(t *testing.T) {
	if nullableString("") != nil {
		t.Error("empty string should map to NULL")
	}
	if nullableString("x") != "x" {
		t.Error("non-empty string should pass through")
	}
}
