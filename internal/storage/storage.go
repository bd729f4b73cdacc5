// Package storage is the durability authority for the four mutable
// entity kinds the realtime layer broadcasts about: tasks, projects,
// documents (wiki pages) and comments. The realtime registries only
// ever cache presence; anything that must survive a restart lives here.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EntityKind names a mutable domain entity table.
type EntityKind string

const (
	KindTask     EntityKind = "task"
	KindProject  EntityKind = "project"
	KindDocument EntityKind = "document"
	KindComment  EntityKind = "comment"
)

// ErrNotFound is returned when the target row does not exist.
var ErrNotFound = errors.New("entity not found")

// Entity is a fully materialized row, including server-assigned fields,
// as returned by every write. Data holds the kind-specific fields as
// the client will see them.
type Entity struct {
	Kind        EntityKind      `json:"kind"`
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId"`
	ProjectID   string          `json:"projectId,omitempty"`
	DocumentID  string          `json:"documentId,omitempty"`
	Data        json.RawMessage `json:"data"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Ref locates an entity for create calls: the workspace plus the
// optional parent project or document (comments attach to one of them).
type Ref struct {
	WorkspaceID string
	ProjectID   string
	DocumentID  string
}

// Store is the write surface the mutation gateway depends on. Each call
// performs exactly one durable write and returns the materialized row;
// on error nothing was persisted.
type Store interface {
	CreateEntity(ctx context.Context, kind EntityKind, ref Ref, fields json.RawMessage) (*Entity, error)
	UpdateEntity(ctx context.Context, kind EntityKind, id string, fields json.RawMessage) (*Entity, error)
	DeleteEntity(ctx context.Context, kind EntityKind, id string) (*Entity, error)
}
