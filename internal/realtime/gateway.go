package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/storage"
)

// MutationKind names one of the supported persisted mutations.
type MutationKind string

const (
	MutateTaskCreate     MutationKind = "task-create"
	MutateTaskUpdate     MutationKind = "task-update"
	MutateTaskDelete     MutationKind = "task-delete"
	MutateProjectUpdate  MutationKind = "project-update"
	MutateDocumentUpdate MutationKind = "document-update"
	MutateCommentAdd     MutationKind = "comment-add"
	MutateCommentUpdate  MutationKind = "comment-update"
	MutateCommentDelete  MutationKind = "comment-delete"
)

// Mutation is a client request to change one persisted entity.
type Mutation struct {
	Kind        MutationKind    `json:"kind"`
	WorkspaceID string          `json:"workspaceId"`
	ProjectID   string          `json:"projectId,omitempty"`
	DocumentID  string          `json:"documentId,omitempty"`
	EntityID    string          `json:"entityId,omitempty"`
	Fields      json.RawMessage `json:"fields,omitempty"`
}

// Mutation error codes, part of the wire protocol.
const (
	ErrCodeInvalid      = "invalid"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeStorage      = "storage"
)

// MutationError is the structured failure a mutation returns to its
// caller. It is never broadcast.
type MutationError struct {
	Code string
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Authorizer confirms a caller may act on a workspace. The decision
// itself belongs to the main application; the gateway only enforces the
// verdict.
type Authorizer interface {
	Authorize(ctx context.Context, identity Identity, workspaceID string) error
}

// EventDispatcher receives the confirmed event after a successful
// write. *Dispatcher implements it; tests substitute a recorder.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// Gateway applies mutation requests: validate, authorize, persist, and
// only then broadcast. The single code path from write to dispatch is
// what guarantees no state change is ever advertised before it is
// durable — a failed write returns before any event exists. The gateway
// performs no registry mutation at all, so a failed mutation is safely
// retryable.
//
// Per-origin ordering is not the gateway's job: each connection's read
// loop applies its mutations one at a time, so two sequential mutations
// from the same origin dispatch in persist order.
type Gateway struct {
	store      storage.Store
	authz      Authorizer
	dispatcher EventDispatcher

	mutations metric.Int64Counter
	tracer    trace.Tracer
}

func NewGateway(store storage.Store, authz Authorizer, dispatcher EventDispatcher) *Gateway {
	mutations, _ := otel.Meter("realtime").Int64Counter("realtime_mutations_total",
		metric.WithDescription("Mutation requests by kind and outcome"))
	return &Gateway{
		store:      store,
		authz:      authz,
		dispatcher: dispatcher,
		mutations:  mutations,
		tracer:     otel.Tracer("realtime"),
	}
}

var eventForMutation = map[MutationKind]EventType{
	MutateTaskCreate:     EventTaskCreated,
	MutateTaskUpdate:     EventTaskUpdated,
	MutateTaskDelete:     EventTaskDeleted,
	MutateProjectUpdate:  EventProjectUpdated,
	MutateDocumentUpdate: EventDocumentUpdated,
	MutateCommentAdd:     EventCommentAdded,
	MutateCommentUpdate:  EventCommentUpdated,
	MutateCommentDelete:  EventCommentDeleted,
}

// Apply runs one mutation for the given origin connection. On success
// the entity is returned to the caller directly; the broadcast is for
// the other members of the room.
func (g *Gateway) Apply(ctx context.Context, origin Handle, identity Identity, m Mutation) (*storage.Entity, *MutationError) {
	ctx, span := g.tracer.Start(ctx, "mutation "+string(m.Kind))
	defer span.End()
	span.SetAttributes(
		attribute.String("mutation.kind", string(m.Kind)),
		attribute.String("mutation.workspace", m.WorkspaceID),
	)

	if err := validateMutation(m); err != nil {
		g.count(ctx, m.Kind, "invalid")
		return nil, &MutationError{Code: ErrCodeInvalid, Err: err}
	}

	if err := g.authz.Authorize(ctx, identity, m.WorkspaceID); err != nil {
		g.count(ctx, m.Kind, "unauthorized")
		return nil, &MutationError{Code: ErrCodeUnauthorized, Err: err}
	}

	entity, err := g.write(ctx, m)
	if err != nil {
		span.RecordError(err)
		code := ErrCodeStorage
		if errors.Is(err, storage.ErrNotFound) {
			code = ErrCodeNotFound
		}
		g.count(ctx, m.Kind, code)
		return nil, &MutationError{Code: code, Err: err}
	}

	g.dispatcher.Dispatch(ctx, Event{
		Type:    eventForMutation[m.Kind],
		Room:    mutationRoom(m, entity).String(),
		Payload: entity,
		Origin:  origin,
	})
	g.count(ctx, m.Kind, "ok")
	return entity, nil
}

func (g *Gateway) write(ctx context.Context, m Mutation) (*storage.Entity, error) {
	ref := storage.Ref{
		WorkspaceID: m.WorkspaceID,
		ProjectID:   m.ProjectID,
		DocumentID:  m.DocumentID,
	}
	switch m.Kind {
	case MutateTaskCreate:
		return g.store.CreateEntity(ctx, storage.KindTask, ref, m.Fields)
	case MutateTaskUpdate:
		return g.store.UpdateEntity(ctx, storage.KindTask, m.EntityID, m.Fields)
	case MutateTaskDelete:
		return g.store.DeleteEntity(ctx, storage.KindTask, m.EntityID)
	case MutateProjectUpdate:
		return g.store.UpdateEntity(ctx, storage.KindProject, m.ProjectID, m.Fields)
	case MutateDocumentUpdate:
		return g.store.UpdateEntity(ctx, storage.KindDocument, m.DocumentID, m.Fields)
	case MutateCommentAdd:
		return g.store.CreateEntity(ctx, storage.KindComment, ref, m.Fields)
	case MutateCommentUpdate:
		return g.store.UpdateEntity(ctx, storage.KindComment, m.EntityID, m.Fields)
	case MutateCommentDelete:
		return g.store.DeleteEntity(ctx, storage.KindComment, m.EntityID)
	default:
		return nil, fmt.Errorf("unsupported mutation kind %q", m.Kind)
	}
}

// mutationRoom picks the broadcast target: document mutations and
// comments on a document go to the document room, everything else to
// the project room.
func mutationRoom(m Mutation, entity *storage.Entity) RoomKey {
	switch {
	case m.Kind == MutateDocumentUpdate:
		return DocumentRoom(m.DocumentID)
	case entity.DocumentID != "":
		return DocumentRoom(entity.DocumentID)
	default:
		return ProjectRoom(entity.ProjectID)
	}
}

func validateMutation(m Mutation) error {
	if _, ok := eventForMutation[m.Kind]; !ok {
		return fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	if m.WorkspaceID == "" {
		return errors.New("missing workspaceId")
	}
	switch m.Kind {
	case MutateTaskCreate:
		if m.ProjectID == "" {
			return errors.New("task-create requires projectId")
		}
	case MutateTaskUpdate, MutateTaskDelete, MutateCommentUpdate, MutateCommentDelete:
		if m.EntityID == "" {
			return fmt.Errorf("%s requires entityId", m.Kind)
		}
	case MutateProjectUpdate:
		if m.ProjectID == "" {
			return errors.New("project-update requires projectId")
		}
	case MutateDocumentUpdate:
		if m.DocumentID == "" {
			return errors.New("document-update requires documentId")
		}
	case MutateCommentAdd:
		if m.ProjectID == "" && m.DocumentID == "" {
			return errors.New("comment-add requires projectId or documentId")
		}
	}
	switch m.Kind {
	case MutateTaskDelete, MutateCommentDelete:
		// no fields
	default:
		if len(m.Fields) == 0 {
			return fmt.Errorf("%s requires fields", m.Kind)
		}
	}
	return nil
}

func (g *Gateway) count(ctx context.Context, kind MutationKind, outcome string) {
	g.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
