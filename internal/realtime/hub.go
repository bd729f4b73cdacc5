package realtime

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/storage"
)

// Hub is the owner object over the realtime registries. The transport
// layer talks only to the hub; the registries are never touched from
// outside it. Each connection's events arrive from a single reader
// goroutine, so operations for one connection are naturally serialized
// while unrelated connections proceed concurrently under the
// registries' own locks.
type Hub struct {
	registry   *Registry
	rooms      *Rooms
	editing    *EditingSessions
	dispatcher *Dispatcher
	gateway    *Gateway
	presence   *Presence

	connects metric.Int64Counter
}

func NewHub(registry *Registry, rooms *Rooms, editing *EditingSessions, dispatcher *Dispatcher, gateway *Gateway, presence *Presence) *Hub {
	meter := otel.Meter("realtime")
	connects, _ := meter.Int64Counter("realtime_connections_total",
		metric.WithDescription("Connections registered since start"))
	activeConns, _ := meter.Int64ObservableGauge("realtime_active_connections",
		metric.WithDescription("Currently registered connections"))
	activeRooms, _ := meter.Int64ObservableGauge("realtime_active_rooms",
		metric.WithDescription("Rooms with at least one member"))
	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(activeConns, int64(registry.Len()))
		o.ObserveInt64(activeRooms, int64(rooms.Count()))
		return nil
	}, activeConns, activeRooms)

	return &Hub{
		registry:   registry,
		rooms:      rooms,
		editing:    editing,
		dispatcher: dispatcher,
		gateway:    gateway,
		presence:   presence,
		connects:   connects,
	}
}

// Connect registers an authenticated connection. Called by the
// transport after the handshake token checked out.
func (h *Hub) Connect(ctx context.Context, handle Handle, identity Identity, sender Sender) error {
	if err := h.registry.Register(handle, identity, sender); err != nil {
		return err
	}
	h.connects.Add(ctx, 1)
	slog.Info("Connection registered", "handle", string(handle), "user", identity.UserID, "workspace", identity.WorkspaceID)
	return nil
}

// JoinRoom subscribes the connection to a room and returns the current
// room state so the client has a baseline to apply broadcasts against.
// Joining a new document room implicitly leaves the previous one,
// including any editing session held there.
func (h *Hub) JoinRoom(ctx context.Context, handle Handle, key RoomKey) (*RoomState, error) {
	if _, ok := h.registry.IdentityOf(handle); !ok {
		return nil, ErrUnknownHandle
	}
	h.registry.Touch(handle)

	left, leftPrev := h.rooms.Join(handle, key)
	if leftPrev {
		h.stopEditingAndBroadcast(ctx, handle, left.ID)
	}

	state := &RoomState{Room: key.String()}
	members, _ := h.rooms.Members(key)
	for _, m := range members {
		identity, ok := h.registry.IdentityOf(m)
		if !ok {
			continue
		}
		status, _ := h.registry.StatusOf(m)
		state.Members = append(state.Members, RoomMember{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			Status:      status,
		})
	}
	if key.Kind == RoomDocument {
		state.Editors = h.editing.Editors(key.ID)
	}
	slog.Debug("Joined room", "handle", string(handle), "room", key.String(), "members", len(state.Members))
	return state, nil
}

// LeaveRoom unsubscribes the connection. Leaving a document room stops
// any editing session the connection held there first, with the usual
// broadcast, while the other members can still be resolved.
func (h *Hub) LeaveRoom(ctx context.Context, handle Handle, key RoomKey) {
	h.registry.Touch(handle)
	if key.Kind == RoomDocument {
		h.stopEditingAndBroadcast(ctx, handle, key.ID)
	}
	h.rooms.Leave(handle, key)
}

// StartEditing flags the connection's identity as typing in the
// document and tells the other members. A repeated start refreshes the
// cursor; last report wins.
func (h *Hub) StartEditing(ctx context.Context, handle Handle, documentID string, cursor *Cursor) error {
	identity, ok := h.registry.IdentityOf(handle)
	if !ok {
		return ErrUnknownHandle
	}
	h.registry.Touch(handle)
	h.editing.Start(handle, identity, documentID, cursor)
	h.dispatcher.Dispatch(ctx, Event{
		Type: EventDocumentEditingStarted,
		Room: DocumentRoom(documentID).String(),
		Payload: EditingPayload{
			DocumentID:  documentID,
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			Cursor:      cursor,
		},
		Origin: handle,
	})
	return nil
}

// StopEditing clears the editing flag. Stopping when not editing is a
// no-op and produces no broadcast.
func (h *Hub) StopEditing(ctx context.Context, handle Handle, documentID string) {
	h.registry.Touch(handle)
	h.stopEditingAndBroadcast(ctx, handle, documentID)
}

func (h *Hub) stopEditingAndBroadcast(ctx context.Context, handle Handle, documentID string) {
	identity, stopped := h.editing.Stop(handle, documentID)
	if !stopped {
		return
	}
	h.dispatcher.Dispatch(ctx, Event{
		Type: EventDocumentEditingStopped,
		Room: DocumentRoom(documentID).String(),
		Payload: EditingPayload{
			DocumentID:  documentID,
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
		},
		Origin: handle,
	})
}

// Mutate applies a persisted mutation for the connection.
func (h *Hub) Mutate(ctx context.Context, handle Handle, m Mutation) (*storage.Entity, *MutationError) {
	identity, ok := h.registry.IdentityOf(handle)
	if !ok {
		return nil, &MutationError{Code: ErrCodeUnauthorized, Err: ErrUnknownHandle}
	}
	h.registry.Touch(handle)
	return h.gateway.Apply(ctx, handle, identity, m)
}

// SetPresence applies an explicit presence transition.
func (h *Hub) SetPresence(ctx context.Context, handle Handle, status Status) error {
	return h.presence.SetStatus(ctx, handle, status)
}

// Notify pushes a direct notification to every connection of a user.
func (h *Hub) Notify(ctx context.Context, userID string, payload NotificationPayload) {
	h.dispatcher.DispatchToUser(ctx, userID, Event{
		Type:          EventNotification,
		Payload:       payload,
		IncludeOrigin: true,
	})
}

// Disconnect tears a connection down. It is idempotent and safe to
// call when the handshake never completed. Order matters: editing
// sessions stop first (their rooms still resolve), then room
// membership is captured and removed, then the offline broadcast goes
// to exactly the rooms the connection belonged to at removal time.
func (h *Hub) Disconnect(ctx context.Context, handle Handle) {
	identity, ok := h.registry.IdentityOf(handle)
	if !ok {
		return
	}

	for _, stop := range h.editing.RemoveAll(handle) {
		h.dispatcher.Dispatch(ctx, Event{
			Type: EventDocumentEditingStopped,
			Room: DocumentRoom(stop.DocumentID).String(),
			Payload: EditingPayload{
				DocumentID:  stop.DocumentID,
				UserID:      stop.Identity.UserID,
				DisplayName: stop.Identity.DisplayName,
			},
			Origin: handle,
		})
	}

	affected := h.rooms.RemoveAll(handle)
	h.registry.Unregister(handle)

	payload := PresencePayload{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Status:      StatusOffline,
	}
	for _, key := range affected {
		h.dispatcher.Dispatch(ctx, Event{
			Type:    EventPresenceChanged,
			Room:    key.String(),
			Payload: payload,
			Origin:  handle,
		})
	}
	slog.Info("Connection removed", "handle", string(handle), "user", identity.UserID, "rooms", len(affected))
}
