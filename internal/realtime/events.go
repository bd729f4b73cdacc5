package realtime

import "encoding/json"

// EventType tags the broadcast event union.
type EventType string

const (
	EventTaskCreated            EventType = "task-created"
	EventTaskUpdated            EventType = "task-updated"
	EventTaskDeleted            EventType = "task-deleted"
	EventProjectUpdated         EventType = "project-updated"
	EventDocumentUpdated        EventType = "document-updated"
	EventDocumentEditingStarted EventType = "document-editing-started"
	EventDocumentEditingStopped EventType = "document-editing-stopped"
	EventCommentAdded           EventType = "comment-added"
	EventCommentUpdated         EventType = "comment-updated"
	EventCommentDeleted         EventType = "comment-deleted"
	EventPresenceChanged        EventType = "presence-changed"
	EventNotification           EventType = "notification"
)

// Event is a tagged message pushed from the server to a subset of
// connections. Room and Payload go over the wire; Origin and
// IncludeOrigin only steer the fan-out.
type Event struct {
	Type    EventType `json:"type"`
	Room    string    `json:"room,omitempty"`
	Payload any       `json:"payload,omitempty"`

	// Origin is the connection whose action produced the event.
	// Mutation-derived events exclude it from fan-out: the origin
	// already has the entity via its direct mutation reply.
	Origin Handle `json:"-"`

	// IncludeOrigin delivers the event to the origin as well.
	// Presence and notification events use it when the origin needs
	// its own confirmation.
	IncludeOrigin bool `json:"-"`
}

// EditingPayload is carried by document-editing-started/-stopped events.
type EditingPayload struct {
	DocumentID  string  `json:"documentId"`
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Cursor      *Cursor `json:"cursor,omitempty"`
}

// PresencePayload is carried by presence-changed events.
type PresencePayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
}

// NotificationPayload is carried by notification events addressed to a
// single user rather than a room.
type NotificationPayload struct {
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Body    string          `json:"body,omitempty"`
	Subject json.RawMessage `json:"subject,omitempty"`
}

// RoomMember is one entry of a room-state snapshot.
type RoomMember struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
}

// EditorState is one active editor of a document, with the last cursor
// position it reported.
type EditorState struct {
	UserID      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	Cursor      *Cursor `json:"cursor,omitempty"`
}

// RoomState is the snapshot returned to a client when it joins a room,
// so it has an initial state to apply later broadcasts against. Editors
// is populated for document rooms only.
type RoomState struct {
	Room    string        `json:"room"`
	Members []RoomMember  `json:"members"`
	Editors []EditorState `json:"editors,omitempty"`
}
