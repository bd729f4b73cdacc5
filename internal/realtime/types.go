// Package realtime implements the presence and collaborative-update
// broadcast core of the Lumi realtime server: connection registry, room
// membership, editing sessions, the mutation gateway and the broadcast
// dispatcher. All state here is ephemeral and process-local; persisted
// entities are owned by the storage layer and only pass through as
// event payloads.
package realtime

import (
	"fmt"
	"strings"
)

// Handle identifies one live transport session. The transport layer
// assigns it at upgrade time and it never outlives the connection.
type Handle string

// Identity is the authenticated owner of a connection, resolved from
// the handshake token.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	WorkspaceID string `json:"workspaceId"`
}

// Status is a connection's externally visible presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

var validStatuses = map[Status]bool{
	StatusOnline: true, StatusAway: true, StatusOffline: true,
}

// ValidStatus reports whether s is one of the presence states clients
// may set.
func ValidStatus(s Status) bool {
	return validStatuses[s]
}

// RoomKind distinguishes the two room namespaces.
type RoomKind string

const (
	RoomProject  RoomKind = "project"
	RoomDocument RoomKind = "document"
)

// RoomKey identifies a broadcast channel. Rooms are created implicitly
// on first join and garbage-collected when their last member leaves.
type RoomKey struct {
	Kind RoomKind
	ID   string
}

func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ProjectRoom returns the room key for a project's update stream.
func ProjectRoom(projectID string) RoomKey {
	return RoomKey{Kind: RoomProject, ID: projectID}
}

// DocumentRoom returns the room key for a wiki page's edit stream.
func DocumentRoom(documentID string) RoomKey {
	return RoomKey{Kind: RoomDocument, ID: documentID}
}

// ParseRoomKey parses "project:{id}" or "document:{id}".
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("malformed room key %q", s)
	}
	switch RoomKind(kind) {
	case RoomProject, RoomDocument:
		return RoomKey{Kind: RoomKind(kind), ID: id}, nil
	default:
		return RoomKey{}, fmt.Errorf("unknown room kind %q", kind)
	}
}

// Cursor is a last-known editing position inside a document. The server
// relays it verbatim; only the reporting client interprets it.
type Cursor struct {
	Block  string `json:"block,omitempty"`
	Offset int    `json:"offset"`
}
