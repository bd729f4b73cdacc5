// Package ws is the websocket transport for the realtime core: it
// upgrades connections, enforces the handshake window, decodes the
// framed JSON protocol into hub calls and writes events back out.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/realtime"
	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/storage"
)

// Inbound frame types.
const (
	frameHello        = "hello"
	frameJoinRoom     = "join_room"
	frameLeaveRoom    = "leave_room"
	frameStartEditing = "start_editing"
	frameStopEditing  = "stop_editing"
	frameMutate       = "mutate"
	frameSetPresence  = "set_presence"
)

// inboundFrame is the envelope for every client message. ID is an
// optional client-chosen correlation id echoed back on replies.
type inboundFrame struct {
	Type       string             `json:"type"`
	ID         string             `json:"id,omitempty"`
	Token      string             `json:"token,omitempty"`
	Room       string             `json:"room,omitempty"`
	DocumentID string             `json:"documentId,omitempty"`
	Cursor     *realtime.Cursor   `json:"cursor,omitempty"`
	Status     string             `json:"status,omitempty"`
	Mutation   *realtime.Mutation `json:"mutation,omitempty"`
}

func decodeFrame(data []byte) (*inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if f.Type == "" {
		return nil, errors.New("frame missing type")
	}
	return &f, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type readyFrame struct {
	Type     string            `json:"type"`
	Handle   string            `json:"handle"`
	Identity realtime.Identity `json:"identity"`
}

type roomStateFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	*realtime.RoomState
}

// resultFrame is the direct reply to a mutate frame. The caller learns
// its own write succeeded from this reply, not from the broadcast.
type resultFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Entity *storage.Entity `json:"entity,omitempty"`
	Error  *errorBody      `json:"error,omitempty"`
}

type errorFrame struct {
	Type  string    `json:"type"`
	ID    string    `json:"id,omitempty"`
	Error errorBody `json:"error"`
}

func newErrorFrame(id, code, message string) errorFrame {
	return errorFrame{Type: "error", ID: id, Error: errorBody{Code: code, Message: message}}
}
