package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var errSendBufferFull = errors.New("send buffer full, client not keeping up")

// client is one live websocket connection. Its read pump handles
// inbound frames one at a time, which is what serializes a single
// connection's mutations; the buffered send channel plus a single
// writer goroutine keeps outbound delivery FIFO per recipient.
type client struct {
	handle realtime.Handle
	conn   *websocket.Conn
	hub    *realtime.Hub

	send       chan []byte
	done       chan struct{}
	doneOnce   sync.Once
	writerDone chan struct{}
}

func newClient(handle realtime.Handle, conn *websocket.Conn, hub *realtime.Hub) *client {
	return &client{
		handle:     handle,
		conn:       conn,
		hub:        hub,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// closeGraceful runs the disconnect cascade and tells the write pump to
// flush and send a close frame. Used on server shutdown; racing the
// read pump's own teardown is fine, both paths are idempotent.
func (c *client) closeGraceful(ctx context.Context) {
	c.hub.Disconnect(ctx, c.handle)
	c.markDone()
}

// Send queues an event for delivery. It implements realtime.Sender and
// must never block the dispatcher: a full buffer or a closed connection
// returns an error, which the dispatcher isolates to this recipient.
func (c *client) Send(ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *client) enqueue(data []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// reply sends a direct frame (ready, room-state, result, error) to
// this connection only.
func (c *client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal reply frame", "handle", string(c.handle), "error", err)
		return
	}
	if err := c.enqueue(data); err != nil {
		slog.Warn("Failed to queue reply frame", "handle", string(c.handle), "error", err)
	}
}

// readPump consumes inbound frames until the connection drops, then
// runs the disconnect cascade. Frames are handled inline, one at a
// time: a mutation's storage write completes and its broadcast is
// dispatched before the next frame from this connection is even read.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Disconnect(ctx, c.handle)
		c.markDone()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Connection read error", "handle", string(c.handle), "error", err)
			}
			return
		}
		c.handleFrame(ctx, data)
	}
}

// writePump is the single writer for this connection. It also owns the
// final conn.Close, which is what unblocks a read pump parked in
// ReadMessage.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case <-c.done:
			// Flush whatever was queued before done was signalled, so
			// an orderly disconnect does not drop the tail of a burst.
			for {
				select {
				case data := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
					return
				}
			}
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame routes one inbound frame. Malformed frames get an error
// reply; the connection stays open.
func (c *client) handleFrame(ctx context.Context, data []byte) {
	frame, err := decodeFrame(data)
	if err != nil {
		c.reply(newErrorFrame("", "protocol", err.Error()))
		return
	}

	switch frame.Type {
	case frameJoinRoom:
		key, err := realtime.ParseRoomKey(frame.Room)
		if err != nil {
			c.reply(newErrorFrame(frame.ID, "protocol", err.Error()))
			return
		}
		state, err := c.hub.JoinRoom(ctx, c.handle, key)
		if err != nil {
			c.reply(newErrorFrame(frame.ID, "protocol", err.Error()))
			return
		}
		c.reply(roomStateFrame{Type: "room-state", ID: frame.ID, RoomState: state})

	case frameLeaveRoom:
		key, err := realtime.ParseRoomKey(frame.Room)
		if err != nil {
			c.reply(newErrorFrame(frame.ID, "protocol", err.Error()))
			return
		}
		c.hub.LeaveRoom(ctx, c.handle, key)

	case frameStartEditing:
		if frame.DocumentID == "" {
			c.reply(newErrorFrame(frame.ID, "protocol", "start_editing requires documentId"))
			return
		}
		if err := c.hub.StartEditing(ctx, c.handle, frame.DocumentID, frame.Cursor); err != nil {
			c.reply(newErrorFrame(frame.ID, "protocol", err.Error()))
		}

	case frameStopEditing:
		if frame.DocumentID == "" {
			c.reply(newErrorFrame(frame.ID, "protocol", "stop_editing requires documentId"))
			return
		}
		c.hub.StopEditing(ctx, c.handle, frame.DocumentID)

	case frameMutate:
		if frame.Mutation == nil {
			c.reply(newErrorFrame(frame.ID, "protocol", "mutate requires a mutation body"))
			return
		}
		entity, merr := c.hub.Mutate(ctx, c.handle, *frame.Mutation)
		if merr != nil {
			c.reply(resultFrame{Type: "result", ID: frame.ID, OK: false,
				Error: &errorBody{Code: merr.Code, Message: merr.Err.Error()}})
			return
		}
		c.reply(resultFrame{Type: "result", ID: frame.ID, OK: true, Entity: entity})

	case frameSetPresence:
		if err := c.hub.SetPresence(ctx, c.handle, realtime.Status(frame.Status)); err != nil {
			c.reply(newErrorFrame(frame.ID, "protocol", err.Error()))
		}

	default:
		c.reply(newErrorFrame(frame.ID, "protocol", "unknown frame type "+frame.Type))
	}
}
