package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrUnknownHandle is returned for operations on a handle that is not
// registered (already disconnected, or never completed its handshake).
var ErrUnknownHandle = errors.New("unknown connection handle")

// Presence publishes explicit status transitions. Status is never
// inferred from transport activity; the optional away sweep below is
// the only automatic transition and it goes through the same path as a
// client-initiated update.
type Presence struct {
	registry   *Registry
	rooms      *Rooms
	dispatcher EventDispatcher
}

func NewPresence(registry *Registry, rooms *Rooms, dispatcher EventDispatcher) *Presence {
	return &Presence{registry: registry, rooms: rooms, dispatcher: dispatcher}
}

// SetStatus updates the connection's presence and broadcasts a
// presence-changed event to its project rooms. Document rooms are
// skipped: they get the finer-grained editing-session events instead.
// The origin is included in the fan-out so the client sees its own
// transition confirmed.
func (p *Presence) SetStatus(ctx context.Context, h Handle, status Status) error {
	if !ValidStatus(status) {
		return errors.New("invalid presence status " + string(status))
	}
	identity, ok := p.registry.SetStatus(h, status)
	if !ok {
		return ErrUnknownHandle
	}
	payload := PresencePayload{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Status:      status,
	}
	for _, key := range p.rooms.RoomsOf(h) {
		if key.Kind != RoomProject {
			continue
		}
		p.dispatcher.Dispatch(ctx, Event{
			Type:          EventPresenceChanged,
			Room:          key.String(),
			Payload:       payload,
			Origin:        h,
			IncludeOrigin: true,
		})
	}
	slog.Debug("Presence update", "user", identity.UserID, "status", string(status))
	return nil
}

// RunAwaySweep marks connections away after the idle threshold. It
// runs until ctx is cancelled and is only started when auto-away is
// configured.
func (p *Presence) RunAwaySweep(ctx context.Context, after, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-after)
			for _, h := range p.registry.IdleSince(cutoff) {
				if err := p.SetStatus(ctx, h, StatusAway); err != nil {
					slog.Debug("Away sweep skipped handle", "handle", string(h), "error", err)
				}
			}
		}
	}
}
