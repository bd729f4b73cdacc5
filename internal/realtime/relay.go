package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/antoine2025-ux/lumi-work-os-sub004/internal/telemetry"
)

// Relay extends the broadcast dispatcher across server instances over
// NATS. Every confirmed event is published tagged with the origin
// instance id; each instance subscribes to the full stream and delivers
// peers' events to its own local room members, skipping its own
// publications. A single-instance deployment runs without a relay and
// loses nothing.
type Relay struct {
	nc         *nats.Conn
	instanceID string
}

type relayEnvelope struct {
	Instance string          `json:"instance"`
	Type     EventType       `json:"type"`
	Room     string          `json:"room,omitempty"`
	UserID   string          `json:"userId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func NewRelay(nc *nats.Conn, instanceID string) *Relay {
	return &Relay{nc: nc, instanceID: instanceID}
}

// PublishEvent forwards a room event to peer instances.
func (r *Relay) PublishEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal relay payload: %w", err)
	}
	env := relayEnvelope{
		Instance: r.instanceID,
		Type:     ev.Type,
		Room:     ev.Room,
		Payload:  payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	kind, id, _ := strings.Cut(ev.Room, ":")
	subject := "realtime.event." + kind + "." + subjectToken(id)
	return telemetry.TracedPublish(ctx, r.nc, subject, data)
}

// PublishUserEvent forwards a direct user event to peer instances.
func (r *Relay) PublishUserEvent(ctx context.Context, userID string, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal relay payload: %w", err)
	}
	env := relayEnvelope{
		Instance: r.instanceID,
		Type:     ev.Type,
		UserID:   userID,
		Payload:  payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}
	return telemetry.TracedPublish(ctx, r.nc, "realtime.user."+subjectToken(userID), data)
}

// subjectToken makes an id safe to embed as a single NATS subject
// token. Routing only needs the token to be stable; the authoritative
// room and user ids travel in the envelope.
var subjectSanitizer = strings.NewReplacer(".", "_", " ", "_", "\t", "_", "*", "_", ">", "_")

func subjectToken(id string) string {
	return subjectSanitizer.Replace(id)
}

// Start subscribes to peer events and hands them to the dispatcher for
// local-only delivery. Events this instance published are skipped by
// instance id; relayed events carry no origin handle, so the whole
// local member set receives them.
func (r *Relay) Start(d *Dispatcher) error {
	handler := func(msg *nats.Msg) {
		ctx, span := telemetry.StartConsumerSpan(context.Background(), msg, "relayed realtime event")
		defer span.End()

		var env relayEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			slog.Warn("Invalid relay envelope", "subject", msg.Subject, "error", err)
			return
		}
		if env.Instance == r.instanceID {
			return
		}
		ev := Event{Type: env.Type, Room: env.Room, Payload: env.Payload}
		if env.UserID != "" {
			d.DeliverToUserLocal(ctx, env.UserID, ev)
			return
		}
		d.DeliverLocal(ctx, ev)
	}

	if _, err := r.nc.Subscribe("realtime.event.>", handler); err != nil {
		return fmt.Errorf("failed to subscribe to realtime.event.>: %w", err)
	}
	if _, err := r.nc.Subscribe("realtime.user.>", handler); err != nil {
		return fmt.Errorf("failed to subscribe to realtime.user.>: %w", err)
	}
	slog.Info("Broadcast relay started", "instance", r.instanceID)
	return nil
}
