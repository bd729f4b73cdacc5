package realtime

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RelayPublisher forwards confirmed events to peer server instances.
// It is nil in single-instance deployments.
type RelayPublisher interface {
	PublishEvent(ctx context.Context, ev Event) error
	PublishUserEvent(ctx context.Context, userID string, ev Event) error
}

// Dispatcher fans a broadcast event out to the members of its target
// room, excluding the origin connection unless the event asks for it.
// Delivery failure to one stale recipient is isolated: it is logged and
// counted, and never aborts delivery to the rest or the operation that
// produced the event.
type Dispatcher struct {
	registry *Registry
	rooms    *Rooms
	relay    RelayPublisher

	broadcasts     metric.Int64Counter
	deliveryErrors metric.Int64Counter
	fanoutDuration metric.Float64Histogram
}

func NewDispatcher(registry *Registry, rooms *Rooms, relay RelayPublisher) *Dispatcher {
	meter := otel.Meter("realtime")
	broadcasts, _ := meter.Int64Counter("realtime_broadcasts_total",
		metric.WithDescription("Broadcast events fanned out to room members"))
	deliveryErrors, _ := meter.Int64Counter("realtime_delivery_errors_total",
		metric.WithDescription("Per-recipient delivery failures during fan-out"))
	fanoutDuration, _ := meter.Float64Histogram("realtime_fanout_duration_seconds",
		metric.WithDescription("Time to fan a single event out to all room members"))
	return &Dispatcher{
		registry:       registry,
		rooms:          rooms,
		relay:          relay,
		broadcasts:     broadcasts,
		deliveryErrors: deliveryErrors,
		fanoutDuration: fanoutDuration,
	}
}

// Dispatch delivers ev to the local members of its room and, when a
// relay is configured, forwards it to peer instances for their members.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	d.deliverLocal(ctx, ev)
	if d.relay != nil {
		if err := d.relay.PublishEvent(ctx, ev); err != nil {
			slog.Warn("Failed to relay event to peers", "type", ev.Type, "room", ev.Room, "error", err)
		}
	}
}

// DeliverLocal fans ev out to local room members only. The relay uses
// it for events that peer instances already published.
func (d *Dispatcher) DeliverLocal(ctx context.Context, ev Event) {
	d.deliverLocal(ctx, ev)
}

func (d *Dispatcher) deliverLocal(ctx context.Context, ev Event) {
	key, err := ParseRoomKey(ev.Room)
	if err != nil {
		slog.Warn("Dropping event with bad room key", "type", ev.Type, "room", ev.Room, "error", err)
		return
	}
	start := time.Now()
	members, ok := d.rooms.Members(key)
	if !ok {
		return
	}

	delivered := 0
	for _, h := range members {
		if h == ev.Origin && !ev.IncludeOrigin {
			continue
		}
		sender, ok := d.registry.SenderOf(h)
		if !ok {
			// Registry removal raced the membership snapshot.
			continue
		}
		if err := sender.Send(ev); err != nil {
			d.deliveryErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("event", string(ev.Type)),
			))
			slog.Warn("Failed to deliver event to member", "type", ev.Type, "room", ev.Room, "handle", string(h), "error", err)
			continue
		}
		delivered++
	}

	attrs := metric.WithAttributes(attribute.String("event", string(ev.Type)))
	d.broadcasts.Add(ctx, int64(delivered), attrs)
	d.fanoutDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	slog.Debug("Fanned out event", "type", ev.Type, "room", ev.Room, "delivered", delivered)
}

// DispatchToUser delivers a direct event to every live connection of a
// user, on this instance and, via the relay, on peers.
func (d *Dispatcher) DispatchToUser(ctx context.Context, userID string, ev Event) {
	d.deliverToUser(ctx, userID, ev)
	if d.relay != nil {
		if err := d.relay.PublishUserEvent(ctx, userID, ev); err != nil {
			slog.Warn("Failed to relay user event to peers", "type", ev.Type, "user", userID, "error", err)
		}
	}
}

// DeliverToUserLocal delivers a relayed direct event to the user's
// local connections only.
func (d *Dispatcher) DeliverToUserLocal(ctx context.Context, userID string, ev Event) {
	d.deliverToUser(ctx, userID, ev)
}

func (d *Dispatcher) deliverToUser(ctx context.Context, userID string, ev Event) {
	delivered := 0
	for _, h := range d.registry.HandlesOf(userID) {
		sender, ok := d.registry.SenderOf(h)
		if !ok {
			continue
		}
		if err := sender.Send(ev); err != nil {
			d.deliveryErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("event", string(ev.Type)),
			))
			slog.Warn("Failed to deliver event to user connection", "type", ev.Type, "user", userID, "error", err)
			continue
		}
		delivered++
	}
	d.broadcasts.Add(ctx, int64(delivered), metric.WithAttributes(
		attribute.String("event", string(ev.Type)),
	))
}
