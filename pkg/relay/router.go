package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PresenceLookup resolves a user to their routing key in the shared
// directory. The second return is false when the user has no record.
type PresenceLookup interface {
	Get(userID string) (string, bool, error)
}

// ConnSource resolves routing keys to live local connections.
type ConnSource interface {
	ByRoutingKey(key string) (*registry.Conn, bool)
}

// MemberSource lists the members of a chat session for fan-out.
type MemberSource interface {
	ChatMemberIDs(ctx context.Context, chatID string) ([]string, error)
}

// Frame is the outbound wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame marshals an event and payload into a wire frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}

// Router pushes events to live connections on this process. Delivery is
// at-most-once and fire-and-forget: a target with no presence record, or one
// whose routing key belongs to another process, is a silent miss. The router
// never forwards across processes; cross-process effects ride the event bus
// instead.
type Router struct {
	presence PresenceLookup
	conns    ConnSource
	members  MemberSource

	deliveredCounter metric.Int64Counter
	missCounter      metric.Int64Counter
}

func NewRouter(presence PresenceLookup, conns ConnSource, members MemberSource, meter metric.Meter) *Router {
	deliveredCounter, _ := meter.Int64Counter("relay_delivered_total",
		metric.WithDescription("Total events delivered to local connections"))
	missCounter, _ := meter.Int64Counter("relay_misses_total",
		metric.WithDescription("Total delivery attempts that found no local connection"))
	return &Router{
		presence:         presence,
		conns:            conns,
		members:          members,
		deliveredCounter: deliveredCounter,
		missCounter:      missCounter,
	}
}

// DeliverToUser pushes one event to the target user's live connection if it
// is on this process. Returns (false, nil) on any miss; the error return is
// reserved for shared-store failures and bad payloads.
func (r *Router) DeliverToUser(ctx context.Context, userID, event string, payload any) (bool, error) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return false, err
	}

	routingKey, ok, err := r.presence.Get(userID)
	if err != nil {
		return false, fmt.Errorf("presence lookup for %s: %w", userID, err)
	}
	if !ok {
		r.miss(ctx, event, "no_presence")
		return false, nil
	}

	conn, ok := r.conns.ByRoutingKey(routingKey)
	if !ok {
		// The record points at another process (or a connection that just
		// went away). Not forwarded; a miss, not an error.
		r.miss(ctx, event, "not_local")
		return false, nil
	}

	if !conn.Enqueue(frame) {
		r.miss(ctx, event, "queue_full")
		return false, nil
	}

	r.deliveredCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	return true, nil
}

// DeliverToChat fans one event out to every member of the chat except the
// sender, each delivered independently. Partial delivery is expected and not
// an error; the return counts successful local deliveries.
func (r *Router) DeliverToChat(ctx context.Context, chatID, senderID, event string, payload any) (int, error) {
	memberIDs, err := r.members.ChatMemberIDs(ctx, chatID)
	if err != nil {
		return 0, fmt.Errorf("chat %s members: %w", chatID, err)
	}

	delivered := 0
	for _, memberID := range memberIDs {
		if memberID == senderID {
			continue
		}
		ok, err := r.DeliverToUser(ctx, memberID, event, payload)
		if err != nil {
			slog.WarnContext(ctx, "Fan-out delivery failed", "chat", chatID, "user", memberID, "error", err)
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

func (r *Router) miss(ctx context.Context, event, reason string) {
	r.missCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("reason", reason),
	))
}
