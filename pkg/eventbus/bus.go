package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	otelhelper "github.com/HossamElDeenKamal2003/backend-kapso/pkg/otelhelper"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Channels is the fixed set of cross-process channels every instance
// subscribes to at startup.
var Channels = []string{"new_room", "room_closed", "peer_join", "peer_exit"}

// Subscriber is the subset of *nats.Conn needed to subscribe to channels.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Bus broadcasts structured events to all processes over NATS core pub/sub.
// Publishing is fire-and-forget; the transport gives best-effort FIFO per
// channel from a single publisher and at-least-once delivery overall.
type Bus struct {
	pub        otelhelper.Publisher
	sub        Subscriber
	dispatcher *Dispatcher
	subs       []*nats.Subscription

	publishCounter metric.Int64Counter
	receiveCounter metric.Int64Counter
}

// New creates a bus over a NATS connection (which satisfies both the
// publisher and subscriber sides). Received payloads are re-emitted verbatim
// into the dispatcher.
func New(nc *nats.Conn, dispatcher *Dispatcher, meter metric.Meter) *Bus {
	publishCounter, _ := meter.Int64Counter("eventbus_published_total",
		metric.WithDescription("Total events published to the bus"))
	receiveCounter, _ := meter.Int64Counter("eventbus_received_total",
		metric.WithDescription("Total events received from the bus"))
	return &Bus{
		pub:            nc,
		sub:            nc,
		dispatcher:     dispatcher,
		publishCounter: publishCounter,
		receiveCounter: receiveCounter,
	}
}

// Publish broadcasts payload on the channel. Fire-and-forget: a returned
// error means the publish itself failed, never that nobody was listening.
func (b *Bus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	if err := otelhelper.TracedPublish(ctx, b.pub, channel, data); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	b.publishCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
	return nil
}

// SubscribeAll subscribes every fixed channel once. Call a single time per
// process at startup, before anything publishes.
func (b *Bus) SubscribeAll() error {
	for _, channel := range Channels {
		channel := channel
		sub, err := b.sub.Subscribe(channel, func(msg *nats.Msg) {
			ctx, span := otelhelper.StartConsumerSpan(context.Background(), msg, channel+" event")
			defer span.End()

			b.receiveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
			slog.DebugContext(ctx, "Bus event received", "channel", channel, "bytes", len(msg.Data))

			b.dispatcher.Emit(channel, json.RawMessage(msg.Data))
		})
		if err != nil {
			b.Close()
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		b.subs = append(b.subs, sub)
	}
	slog.Info("Event bus subscribed", "channels", strings.Join(Channels, ", "))
	return nil
}

// Close drops all bus subscriptions.
func (b *Bus) Close() {
	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}
