package presence

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	otelhelper "github.com/HossamElDeenKamal2003/backend-kapso/pkg/otelhelper"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Subjects served for the CRUD layer's presence queries.
const (
	SubjectOnline    = "presence.online.*" // request: empty, reply: {"online":bool}
	SubjectConnected = "presence.connected" // request: JSON array of IDs, reply: connected subset
)

// RegisterResponders subscribes the presence query surface: "is user U
// connected" and "which of {U1..Un} are connected". Registered once per
// process at startup; every reply reads the shared store.
func RegisterResponders(nc *nats.Conn, dir *Directory, meter metric.Meter) ([]*nats.Subscription, error) {
	queryCounter, _ := meter.Int64Counter("presence_queries_total",
		metric.WithDescription("Total presence queries served"))

	var subs []*nats.Subscription

	onlineSub, err := nc.Subscribe(SubjectOnline, func(msg *nats.Msg) {
		ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "presence online query")
		defer span.End()

		parts := strings.Split(msg.Subject, ".")
		if len(parts) < 3 {
			msg.Respond([]byte(`{"online":false}`))
			return
		}
		userID := parts[2]
		span.SetAttributes(attribute.String("presence.user", userID))

		online, err := dir.Connected(userID)
		if err != nil {
			slog.ErrorContext(ctx, "Presence lookup failed", "user", userID, "error", err)
			span.RecordError(err)
			msg.Respond([]byte(`{"online":false}`))
			return
		}

		data, _ := json.Marshal(map[string]bool{"online": online})
		msg.Respond(data)
		queryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("query", "online")))
	})
	if err != nil {
		return nil, err
	}
	subs = append(subs, onlineSub)

	connectedSub, err := nc.Subscribe(SubjectConnected, func(msg *nats.Msg) {
		ctx, span := otelhelper.StartServerSpan(context.Background(), msg, "presence connected query")
		defer span.End()

		var candidates []string
		if err := json.Unmarshal(msg.Data, &candidates); err != nil {
			slog.WarnContext(ctx, "Invalid connected query payload", "error", err)
			msg.Respond([]byte("[]"))
			return
		}

		connected, err := ConnectedSubset(dir, candidates)
		if err != nil {
			slog.ErrorContext(ctx, "Connected subset lookup failed", "error", err)
			span.RecordError(err)
			msg.Respond([]byte("[]"))
			return
		}

		data, _ := json.Marshal(connected)
		msg.Respond(data)

		span.SetAttributes(attribute.Int("presence.connected_count", len(connected)))
		queryCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("query", "connected")))
	})
	if err != nil {
		onlineSub.Unsubscribe()
		return nil, err
	}
	subs = append(subs, connectedSub)

	slog.Info("Presence query responders registered", "subjects", SubjectOnline+", "+SubjectConnected)
	return subs, nil
}

// ConnectedSubset filters candidates down to the IDs present in the
// connected set. Always returns a non-nil slice so the reply marshals to a
// JSON array.
func ConnectedSubset(dir *Directory, candidates []string) ([]string, error) {
	connected := make([]string, 0, len(candidates))
	for _, id := range candidates {
		ok, err := dir.Connected(id)
		if err != nil {
			return nil, err
		}
		if ok {
			connected = append(connected, id)
		}
	}
	return connected, nil
}
