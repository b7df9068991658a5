package lives

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/eventbus"
)

// Store persists live-room lifecycle. Every method is idempotent: the bus
// is at-least-once and these handlers will see redeliveries.
type Store interface {
	LaunchLive(ctx context.Context, liveID, roomID, userID string) error
	CloseLive(ctx context.Context, liveID string) error
	AddRoomMember(ctx context.Context, roomID, userID string) error
	MarkRoomExit(ctx context.Context, roomID, userID string) error
}

// NewRoomEvent announces a live room coming up on the media side.
type NewRoomEvent struct {
	RoomID string `json:"roomId"`
	LiveID string `json:"liveId"`
	UserID string `json:"userId"`
}

// RoomClosedEvent announces a live room going away.
type RoomClosedEvent struct {
	LiveID string `json:"liveId"`
}

// PeerEvent announces a peer joining or leaving a live room.
type PeerEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// Register wires the live-room consumers into the local dispatcher. Malformed
// payloads are logged and dropped; a persistence failure fails only that
// delivery (the redelivery retries it).
func Register(d *eventbus.Dispatcher, store Store) {
	d.On("new_room", func(payload json.RawMessage) {
		var evt NewRoomEvent
		if err := json.Unmarshal(payload, &evt); err != nil || evt.LiveID == "" || evt.RoomID == "" {
			slog.Warn("Invalid new_room event", "error", err)
			return
		}
		if err := store.LaunchLive(context.Background(), evt.LiveID, evt.RoomID, evt.UserID); err != nil {
			slog.Error("Failed to launch live", "live", evt.LiveID, "room", evt.RoomID, "error", err)
			return
		}
		slog.Info("Live launched", "live", evt.LiveID, "room", evt.RoomID)
	})

	d.On("room_closed", func(payload json.RawMessage) {
		var evt RoomClosedEvent
		if err := json.Unmarshal(payload, &evt); err != nil || evt.LiveID == "" {
			slog.Warn("Invalid room_closed event", "error", err)
			return
		}
		if err := store.CloseLive(context.Background(), evt.LiveID); err != nil {
			slog.Error("Failed to close live", "live", evt.LiveID, "error", err)
			return
		}
		slog.Info("Live closed", "live", evt.LiveID)
	})

	d.On("peer_join", func(payload json.RawMessage) {
		var evt PeerEvent
		if err := json.Unmarshal(payload, &evt); err != nil || evt.RoomID == "" || evt.UserID == "" {
			slog.Warn("Invalid peer_join event", "error", err)
			return
		}
		if err := store.AddRoomMember(context.Background(), evt.RoomID, evt.UserID); err != nil {
			slog.Error("Failed to add room member", "room", evt.RoomID, "user", evt.UserID, "error", err)
		}
	})

	d.On("peer_exit", func(payload json.RawMessage) {
		var evt PeerEvent
		if err := json.Unmarshal(payload, &evt); err != nil || evt.RoomID == "" || evt.UserID == "" {
			slog.Warn("Invalid peer_exit event", "error", err)
			return
		}
		if err := store.MarkRoomExit(context.Background(), evt.RoomID, evt.UserID); err != nil {
			slog.Error("Failed to mark room exit", "room", evt.RoomID, "user", evt.UserID, "error", err)
		}
	})
}
