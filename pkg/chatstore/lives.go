package chatstore

import (
	"context"
	"fmt"
)

// Live-room lifecycle writes driven by the event bus. The bus is
// at-least-once, so every statement here must be safe to run twice: inserts
// use ON CONFLICT DO NOTHING and updates guard on the column still being
// unset.

// LaunchLive stamps the live's launch time and creates its room with the
// launching user as first member.
func (s *Store) LaunchLive(ctx context.Context, liveID, roomID, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("launch live: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE lives SET launch_at = NOW() WHERE id = $1 AND launch_at IS NULL", liveID); err != nil {
		return fmt.Errorf("launch live: stamp launch: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (room_id, live_id) VALUES ($1, $2)
		ON CONFLICT (room_id) DO NOTHING`, roomID, liveID); err != nil {
		return fmt.Errorf("launch live: create room: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID); err != nil {
		return fmt.Errorf("launch live: add member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("launch live: commit: %w", err)
	}
	return nil
}

// CloseLive stamps the live's close time.
func (s *Store) CloseLive(ctx context.Context, liveID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE lives SET close_at = NOW() WHERE id = $1 AND close_at IS NULL", liveID)
	if err != nil {
		return fmt.Errorf("close live: %w", err)
	}
	return nil
}

// AddRoomMember records a peer joining a live room.
func (s *Store) AddRoomMember(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	if err != nil {
		return fmt.Errorf("add room member: %w", err)
	}
	return nil
}

// MarkRoomExit stamps a peer's exit from a live room.
func (s *Store) MarkRoomExit(ctx context.Context, roomID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE room_members SET exit_at = NOW() WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return fmt.Errorf("mark room exit: %w", err)
	}
	return nil
}
