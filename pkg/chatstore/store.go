package chatstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Message is a persisted chat message. A call offer is stored as a message
// row with the call columns set.
type Message struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chatId"`
	SenderID  string          `json:"senderId"`
	Content   string          `json:"content,omitempty"`
	Assets    json.RawMessage `json:"assets,omitempty"`
	Record    string          `json:"record,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewMessage is the input for CreateMessage.
type NewMessage struct {
	ChatID   string
	SenderID string
	Content  string
	Assets   json.RawMessage
	Record   string
}

// CallRecord tracks a call offer's lifecycle within a chat.
type CallRecord struct {
	ID       string
	ChatID   string
	CallerID string
	Answered bool
	EndedAt  *time.Time
}

// Store is the Postgres access layer for the domain handlers. The relay core
// reads through it but owns none of the data.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres with OTel instrumentation. Callers run the ping
// retry loop themselves.
func Open(dsn string) (*Store, error) {
	db, err := otelsql.Open("postgres", dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemPostgreSQL))
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ChatBetween returns the direct chat shared by two users, if any.
func (s *Store) ChatBetween(ctx context.Context, userID1, userID2 string) (string, bool, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx, `
		SELECT cm1.chat_id
		FROM chat_members cm1
		JOIN chat_members cm2 ON cm2.chat_id = cm1.chat_id
		JOIN chats c ON c.id = cm1.chat_id
		WHERE c.type = 'CHAT' AND cm1.user_id = $1 AND cm2.user_id = $2
		LIMIT 1`, userID1, userID2).Scan(&chatID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("chat between %s and %s: %w", userID1, userID2, err)
	}
	return chatID, true, nil
}

// IsChatMember reports whether the user belongs to the chat.
func (s *Store) IsChatMember(ctx context.Context, chatID, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)",
		chatID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("chat membership check: %w", err)
	}
	return ok, nil
}

// ChatMemberIDs returns the user IDs of all members of a chat.
func (s *Store) ChatMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM chat_members WHERE chat_id = $1", chatID)
	if err != nil {
		return nil, fmt.Errorf("chat members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateMessage persists a new chat message and returns it with its ID and
// creation time filled in.
func (s *Store) CreateMessage(ctx context.Context, m NewMessage) (Message, error) {
	msg := Message{
		ID:       uuid.NewString(),
		ChatID:   m.ChatID,
		SenderID: m.SenderID,
		Content:  m.Content,
		Assets:   m.Assets,
		Record:   m.Record,
	}
	assets := m.Assets
	if assets == nil {
		assets = json.RawMessage("[]")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, assets, record, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`,
		msg.ID, m.ChatID, m.SenderID, m.Content, []byte(assets), m.Record).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// CreateCallRecord persists an offered call as a call-type message row.
func (s *Store) CreateCallRecord(ctx context.Context, chatID, callerID string) (string, error) {
	callID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, is_call, call_answered, created_at)
		VALUES ($1, $2, $3, TRUE, FALSE, NOW())`,
		callID, chatID, callerID)
	if err != nil {
		return "", fmt.Errorf("create call record: %w", err)
	}
	return callID, nil
}

// AnswerCall marks a call answered and returns the record, including whether
// the caller already hung up. The read of call_ended_at rides on the same
// statement so a late answer observes the freshest end state available.
func (s *Store) AnswerCall(ctx context.Context, callID string) (CallRecord, error) {
	rec := CallRecord{ID: callID, Answered: true}
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE messages SET call_answered = TRUE
		WHERE id = $1 AND is_call
		RETURNING chat_id, sender_id, call_ended_at`,
		callID).Scan(&rec.ChatID, &rec.CallerID, &endedAt)
	if err == sql.ErrNoRows {
		return CallRecord{}, fmt.Errorf("call %s not found", callID)
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("answer call: %w", err)
	}
	if endedAt.Valid {
		rec.EndedAt = &endedAt.Time
	}
	return rec, nil
}

// CallByID loads a call record.
func (s *Store) CallByID(ctx context.Context, callID string) (CallRecord, error) {
	rec := CallRecord{ID: callID}
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, sender_id, call_answered, call_ended_at
		FROM messages WHERE id = $1 AND is_call`,
		callID).Scan(&rec.ChatID, &rec.CallerID, &rec.Answered, &endedAt)
	if err == sql.ErrNoRows {
		return CallRecord{}, fmt.Errorf("call %s not found", callID)
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("load call: %w", err)
	}
	if endedAt.Valid {
		rec.EndedAt = &endedAt.Time
	}
	return rec, nil
}

// EndCall marks a call ended. Returns false when the call was already ended,
// so a redundant end is a no-op for the caller too.
func (s *Store) EndCall(ctx context.Context, callID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET call_ended_at = NOW()
		WHERE id = $1 AND is_call AND call_ended_at IS NULL`, callID)
	if err != nil {
		return false, fmt.Errorf("end call: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end call: %w", err)
	}
	return n > 0, nil
}

// IsFriends reports whether the users follow each other.
func (s *Store) IsFriends(ctx context.Context, userID1, userID2 string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM followers WHERE follower_id = $1 AND following_id = $2)
		   AND EXISTS(SELECT 1 FROM followers WHERE follower_id = $2 AND following_id = $1)`,
		userID1, userID2).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("friendship check: %w", err)
	}
	return ok, nil
}

// CreateBlock records a block. Idempotent.
func (s *Store) CreateBlock(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker_id, blocked_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("create block: %w", err)
	}
	return nil
}

// DeleteBlock removes a block. Idempotent.
func (s *Store) DeleteBlock(ctx context.Context, blockerID, blockedID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2", blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// TouchLastConnect stamps the user's last-seen time. Called on both connect
// and disconnect.
func (s *Store) TouchLastConnect(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_connect = NOW() WHERE id = $1", userID)
	if err != nil {
		return fmt.Errorf("touch last connect: %w", err)
	}
	return nil
}
