package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/chatstore"
)

// Store is the persistence the domain handlers need.
type Store interface {
	ChatBetween(ctx context.Context, userID1, userID2 string) (string, bool, error)
	IsChatMember(ctx context.Context, chatID, userID string) (bool, error)
	CreateMessage(ctx context.Context, m chatstore.NewMessage) (chatstore.Message, error)
	CreateCallRecord(ctx context.Context, chatID, callerID string) (string, error)
	AnswerCall(ctx context.Context, callID string) (chatstore.CallRecord, error)
	CallByID(ctx context.Context, callID string) (chatstore.CallRecord, error)
	EndCall(ctx context.Context, callID string) (bool, error)
	CreateBlock(ctx context.Context, blockerID, blockedID string) error
	DeleteBlock(ctx context.Context, blockerID, blockedID string) error
	IsFriends(ctx context.Context, userID1, userID2 string) (bool, error)
}

// Router pushes outbound events to counterpart users. Delivery misses are
// not errors; the sender has no delivery confirmation contract.
type Router interface {
	DeliverToUser(ctx context.Context, userID, event string, payload any) (bool, error)
	DeliverToChat(ctx context.Context, chatID, senderID, event string, payload any) (int, error)
}

// Presence is the connected-set view the call handler consults.
type Presence interface {
	Connected(userID string) (bool, error)
}

// Messages handles inbound chat messages.
type Messages struct {
	store  Store
	router Router
}

func NewMessages(store Store, router Router) *Messages {
	return &Messages{store: store, router: router}
}

// Send validates membership, persists the message, and fans it out to every
// other chat member with a live local connection. Partial delivery is the
// normal case, not a failure.
func (m *Messages) Send(ctx context.Context, senderID string, p MessagePayload) (chatstore.Message, *Result, error) {
	member, err := m.store.IsChatMember(ctx, p.ChatID, senderID)
	if err != nil {
		return chatstore.Message{}, nil, err
	}
	if !member {
		return chatstore.Message{}, resultNotChatMember, nil
	}

	msg, err := m.store.CreateMessage(ctx, chatstore.NewMessage{
		ChatID:   p.ChatID,
		SenderID: senderID,
		Content:  p.Content,
		Assets:   p.Assets,
		Record:   p.Record,
	})
	if err != nil {
		return chatstore.Message{}, nil, err
	}

	delivered, err := m.router.DeliverToChat(ctx, p.ChatID, senderID, "message", msg)
	if err != nil {
		// The message is already persisted; counterparts on other processes
		// or offline will catch up through history.
		slog.WarnContext(ctx, "Message fan-out failed", "chat", p.ChatID, "error", err)
	} else {
		slog.DebugContext(ctx, "Message fanned out", "chat", p.ChatID, "delivered", delivered)
	}

	return msg, nil, nil
}

// Calls handles call signaling relay. Call state runs NoCall → Offered →
// Answered → Ended; the relay core reads it but the record lives in the
// external store.
type Calls struct {
	store    Store
	presence Presence
	router   Router
}

func NewCalls(store Store, presence Presence, router Router) *Calls {
	return &Calls{store: store, presence: presence, router: router}
}

// Call verifies the caller may ring the receiver (mutual friends, receiver
// connected, shared chat), persists the offered call, and relays the offer.
// Every rejection is a localized Result, not an error.
func (c *Calls) Call(ctx context.Context, callerID string, p CallPayload) (*Result, error) {
	friends, err := c.store.IsFriends(ctx, callerID, p.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !friends {
		return resultNotFriends, nil
	}

	connected, err := c.presence.Connected(p.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !connected {
		return resultNotConnected, nil
	}

	chatID, ok, err := c.store.ChatBetween(ctx, callerID, p.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return resultNoChat, nil
	}

	callID, err := c.store.CreateCallRecord(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}

	delivered, err := c.router.DeliverToUser(ctx, p.ReceiverID, "call", map[string]any{"offer": p.Offer})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Call offered", "call", callID, "chat", chatID, "delivered", delivered)
	return nil, nil
}

// Answer persists the Answered transition and relays the answer to the
// original caller, unless the call already ended, in which case the stale
// answer is dropped. The answerer's chat membership is checked before
// anything is written. The ended check rides on the persistence write; the
// narrow race of an answer landing the instant the caller hangs up is
// accepted.
func (c *Calls) Answer(ctx context.Context, answererID string, p AnswerPayload) (*Result, error) {
	rec, err := c.store.CallByID(ctx, p.CallID)
	if err != nil {
		return nil, fmt.Errorf("answer call %s: %w", p.CallID, err)
	}

	member, err := c.store.IsChatMember(ctx, rec.ChatID, answererID)
	if err != nil {
		return nil, err
	}
	if !member {
		return resultNotChatMember, nil
	}

	rec, err = c.store.AnswerCall(ctx, p.CallID)
	if err != nil {
		return nil, fmt.Errorf("answer call %s: %w", p.CallID, err)
	}

	if rec.EndedAt != nil {
		slog.DebugContext(ctx, "Dropping stale call answer", "call", p.CallID)
		return nil, nil
	}

	if _, err := c.router.DeliverToUser(ctx, rec.CallerID, "call_answer", map[string]string{"answer": p.Answer}); err != nil {
		return nil, err
	}
	return nil, nil
}

// End marks the call ended and notifies the other chat members. Ending an
// already-ended call is a silent no-op.
func (c *Calls) End(ctx context.Context, enderID string, p EndPayload) (*Result, error) {
	rec, err := c.store.CallByID(ctx, p.CallID)
	if err != nil {
		return nil, fmt.Errorf("end call %s: %w", p.CallID, err)
	}

	member, err := c.store.IsChatMember(ctx, rec.ChatID, enderID)
	if err != nil {
		return nil, err
	}
	if !member {
		return resultNotChatMember, nil
	}

	ended, err := c.store.EndCall(ctx, p.CallID)
	if err != nil {
		return nil, err
	}
	if !ended {
		return nil, nil
	}

	if _, err := c.router.DeliverToChat(ctx, rec.ChatID, enderID, "call_ended", map[string]string{"callId": p.CallID}); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Call ended", "call", p.CallID, "chat", rec.ChatID)
	return nil, nil
}

// Blocks handles block/unblock and notifies the affected user.
type Blocks struct {
	store  Store
	router Router
}

func NewBlocks(store Store, router Router) *Blocks {
	return &Blocks{store: store, router: router}
}

// Block persists the block and pushes a block event to the blocked user if
// they are connected locally.
func (b *Blocks) Block(ctx context.Context, blockerID, blockedID string) error {
	if err := b.store.CreateBlock(ctx, blockerID, blockedID); err != nil {
		return err
	}
	_, err := b.router.DeliverToUser(ctx, blockedID, "block", map[string]string{"blockerId": blockerID})
	return err
}

// Unblock removes the block and notifies the unblocked user.
func (b *Blocks) Unblock(ctx context.Context, blockerID, blockedID string) error {
	if err := b.store.DeleteBlock(ctx, blockerID, blockedID); err != nil {
		return err
	}
	_, err := b.router.DeliverToUser(ctx, blockedID, "unblock", map[string]string{"blockerId": blockerID})
	return err
}
