package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/chatstore"
)

type fakeStore struct {
	chats       map[string]string   // "a|b" -> chatID
	members     map[string][]string // chatID -> userIDs
	friends     map[string]bool     // "a|b"
	calls       map[string]chatstore.CallRecord
	blocks      map[string]bool
	nextCallID  string
	failCreate  bool
	created     []chatstore.NewMessage
	createdCall []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:      make(map[string]string),
		members:    make(map[string][]string),
		friends:    make(map[string]bool),
		calls:      make(map[string]chatstore.CallRecord),
		blocks:     make(map[string]bool),
		nextCallID: "call-1",
	}
}

func pairKey(a, b string) string { return a + "|" + b }

func (f *fakeStore) ChatBetween(_ context.Context, a, b string) (string, bool, error) {
	if id, ok := f.chats[pairKey(a, b)]; ok {
		return id, true, nil
	}
	id, ok := f.chats[pairKey(b, a)]
	return id, ok, nil
}

func (f *fakeStore) IsChatMember(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range f.members[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, m chatstore.NewMessage) (chatstore.Message, error) {
	if f.failCreate {
		return chatstore.Message{}, errors.New("database unavailable")
	}
	f.created = append(f.created, m)
	return chatstore.Message{
		ID:        "msg-1",
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Assets:    m.Assets,
		Record:    m.Record,
		CreatedAt: time.Now(),
	}, nil
}

func (f *fakeStore) CreateCallRecord(_ context.Context, chatID, callerID string) (string, error) {
	id := f.nextCallID
	f.calls[id] = chatstore.CallRecord{ID: id, ChatID: chatID, CallerID: callerID}
	f.createdCall = append(f.createdCall, id)
	return id, nil
}

func (f *fakeStore) AnswerCall(_ context.Context, callID string) (chatstore.CallRecord, error) {
	rec, ok := f.calls[callID]
	if !ok {
		return chatstore.CallRecord{}, errors.New("call not found")
	}
	rec.Answered = true
	f.calls[callID] = rec
	return rec, nil
}

func (f *fakeStore) CallByID(_ context.Context, callID string) (chatstore.CallRecord, error) {
	rec, ok := f.calls[callID]
	if !ok {
		return chatstore.CallRecord{}, errors.New("call not found")
	}
	return rec, nil
}

func (f *fakeStore) EndCall(_ context.Context, callID string) (bool, error) {
	rec, ok := f.calls[callID]
	if !ok || rec.EndedAt != nil {
		return false, nil
	}
	now := time.Now()
	rec.EndedAt = &now
	f.calls[callID] = rec
	return true, nil
}

func (f *fakeStore) CreateBlock(_ context.Context, blockerID, blockedID string) error {
	f.blocks[pairKey(blockerID, blockedID)] = true
	return nil
}

func (f *fakeStore) DeleteBlock(_ context.Context, blockerID, blockedID string) error {
	delete(f.blocks, pairKey(blockerID, blockedID))
	return nil
}

func (f *fakeStore) IsFriends(_ context.Context, a, b string) (bool, error) {
	return f.friends[pairKey(a, b)] || f.friends[pairKey(b, a)], nil
}

type delivery struct {
	userID  string
	event   string
	payload any
}

type fakeRouter struct {
	store      *fakeStore
	online     map[string]bool
	deliveries []delivery
}

func (f *fakeRouter) DeliverToUser(_ context.Context, userID, event string, payload any) (bool, error) {
	if !f.online[userID] {
		return false, nil
	}
	f.deliveries = append(f.deliveries, delivery{userID: userID, event: event, payload: payload})
	return true, nil
}

func (f *fakeRouter) DeliverToChat(ctx context.Context, chatID, senderID, event string, payload any) (int, error) {
	delivered := 0
	for _, id := range f.store.members[chatID] {
		if id == senderID {
			continue
		}
		ok, _ := f.DeliverToUser(ctx, id, event, payload)
		if ok {
			delivered++
		}
	}
	return delivered, nil
}

type fakePresence struct {
	connected map[string]bool
}

func (f *fakePresence) Connected(userID string) (bool, error) {
	return f.connected[userID], nil
}

func setup() (*fakeStore, *fakeRouter, *fakePresence) {
	store := newFakeStore()
	router := &fakeRouter{store: store, online: make(map[string]bool)}
	pres := &fakePresence{connected: make(map[string]bool)}
	return store, router, pres
}

func TestMessages_Send(t *testing.T) {
	store, router, _ := setup()
	store.chats[pairKey("a", "b")] = "chat-1"
	store.members["chat-1"] = []string{"a", "b", "c"}
	router.online["b"] = true
	// c is offline: partial delivery is expected, not an error.

	m := NewMessages(store, router)
	msg, result, err := m.Send(context.Background(), "a", MessagePayload{ChatID: "chat-1", Content: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result != nil {
		t.Fatalf("Expected success, got result %+v", result)
	}
	if msg.ID == "" || msg.Content != "hi" {
		t.Errorf("Unexpected message %+v", msg)
	}

	if len(router.deliveries) != 1 {
		t.Fatalf("Expected one delivery, got %d", len(router.deliveries))
	}
	d := router.deliveries[0]
	if d.userID != "b" || d.event != "message" {
		t.Errorf("Unexpected delivery %+v", d)
	}
}

func TestMessages_Send_NotMember(t *testing.T) {
	store, router, _ := setup()
	store.members["chat-1"] = []string{"b", "c"}

	m := NewMessages(store, router)
	_, result, err := m.Send(context.Background(), "a", MessagePayload{ChatID: "chat-1", Content: "hi"})
	if err != nil {
		t.Fatalf("Expected rejection result, got error %v", err)
	}
	if result == nil || result.IsSuccess {
		t.Fatalf("Expected non-success result for non-member")
	}
	if len(store.created) != 0 {
		t.Errorf("Expected nothing persisted for rejected message")
	}
}

func TestCalls_Call(t *testing.T) {
	store, router, pres := setup()
	store.friends[pairKey("a", "b")] = true
	store.chats[pairKey("a", "b")] = "chat-1"
	pres.connected["b"] = true
	router.online["b"] = true

	c := NewCalls(store, pres, router)
	offer := json.RawMessage(`{"sdp":"O"}`)
	result, err := c.Call(context.Background(), "a", CallPayload{Offer: offer, ReceiverID: "b"})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if result != nil {
		t.Fatalf("Expected success, got %+v", result)
	}

	if len(router.deliveries) != 1 || router.deliveries[0].event != "call" || router.deliveries[0].userID != "b" {
		t.Fatalf("Expected call offer relayed to b, got %+v", router.deliveries)
	}
	if len(store.createdCall) != 1 {
		t.Errorf("Expected a persisted call record")
	}
}

func TestCalls_Call_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*fakeStore, *fakePresence)
		wantEn  string
	}{
		{
			name:    "not friends",
			prepare: func(s *fakeStore, p *fakePresence) { p.connected["b"] = true },
			wantEn:  "You can only call your friends.",
		},
		{
			name: "receiver offline",
			prepare: func(s *fakeStore, p *fakePresence) {
				s.friends[pairKey("a", "b")] = true
			},
			wantEn: "User is not connected now.",
		},
		{
			name: "no shared chat",
			prepare: func(s *fakeStore, p *fakePresence) {
				s.friends[pairKey("a", "b")] = true
				p.connected["b"] = true
			},
			wantEn: "No chat exists with this user.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, router, pres := setup()
			tt.prepare(store, pres)

			c := NewCalls(store, pres, router)
			result, err := c.Call(context.Background(), "a", CallPayload{
				Offer: json.RawMessage(`{"sdp":"O"}`), ReceiverID: "b",
			})
			if err != nil {
				t.Fatalf("Expected rejection result, got error %v", err)
			}
			if result == nil || result.IsSuccess {
				t.Fatalf("Expected non-success result")
			}
			if result.Content.En != tt.wantEn {
				t.Errorf("Expected %q, got %q", tt.wantEn, result.Content.En)
			}
			if result.Content.Ar == "" {
				t.Errorf("Expected Arabic text alongside English")
			}
			if len(router.deliveries) != 0 {
				t.Errorf("Expected receiver to get nothing on rejection, got %+v", router.deliveries)
			}
		})
	}
}

func TestCalls_Answer(t *testing.T) {
	store, router, pres := setup()
	store.calls["call-1"] = chatstore.CallRecord{ID: "call-1", ChatID: "chat-1", CallerID: "a"}
	store.members["chat-1"] = []string{"a", "b"}
	router.online["a"] = true

	c := NewCalls(store, pres, router)
	result, err := c.Answer(context.Background(), "b", AnswerPayload{Answer: "A", CallID: "call-1"})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if result != nil {
		t.Fatalf("Expected success, got %+v", result)
	}

	if len(router.deliveries) != 1 {
		t.Fatalf("Expected answer relayed to caller, got %d deliveries", len(router.deliveries))
	}
	d := router.deliveries[0]
	if d.userID != "a" || d.event != "call_answer" {
		t.Errorf("Unexpected delivery %+v", d)
	}
}

func TestCalls_Answer_NotMember(t *testing.T) {
	store, router, pres := setup()
	store.calls["call-1"] = chatstore.CallRecord{ID: "call-1", ChatID: "chat-1", CallerID: "a"}
	store.members["chat-1"] = []string{"a", "b"}
	router.online["a"] = true

	c := NewCalls(store, pres, router)
	result, err := c.Answer(context.Background(), "intruder", AnswerPayload{Answer: "A", CallID: "call-1"})
	if err != nil {
		t.Fatalf("Expected rejection result, got error %v", err)
	}
	if result == nil || result.IsSuccess {
		t.Fatalf("Expected non-success result for non-member")
	}

	// The rejection must come before any write: the call record stays as
	// the caller left it and nothing reaches them.
	if store.calls["call-1"].Answered {
		t.Errorf("Expected rejected answer to leave the call unanswered")
	}
	if len(router.deliveries) != 0 {
		t.Errorf("Expected no call_answer delivered, got %+v", router.deliveries)
	}
}

func TestCalls_Answer_AfterEnded(t *testing.T) {
	store, router, pres := setup()
	ended := time.Now()
	store.calls["call-1"] = chatstore.CallRecord{ID: "call-1", ChatID: "chat-1", CallerID: "a", EndedAt: &ended}
	store.members["chat-1"] = []string{"a", "b"}
	router.online["a"] = true

	c := NewCalls(store, pres, router)
	result, err := c.Answer(context.Background(), "b", AnswerPayload{Answer: "A", CallID: "call-1"})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if result != nil {
		t.Fatalf("Expected silent drop, got %+v", result)
	}

	// Caller hung up: the stale answer must not reach them.
	if len(router.deliveries) != 0 {
		t.Errorf("Expected no call_answer after call ended, got %+v", router.deliveries)
	}

	if rec := store.calls["call-1"]; !rec.Answered {
		t.Errorf("Expected the Answered transition to still be persisted")
	}
}

func TestCalls_End(t *testing.T) {
	store, router, pres := setup()
	store.calls["call-1"] = chatstore.CallRecord{ID: "call-1", ChatID: "chat-1", CallerID: "a"}
	store.members["chat-1"] = []string{"a", "b"}
	router.online["b"] = true

	c := NewCalls(store, pres, router)
	result, err := c.End(context.Background(), "a", EndPayload{CallID: "call-1"})
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if result != nil {
		t.Fatalf("Expected success, got %+v", result)
	}
	if store.calls["call-1"].EndedAt == nil {
		t.Errorf("Expected the end to be persisted")
	}
	if len(router.deliveries) != 1 || router.deliveries[0].event != "call_ended" || router.deliveries[0].userID != "b" {
		t.Fatalf("Expected call_ended relayed to b, got %+v", router.deliveries)
	}

	// Ending again is a silent no-op; nobody gets a second notification.
	if result, err := c.End(context.Background(), "a", EndPayload{CallID: "call-1"}); err != nil || result != nil {
		t.Fatalf("Redundant End: result %+v err %v", result, err)
	}
	if len(router.deliveries) != 1 {
		t.Errorf("Expected no second call_ended, got %+v", router.deliveries)
	}
}

func TestCalls_End_NotMember(t *testing.T) {
	store, router, pres := setup()
	store.calls["call-1"] = chatstore.CallRecord{ID: "call-1", ChatID: "chat-1", CallerID: "a"}
	store.members["chat-1"] = []string{"a", "b"}

	c := NewCalls(store, pres, router)
	result, err := c.End(context.Background(), "intruder", EndPayload{CallID: "call-1"})
	if err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if result == nil || result.IsSuccess {
		t.Fatalf("Expected non-success result for non-member")
	}
	if store.calls["call-1"].EndedAt != nil {
		t.Errorf("Expected the call to stay ongoing")
	}
	if len(router.deliveries) != 0 {
		t.Errorf("Expected nothing relayed, got %+v", router.deliveries)
	}
}

func TestBlocks_BlockAndUnblock(t *testing.T) {
	store, router, _ := setup()
	router.online["blocked"] = true

	b := NewBlocks(store, router)
	if err := b.Block(context.Background(), "blocker", "blocked"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if !store.blocks[pairKey("blocker", "blocked")] {
		t.Errorf("Expected block to be persisted")
	}
	if len(router.deliveries) != 1 || router.deliveries[0].event != "block" {
		t.Fatalf("Expected block event delivered, got %+v", router.deliveries)
	}

	if err := b.Unblock(context.Background(), "blocker", "blocked"); err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
	if store.blocks[pairKey("blocker", "blocked")] {
		t.Errorf("Expected block to be removed")
	}
	if len(router.deliveries) != 2 || router.deliveries[1].event != "unblock" {
		t.Errorf("Expected unblock event delivered, got %+v", router.deliveries)
	}
}

func TestBlocks_BlockOfflineUser(t *testing.T) {
	store, router, _ := setup()

	b := NewBlocks(store, router)
	// Delivery miss is fine; the block itself must still land.
	if err := b.Block(context.Background(), "blocker", "offline"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if !store.blocks[pairKey("blocker", "offline")] {
		t.Errorf("Expected block to be persisted despite offline target")
	}
}
