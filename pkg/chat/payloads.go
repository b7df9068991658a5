package chat

import (
	"encoding/json"
	"fmt"
)

// Inbound client event payloads. Each validates its own schema before the
// domain handler runs; a failed validation is answered with an error event
// and the connection stays open.

// MessagePayload is the inbound "message" event.
type MessagePayload struct {
	ChatID  string          `json:"chatId"`
	Content string          `json:"content,omitempty"`
	Assets  json.RawMessage `json:"assets,omitempty"`
	Record  string          `json:"record,omitempty"`
}

func (p MessagePayload) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("chatId is required")
	}
	if p.Content == "" && p.Record == "" && !hasAssets(p.Assets) {
		return fmt.Errorf("one of content, assets or record is required")
	}
	return nil
}

func hasAssets(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var assets []json.RawMessage
	if err := json.Unmarshal(raw, &assets); err != nil {
		return false
	}
	return len(assets) > 0
}

// CallPayload is the inbound "call" event carrying a WebRTC offer.
type CallPayload struct {
	Offer      json.RawMessage `json:"offer"`
	ReceiverID string          `json:"receiverId"`
}

func (p CallPayload) Validate() error {
	if len(p.Offer) == 0 || string(p.Offer) == "null" {
		return fmt.Errorf("offer is required")
	}
	if len(p.ReceiverID) < 8 {
		return fmt.Errorf("receiverId must be at least 8 characters")
	}
	return nil
}

// AnswerPayload is the inbound "answer_call" event.
type AnswerPayload struct {
	Answer string `json:"answer"`
	CallID string `json:"callId"`
}

func (p AnswerPayload) Validate() error {
	if p.Answer == "" {
		return fmt.Errorf("answer is required")
	}
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// EndPayload is the inbound "end_call" event.
type EndPayload struct {
	CallID string `json:"callId"`
}

func (p EndPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("callId is required")
	}
	return nil
}

// BlockPayload is the inbound "block" and "unblock" event.
type BlockPayload struct {
	BlockedID string `json:"blockedId"`
}

func (p BlockPayload) Validate() error {
	if p.BlockedID == "" {
		return fmt.Errorf("blockedId is required")
	}
	return nil
}
