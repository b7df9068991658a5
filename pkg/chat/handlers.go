package chat

import (
	"context"
	"encoding/json"

	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/gateway"
	"github.com/HossamElDeenKamal2003/backend-kapso/pkg/token"
)

// validationMessage wraps a schema failure in the bilingual error shape the
// client expects.
func validationMessage(detail string) map[string]string {
	return map[string]string{
		"ar": "البيانات المرسلة غير صالحة.",
		"en": detail,
	}
}

func clientError(r *Result) *gateway.ClientError {
	return gateway.NewClientError(map[string]string{
		"ar": r.Content.Ar,
		"en": r.Content.En,
	})
}

// Handlers binds the domain services to the gateway's inbound events.
func Handlers(messages *Messages, calls *Calls, blocks *Blocks) map[string]gateway.HandlerFunc {
	return map[string]gateway.HandlerFunc{
		"message": func(ctx context.Context, sender token.Identity, data json.RawMessage) error {
			var p MessagePayload
			if err := json.Unmarshal(data, &p); err != nil {
				return gateway.NewClientError(validationMessage("Invalid message payload"))
			}
			if err := p.Validate(); err != nil {
				return gateway.NewClientError(validationMessage(err.Error()))
			}
			_, result, err := messages.Send(ctx, sender.UserID, p)
			if err != nil {
				return err
			}
			if result != nil && !result.IsSuccess {
				return clientError(result)
			}
			return nil
		},

		"call": func(ctx context.Context, sender token.Identity, data json.RawMessage) error {
			var p CallPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return gateway.NewClientError(validationMessage("Invalid call payload"))
			}
			if err := p.Validate(); err != nil {
				return gateway.NewClientError(validationMessage(err.Error()))
			}
			result, err := calls.Call(ctx, sender.UserID, p)
			if err != nil {
				return err
			}
			if result != nil && !result.IsSuccess {
				return clientError(result)
			}
			return nil
		},

		"answer_call": func(ctx context.Context, sender token.Identity, data json.RawMessage) error {
			var p AnswerPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return gateway.NewClientError(validationMessage("Invalid answer payload"))
			}
			if err := p.Validate(); err != nil {
				return gateway.NewClientError(validationMessage(err.Error()))
			}
			result, err := calls.Answer(ctx, sender.UserID, p)
			if err != nil {
				return err
			}
			if result != nil && !result.IsSuccess {
				return clientError(result)
			}
			return nil
		},

		"end_call": func(ctx context.Context, sender token.Identity, data json.RawMessage) error {
			var p EndPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return gateway.NewClientError(validationMessage("Invalid end call payload"))
			}
			if err := p.Validate(); err != nil {
				return gateway.NewClientError(validationMessage(err.Error()))
			}
			result, err := calls.End(ctx, sender.UserID, p)
			if err != nil {
				return err
			}
			if result != nil && !result.IsSuccess {
				return clientError(result)
			}
			return nil
		},

		"block": func(ctx context.Context, sender token.Identity, data json.RawMessage) error {
			var p BlockPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return gateway.NewClientError(validationMessage("Invalid block payload"))
			}
			if err := p.Validate(); err != nil {
				return gateway.NewClientError(validationMessage(err.Error()))
			}
			return blocks.Block(ctx, sender.UserID, p.BlockedID)
		},

		"unblock": func(ctx context.Context, sender token.Identity, data json.RawMessage) error {
			var p BlockPayload
			if err := json.Unmarshal(data, &p); err != nil {
				return gateway.NewClientError(validationMessage("Invalid unblock payload"))
			}
			if err := p.Validate(); err != nil {
				return gateway.NewClientError(validationMessage(err.Error()))
			}
			return blocks.Unblock(ctx, sender.UserID, p.BlockedID)
		},
	}
}
