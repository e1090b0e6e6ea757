package talk

import (
	"fmt"

	"github.com/matheus3301/lined/internal/rpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire field layout shared by the client and any server implementation.

// EncodeMessage converts m to its wire struct fields.
func EncodeMessage(m Message) map[string]any {
	fields := map[string]any{
		"id":          m.ID,
		"from":        m.From,
		"to":          m.To,
		"contentType": int64(m.ContentType),
		"text":        m.Text,
		"createdTime": m.CreatedTime,
	}
	if len(m.ContentPreview) > 0 {
		fields["contentPreview"] = m.ContentPreview
	}
	return fields
}

// DecodeMessage parses a wire message.
func DecodeMessage(s *structpb.Struct) (Message, error) {
	preview, err := rpc.Bytes(s, "contentPreview")
	if err != nil {
		return Message{}, fmt.Errorf("decode content preview: %w", err)
	}
	return Message{
		ID:             rpc.String(s, "id"),
		From:           rpc.String(s, "from"),
		To:             rpc.String(s, "to"),
		ContentType:    ContentType(rpc.Int(s, "contentType")),
		Text:           rpc.String(s, "text"),
		ContentPreview: preview,
		CreatedTime:    rpc.Int(s, "createdTime"),
	}, nil
}

// EncodeContact converts c to its wire struct fields.
func EncodeContact(c Contact) map[string]any {
	return map[string]any{
		"mid":           c.MID,
		"displayName":   c.DisplayName,
		"statusMessage": c.StatusMessage,
	}
}

// DecodeContact parses a wire contact.
func DecodeContact(s *structpb.Struct) Contact {
	return Contact{
		MID:           rpc.String(s, "mid"),
		DisplayName:   rpc.String(s, "displayName"),
		StatusMessage: rpc.String(s, "statusMessage"),
	}
}

// EncodeOperation converts op to its wire struct fields.
func EncodeOperation(op Operation) map[string]any {
	fields := map[string]any{
		"revision": op.Revision,
		"type":     int64(op.Type),
	}
	if op.Message != nil {
		fields["message"] = EncodeMessage(*op.Message)
	}
	return fields
}

// DecodeOperation parses a wire operation.
func DecodeOperation(s *structpb.Struct) (Operation, error) {
	op := Operation{
		Revision: rpc.Int(s, "revision"),
		Type:     OpType(rpc.Int(s, "type")),
	}
	if ms := rpc.Struct(s, "message"); ms != nil {
		m, err := DecodeMessage(ms)
		if err != nil {
			return Operation{}, err
		}
		op.Message = &m
	}
	return op, nil
}

// EncodeList encodes items with enc into a list value usable in NewStruct.
func EncodeList[T any](items []T, enc func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, enc(it))
	}
	return out
}

func decodeMessages(values []*structpb.Value) ([]Message, error) {
	msgs := make([]Message, 0, len(values))
	for _, v := range values {
		m, err := DecodeMessage(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
