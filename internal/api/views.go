// Package api serves the daemon's local control API. Services are plain
// gRPC services with google.protobuf.Struct payloads; the view types here
// are the wire shapes shared with internal/client.
package api

import (
	"time"

	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/rpc"
	"github.com/matheus3301/lined/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names.
const (
	ContactServiceName      = "lined.ContactService"
	ConversationServiceName = "lined.ConversationService"
	SyncServiceName         = "lined.SyncService"
)

// ContactView is a directory entry.
type ContactView struct {
	ID            string
	DisplayName   string
	StatusMessage string
	IsSelf        bool
}

// MessageView is a message as shown to API clients.
type MessageView struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	RecipientID    string
	Kind           string
	Text           string
	CreatedAtMs    int64
}

// ConversationView summarizes one conversation.
type ConversationView struct {
	ID       string
	Name     string
	Messages int
	Latest   *MessageView
}

// SearchHit is one search result.
type SearchHit struct {
	Message MessageView
	Snippet string
}

// StatusView describes the daemon and its sync loop.
type StatusView struct {
	Session           string
	Identity          string
	State             string
	Revision          int64
	LastPollAtMs      int64
	OperationsApplied int64
	Deltas            int64
	LastError         string
	Contacts          int
	Conversations     int
	IndexedMessages   int64
	UptimeMs          int64
}

// EventView is one event of the WatchEvents stream.
type EventView struct {
	Seq          uint64
	ID           string
	Kind         string
	OccurredAtMs int64
	Revision     int64
	Message      *MessageView
	Detail       string
}

func contactView(c directory.Contact) ContactView {
	return ContactView{ID: c.ID, DisplayName: c.DisplayName, StatusMessage: c.StatusMessage, IsSelf: c.IsSelf}
}

func messageView(m chat.Message) MessageView {
	v := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderID,
		RecipientID:    m.RecipientID,
		Kind:           m.Kind.String(),
		Text:           m.Text,
	}
	if c, err := m.Sender(); err == nil && c.DisplayName != "" {
		v.SenderName = c.DisplayName
	}
	if !m.CreatedAt.IsZero() {
		v.CreatedAtMs = m.CreatedAt.UnixMilli()
	}
	return v
}

func indexedMessageView(m store.Message) MessageView {
	return MessageView{
		ID:             m.MsgID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		RecipientID:    m.RecipientID,
		Kind:           m.Kind,
		Text:           m.Body,
		CreatedAtMs:    m.CreatedAt,
	}
}

// CreatedAt converts CreatedAtMs.
func (m MessageView) CreatedAt() time.Time {
	if m.CreatedAtMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.CreatedAtMs)
}

func encodeContact(c ContactView) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"displayName":   c.DisplayName,
		"statusMessage": c.StatusMessage,
		"isSelf":        c.IsSelf,
	}
}

// DecodeContact parses a ContactView.
func DecodeContact(s *structpb.Struct) ContactView {
	return ContactView{
		ID:            rpc.String(s, "id"),
		DisplayName:   rpc.String(s, "displayName"),
		StatusMessage: rpc.String(s, "statusMessage"),
		IsSelf:        rpc.Bool(s, "isSelf"),
	}
}

func encodeMessage(m MessageView) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"conversationId": m.ConversationID,
		"senderId":       m.SenderID,
		"senderName":     m.SenderName,
		"recipientId":    m.RecipientID,
		"kind":           m.Kind,
		"text":           m.Text,
		"createdAtMs":    m.CreatedAtMs,
	}
}

// DecodeMessage parses a MessageView.
func DecodeMessage(s *structpb.Struct) MessageView {
	return MessageView{
		ID:             rpc.String(s, "id"),
		ConversationID: rpc.String(s, "conversationId"),
		SenderID:       rpc.String(s, "senderId"),
		SenderName:     rpc.String(s, "senderName"),
		RecipientID:    rpc.String(s, "recipientId"),
		Kind:           rpc.String(s, "kind"),
		Text:           rpc.String(s, "text"),
		CreatedAtMs:    rpc.Int(s, "createdAtMs"),
	}
}

func encodeConversation(c ConversationView) map[string]any {
	out := map[string]any{
		"id":       c.ID,
		"name":     c.Name,
		"messages": c.Messages,
	}
	if c.Latest != nil {
		out["latest"] = encodeMessage(*c.Latest)
	}
	return out
}

// DecodeConversation parses a ConversationView.
func DecodeConversation(s *structpb.Struct) ConversationView {
	c := ConversationView{
		ID:       rpc.String(s, "id"),
		Name:     rpc.String(s, "name"),
		Messages: int(rpc.Int(s, "messages")),
	}
	if ls := rpc.Struct(s, "latest"); ls != nil {
		m := DecodeMessage(ls)
		c.Latest = &m
	}
	return c
}

func encodeHit(h SearchHit) map[string]any {
	return map[string]any{"message": encodeMessage(h.Message), "snippet": h.Snippet}
}

// DecodeHit parses a SearchHit.
func DecodeHit(s *structpb.Struct) SearchHit {
	return SearchHit{Message: DecodeMessage(rpc.Struct(s, "message")), Snippet: rpc.String(s, "snippet")}
}

func encodeStatus(v StatusView) map[string]any {
	return map[string]any{
		"session":           v.Session,
		"identity":          v.Identity,
		"state":             v.State,
		"revision":          v.Revision,
		"lastPollAtMs":      v.LastPollAtMs,
		"operationsApplied": v.OperationsApplied,
		"deltas":            v.Deltas,
		"lastError":         v.LastError,
		"contacts":          v.Contacts,
		"conversations":     v.Conversations,
		"indexedMessages":   v.IndexedMessages,
		"uptimeMs":          v.UptimeMs,
	}
}

// DecodeStatus parses a StatusView.
func DecodeStatus(s *structpb.Struct) StatusView {
	return StatusView{
		Session:           rpc.String(s, "session"),
		Identity:          rpc.String(s, "identity"),
		State:             rpc.String(s, "state"),
		Revision:          rpc.Int(s, "revision"),
		LastPollAtMs:      rpc.Int(s, "lastPollAtMs"),
		OperationsApplied: rpc.Int(s, "operationsApplied"),
		Deltas:            rpc.Int(s, "deltas"),
		LastError:         rpc.String(s, "lastError"),
		Contacts:          int(rpc.Int(s, "contacts")),
		Conversations:     int(rpc.Int(s, "conversations")),
		IndexedMessages:   rpc.Int(s, "indexedMessages"),
		UptimeMs:          rpc.Int(s, "uptimeMs"),
	}
}

func encodeEvent(e EventView) map[string]any {
	out := map[string]any{
		"seq":          int64(e.Seq),
		"id":           e.ID,
		"kind":         e.Kind,
		"occurredAtMs": e.OccurredAtMs,
		"revision":     e.Revision,
		"detail":       e.Detail,
	}
	if e.Message != nil {
		out["message"] = encodeMessage(*e.Message)
	}
	return out
}

// DecodeEvent parses an EventView.
func DecodeEvent(s *structpb.Struct) EventView {
	e := EventView{
		Seq:          uint64(rpc.Int(s, "seq")),
		ID:           rpc.String(s, "id"),
		Kind:         rpc.String(s, "kind"),
		OccurredAtMs: rpc.Int(s, "occurredAtMs"),
		Revision:     rpc.Int(s, "revision"),
		Detail:       rpc.String(s, "detail"),
	}
	if ms := rpc.Struct(s, "message"); ms != nil {
		m := DecodeMessage(ms)
		e.Message = &m
	}
	return e
}

func encodeAll[T any](items []T, enc func(T) map[string]any) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, enc(it))
	}
	return out
}

// DecodeAll parses the list field key of s with dec.
func DecodeAll[T any](s *structpb.Struct, key string, dec func(*structpb.Struct) T) []T {
	values := rpc.List(s, key)
	out := make([]T, 0, len(values))
	for _, v := range values {
		out = append(out, dec(v.GetStructValue()))
	}
	return out
}
