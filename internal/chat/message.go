package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/talk"
)

// ErrNotImage is returned when image data is requested from a message that
// does not carry an image.
var ErrNotImage = errors.New("message is not an image")

// Kind is the payload kind of a message.
type Kind int

const (
	KindText Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "IMAGE"
	}
	return "TEXT"
}

// Resolver resolves member ids to directory contacts.
type Resolver interface {
	Lookup(id string) (directory.Contact, error)
}

// Message is the normalized, immutable form of a raw message record. Sender
// and recipient are resolved through the directory on each call.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Kind           Kind
	Text           string
	CreatedAt      time.Time

	preview  []byte
	resolver Resolver
}

// NewMessage normalizes raw into a message of conversationID.
func NewMessage(conversationID string, raw talk.Message, r Resolver) Message {
	m := Message{
		ID:             raw.ID,
		ConversationID: conversationID,
		SenderID:       raw.From,
		RecipientID:    raw.To,
		Kind:           KindText,
		Text:           raw.Text,
		resolver:       r,
	}
	if raw.CreatedTime != 0 {
		m.CreatedAt = raw.CreatedAt()
	}
	if raw.ContentType == talk.ContentImage {
		m.Kind = KindImage
		m.preview = append([]byte(nil), raw.ContentPreview...)
	}
	return m
}

// Sender looks up the sending contact.
func (m Message) Sender() (directory.Contact, error) {
	return m.lookup(m.SenderID)
}

// Recipient looks up the receiving contact or group.
func (m Message) Recipient() (directory.Contact, error) {
	return m.lookup(m.RecipientID)
}

func (m Message) lookup(id string) (directory.Contact, error) {
	if m.resolver == nil {
		return directory.Contact{}, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
	}
	return m.resolver.Lookup(id)
}

// ImagePreview returns a copy of the preview bytes of an image message.
func (m Message) ImagePreview() ([]byte, error) {
	if m.Kind != KindImage {
		return nil, fmt.Errorf("message %s: %w", m.ID, ErrNotImage)
	}
	return append([]byte(nil), m.preview...), nil
}

func (m Message) String() string {
	from := m.SenderID
	if c, err := m.Sender(); err == nil && c.DisplayName != "" {
		from = c.DisplayName
	}
	body := m.Text
	if m.Kind == KindImage {
		body = "<image>"
	}
	return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format(time.DateTime), from, body)
}
