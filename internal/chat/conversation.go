package chat

import (
	"context"
	"sync"
)

// Conversation is the history of one contact or group, most recent message
// first. Callers only ever receive copies of the buffer.
type Conversation struct {
	id    string
	store *Store

	mu       sync.Mutex
	messages []Message
	seen     map[string]struct{}
	seeded   bool
}

func newConversation(id string, s *Store) *Conversation {
	return &Conversation{id: id, store: s, seen: make(map[string]struct{})}
}

// ID is the conversation's member id.
func (c *Conversation) ID() string {
	return c.id
}

// LastMessages returns up to n messages, most recent first. n <= 0 returns
// the whole buffer.
func (c *Conversation) LastMessages(n int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked(n)
}

// Len reports how many messages are buffered.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Latest returns the most recent message.
func (c *Conversation) Latest() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[0], true
}

// Update replaces the buffer with the n most recent messages from the server.
// With n <= 0 the buffer is cleared.
func (c *Conversation) Update(ctx context.Context, n int) ([]Message, error) {
	return c.store.Update(ctx, c.id, n)
}

// SendMessage sends text to this conversation and returns the message as
// stored.
func (c *Conversation) SendMessage(ctx context.Context, text string) (Message, error) {
	return c.store.Send(ctx, c.id, text)
}

func (c *Conversation) copyLocked(n int) []Message {
	if n <= 0 || n > len(c.messages) {
		n = len(c.messages)
	}
	out := make([]Message, n)
	copy(out, c.messages[:n])
	return out
}

// prependLocked inserts m at the front unless a message with the same id is
// already buffered.
func (c *Conversation) prependLocked(m Message) bool {
	if m.ID != "" {
		if _, dup := c.seen[m.ID]; dup {
			return false
		}
		c.seen[m.ID] = struct{}{}
	}
	c.messages = append([]Message{m}, c.messages...)
	return true
}

func (c *Conversation) replaceLocked(msgs []Message) {
	c.messages = make([]Message, 0, len(msgs))
	c.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if _, dup := c.seen[m.ID]; dup {
				continue
			}
			c.seen[m.ID] = struct{}{}
		}
		c.messages = append(c.messages, m)
	}
	c.seeded = true
}

// seedLocked installs history behind any messages buffered before the first
// fetch; those are newer than anything the fetch returned.
func (c *Conversation) seedLocked(history []Message) {
	fetched := make(map[string]struct{}, len(history))
	for _, m := range history {
		fetched[m.ID] = struct{}{}
	}
	var pending []Message
	for _, m := range c.messages {
		if _, ok := fetched[m.ID]; !ok || m.ID == "" {
			pending = append(pending, m)
		}
	}
	c.replaceLocked(append(pending, history...))
}
