// Package chat holds conversations and their message buffers, and the one
// apply path shared by the sync loop and local sends.
package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/talk"
	"go.uber.org/zap"
)

// DefaultHistoryDepth is how many messages seed a newly observed
// conversation.
const DefaultHistoryDepth = 15

// ErrNotFound is returned for conversation ids the store has never seen.
var ErrNotFound = errors.New("conversation not found")

// Remote is the subset of the session the store calls.
type Remote interface {
	RecentMessages(ctx context.Context, conversationID string, count int) ([]talk.Message, error)
	Send(ctx context.Context, msg talk.Message) (talk.Message, error)
}

// History is the payload of a KindHistoryReplaced event.
type History struct {
	ConversationID string
	Messages       []Message
}

// Store maps conversation ids to conversations. Lock order is the map lock
// first, then a conversation's lock; the map lock is never taken while a
// conversation lock is held.
type Store struct {
	remote   Remote
	resolver Resolver
	bus      *bus.Bus
	logger   *zap.Logger
	depth    int

	mu    sync.RWMutex
	convs map[string]*Conversation
}

// NewStore creates an empty store. depth <= 0 selects DefaultHistoryDepth.
func NewStore(remote Remote, resolver Resolver, b *bus.Bus, logger *zap.Logger, depth int) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &Store{
		remote:   remote,
		resolver: resolver,
		bus:      b,
		logger:   logger,
		depth:    depth,
		convs:    make(map[string]*Conversation),
	}
}

// GetOrCreate returns the conversation for id, registering an empty one on
// first use. Concurrent callers always get the same instance.
func (s *Store) GetOrCreate(id string) *Conversation {
	s.mu.RLock()
	c, ok := s.convs[id]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		return c
	}
	c = newConversation(id, s)
	s.convs[id] = c
	return c
}

// Get returns an existing conversation.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// ConversationFor returns the conversation with a directory contact.
func (s *Store) ConversationFor(contact directory.Contact) *Conversation {
	return s.GetOrCreate(contact.ID)
}

// List returns all conversations, most recently active first.
func (s *Store) List() []*Conversation {
	s.mu.RLock()
	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	s.mu.RUnlock()

	latest := make(map[*Conversation]int64, len(out))
	for _, c := range out {
		if m, ok := c.Latest(); ok {
			latest[c] = m.CreatedAt.UnixNano()
		}
	}
	slices.SortFunc(out, func(a, b *Conversation) int {
		if n := cmp.Compare(latest[b], latest[a]); n != 0 {
			return n
		}
		return cmp.Compare(a.id, b.id)
	})
	return out
}

// Len reports how many conversations are registered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// ReplaceHistory discards the buffer of id and installs msgs (most recent
// first).
func (s *Store) ReplaceHistory(id string, msgs []Message) {
	c := s.GetOrCreate(id)
	c.mu.Lock()
	c.replaceLocked(msgs)
	snap := c.copyLocked(0)
	c.mu.Unlock()
	s.publishHistory(id, snap)
}

// Prepend inserts msg at the front of the buffer of id. It reports false
// when a message with the same id is already buffered.
func (s *Store) Prepend(id string, msg Message) bool {
	c := s.GetOrCreate(id)
	c.mu.Lock()
	inserted := c.prependLocked(msg)
	c.mu.Unlock()
	if inserted {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageApplied, Payload: msg})
	}
	return inserted
}

// Snapshot copies up to n messages of id, most recent first; n <= 0 copies
// all of them.
func (s *Store) Snapshot(id string, n int) ([]Message, error) {
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return c.LastMessages(n), nil
}

// Apply inserts raw into conversation id. A conversation that has not been
// seeded yet first gets the most recent history from the server, so a newly
// observed conversation never starts with a single message. If seeding
// fails nothing is inserted and the next Apply retries the seed.
func (s *Store) Apply(ctx context.Context, id string, raw talk.Message) (*Conversation, Message, error) {
	c := s.GetOrCreate(id)
	msg := NewMessage(id, raw, s.resolver)

	c.mu.Lock()
	var seeded []Message
	if !c.seeded {
		history, err := s.remote.RecentMessages(ctx, id, s.depth)
		if err != nil {
			c.mu.Unlock()
			return nil, Message{}, fmt.Errorf("seed conversation %s: %w", id, err)
		}
		c.seedLocked(s.normalize(id, history))
		seeded = c.copyLocked(0)
	}
	inserted := c.prependLocked(msg)
	c.mu.Unlock()

	if seeded != nil {
		s.logger.Debug("conversation seeded", zap.String("conversation", id), zap.Int("messages", len(seeded)))
		s.publishHistory(id, seeded)
	}
	if inserted {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageApplied, Payload: msg})
	} else {
		s.logger.Debug("message already buffered", zap.String("conversation", id), zap.String("message_id", msg.ID))
	}
	return c, msg, nil
}

// Update fetches the n most recent messages of id and replaces its buffer.
// With n <= 0 the buffer is cleared and the server is not asked.
func (s *Store) Update(ctx context.Context, id string, n int) ([]Message, error) {
	if n <= 0 {
		s.ReplaceHistory(id, nil)
		return nil, nil
	}
	raw, err := s.remote.RecentMessages(ctx, id, n)
	if err != nil {
		return nil, fmt.Errorf("fetch history of %s: %w", id, err)
	}
	msgs := s.normalize(id, raw)
	s.ReplaceHistory(id, msgs)
	return msgs, nil
}

// Send submits text to id and applies the server's canonical message
// through Apply, exactly as if it had arrived from the sync loop.
func (s *Store) Send(ctx context.Context, id, text string) (Message, error) {
	sent, err := s.remote.Send(ctx, talk.Message{To: id, ContentType: talk.ContentText, Text: text})
	if err != nil {
		return Message{}, fmt.Errorf("send to %s: %w", id, err)
	}
	_, msg, err := s.Apply(ctx, id, sent)
	if err != nil {
		return Message{}, err
	}
	s.logger.Info("message sent", zap.String("conversation", id), zap.String("message_id", msg.ID))
	return msg, nil
}

func (s *Store) normalize(id string, raw []talk.Message) []Message {
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		out = append(out, NewMessage(id, r, s.resolver))
	}
	return out
}

func (s *Store) publishHistory(id string, msgs []Message) {
	s.bus.Publish(bus.Event{Kind: bus.KindHistoryReplaced, Payload: History{ConversationID: id, Messages: msgs}})
}
