package sync

import (
	"context"
	"fmt"

	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/store"
	"go.uber.org/zap"
)

// Indexer mirrors conversation and directory changes into the search
// index. It subscribes to "chat." and "directory." events on the bus;
// every write is idempotent.
type Indexer struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewIndexer creates a new indexer.
func NewIndexer(db *store.DB, b *bus.Bus, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to the bus and indexes events until Stop.
func (ix *Indexer) Start(ctx context.Context) {
	ctx, ix.cancel = context.WithCancel(ctx)
	ix.done = make(chan struct{})
	chats := ix.bus.Subscribe("chat.", 256)
	dir := ix.bus.Subscribe("directory.", 4)

	go func() {
		defer close(ix.done)
		defer chats.Close()
		defer dir.Close()
		for {
			select {
			case evt := <-chats.C:
				ix.handleEvent(evt)
			case evt := <-dir.C:
				ix.handleEvent(evt)
			case <-ctx.Done():
				if n := chats.Dropped(); n > 0 {
					ix.logger.Warn("indexer missed events", zap.Uint64("dropped", n))
				}
				return
			}
		}
	}()
}

// Stop stops the indexer and waits for the current event to finish.
func (ix *Indexer) Stop() {
	if ix.cancel != nil {
		ix.cancel()
		<-ix.done
	}
}

func (ix *Indexer) handleEvent(evt bus.Event) {
	var err error
	switch p := evt.Payload.(type) {
	case chat.Message:
		err = ix.IndexMessage(p)
	case chat.History:
		err = ix.IndexHistory(p)
	case []directory.Contact:
		err = ix.IndexContacts(p)
	default:
		return
	}
	if err != nil {
		ix.logger.Error("failed to index event", zap.String("kind", evt.Kind), zap.Error(err))
		return
	}
	ix.bus.Publish(bus.Event{Kind: bus.KindIndexed, Payload: evt.Seq})
}

// IndexMessage upserts one message.
func (ix *Indexer) IndexMessage(m chat.Message) error {
	if err := ix.db.UpsertMessage(toRow(m)); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// IndexHistory replaces the indexed messages of a conversation.
func (ix *Indexer) IndexHistory(h chat.History) error {
	rows := make([]store.Message, 0, len(h.Messages))
	for _, m := range h.Messages {
		rows = append(rows, *toRow(m))
	}
	if err := ix.db.ReplaceConversation(h.ConversationID, rows); err != nil {
		return fmt.Errorf("replace conversation %s: %w", h.ConversationID, err)
	}
	ix.logger.Debug("conversation indexed", zap.String("conversation", h.ConversationID), zap.Int("messages", len(rows)))
	return nil
}

// IndexContacts replaces the indexed directory.
func (ix *Indexer) IndexContacts(contacts []directory.Contact) error {
	rows := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, store.Contact{
			ID:            c.ID,
			DisplayName:   c.DisplayName,
			StatusMessage: c.StatusMessage,
			IsSelf:        c.IsSelf,
		})
	}
	if err := ix.db.ReplaceContacts(rows); err != nil {
		return fmt.Errorf("replace contacts: %w", err)
	}
	return nil
}

func toRow(m chat.Message) *store.Message {
	row := &store.Message{
		ConversationID: m.ConversationID,
		MsgID:          m.ID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		Kind:           m.Kind.String(),
		Body:           m.Text,
	}
	if !m.CreatedAt.IsZero() {
		row.CreatedAt = m.CreatedAt.UnixMilli()
	}
	return row
}
