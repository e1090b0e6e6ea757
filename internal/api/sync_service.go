package api

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/rpc"
	"github.com/matheus3301/lined/internal/status"
	"github.com/matheus3301/lined/internal/store"
	intsync "github.com/matheus3301/lined/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// Engine reports the sync loop's status.
type Engine interface {
	Status() intsync.Status
}

// Counter reports a cache size.
type Counter interface {
	Len() int
}

// Stats reports index totals.
type Stats interface {
	Stats() (store.Stats, error)
}

// SyncInfo identifies the daemon in status replies.
type SyncInfo struct {
	SessionName string
	Identity    string
}

// SyncService implements lined.SyncService.
type SyncService struct {
	info      SyncInfo
	startedAt time.Time
	engine    Engine
	contacts  Counter
	convs     Counter
	index     Stats
	bus       *bus.Bus
	logger    *zap.Logger
	closing   chan struct{}
	closeOnce sync.Once
}

// NewSyncService creates a new sync service.
func NewSyncService(info SyncInfo, engine Engine, contacts, convs Counter, index Stats, b *bus.Bus, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		info:      info,
		startedAt: time.Now(),
		engine:    engine,
		contacts:  contacts,
		convs:     convs,
		index:     index,
		bus:       b,
		logger:    logger,
		closing:   make(chan struct{}),
	}
}

// Close ends every open WatchEvents stream.
func (s *SyncService) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Service describes the handlers for registration.
func (s *SyncService) Service() *rpc.Service {
	return &rpc.Service{
		Name: SyncServiceName,
		Unary: map[string]rpc.UnaryHandler{
			"GetSyncStatus": s.GetSyncStatus,
		},
		Streams: map[string]rpc.StreamHandler{
			"WatchEvents": s.WatchEvents,
		},
	}
}

func (s *SyncService) GetSyncStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.engine.Status()
	v := StatusView{
		Session:           s.info.SessionName,
		Identity:          s.info.Identity,
		State:             string(st.State),
		Revision:          st.Revision,
		OperationsApplied: st.OperationsApplied,
		Deltas:            st.Deltas,
		LastError:         st.LastError,
		Contacts:          s.contacts.Len(),
		Conversations:     s.convs.Len(),
		UptimeMs:          time.Since(s.startedAt).Milliseconds(),
	}
	if !st.LastPollAt.IsZero() {
		v.LastPollAtMs = st.LastPollAt.UnixMilli()
	}
	if stats, err := s.index.Stats(); err == nil {
		v.IndexedMessages = stats.Messages
	} else {
		s.logger.Warn("index stats unavailable", zap.Error(err))
	}
	return rpc.NewStruct(encodeStatus(v)), nil
}

// WatchEvents streams sync events until the client goes away. A non-empty
// "id" restricts deltas to one conversation.
func (s *SyncService) WatchEvents(req *structpb.Struct, stream rpc.Stream) error {
	only := rpc.String(req, "id")
	sub := s.bus.Subscribe("sync.", 256)
	defer sub.Close()

	for {
		select {
		case evt := <-sub.C:
			view, ok := eventView(evt)
			if !ok || (only != "" && (view.Message == nil || view.Message.ConversationID != only)) {
				continue
			}
			if err := stream.Send(rpc.NewStruct(encodeEvent(view))); err != nil {
				return err
			}
		case <-s.closing:
			return nil
		case <-stream.Context().Done():
			if n := sub.Dropped(); n > 0 {
				s.logger.Warn("event watcher fell behind", zap.Uint64("dropped", n))
			}
			return nil
		}
	}
}

func eventView(evt bus.Event) (EventView, bool) {
	v := EventView{Seq: evt.Seq, Kind: evt.Kind, OccurredAtMs: evt.Timestamp.UnixMilli()}
	switch p := evt.Payload.(type) {
	case intsync.Delta:
		v.ID = p.ID.String()
		v.Kind = string(p.Kind)
		v.Revision = p.Revision
		m := messageView(p.Message)
		v.Message = &m
	case status.Change:
		v.Detail = string(p.From) + " -> " + string(p.To)
	case string:
		v.Detail = p
	default:
		return v, false
	}
	return v, true
}
