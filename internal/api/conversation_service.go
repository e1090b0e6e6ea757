package api

import (
	"context"

	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/rpc"
	"github.com/matheus3301/lined/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultLimit = 50

// Conversations is the conversation store the service reads and writes.
type Conversations interface {
	Get(id string) (*chat.Conversation, error)
	GetOrCreate(id string) *chat.Conversation
	List() []*chat.Conversation
}

// Index answers message searches.
type Index interface {
	SearchMessages(query, conversationID string, limit int) ([]store.SearchResult, error)
}

// Resolver names conversations after directory contacts.
type Resolver interface {
	Lookup(id string) (directory.Contact, error)
}

// ConversationService implements lined.ConversationService.
type ConversationService struct {
	convs    Conversations
	index    Index
	resolver Resolver
	logger   *zap.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(convs Conversations, index Index, resolver Resolver, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{convs: convs, index: index, resolver: resolver, logger: logger}
}

// Service describes the handlers for registration.
func (s *ConversationService) Service() *rpc.Service {
	return &rpc.Service{
		Name: ConversationServiceName,
		Unary: map[string]rpc.UnaryHandler{
			"LastMessages":       s.LastMessages,
			"UpdateConversation": s.UpdateConversation,
			"SendText":           s.SendText,
			"ListConversations":  s.ListConversations,
			"SearchMessages":     s.SearchMessages,
			"MessagePreview":     s.MessagePreview,
		},
	}
}

// LastMessages returns the buffered messages of a known conversation,
// most recent first. count <= 0 returns all of them.
func (s *ConversationService) LastMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return messageList(conv.LastMessages(int(rpc.Int(req, "count")))), nil
}

// UpdateConversation replaces the buffer with the count most recent
// messages from the server.
func (s *ConversationService) UpdateConversation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	count := int(rpc.Int(req, "count"))
	if count <= 0 {
		count = chat.DefaultHistoryDepth
	}
	msgs, err := s.convs.GetOrCreate(id).Update(ctx, count)
	if err != nil {
		s.logger.Warn("conversation update failed", zap.String("conversation", id), zap.Error(err))
		return nil, toStatus(err)
	}
	return messageList(msgs), nil
}

// SendText sends a text message to a contact or group.
func (s *ConversationService) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	text := rpc.String(req, "text")
	if text == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "text is required")
	}
	msg, err := s.convs.GetOrCreate(id).SendMessage(ctx, text)
	if err != nil {
		s.logger.Warn("send failed", zap.String("conversation", id), zap.Error(err))
		return nil, toStatus(err)
	}
	return rpc.NewStruct(map[string]any{"message": encodeMessage(messageView(msg))}), nil
}

func (s *ConversationService) ListConversations(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit := int(rpc.Int(req, "limit"))
	convs := s.convs.List()
	if limit > 0 && limit < len(convs) {
		convs = convs[:limit]
	}
	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		v := ConversationView{ID: c.ID(), Name: c.ID(), Messages: c.Len()}
		if ct, err := s.resolver.Lookup(c.ID()); err == nil && ct.DisplayName != "" {
			v.Name = ct.DisplayName
		}
		if m, ok := c.Latest(); ok {
			mv := messageView(m)
			v.Latest = &mv
		}
		views = append(views, v)
	}
	return rpc.NewStruct(map[string]any{"conversations": encodeAll(views, encodeConversation)}), nil
}

// SearchMessages searches the message index.
func (s *ConversationService) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := rpc.String(req, "query")
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	limit := int(rpc.Int(req, "limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	results, err := s.index.SearchMessages(query, rpc.String(req, "id"), limit)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Message: indexedMessageView(r.Message), Snippet: r.Snippet})
	}
	return rpc.NewStruct(map[string]any{"hits": encodeAll(hits, encodeHit)}), nil
}

// MessagePreview returns the preview bytes of a buffered image message.
// Text messages are rejected with FailedPrecondition.
func (s *ConversationService) MessagePreview(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(req)
	if err != nil {
		return nil, err
	}
	msgID := rpc.String(req, "message_id")
	if msgID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message id is required")
	}
	conv, err := s.convs.Get(id)
	if err != nil {
		return nil, toStatus(err)
	}
	for _, m := range conv.LastMessages(0) {
		if m.ID != msgID {
			continue
		}
		preview, err := m.ImagePreview()
		if err != nil {
			return nil, toStatus(err)
		}
		return rpc.NewStruct(map[string]any{"preview": preview}), nil
	}
	return nil, grpcstatus.Errorf(codes.NotFound, "message %s not buffered in %s", msgID, id)
}

func requireID(req *structpb.Struct) (string, error) {
	id := rpc.String(req, "id")
	if id == "" {
		return "", grpcstatus.Error(codes.InvalidArgument, "conversation id is required")
	}
	return id, nil
}

func messageList(msgs []chat.Message) *structpb.Struct {
	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView(m))
	}
	return rpc.NewStruct(map[string]any{"messages": encodeAll(views, encodeMessage)})
}
