// Package talktest provides an in-memory implementation of the remote talk
// service served over a bufconn listener, for tests.
package talktest

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/matheus3301/lined/internal/rpc"
	"github.com/matheus3301/lined/internal/talk"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const target = "passthrough:///talktest"

// Server is a fake talk service holding one account and its contacts,
// conversations and operation log.
type Server struct {
	// PollTimeout is how long FetchOperations waits for new operations
	// before answering with an empty batch.
	PollTimeout time.Duration

	mu         sync.Mutex
	identity   string
	secret     string
	result     talk.LoginResultType
	token      string
	self       talk.Contact
	contacts   map[string]talk.Contact
	history    map[string][]talk.Message // most recent first
	ops        []talk.Operation
	revision   int64
	nextID     int
	superseded bool
	failures   map[string]error
	changed    chan struct{}
	calls      map[string]int

	lis  *bufconn.Listener
	grpc *grpc.Server
}

// New returns a server for the account identity/secret whose own profile is
// self. Call Start before dialing.
func New(identity, secret string, self talk.Contact) *Server {
	return &Server{
		PollTimeout: 200 * time.Millisecond,
		identity:    identity,
		secret:      secret,
		result:      talk.LoginSuccess,
		token:       "token-" + identity,
		self:        self,
		contacts:    make(map[string]talk.Contact),
		history:     make(map[string][]talk.Message),
		failures:    make(map[string]error),
		changed:     make(chan struct{}),
		calls:       make(map[string]int),
	}
}

// Start serves the command and poll services on an in-memory listener.
func (s *Server) Start() {
	s.lis = bufconn.Listen(1 << 20)
	s.grpc = grpc.NewServer()
	s.commandService().Register(s.grpc)
	s.pollService().Register(s.grpc)
	go func() { _ = s.grpc.Serve(s.lis) }()
}

// Close stops the server.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.Stop()
	}
}

// Options returns client options that dial this server.
func (s *Server) Options() talk.Options {
	return talk.Options{
		CommandAddr: target,
		SyncAddr:    target,
		Insecure:    true,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return s.lis.DialContext(ctx)
			}),
		},
	}
}

// Token is the access token issued on successful login.
func (s *Server) Token() string {
	return s.token
}

// SetLoginResult forces the outcome of the next logins.
func (s *Server) SetLoginResult(r talk.LoginResultType) {
	s.mu.Lock()
	s.result = r
	s.mu.Unlock()
}

// AddContact registers c in the account's contact list.
func (s *Server) AddContact(c talk.Contact) {
	s.mu.Lock()
	s.contacts[c.MID] = c
	s.mu.Unlock()
}

// SeedHistory stores msgs (oldest first) as existing history of a
// conversation without producing operations.
func (s *Server) SeedHistory(conversationID string, msgs ...talk.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.history[conversationID] = append([]talk.Message{m}, s.history[conversationID]...)
	}
}

// Deliver records a message from sender to recipient and appends the
// matching RECEIVE_MESSAGE operation.
func (s *Server) Deliver(from, to, text string) talk.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.newMessageLocked(from, to, text)
	s.appendLocked(talk.Operation{Type: talk.OpReceiveMessage, Message: &m})
	return m
}

// Append adds a raw operation, assigning the next revision when op.Revision
// is zero.
func (s *Server) Append(op talk.Operation) talk.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(op)
}

// Supersede makes every later call fail as if the account logged in on
// another machine.
func (s *Server) Supersede() {
	s.mu.Lock()
	s.superseded = true
	s.notifyLocked()
	s.mu.Unlock()
}

// FailNext makes the next call to method fail with err.
func (s *Server) FailNext(method string, err error) {
	s.mu.Lock()
	s.failures[method] = err
	s.mu.Unlock()
}

// Calls reports how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Revision is the latest assigned revision.
func (s *Server) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *Server) newMessageLocked(from, to, text string) talk.Message {
	s.nextID++
	m := talk.Message{
		ID:          fmt.Sprintf("m%d", s.nextID),
		From:        from,
		To:          to,
		ContentType: talk.ContentText,
		Text:        text,
		CreatedTime: time.Now().UnixMilli(),
	}
	conv := to
	if to == s.self.MID {
		conv = from
	}
	s.history[conv] = append([]talk.Message{m}, s.history[conv]...)
	return m
}

func (s *Server) appendLocked(op talk.Operation) talk.Operation {
	if op.Revision == 0 {
		op.Revision = s.revision + 1
	}
	s.revision = max(s.revision, op.Revision)
	s.ops = append(s.ops, op)
	s.notifyLocked()
	return op
}

func (s *Server) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// guard records the call, checks credentials and injected failures.
func (s *Server) guard(ctx context.Context, method string, needToken bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	if s.superseded {
		return talk.NewException(talk.CodeNotAuthorizedDevice, "logged in on another machine")
	}
	if !needToken {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	if got := md.Get(talk.HeaderAccess); len(got) == 0 || got[0] != s.token {
		return talk.NewException(talk.CodeAuthenticationFailed, "invalid access token")
	}
	return nil
}

func (s *Server) commandService() *rpc.Service {
	return &rpc.Service{
		Name: talk.CommandServiceName,
		Unary: map[string]rpc.UnaryHandler{
			"Login":             s.login,
			"GetLastOpRevision": s.lastOpRevision,
			"GetAllContactIds":  s.allContactIDs,
			"GetContacts":       s.getContacts,
			"GetProfile":        s.getProfile,
			"GetRecentMessages": s.recentMessages,
			"SendMessage":       s.sendMessage,
		},
	}
}

func (s *Server) pollService() *rpc.Service {
	return &rpc.Service{
		Name: talk.PollServiceName,
		Unary: map[string]rpc.UnaryHandler{
			"FetchOperations": s.fetchOperations,
		},
	}
}

func (s *Server) login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "Login", false); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rpc.String(req, "identity") != s.identity || rpc.String(req, "secret") != s.secret {
		return nil, talk.NewException(talk.CodeAuthenticationFailed, "invalid credentials")
	}
	out := map[string]any{"type": int64(s.result)}
	if s.result == talk.LoginSuccess {
		out["authToken"] = s.token
	}
	return rpc.NewStruct(out), nil
}

func (s *Server) lastOpRevision(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "GetLastOpRevision", true); err != nil {
		return nil, err
	}
	return rpc.NewStruct(map[string]any{"revision": s.Revision()}), nil
}

func (s *Server) allContactIDs(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "GetAllContactIds", true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]any, 0, len(s.contacts))
	for id := range s.contacts {
		ids = append(ids, id)
	}
	return rpc.NewStruct(map[string]any{"ids": ids}), nil
}

func (s *Server) getContacts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "GetContacts", true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []talk.Contact
	for _, id := range rpc.Strings(req, "ids") {
		if c, ok := s.contacts[id]; ok {
			found = append(found, c)
		}
	}
	return rpc.NewStruct(map[string]any{"contacts": talk.EncodeList(found, talk.EncodeContact)}), nil
}

func (s *Server) getProfile(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "GetProfile", true); err != nil {
		return nil, err
	}
	return rpc.NewStruct(talk.EncodeContact(s.self)), nil
}

func (s *Server) recentMessages(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "GetRecentMessages", true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.history[rpc.String(req, "id")]
	if n := int(rpc.Int(req, "count")); n < len(msgs) {
		msgs = msgs[:max(n, 0)]
	}
	return rpc.NewStruct(map[string]any{"messages": talk.EncodeList(msgs, talk.EncodeMessage)}), nil
}

func (s *Server) sendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "SendMessage", true); err != nil {
		return nil, err
	}
	in, err := talk.DecodeMessage(rpc.Struct(req, "message"))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "decode message: %v", err)
	}
	if in.To == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message has no recipient")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.newMessageLocked(s.self.MID, in.To, in.Text)
	s.appendLocked(talk.Operation{Type: talk.OpSendMessage, Message: &m})
	return rpc.NewStruct(talk.EncodeMessage(m)), nil
}

func (s *Server) fetchOperations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.guard(ctx, "FetchOperations", true); err != nil {
		return nil, err
	}
	revision := rpc.Int(req, "revision")
	count := int(rpc.Int(req, "count"))
	timeout := time.NewTimer(s.PollTimeout)
	defer timeout.Stop()

	for {
		s.mu.Lock()
		if s.superseded {
			s.mu.Unlock()
			return nil, talk.NewException(talk.CodeNotAuthorizedDevice, "logged in on another machine")
		}
		var batch []talk.Operation
		for _, op := range s.ops {
			if op.Revision > revision {
				batch = append(batch, op)
				if count > 0 && len(batch) == count {
					break
				}
			}
		}
		changed := s.changed
		s.mu.Unlock()

		if len(batch) > 0 {
			return rpc.NewStruct(map[string]any{"operations": talk.EncodeList(batch, talk.EncodeOperation)}), nil
		}
		select {
		case <-changed:
		case <-timeout.C:
			return rpc.NewStruct(map[string]any{"operations": []any{}}), nil
		case <-ctx.Done():
			return nil, grpcstatus.FromContextError(ctx.Err()).Err()
		}
	}
}
