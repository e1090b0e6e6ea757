package talk

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/lined/internal/rpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service names of the two remote endpoints.
const (
	CommandServiceName = "talk.TalkService"
	PollServiceName    = "talk.PollService"
)

// DefaultApplication identifies the client to the server.
const DefaultApplication = "DESKTOPWIN/3.2.1.83/WINDOWS/5.1.2600-XP-x64"

// Metadata keys carried on every call.
const (
	HeaderApplication = "x-line-application"
	HeaderAccess      = "x-line-access"
)

// Options configures Dial.
type Options struct {
	CommandAddr string
	SyncAddr    string
	Application string
	Insecure    bool
	// PollTimeout bounds a single FetchOperations call on the client side.
	// Zero leaves it to the server.
	PollTimeout time.Duration
	DialOptions []grpc.DialOption
}

// Client is the gRPC implementation of Service. The command and sync
// endpoints each get their own connection; both share one credential so an
// installed access token applies to every subsequent call.
type Client struct {
	command     *grpc.ClientConn
	sync        *grpc.ClientConn
	creds       *accessCredentials
	pollTimeout time.Duration
	logger      *zap.Logger
}

var _ Service = (*Client)(nil)

// Dial connects to both endpoints. Connections are established lazily by
// grpc on first use.
func Dial(opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SyncAddr == "" {
		opts.SyncAddr = opts.CommandAddr
	}
	if opts.Application == "" {
		opts.Application = DefaultApplication
	}

	creds := &accessCredentials{application: opts.Application, secure: !opts.Insecure, token: "x"}
	transport := insecure.NewCredentials()
	if !opts.Insecure {
		transport = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(transport),
		grpc.WithPerRPCCredentials(creds),
	}, opts.DialOptions...)

	command, err := grpc.NewClient(opts.CommandAddr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial command endpoint: %w", err)
	}
	syncConn, err := grpc.NewClient(opts.SyncAddr, dialOpts...)
	if err != nil {
		_ = command.Close()
		return nil, fmt.Errorf("dial sync endpoint: %w", err)
	}

	logger.Debug("talk client constructed",
		zap.String("command_addr", opts.CommandAddr),
		zap.String("sync_addr", opts.SyncAddr),
		zap.Bool("insecure", opts.Insecure),
	)

	return &Client{
		command:     command,
		sync:        syncConn,
		creds:       creds,
		pollTimeout: opts.PollTimeout,
		logger:      logger,
	}, nil
}

// Close closes both connections.
func (c *Client) Close() error {
	errSync := c.sync.Close()
	if err := c.command.Close(); err != nil {
		return err
	}
	return errSync
}

// SetAccessToken installs token on both connections.
func (c *Client) SetAccessToken(token string) {
	c.creds.set(token)
}

func (c *Client) call(ctx context.Context, op string, req map[string]any) (*structpb.Struct, error) {
	var in *structpb.Struct
	if req != nil {
		in = rpc.NewStruct(req)
	}
	out, err := rpc.Invoke(ctx, c.command, rpc.Method(CommandServiceName, op), in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, translate(op, err)
	}
	return out, nil
}

func (c *Client) Login(ctx context.Context, identity, secret string) (*LoginResult, error) {
	out, err := c.call(ctx, "Login", map[string]any{
		"identity":       identity,
		"secret":         secret,
		"keepLoggedIn":   true,
		"accessLocation": "127.0.0.1",
		"systemName":     "lined",
	})
	if err != nil {
		return nil, err
	}
	result := &LoginResult{
		Type:      LoginResultType(rpc.Int(out, "type")),
		AuthToken: rpc.String(out, "authToken"),
	}
	c.logger.Debug("login completed", zap.Int32("result_type", int32(result.Type)))
	return result, nil
}

func (c *Client) GetLastOpRevision(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, "GetLastOpRevision", nil)
	if err != nil {
		return 0, err
	}
	return rpc.Int(out, "revision"), nil
}

func (c *Client) GetAllContactIDs(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, "GetAllContactIds", nil)
	if err != nil {
		return nil, err
	}
	return rpc.Strings(out, "ids"), nil
}

func (c *Client) GetContacts(ctx context.Context, ids []string) ([]Contact, error) {
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	out, err := c.call(ctx, "GetContacts", map[string]any{"ids": list})
	if err != nil {
		return nil, err
	}
	values := rpc.List(out, "contacts")
	contacts := make([]Contact, 0, len(values))
	for _, v := range values {
		contacts = append(contacts, DecodeContact(v.GetStructValue()))
	}
	return contacts, nil
}

func (c *Client) GetProfile(ctx context.Context) (*Contact, error) {
	out, err := c.call(ctx, "GetProfile", nil)
	if err != nil {
		return nil, err
	}
	profile := DecodeContact(out)
	return &profile, nil
}

func (c *Client) GetRecentMessages(ctx context.Context, conversationID string, count int) ([]Message, error) {
	out, err := c.call(ctx, "GetRecentMessages", map[string]any{
		"id":    conversationID,
		"count": count,
	})
	if err != nil {
		return nil, err
	}
	msgs, err := decodeMessages(rpc.List(out, "messages"))
	if err != nil {
		return nil, fmt.Errorf("GetRecentMessages: %w", err)
	}
	return msgs, nil
}

func (c *Client) SendMessage(ctx context.Context, seq int64, msg *Message) (*Message, error) {
	out, err := c.call(ctx, "SendMessage", map[string]any{
		"seq":     seq,
		"message": EncodeMessage(*msg),
	})
	if err != nil {
		return nil, err
	}
	sent, err := DecodeMessage(out)
	if err != nil {
		return nil, fmt.Errorf("SendMessage: %w", err)
	}
	return &sent, nil
}

// FetchOperations long-polls the sync endpoint. A deadline or an EOF with no
// data is reported as ErrTimeout.
func (c *Client) FetchOperations(ctx context.Context, revision int64, count int) ([]Operation, error) {
	callCtx := ctx
	if c.pollTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.pollTimeout)
		defer cancel()
	}

	c.logger.Debug("began long-polling call", zap.Int64("revision", revision), zap.Int("count", count))
	in := rpc.NewStruct(map[string]any{"revision": revision, "count": count})
	out, err := rpc.Invoke(callCtx, c.sync, rpc.Method(PollServiceName, "FetchOperations"), in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("FetchOperations: %w", ctx.Err())
		}
		return nil, translatePoll("FetchOperations", err)
	}

	values := rpc.List(out, "operations")
	ops := make([]Operation, 0, len(values))
	for _, v := range values {
		op, err := DecodeOperation(v.GetStructValue())
		if err != nil {
			return nil, &TransportError{Op: "FetchOperations", Err: err}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// accessCredentials attaches the application id and the current access
// token to every call.
type accessCredentials struct {
	application string
	secure      bool

	mu    sync.RWMutex
	token string
}

func (a *accessCredentials) set(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

func (a *accessCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return map[string]string{
		HeaderApplication: a.application,
		HeaderAccess:      a.token,
	}, nil
}

func (a *accessCredentials) RequireTransportSecurity() bool {
	return a.secure
}
