// Package client is the typed client of the daemon's control API.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/lined/internal/api"
	"github.com/matheus3301/lined/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	return Dial("unix://" + socketPath)
}

// Dial connects to target with plaintext credentials; opts are appended.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, service, method string, req map[string]any) (*structpb.Struct, error) {
	var in *structpb.Struct
	if req != nil {
		in = rpc.NewStruct(req)
	}
	return rpc.Invoke(ctx, c.conn, rpc.Method(service, method), in)
}

// Status returns the daemon and sync loop status.
func (c *Client) Status(ctx context.Context) (api.StatusView, error) {
	out, err := c.call(ctx, api.SyncServiceName, "GetSyncStatus", nil)
	if err != nil {
		return api.StatusView{}, err
	}
	return api.DecodeStatus(out), nil
}

// Contacts lists every cached contact.
func (c *Client) Contacts(ctx context.Context) ([]api.ContactView, error) {
	out, err := c.call(ctx, api.ContactServiceName, "ListContacts", nil)
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "contacts", api.DecodeContact), nil
}

// FindContacts searches contacts by display name.
func (c *Client) FindContacts(ctx context.Context, name string) ([]api.ContactView, error) {
	out, err := c.call(ctx, api.ContactServiceName, "FindContacts", map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "contacts", api.DecodeContact), nil
}

// RefreshContacts reloads the directory from the server.
func (c *Client) RefreshContacts(ctx context.Context) ([]api.ContactView, error) {
	out, err := c.call(ctx, api.ContactServiceName, "RefreshContacts", nil)
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "contacts", api.DecodeContact), nil
}

// LastMessages returns up to count buffered messages of a conversation.
func (c *Client) LastMessages(ctx context.Context, id string, count int) ([]api.MessageView, error) {
	out, err := c.call(ctx, api.ConversationServiceName, "LastMessages", map[string]any{"id": id, "count": count})
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "messages", api.DecodeMessage), nil
}

// Update refetches the count most recent messages of a conversation.
func (c *Client) Update(ctx context.Context, id string, count int) ([]api.MessageView, error) {
	out, err := c.call(ctx, api.ConversationServiceName, "UpdateConversation", map[string]any{"id": id, "count": count})
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "messages", api.DecodeMessage), nil
}

// Send sends text to a contact or group.
func (c *Client) Send(ctx context.Context, id, text string) (api.MessageView, error) {
	out, err := c.call(ctx, api.ConversationServiceName, "SendText", map[string]any{"id": id, "text": text})
	if err != nil {
		return api.MessageView{}, err
	}
	return api.DecodeMessage(rpc.Struct(out, "message")), nil
}

// Preview returns the preview bytes of a buffered image message.
func (c *Client) Preview(ctx context.Context, id, messageID string) ([]byte, error) {
	out, err := c.call(ctx, api.ConversationServiceName, "MessagePreview", map[string]any{"id": id, "message_id": messageID})
	if err != nil {
		return nil, err
	}
	return rpc.Bytes(out, "preview")
}

// Conversations lists known conversations, most recently active first.
func (c *Client) Conversations(ctx context.Context, limit int) ([]api.ConversationView, error) {
	out, err := c.call(ctx, api.ConversationServiceName, "ListConversations", map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "conversations", api.DecodeConversation), nil
}

// Search searches indexed messages, optionally within one conversation.
func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) ([]api.SearchHit, error) {
	out, err := c.call(ctx, api.ConversationServiceName, "SearchMessages", map[string]any{
		"query": query,
		"id":    conversationID,
		"limit": limit,
	})
	if err != nil {
		return nil, err
	}
	return api.DecodeAll(out, "hits", api.DecodeHit), nil
}

// Watch streams sync events to fn until ctx is done, the stream ends, or fn
// returns an error. conversationID narrows deltas to one conversation.
func (c *Client) Watch(ctx context.Context, conversationID string, fn func(api.EventView) error) error {
	recv, err := rpc.Subscribe(ctx, c.conn, rpc.Method(api.SyncServiceName, "WatchEvents"),
		rpc.NewStruct(map[string]any{"id": conversationID}))
	if err != nil {
		return err
	}
	for {
		out, err := recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(api.DecodeEvent(out)); err != nil {
			return err
		}
	}
}
