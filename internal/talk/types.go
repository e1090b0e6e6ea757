// Package talk is the boundary to the remote messaging service: its wire
// types, the primitive calls the client is built from, and the error
// taxonomy those calls surface.
package talk

import (
	"context"
	"fmt"
	"time"
)

// OpType is the kind of a server-side operation in the sync stream.
type OpType int32

const (
	OpEndOfOperation        OpType = 0
	OpSendMessage           OpType = 25
	OpReceiveMessage        OpType = 26
	OpReceiveMessageReceipt OpType = 28
)

func (t OpType) String() string {
	switch t {
	case OpEndOfOperation:
		return "END_OF_OPERATION"
	case OpSendMessage:
		return "SEND_MESSAGE"
	case OpReceiveMessage:
		return "RECEIVE_MESSAGE"
	case OpReceiveMessageReceipt:
		return "RECEIVE_MESSAGE_RECEIPT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// ContentType is the payload type of a message.
type ContentType int32

const (
	ContentText  ContentType = 0
	ContentImage ContentType = 1
)

// LoginResultType is the outcome code of a credential exchange.
type LoginResultType int32

const (
	LoginSuccess     LoginResultType = 1
	LoginPINRequired LoginResultType = 3
)

// LoginResult is returned by Login.
type LoginResult struct {
	Type      LoginResultType
	AuthToken string
}

// Contact is a contact or profile record as the server returns it.
type Contact struct {
	MID           string
	DisplayName   string
	StatusMessage string
}

// Message is a raw chat message record.
type Message struct {
	ID             string
	From           string
	To             string
	ContentType    ContentType
	Text           string
	ContentPreview []byte
	CreatedTime    int64 // unix millis
}

// CreatedAt returns the server creation time.
func (m Message) CreatedAt() time.Time {
	return time.UnixMilli(m.CreatedTime)
}

// Operation is one entry of the revision-ordered operation stream.
type Operation struct {
	Revision int64
	Type     OpType
	Message  *Message
}

// Service is the remote contract. Command calls are short round-trips;
// FetchOperations is a long-poll that may block until the server times out.
type Service interface {
	Login(ctx context.Context, identity, secret string) (*LoginResult, error)
	SetAccessToken(token string)
	GetLastOpRevision(ctx context.Context) (int64, error)
	GetAllContactIDs(ctx context.Context) ([]string, error)
	GetContacts(ctx context.Context, ids []string) ([]Contact, error)
	GetProfile(ctx context.Context) (*Contact, error)
	GetRecentMessages(ctx context.Context, conversationID string, count int) ([]Message, error)
	SendMessage(ctx context.Context, seq int64, msg *Message) (*Message, error)
	FetchOperations(ctx context.Context, revision int64, count int) ([]Operation, error)
}
