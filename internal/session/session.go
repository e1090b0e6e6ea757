// Package session holds the authenticated connection to the remote service
// and the sync revision cursor, plus the on-disk layout of a local session
// directory.
package session

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/matheus3301/lined/internal/talk"
	"go.uber.org/zap"
)

// Session is an authenticated account. It is created once by Authenticate
// and shared by every other component.
type Session struct {
	svc      talk.Service
	identity string
	logger   *zap.Logger

	revision atomic.Int64
	seq      atomic.Int64
}

// Authenticate performs the credential exchange and installs the resulting
// access token on svc. It then reads the server's latest revision to seed
// the cursor. Failures are not retried.
func Authenticate(ctx context.Context, svc talk.Service, identity, secret string, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	res, err := svc.Login(ctx, identity, secret)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	switch res.Type {
	case talk.LoginSuccess:
	case talk.LoginPINRequired:
		return nil, &talk.AuthError{Result: res.Type, Err: talk.ErrPINRequired}
	default:
		return nil, &talk.AuthError{Result: res.Type}
	}
	svc.SetAccessToken(res.AuthToken)

	rev, err := svc.GetLastOpRevision(ctx)
	if err != nil {
		return nil, fmt.Errorf("read initial revision: %w", err)
	}

	s := &Session{svc: svc, identity: identity, logger: logger}
	s.revision.Store(rev)
	logger.Info("session authenticated", zap.String("identity", identity), zap.Int64("revision", rev))
	return s, nil
}

// Identity is the login identity the session was created with.
func (s *Session) Identity() string {
	return s.identity
}

// CurrentRevision returns the last revision known to be fully processed.
func (s *Session) CurrentRevision() int64 {
	return s.revision.Load()
}

// Advance moves the cursor to rev if rev is greater and returns the
// resulting cursor. The cursor never decreases.
func (s *Session) Advance(rev int64) int64 {
	for {
		cur := s.revision.Load()
		if rev <= cur {
			return cur
		}
		if s.revision.CompareAndSwap(cur, rev) {
			return rev
		}
	}
}

// FetchOperations long-polls for up to count operations after the cursor.
func (s *Session) FetchOperations(ctx context.Context, count int) ([]talk.Operation, error) {
	return s.svc.FetchOperations(ctx, s.CurrentRevision(), count)
}

// Send submits msg with the next sequence number and returns the server's
// canonical copy.
func (s *Session) Send(ctx context.Context, msg talk.Message) (talk.Message, error) {
	seq := s.seq.Add(1) - 1
	sent, err := s.svc.SendMessage(ctx, seq, &msg)
	if err != nil {
		return talk.Message{}, err
	}
	s.logger.Debug("message sent",
		zap.String("to", msg.To),
		zap.Int64("seq", seq),
		zap.String("message_id", sent.ID),
	)
	return *sent, nil
}

// RecentMessages fetches up to count messages of a conversation, most recent
// first.
func (s *Session) RecentMessages(ctx context.Context, conversationID string, count int) ([]talk.Message, error) {
	return s.svc.GetRecentMessages(ctx, conversationID, count)
}

func (s *Session) ContactIDs(ctx context.Context) ([]string, error) {
	return s.svc.GetAllContactIDs(ctx)
}

func (s *Session) Contacts(ctx context.Context, ids []string) ([]talk.Contact, error) {
	return s.svc.GetContacts(ctx, ids)
}

// Profile returns the account's own contact record.
func (s *Session) Profile(ctx context.Context) (talk.Contact, error) {
	p, err := s.svc.GetProfile(ctx)
	if err != nil {
		return talk.Contact{}, err
	}
	return *p, nil
}
