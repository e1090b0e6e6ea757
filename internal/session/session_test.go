package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/matheus3301/lined/internal/session"
	"github.com/matheus3301/lined/internal/talk"
	"github.com/matheus3301/lined/internal/talk/talktest"
	"go.uber.org/zap"
)

const (
	identity = "me@example.com"
	secret   = "hunter2"
)

var self = talk.Contact{MID: "uself", DisplayName: "Me"}

func setup(t *testing.T) (*talk.Client, *talktest.Server) {
	t.Helper()
	srv := talktest.New(identity, secret, self)
	srv.Start()
	t.Cleanup(srv.Close)
	c, err := talk.Dial(srv.Options(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestAuthenticateSeedsRevision(t *testing.T) {
	c, srv := setup(t)
	srv.Deliver("u1", self.MID, "one")
	srv.Deliver("u1", self.MID, "two")

	s, err := session.Authenticate(context.Background(), c, identity, secret, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if got := s.CurrentRevision(); got != 2 {
		t.Errorf("CurrentRevision() = %d, want 2", got)
	}
	if s.Identity() != identity {
		t.Errorf("Identity() = %q", s.Identity())
	}

	// Token is installed on the command endpoint.
	p, err := s.Profile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p.MID != self.MID {
		t.Errorf("Profile().MID = %q, want %q", p.MID, self.MID)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	tests := []struct {
		name       string
		result     talk.LoginResultType
		wantPIN    bool
		wantResult talk.LoginResultType
	}{
		{"pin required", talk.LoginPINRequired, true, talk.LoginPINRequired},
		{"other code", talk.LoginResultType(2), false, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := setup(t)
			srv.SetLoginResult(tt.result)

			_, err := session.Authenticate(context.Background(), c, identity, secret, nil)
			var aerr *talk.AuthError
			if !errors.As(err, &aerr) {
				t.Fatalf("err = %v, want *talk.AuthError", err)
			}
			if aerr.Result != tt.wantResult {
				t.Errorf("Result = %d, want %d", aerr.Result, tt.wantResult)
			}
			if got := errors.Is(err, talk.ErrPINRequired); got != tt.wantPIN {
				t.Errorf("errors.Is(ErrPINRequired) = %v, want %v", got, tt.wantPIN)
			}
			if srv.Calls("GetLastOpRevision") != 0 {
				t.Error("revision fetched after failed login")
			}
		})
	}
}

func TestAuthenticateBadCredentials(t *testing.T) {
	c, _ := setup(t)
	_, err := session.Authenticate(context.Background(), c, identity, "wrong", nil)
	var terr *talk.TransportError
	if !errors.As(err, &terr) || terr.Code != talk.CodeAuthenticationFailed {
		t.Errorf("err = %v, want remote authentication failure", err)
	}
}

func TestAdvanceNeverDecreases(t *testing.T) {
	c, _ := setup(t)
	s, err := session.Authenticate(context.Background(), c, identity, secret, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, rev := range []int64{5, 3, 7} {
		s.Advance(rev)
	}
	if got := s.CurrentRevision(); got != 7 {
		t.Errorf("CurrentRevision() = %d, want 7", got)
	}

	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Advance(i)
		}()
	}
	wg.Wait()
	if got := s.CurrentRevision(); got != 100 {
		t.Errorf("CurrentRevision() after concurrent advance = %d, want 100", got)
	}
}

func TestSendReturnsCanonicalMessage(t *testing.T) {
	c, _ := setup(t)
	s, err := session.Authenticate(context.Background(), c, identity, secret, nil)
	if err != nil {
		t.Fatal(err)
	}
	sent, err := s.Send(context.Background(), talk.Message{To: "u123", Text: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if sent.ID == "" || sent.From != self.MID || sent.Text != "hello" {
		t.Errorf("sent = %+v", sent)
	}

	msgs, err := s.RecentMessages(context.Background(), "u123", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Errorf("history = %+v, want the sent message", msgs)
	}
}
