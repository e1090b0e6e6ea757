package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/talk"
)

const selfID = "uself"

// fakeRemote keeps per-conversation history, most recent first.
type fakeRemote struct {
	mu      sync.Mutex
	history map[string][]talk.Message
	fetches map[string]int
	failing error
	next    int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{history: map[string][]talk.Message{}, fetches: map[string]int{}}
}

func (f *fakeRemote) RecentMessages(_ context.Context, id string, count int) ([]talk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	if f.failing != nil {
		return nil, f.failing
	}
	h := f.history[id]
	if count < len(h) {
		h = h[:count]
	}
	return append([]talk.Message(nil), h...), nil
}

func (f *fakeRemote) Send(_ context.Context, msg talk.Message) (talk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	msg.ID = fmt.Sprintf("s%d", f.next)
	msg.From = selfID
	msg.CreatedTime = time.Now().UnixMilli()
	f.history[msg.To] = append([]talk.Message{msg}, f.history[msg.To]...)
	return msg, nil
}

// seed stores n messages for id; the newest has the highest index.
func (f *fakeRemote) seed(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range n {
		m := talk.Message{ID: fmt.Sprintf("%s-h%d", id, i), From: id, To: selfID, Text: fmt.Sprintf("old %d", i)}
		f.history[id] = append([]talk.Message{m}, f.history[id]...)
	}
}

type fakeResolver map[string]directory.Contact

func (r fakeResolver) Lookup(id string) (directory.Contact, error) {
	c, ok := r[id]
	if !ok {
		return directory.Contact{}, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
	}
	return c, nil
}

var contacts = fakeResolver{
	selfID: {ID: selfID, DisplayName: "Me", IsSelf: true},
	"u123": {ID: "u123", DisplayName: "Alice"},
}

func newTestStore(remote Remote) *Store {
	return NewStore(remote, contacts, nil, nil, 0)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	s := newTestStore(newFakeRemote())

	const n = 64
	got := make([]*Conversation, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = s.GetOrCreate("g1")
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatalf("GetOrCreate returned distinct instances at %d", i)
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(newFakeRemote())
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := s.Snapshot("nope", 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("Snapshot err = %v, want ErrNotFound", err)
	}
}

func TestReplaceHistoryRoundTrip(t *testing.T) {
	remote := newFakeRemote()
	remote.seed("u1", 30)
	s := newTestStore(remote)

	const k = 10
	raw, _ := remote.RecentMessages(context.Background(), "u1", k)
	s.ReplaceHistory("u1", s.normalize("u1", raw))

	snap, err := s.Snapshot("u1", k)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != k {
		t.Fatalf("len = %d, want %d", len(snap), k)
	}
	for i := range snap {
		if snap[i].ID != raw[i].ID {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, raw[i].ID)
		}
	}
}

func TestApplySeedsNewConversation(t *testing.T) {
	remote := newFakeRemote()
	remote.seed("g1", 20)
	s := newTestStore(remote)

	incoming := talk.Message{ID: "new", From: "u9", To: "g1", Text: "hey"}
	_, msg, err := s.Apply(context.Background(), "g1", incoming)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ConversationID != "g1" {
		t.Errorf("ConversationID = %q", msg.ConversationID)
	}

	snap, _ := s.Snapshot("g1", -1)
	if len(snap) != DefaultHistoryDepth+1 {
		t.Fatalf("len = %d, want %d", len(snap), DefaultHistoryDepth+1)
	}
	if snap[0].ID != "new" {
		t.Errorf("snapshot[0] = %s, want new", snap[0].ID)
	}
	if snap[1].ID != "g1-h19" || snap[DefaultHistoryDepth].ID != "g1-h5" {
		t.Errorf("history window = %s..%s, want g1-h19..g1-h5", snap[1].ID, snap[DefaultHistoryDepth].ID)
	}

	// A second message only prepends.
	if _, _, err := s.Apply(context.Background(), "g1", talk.Message{ID: "new2", From: "u9", To: "g1"}); err != nil {
		t.Fatal(err)
	}
	if remote.fetches["g1"] != 1 {
		t.Errorf("history fetched %d times, want 1", remote.fetches["g1"])
	}
	if got, _ := s.Snapshot("g1", 1); got[0].ID != "new2" {
		t.Errorf("latest = %s, want new2", got[0].ID)
	}
}

func TestApplySeedFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failing = errors.New("unavailable")
	s := newTestStore(remote)

	_, _, err := s.Apply(context.Background(), "g1", talk.Message{ID: "m1", From: "u9", To: "g1"})
	if err == nil {
		t.Fatal("Apply() error = nil")
	}
	if snap, _ := s.Snapshot("g1", -1); len(snap) != 0 {
		t.Errorf("buffer = %d messages after failed seed, want 0", len(snap))
	}

	remote.failing = nil
	remote.seed("g1", 2)
	if _, _, err := s.Apply(context.Background(), "g1", talk.Message{ID: "m2", From: "u9", To: "g1"}); err != nil {
		t.Fatal(err)
	}
	if snap, _ := s.Snapshot("g1", -1); len(snap) != 3 {
		t.Errorf("buffer = %d messages, want 3", len(snap))
	}
}

func TestApplyDuplicateIsNotInsertedTwice(t *testing.T) {
	remote := newFakeRemote()
	s := newTestStore(remote)
	m := talk.Message{ID: "m1", From: "u1", To: selfID}

	for range 3 {
		if _, _, err := s.Apply(context.Background(), "u1", m); err != nil {
			t.Fatal(err)
		}
	}
	if snap, _ := s.Snapshot("u1", -1); len(snap) != 1 {
		t.Errorf("buffer = %d messages, want 1", len(snap))
	}
}

func TestApplyKeepsMessagesBufferedBeforeSeed(t *testing.T) {
	remote := newFakeRemote()
	remote.seed("u1", 3)
	s := newTestStore(remote)

	s.Prepend("u1", NewMessage("u1", talk.Message{ID: "early"}, nil))
	if _, _, err := s.Apply(context.Background(), "u1", talk.Message{ID: "late"}); err != nil {
		t.Fatal(err)
	}
	snap, _ := s.Snapshot("u1", -1)
	want := []string{"late", "early", "u1-h2", "u1-h1", "u1-h0"}
	if len(snap) != len(want) {
		t.Fatalf("len = %d, want %d", len(snap), len(want))
	}
	for i, id := range want {
		if snap[i].ID != id {
			t.Errorf("snapshot[%d] = %s, want %s", i, snap[i].ID, id)
		}
	}
}

func TestSendAppliesCanonicalMessage(t *testing.T) {
	remote := newFakeRemote()
	b := bus.New()
	sub := b.Subscribe("chat.", 8)
	defer sub.Close()
	s := NewStore(remote, contacts, b, nil, 0)

	conv := s.GetOrCreate("u123")
	if _, err := conv.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}

	latest, ok := conv.Latest()
	if !ok {
		t.Fatal("conversation is empty")
	}
	if latest.Text != "hello" {
		t.Errorf("text = %q, want hello", latest.Text)
	}
	sender, err := latest.Sender()
	if err != nil {
		t.Fatal(err)
	}
	if !sender.IsSelf {
		t.Errorf("sender = %+v, want self", sender)
	}
	if conv.Len() != 1 {
		t.Errorf("Len() = %d, want 1", conv.Len())
	}

	// The first send seeds from history that already holds the message.
	if _, err := conv.SendMessage(context.Background(), "again"); err != nil {
		t.Fatal(err)
	}
	if conv.Len() != 2 {
		t.Errorf("Len() = %d, want 2", conv.Len())
	}

	var applied bool
	for len(sub.C) > 0 {
		if evt := <-sub.C; evt.Kind == bus.KindMessageApplied {
			applied = true
		}
	}
	if !applied {
		t.Error("no chat.message_applied event")
	}
}

func TestUpdateReplacesBuffer(t *testing.T) {
	remote := newFakeRemote()
	remote.seed("u1", 5)
	s := newTestStore(remote)
	s.Prepend("u1", NewMessage("u1", talk.Message{ID: "local"}, nil))

	msgs, err := s.GetOrCreate("u1").Update(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("Update returned %d, want 3", len(msgs))
	}
	snap, _ := s.Snapshot("u1", 0)
	if len(snap) != 3 || snap[0].ID != "u1-h4" {
		t.Errorf("buffer after update = %v", snap)
	}
}

func TestUpdateNonPositiveClearsBuffer(t *testing.T) {
	for _, n := range []int{0, -1} {
		remote := newFakeRemote()
		remote.seed("u1", 5)
		s := newTestStore(remote)
		s.Prepend("u1", NewMessage("u1", talk.Message{ID: "local"}, nil))

		msgs, err := s.GetOrCreate("u1").Update(context.Background(), n)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Errorf("Update(%d) returned %d messages, want 0", n, len(msgs))
		}
		if got := s.GetOrCreate("u1").Len(); got != 0 {
			t.Errorf("Update(%d) left %d buffered", n, got)
		}
		if remote.fetches["u1"] != 0 {
			t.Errorf("Update(%d) fetched history %d times", n, remote.fetches["u1"])
		}
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := newTestStore(newFakeRemote())
	s.Prepend("u1", NewMessage("u1", talk.Message{ID: "a", Text: "one"}, nil))

	snap, _ := s.Snapshot("u1", 0)
	snap[0].Text = "mutated"
	again, _ := s.Snapshot("u1", 0)
	if again[0].Text != "one" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestConcurrentApplyAndRead(t *testing.T) {
	s := newTestStore(newFakeRemote())
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range 50 {
				id := fmt.Sprintf("c%d", i%3)
				_, _, err := s.Apply(context.Background(), id, talk.Message{ID: fmt.Sprintf("w%d-%d", w, i)})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 50 {
				for _, c := range s.List() {
					c.LastMessages(5)
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, c := range s.List() {
		total += c.Len()
	}
	if total != 200 {
		t.Errorf("total messages = %d, want 200", total)
	}
}

func TestListOrdersByActivity(t *testing.T) {
	s := newTestStore(newFakeRemote())
	now := time.Now()
	s.Prepend("old", NewMessage("old", talk.Message{ID: "1", CreatedTime: now.Add(-time.Hour).UnixMilli()}, nil))
	s.Prepend("new", NewMessage("new", talk.Message{ID: "2", CreatedTime: now.UnixMilli()}, nil))
	s.GetOrCreate("empty")

	list := s.List()
	want := []string{"new", "old", "empty"}
	for i, c := range list {
		if c.ID() != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, c.ID(), want[i])
		}
	}
}
