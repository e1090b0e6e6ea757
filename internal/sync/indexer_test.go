package sync

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/lined/internal/bus"
	"github.com/matheus3301/lined/internal/chat"
	"github.com/matheus3301/lined/internal/directory"
	"github.com/matheus3301/lined/internal/store"
	"github.com/matheus3301/lined/internal/talk"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestIndexMessageIdempotent(t *testing.T) {
	db := testDB(t)
	ix := NewIndexer(db, bus.New(), nil)

	m := chat.NewMessage("u1", talk.Message{ID: "m1", From: "u1", Text: "v1", CreatedTime: 1000}, nil)
	if err := ix.IndexMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := ix.IndexMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("u1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "v1" || msgs[0].CreatedAt != 1000 {
		t.Errorf("indexed = %+v, want one v1 at 1000", msgs)
	}
}

func TestIndexHistoryReplaces(t *testing.T) {
	db := testDB(t)
	ix := NewIndexer(db, bus.New(), nil)

	if err := ix.IndexMessage(chat.NewMessage("u1", talk.Message{ID: "stale", CreatedTime: 1}, nil)); err != nil {
		t.Fatal(err)
	}
	h := chat.History{ConversationID: "u1", Messages: []chat.Message{
		chat.NewMessage("u1", talk.Message{ID: "m2", Text: "two", CreatedTime: 2000}, nil),
		chat.NewMessage("u1", talk.Message{ID: "m1", Text: "one", CreatedTime: 1000}, nil),
	}}
	if err := ix.IndexHistory(h); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("u1", 0, 10)
	if len(msgs) != 2 || msgs[0].MsgID != "m2" {
		t.Errorf("indexed = %+v, want [m2 m1]", msgs)
	}
}

// TestIndexerBusSubscription verifies the indexer follows store and
// directory changes published on the bus.
func TestIndexerBusSubscription(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	logger, _ := zap.NewDevelopment()
	ix := NewIndexer(db, b, logger)
	indexed := b.Subscribe(bus.KindIndexed, 16)
	defer indexed.Close()

	ix.Start(context.Background())
	defer ix.Stop()

	wait := func() {
		t.Helper()
		select {
		case <-indexed.C:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for index.updated")
		}
	}

	b.Publish(bus.Event{Kind: bus.KindDirectoryRefresh, Payload: []directory.Contact{{ID: "u1", DisplayName: "Alice"}}})
	wait()

	s := chat.NewStore(emptyRemote{}, nil, b, nil, 0)
	if _, _, err := s.Apply(context.Background(), "u1", talk.Message{ID: "m1", From: "u1", Text: "from bus", CreatedTime: 5000}); err != nil {
		t.Fatal(err)
	}
	wait() // seeded history
	wait() // applied message

	results, err := db.SearchMessages("from bus", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.SenderName != "Alice" {
		t.Errorf("sender name = %q, want Alice", results[0].Message.SenderName)
	}
}

func TestReconcilerRecordsCheckpoints(t *testing.T) {
	db := testDB(t)
	r := NewReconciler(db, nil)

	if rev, err := r.Revision(); err != nil || rev != 0 {
		t.Fatalf("Revision() on empty = %d, %v", rev, err)
	}

	h := newHarness(t, emptyRemote{})
	h.engine.SetReconciler(r)
	h.src.push([]talk.Operation{recv(9, "m1", "a")}, nil)
	if err := h.engine.Poll(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	rev, err := r.Revision()
	if err != nil {
		t.Fatal(err)
	}
	if rev != 9 {
		t.Errorf("checkpoint revision = %d, want 9", rev)
	}
	if v, ok, _ := db.GetState(CheckpointOperationsApplied); !ok || v != "1" {
		t.Errorf("operations_applied = %q, %v", v, ok)
	}
}
