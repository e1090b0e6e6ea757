package store

import (
	"path/filepath"
	"strings"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestOpenFile(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if result, err := db.Migrate(); err != nil || !result.Changed {
		t.Fatalf("Migrate() = %+v, %v", result, err)
	}
}

func TestMemoryDatabasesAreIsolated(t *testing.T) {
	a, b := testDB(t), testDB(t)
	if err := a.UpsertMessage(&Message{ConversationID: "c", MsgID: "m1", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	stats, err := b.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 0 {
		t.Errorf("second index sees %d messages, want 0", stats.Messages)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ConversationID: "u1", MsgID: "msg1", Body: "hello", Kind: "TEXT", CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("u1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestReplaceConversation(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b"} {
		if err := db.UpsertMessage(&Message{ConversationID: "u1", MsgID: id, CreatedAt: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertMessage(&Message{ConversationID: "u2", MsgID: "z", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}

	err := db.ReplaceConversation("u1", []Message{
		{MsgID: "c", Body: "third", CreatedAt: 3},
		{MsgID: "d", Body: "fourth", CreatedAt: 4},
	})
	if err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("u1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].MsgID != "d" || msgs[1].MsgID != "c" {
		t.Errorf("u1 = %+v, want [d c]", msgs)
	}
	stats, _ := db.Stats()
	if stats.Conversations != 2 || stats.Messages != 3 {
		t.Errorf("stats = %+v, want 2 conversations, 3 messages", stats)
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)
	for i, id := range []string{"m1", "m2", "m3"} {
		if err := db.UpsertMessage(&Message{ConversationID: "u1", MsgID: id, CreatedAt: int64(1000 * (i + 1))}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := db.ListMessages("u1", 3000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].MsgID != "m2" {
		t.Errorf("page before 3000 = %+v, want [m2 m1]", page)
	}
}

func TestContactsAndSenderNames(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceContacts([]Contact{
		{ID: "u1", DisplayName: "Alice"},
		{ID: "uself", DisplayName: "Me", IsSelf: true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "u1", MsgID: "m1", SenderID: "u1", Body: "hi", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "u1", MsgID: "m2", SenderID: "u9", Body: "yo", CreatedAt: 2}); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("u1", 0, 10)
	if msgs[1].SenderName != "Alice" || msgs[0].SenderName != "u9" {
		t.Errorf("sender names = %q, %q", msgs[0].SenderName, msgs[1].SenderName)
	}

	me, err := db.GetContact("uself")
	if err != nil {
		t.Fatal(err)
	}
	if me == nil || !me.IsSelf {
		t.Errorf("self contact = %+v", me)
	}

	// Replace drops contacts missing from the new list.
	if err := db.ReplaceContacts([]Contact{{ID: "u2", DisplayName: "Bob"}}); err != nil {
		t.Fatal(err)
	}
	if c, _ := db.GetContact("u1"); c != nil {
		t.Errorf("u1 survived replace: %+v", c)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	msgs := []Message{
		{ConversationID: "u1", MsgID: "m1", Body: "hello world", CreatedAt: 1000},
		{ConversationID: "u1", MsgID: "m2", Body: "goodbye world", CreatedAt: 2000},
		{ConversationID: "u2", MsgID: "m3", Body: "HELLO again", CreatedAt: 3000},
		{ConversationID: "u2", MsgID: "m4", Body: "100% sure", CreatedAt: 4000},
	}
	for i := range msgs {
		if err := db.UpsertMessage(&msgs[i]); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query, conversation string
		want                []string
	}{
		{"hello", "", []string{"m3", "m1"}},
		{"hello", "u1", []string{"m1"}},
		{"world", "", []string{"m2", "m1"}},
		{"%", "", []string{"m4"}},
		{"missing", "", nil},
	}
	for _, tt := range tests {
		results, err := db.SearchMessages(tt.query, tt.conversation, 10)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, r := range results {
			got = append(got, r.Message.MsgID)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("SearchMessages(%q, %q) = %v, want %v", tt.query, tt.conversation, got, tt.want)
		}
	}
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("a", 40) + "needle" + strings.Repeat("b", 40)
	tests := []struct {
		body, query, want string
	}{
		{"hello world", "WORLD", "hello <<world>>"},
		{"no match", "x", "no match"},
		{long, "needle", "..." + strings.Repeat("a", 32) + "<<needle>>" + strings.Repeat("b", 32) + "..."},
	}
	for _, tt := range tests {
		if got := snippet(tt.body, tt.query); got != tt.want {
			t.Errorf("snippet(%q, %q) = %q, want %q", tt.body, tt.query, got, tt.want)
		}
	}
}

func TestState(t *testing.T) {
	db := testDB(t)
	if _, ok, err := db.GetState("revision"); err != nil || ok {
		t.Fatalf("GetState on empty = ok %v, err %v", ok, err)
	}
	if err := db.SetState("revision", "7"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("revision", "9"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.GetState("revision")
	if err != nil || !ok || v != "9" {
		t.Errorf("GetState = %q, %v, %v; want 9", v, ok, err)
	}
}

func TestReset(t *testing.T) {
	db := testDB(t)
	if err := db.SetState("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := db.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.GetState("k"); ok {
		t.Error("state survived Reset")
	}
}
