package analytical

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

// These tests exercise the real Postgres driver and are skipped unless a
// live database is configured, mirroring the teacher's Postgres
// integration test gating.
func integrationDSN(t *testing.T) string {
	dsn := os.Getenv("WEAVER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set WEAVER_TEST_POSTGRES_DSN to run analytical store integration tests")
	}
	return dsn
}

func TestStoreIngestAndProjectEntry(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	record, _ := json.Marshal(entryFields{Title: "Hello", Path: "/hello", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z"})
	event := RecordEvent{
		DID: "did:plc:test1", Collection: "weaver.notebook.entry", RKey: "r1",
		CID: "cid1", Rev: "rev1", RecordJSON: record, Op: "create",
		Seq: 1, EventTime: time.Now().UTC(), IsLive: true, ValidationState: "ok",
	}
	if err := store.InsertRecordEvent(ctx, event); err != nil {
		t.Fatalf("insert record event: %v", err)
	}
	if err := store.Project(ctx, event); err != nil {
		t.Fatalf("project: %v", err)
	}

	var title string
	if err := store.db.GetContext(ctx, &title, `SELECT title FROM entries WHERE did=$1 AND rkey=$2`, event.DID, event.RKey); err != nil {
		t.Fatalf("query entry: %v", err)
	}
	if title != "Hello" {
		t.Fatalf("title = %q, want Hello", title)
	}
}

func TestStoreProjectEditNodeRejectsRootMismatch(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	root1, _ := json.Marshal(editNodeFields{Doc: struct {
		Value string `json:"value"`
	}{Value: "at://did:plc:test3/weaver.notebook.entry/entry1"}})
	rootX, _ := json.Marshal(editNodeFields{Doc: struct {
		Value string `json:"value"`
	}{Value: "at://did:plc:test3/weaver.notebook.entry/entry2"}})

	for _, ev := range []RecordEvent{
		{DID: "did:plc:test3", Collection: "weaver.edit.root", RKey: "root1", CID: "cid-root1", Rev: "rev1", RecordJSON: root1, Op: "create", Seq: 10, EventTime: now, IsLive: true, ValidationState: "ok"},
		{DID: "did:plc:test3", Collection: "weaver.edit.root", RKey: "rootX", CID: "cid-rootX", Rev: "rev1", RecordJSON: rootX, Op: "create", Seq: 11, EventTime: now, IsLive: true, ValidationState: "ok"},
	} {
		if err := store.Project(ctx, ev); err != nil {
			t.Fatalf("project root %s: %v", ev.RKey, err)
		}
	}

	// diff1 names prev=root1 (whose own root is root1) but claims root=rootX:
	// invariant 2 violation, must be rejected by the graph loader rather than
	// admitted into edit_nodes.
	diffRecord, _ := json.Marshal(editNodeFields{
		Root: strongRefFields{URI: "at://did:plc:test3/weaver.edit.root/rootX"},
		Prev: &strongRefFields{URI: "at://did:plc:test3/weaver.edit.root/root1"},
		Doc: struct {
			Value string `json:"value"`
		}{Value: "at://did:plc:test3/weaver.notebook.entry/entry1"},
	})
	diffEvent := RecordEvent{
		DID: "did:plc:test3", Collection: "weaver.edit.diff", RKey: "diff1",
		CID: "cid-diff1", Rev: "rev2", RecordJSON: diffRecord, Op: "create",
		Seq: 12, EventTime: now, IsLive: true, ValidationState: "ok",
	}
	if err := store.Project(ctx, diffEvent); err != nil {
		t.Fatalf("project rejected diff should not itself error: %v", err)
	}

	var count int
	if err := store.db.GetContext(ctx, &count, `SELECT count(*) FROM edit_nodes WHERE did=$1 AND rkey=$2`, diffEvent.DID, diffEvent.RKey); err != nil {
		t.Fatalf("query edit_nodes: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected diff was admitted into edit_nodes")
	}

	var dlqCount int
	if err := store.db.GetContext(ctx, &dlqCount, `SELECT count(*) FROM dead_letter_events WHERE seq=$1`, diffEvent.Seq); err != nil {
		t.Fatalf("query dead_letter_events: %v", err)
	}
	if dlqCount != 1 {
		t.Fatalf("expected rejected diff to be dead-lettered exactly once, got %d", dlqCount)
	}
}

func TestStoreCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	want := Cursor{ConsumerID: "weaver-indexer-test", Seq: 42, EventTime: time.Now().UTC().Truncate(time.Second)}
	if err := store.SaveCursor(ctx, want); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	got, err := store.LoadCursor(ctx, want.ConsumerID)
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if got == nil || got.Seq != want.Seq {
		t.Fatalf("loaded cursor = %+v, want seq %d", got, want.Seq)
	}
}
