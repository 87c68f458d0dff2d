package query

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/editdag"
	"github.com/rsform/weaver/internal/store/analytical"
)

// These tests exercise the real Postgres driver and are skipped unless a
// live database is configured, mirroring analytical's own integration test
// gating (internal/store/analytical/store_integration_test.go).
func integrationDSN(t *testing.T) string {
	dsn := os.Getenv("WEAVER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set WEAVER_TEST_POSTGRES_DSN to run query service integration tests")
	}
	return dsn
}

type entryFields struct {
	Title     string `json:"title"`
	Path      string `json:"path"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func TestServiceGetEntryEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := analytical.Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	graphs := editdag.NewGraphLoader(store.DB())
	svc := NewService(store, graphs, nil, zap.NewNop())

	record, _ := json.Marshal(entryFields{Title: "Hello", Path: "/hello", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z"})
	event := analytical.RecordEvent{
		DID: "did:plc:svc1", Collection: "weaver.notebook.entry", RKey: "r1",
		CID: "cid1", Rev: "rev1", RecordJSON: record, Op: "create",
		Seq: 1, EventTime: time.Now().UTC(), IsLive: true, ValidationState: "ok",
	}
	if err := store.InsertRecordEvent(ctx, event); err != nil {
		t.Fatalf("insert record event: %v", err)
	}
	if err := store.Project(ctx, event); err != nil {
		t.Fatalf("project: %v", err)
	}

	view, err := svc.GetEntry(ctx, "at://did:plc:svc1/weaver.notebook.entry/r1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if view.Title != "Hello" {
		t.Fatalf("title = %q, want Hello", view.Title)
	}
	if view.Author == nil || view.Author.DID != "did:plc:svc1" {
		t.Fatalf("expected hydrated author, got %+v", view.Author)
	}
}

func TestServiceResolveEntryByShorthandEndToEnd(t *testing.T) {
	ctx := context.Background()
	store, err := analytical.Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	graphs := editdag.NewGraphLoader(store.DB())
	svc := NewService(store, graphs, nil, zap.NewNop())

	record, _ := json.Marshal(entryFields{Title: "World", Path: "/world", CreatedAt: "2026-01-01T00:00:00Z", UpdatedAt: "2026-01-01T00:00:00Z"})
	event := analytical.RecordEvent{
		DID: "did:plc:svc2", Collection: "weaver.notebook.entry", RKey: "r2",
		CID: "cid2", Rev: "rev1", RecordJSON: record, Op: "create",
		Seq: 1, EventTime: time.Now().UTC(), IsLive: true, ValidationState: "ok",
	}
	if err := store.InsertRecordEvent(ctx, event); err != nil {
		t.Fatalf("insert record event: %v", err)
	}
	if err := store.Project(ctx, event); err != nil {
		t.Fatalf("project: %v", err)
	}

	view, err := svc.GetEntry(ctx, "did:plc:svc2/entry/r2")
	if err != nil {
		t.Fatalf("GetEntry via shorthand: %v", err)
	}
	if view.Title != "World" {
		t.Fatalf("title = %q, want World", view.Title)
	}
}

func TestServiceGetEntryNotFound(t *testing.T) {
	ctx := context.Background()
	store, err := analytical.Open(ctx, integrationDSN(t), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	graphs := editdag.NewGraphLoader(store.DB())
	svc := NewService(store, graphs, nil, zap.NewNop())

	_, err = svc.GetEntry(ctx, "at://did:plc:nonexistent/weaver.notebook.entry/nope")
	if err == nil {
		t.Fatal("expected an error for a nonexistent entry")
	}
}
