package shard

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rsform/weaver/internal/weaverapi"
)

func testResource() weaverapi.ResourceRef {
	return weaverapi.ResourceRef{DID: "did:plc:abc", Collection: "weaver.notebook.entry", RKey: "r1"}
}

func TestRouterOpenCreatesShardFile(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(Options{BaseDir: dir, IdleTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Stop()

	resource := testResource()
	s, err := r.Open(resource)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s == nil {
		t.Fatal("expected non-nil shard")
	}

	wantPath := pathFor(dir, resource)
	if _, err := os.Stat(filepath.Join(wantPath, "shard.db")); err != nil {
		t.Fatalf("expected shard file at %s: %v", wantPath, err)
	}
}

func TestRouterOpenIsIdempotentPerResource(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(Options{BaseDir: dir, IdleTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Stop()

	resource := testResource()
	s1, err := r.Open(resource)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s2, err := r.Open(resource)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected the same shard handle for repeated opens of the same resource")
	}
	if r.OpenShardCount() != 1 {
		t.Fatalf("expected 1 open shard, got %d", r.OpenShardCount())
	}
}

func TestRouterDifferentResourcesGetDifferentShards(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(Options{BaseDir: dir, IdleTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Stop()

	a := weaverapi.ResourceRef{DID: "did:plc:abc", Collection: "weaver.notebook.entry", RKey: "r1"}
	b := weaverapi.ResourceRef{DID: "did:plc:abc", Collection: "weaver.notebook.entry", RKey: "r2"}

	sa, err := r.Open(a)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	sb, err := r.Open(b)
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	if sa == sb {
		t.Fatal("expected distinct shards for distinct resources")
	}
	if r.OpenShardCount() != 2 {
		t.Fatalf("expected 2 open shards, got %d", r.OpenShardCount())
	}
}

func TestRouterSweepIdleEvictsStaleShards(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(Options{BaseDir: dir, IdleTTL: time.Millisecond})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Stop()

	resource := testResource()
	if _, err := r.Open(resource); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.OpenShardCount() != 1 {
		t.Fatalf("expected 1 open shard before sweep, got %d", r.OpenShardCount())
	}

	time.Sleep(5 * time.Millisecond)
	r.sweepIdle(time.Now())

	if r.OpenShardCount() != 0 {
		t.Fatalf("expected shard to be evicted after idle sweep, got %d open", r.OpenShardCount())
	}

	// The underlying file must survive eviction (spec §4.E: "the underlying
	// file remains").
	wantPath := pathFor(dir, resource)
	if _, err := os.Stat(filepath.Join(wantPath, "shard.db")); err != nil {
		t.Fatalf("expected shard file to survive eviction: %v", err)
	}

	// Reopening after eviction must succeed against the same file.
	if _, err := r.Open(resource); err != nil {
		t.Fatalf("reopen after eviction: %v", err)
	}
}

func TestShardPermissionCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(Options{BaseDir: dir, IdleTTL: time.Hour})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	defer r.Stop()

	resource := testResource()
	s, err := r.Open(resource)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	db, done := s.DB()
	if err := db.WithContext(context.Background()).Create(&PermissionCache{
		ResourceURI: resource.String(), DID: "did:plc:owner", Role: "owner", RefreshedAt: unixNow(),
	}).Error; err != nil {
		done()
		t.Fatalf("create permission cache row: %v", err)
	}
	done()

	got, err := s.Permissions(context.Background(), resource.String())
	if err != nil {
		t.Fatalf("Permissions: %v", err)
	}
	if len(got) != 1 || got[0].DID != "did:plc:owner" {
		t.Fatalf("unexpected permissions cache contents: %+v", got)
	}
}
