package shard

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/weaverapi"
)

// Router maps a per-resource key to its open Shard, opening shards lazily
// and evicting idle ones on a background sweep (spec §4.E contract).
type Router struct {
	baseDir string
	idleTTL time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	shards  map[Key]*Shard
	running bool // set by Run; Stop waits for done only when true

	stop chan struct{}
	done chan struct{}
}

// Options configures a Router.
type Options struct {
	BaseDir string
	IdleTTL time.Duration
	Log     *zap.Logger
}

func NewRouter(opts Options) (*Router, error) {
	if opts.BaseDir == "" {
		return nil, fmt.Errorf("shard: base dir is required")
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("shard: create base dir: %w", err)
	}
	return &Router{
		baseDir: opts.BaseDir,
		idleTTL: opts.IdleTTL,
		log:     opts.Log,
		shards:  map[Key]*Shard{},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// pathFor computes a shard's directory per spec §4.E: "{base}/{hash(key)[0..2]}/{rkey}/".
// The hash is taken over the same (collection, rkey) key that indexes the
// router's shard map, so a resource's shard file is the same whichever
// author's copy of it opens the shard.
func pathFor(baseDir string, resource weaverapi.ResourceRef) string {
	sum := sha256.Sum256([]byte(string(resource.Collection) + "/" + string(resource.RKey)))
	prefix := fmt.Sprintf("%x", sum[:1]) // first byte == first 2 hex chars
	return filepath.Join(baseDir, prefix, string(resource.RKey))
}

// Open returns the shard for resource, opening (and AutoMigrate-ing) its
// backing SQLite file on first access.
func (r *Router) Open(resource weaverapi.ResourceRef) (*Shard, error) {
	key := Key{Collection: resource.Collection, RKey: resource.RKey}

	r.mu.Lock()
	if s, ok := r.shards[key]; ok {
		r.mu.Unlock()
		s.touch()
		return s, nil
	}
	r.mu.Unlock()

	dir := pathFor(r.baseDir, resource)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shard: create shard dir: %w", err)
	}
	dbPath := filepath.Join(dir, "shard.db")

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check under the lock: another goroutine may have opened it while we
	// were off doing file I/O above.
	if s, ok := r.shards[key]; ok {
		s.touch()
		return s, nil
	}
	s, err := newShard(key, dbPath)
	if err != nil {
		return nil, err
	}
	r.shards[key] = s
	if r.log != nil {
		r.log.Debug("shard: opened", zap.String("resource", resource.String()), zap.String("path", dbPath))
	}
	return s, nil
}

// Evict closes and drops an in-memory shard handle without touching the
// file on disk.
func (r *Router) Evict(key Key) {
	r.mu.Lock()
	s, ok := r.shards[key]
	if ok {
		delete(r.shards, key)
	}
	r.mu.Unlock()
	if ok {
		if err := s.Close(); err != nil && r.log != nil {
			r.log.Warn("shard: close on eviction failed", zap.Error(err))
		}
	}
}

// sweepIdle closes every shard idle longer than the router's TTL (spec §4.E
// "LRU eviction of idle shards from memory").
func (r *Router) sweepIdle(now time.Time) {
	var idle []Key
	r.mu.Lock()
	for key, s := range r.shards {
		if s.idleSince(now) > r.idleTTL {
			idle = append(idle, key)
		}
	}
	r.mu.Unlock()

	for _, key := range idle {
		r.Evict(key)
		if r.log != nil {
			r.log.Debug("shard: evicted idle shard", zap.String("collection", string(key.Collection)), zap.String("rkey", string(key.RKey)))
		}
	}
}

// Run starts the idle-eviction sweeper and blocks until ctx is cancelled or
// Stop is called.
func (r *Router) Run(ctx context.Context) {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	defer close(r.done)
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweepIdle(now)
		}
	}
}

// Stop signals Run to exit and, if Run was started, waits for it to finish,
// then closes every open shard handle.
func (r *Router) Stop() {
	close(r.stop)
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if running {
		<-r.done
	}

	r.mu.Lock()
	keys := make([]Key, 0, len(r.shards))
	for key := range r.shards {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		r.Evict(key)
	}
}

// OpenShardCount reports how many shards currently have an open handle, for
// metrics/dashboard surfacing.
func (r *Router) OpenShardCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shards)
}
