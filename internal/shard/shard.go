package shard

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rsform/weaver/internal/weaverapi"
)

// Shard is one resource's hot-tier database: a single open gorm handle
// guarded by its own mutex, so "multiple shards may be mutated in parallel"
// (spec §5 shared-resource policy) while writes within a shard serialize.
type Shard struct {
	key        Key
	path       string
	mu         sync.Mutex
	db         *gorm.DB
	lastAccess time.Time
}

// Key identifies a shard the way spec §4.E keys the shard map: by
// (collection, rkey). The resource's DID is part of neither the map key nor
// the directory layout `{base}/{hash(key)[0..2]}/{rkey}/`, so records of
// different authors that share a (collection, rkey) share one shard.
type Key struct {
	Collection weaverapi.Collection
	RKey       weaverapi.RKey
}

func openShard(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("shard: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("shard: acquire sql.DB for %s: %w", path, err)
	}
	// One writer at a time per shard file, matching gravity's sqlite.go
	// OpenSQLite pattern — SQLite itself serializes writers, so holding more
	// than one connection open buys nothing but contention.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("shard: migrate %s: %w", path, err)
	}
	return db, nil
}

func newShard(key Key, path string) (*Shard, error) {
	db, err := openShard(path)
	if err != nil {
		return nil, err
	}
	return &Shard{key: key, path: path, db: db, lastAccess: time.Now()}, nil
}

// touch refreshes the shard's last-access timestamp (spec §4.E: "a shard
// access refreshes its last-access timestamp").
func (s *Shard) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Shard) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastAccess)
}

// DB exposes the shard's gorm handle to callers under the shard's own lock;
// the returned closer must be invoked exactly once when the caller is done.
func (s *Shard) DB() (*gorm.DB, func()) {
	s.mu.Lock()
	s.lastAccess = time.Now()
	db := s.db
	return db, s.mu.Unlock
}

// Close releases the underlying file handle. The shard's file on disk is
// left intact (spec §4.E: "LRU eviction of idle shards from memory (the
// underlying file remains)").
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
