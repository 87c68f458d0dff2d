package analytical

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store owns the analytical tier connection pool. It is safe for concurrent
// use: raw-table inserts are serialized per table by the caller (the
// Ingester's single committer task per table, per spec §4.A concurrency
// model), everything else is read-mostly.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger
}

// Open connects to the analytical tier and applies pending migrations.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytical: connect: %w", err)
	}
	s := &Store{db: db, log: log}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("analytical: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages (editdag, query) that build
// their own squirrel queries against the same pool rather than duplicating
// connection management.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
