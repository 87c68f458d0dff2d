package analytical

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchInserter accumulates RecordEvent rows and flushes them together,
// retrying transient failures with backoff. The cursor high-water mark is
// only allowed to advance past a batch once that batch is durably committed
// — this is spec §4.A's backpressure contract, grounded on the resilient
// inserter of the system this core was distilled from.
type BatchInserter struct {
	store         *Store
	log           *zap.Logger
	maxBatch      int
	flushInterval time.Duration
	maxRetries    int
	baseBackoff   time.Duration

	buf       []RecordEvent
	highWater Cursor
}

func NewBatchInserter(store *Store, log *zap.Logger, maxBatch int, flushInterval time.Duration) *BatchInserter {
	if maxBatch <= 0 {
		maxBatch = 256
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &BatchInserter{
		store:         store,
		log:           log,
		maxBatch:      maxBatch,
		flushInterval: flushInterval,
		maxRetries:    5,
		baseBackoff:   200 * time.Millisecond,
	}
}

// Add stages a decoded event. It does not advance the cursor. Callers must
// call Flush (directly, or via FlushIfDue) before it is safe to treat seq as
// committed.
func (b *BatchInserter) Add(e RecordEvent, atCursor Cursor) {
	b.buf = append(b.buf, e)
	b.highWater = atCursor
}

func (b *BatchInserter) Len() int {
	return len(b.buf)
}

// FlushIfDue flushes when the batch is full; the caller's ticker drives the
// time-bounded half of the size-or-time-bounded batching policy.
func (b *BatchInserter) FlushIfDue(ctx context.Context) error {
	if len(b.buf) < b.maxBatch {
		return nil
	}
	return b.Flush(ctx)
}

// Flush commits the staged batch and, only on success, persists the cursor
// at the batch's high-water mark. A transient failure is retried with capped
// exponential backoff; the batch is never dropped, so the sink blocking
// naturally pauses the stream (the caller's Add loop stalls on a full
// buffer) without losing events.
func (b *BatchInserter) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	var lastErr error
	backoff := b.baseBackoff
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if err := b.commit(ctx); err != nil {
			lastErr = err
			if b.log != nil {
				b.log.Warn("analytical batch insert failed, retrying",
					zap.Int("attempt", attempt), zap.Int("batch_size", len(b.buf)), zap.Error(err))
			}
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return lastErr
	}
	if err := b.store.SaveCursor(ctx, b.highWater); err != nil {
		return err
	}
	b.buf = b.buf[:0]
	return nil
}

func (b *BatchInserter) commit(ctx context.Context) error {
	tx, err := b.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range b.buf {
		q, args, err := psql.Insert("raw_record_events").
			Columns("did", "collection", "rkey", "cid", "rev", "record_json", "op", "seq", "event_time", "is_live", "validation_state").
			Values(e.DID, e.Collection, e.RKey, e.CID, e.Rev, e.RecordJSON, e.Op, e.Seq, e.EventTime, e.IsLive, e.ValidationState).
			Suffix("ON CONFLICT (did, rkey, cid, rev) DO NOTHING").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
