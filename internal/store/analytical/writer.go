package analytical

import (
	"context"
	"time"
)

// RecordEvent is one row of raw_record_events, decoded by the ingester.
type RecordEvent struct {
	DID             string
	Collection      string
	RKey            string
	CID             string
	Rev             string
	RecordJSON      []byte
	Op              string
	Seq             int64
	EventTime       time.Time
	IsLive          bool
	ValidationState string
}

type IdentityEvent struct {
	DID       string
	Handle    string
	Seq       int64
	EventTime time.Time
}

type AccountEvent struct {
	DID       string
	Active    bool
	Status    string
	Seq       int64
	EventTime time.Time
}

// InsertRecordEvent is idempotent on (did, rkey, cid, rev): a duplicate
// delivery is a no-op, matching spec §4.A's duplicate failure mode.
func (s *Store) InsertRecordEvent(ctx context.Context, e RecordEvent) error {
	q, args, err := psql.Insert("raw_record_events").
		Columns("did", "collection", "rkey", "cid", "rev", "record_json", "op", "seq", "event_time", "is_live", "validation_state").
		Values(e.DID, e.Collection, e.RKey, e.CID, e.Rev, e.RecordJSON, e.Op, e.Seq, e.EventTime, e.IsLive, e.ValidationState).
		Suffix("ON CONFLICT (did, rkey, cid, rev) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *Store) InsertIdentityEvent(ctx context.Context, e IdentityEvent) error {
	q, args, err := psql.Insert("raw_identity_events").
		Columns("did", "handle", "seq", "event_time").
		Values(e.DID, normalizeText(e.Handle), e.Seq, e.EventTime).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func (s *Store) InsertAccountEvent(ctx context.Context, e AccountEvent) error {
	q, args, err := psql.Insert("raw_account_events").
		Columns("did", "active", "status", "seq", "event_time").
		Values(e.DID, e.Active, e.Status, e.Seq, e.EventTime).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// InsertDeadLetter records a decode failure without blocking cursor advance.
func (s *Store) InsertDeadLetter(ctx context.Context, seq int64, raw []byte, decodeErr string) error {
	q, args, err := psql.Insert("dead_letter_events").
		Columns("seq", "raw_bytes", "decode_error").
		Values(seq, raw, decodeErr).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// AccountRevisionState is the (last_rev, last_cid, last_seq, last_event_time)
// aggregate per did, used for gap detection.
type AccountRevisionState struct {
	DID           string
	LastRev       string
	LastCID       string
	LastSeq       int64
	LastEventTime time.Time
}

func (s *Store) GetAccountRevisionState(ctx context.Context, did string) (*AccountRevisionState, error) {
	var row AccountRevisionState
	q, args, err := psql.Select("did", "last_rev", "last_cid", "last_seq", "last_event_time").
		From("account_revision_state").Where(sqEq{"did": did}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// AdvanceAccountRevisionState unconditionally overwrites the per-account
// high-water mark. Callers decide whether an incoming rev qualifies
// (monotonic advance only); an out-of-order rev is stored in the raw table
// but must NOT reach this call (resolved Open Question D.3).
func (s *Store) AdvanceAccountRevisionState(ctx context.Context, st AccountRevisionState) error {
	q, args, err := psql.Insert("account_revision_state").
		Columns("did", "last_rev", "last_cid", "last_seq", "last_event_time").
		Values(st.DID, st.LastRev, st.LastCID, st.LastSeq, st.LastEventTime).
		Suffix(`ON CONFLICT (did) DO UPDATE SET
			last_rev = EXCLUDED.last_rev,
			last_cid = EXCLUDED.last_cid,
			last_seq = EXCLUDED.last_seq,
			last_event_time = EXCLUDED.last_event_time`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// Cursor is the persisted high-water mark for one consumer.
type Cursor struct {
	ConsumerID string
	Seq        int64
	EventTime  time.Time
}

func (s *Store) LoadCursor(ctx context.Context, consumerID string) (*Cursor, error) {
	var c Cursor
	q, args, err := psql.Select("consumer_id", "seq", "event_time").
		From("ingest_cursors").Where(sqEq{"consumer_id": consumerID}).ToSql()
	if err != nil {
		return nil, err
	}
	if err := s.db.GetContext(ctx, &c, q, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) SaveCursor(ctx context.Context, c Cursor) error {
	q, args, err := psql.Insert("ingest_cursors").
		Columns("consumer_id", "seq", "event_time", "updated_at").
		Values(c.ConsumerID, c.Seq, c.EventTime, time.Now().UTC()).
		Suffix(`ON CONFLICT (consumer_id) DO UPDATE SET
			seq = EXCLUDED.seq, event_time = EXCLUDED.event_time, updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// sqEq is a tiny alias so call sites read naturally without importing
// squirrel's Eq type directly in every file.
type sqEq = map[string]interface{}

// GapFlaggedRecord is one row the background validator should re-check.
type GapFlaggedRecord struct {
	DID        string
	Collection string
	RKey       string
	CID        string
	Rev        string
}

// ListInvalidGapRecords returns the most recent invalid_gap row per
// (did, rkey), for the background validator to re-fetch and re-ingest.
func (s *Store) ListInvalidGapRecords(ctx context.Context, limit int) ([]GapFlaggedRecord, error) {
	rows := []GapFlaggedRecord{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT DISTINCT ON (did, rkey) did, collection, rkey, cid, rev
		FROM raw_record_events
		WHERE validation_state = 'invalid_gap'
		ORDER BY did, rkey, indexed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ClearValidationState marks every row for (did, rkey) at the given cid/rev
// as ok once the background validator confirms it against the source
// repository.
func (s *Store) ClearValidationState(ctx context.Context, did, rkey, cid, rev string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_record_events SET validation_state = 'ok'
		WHERE did = $1 AND rkey = $2 AND cid = $3 AND rev = $4`,
		did, rkey, cid, rev)
	return err
}
