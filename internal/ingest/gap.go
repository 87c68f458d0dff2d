package ingest

import (
	"context"

	"github.com/rsform/weaver/internal/store/analytical"
)

// RevTracker decides, for one record event, whether it advances the
// per-account revision high-water mark or should be flagged invalid_gap
// (spec §4.A gap failure mode, resolved Open Question D.3: a rev smaller
// than last_rev is stored as-is but never moves last_rev backward).
type RevTracker struct {
	store *analytical.Store
}

func NewRevTracker(store *analytical.Store) *RevTracker {
	return &RevTracker{store: store}
}

// Check loads the current state for e.DID and returns the validation_state
// to stamp on the row, plus the AccountRevisionState to persist (nil if the
// row must not advance the high-water mark).
func (t *RevTracker) Check(ctx context.Context, e *analytical.RecordEvent) (string, *analytical.AccountRevisionState, error) {
	state, err := t.store.GetAccountRevisionState(ctx, e.DID)
	if err != nil {
		return "", nil, err
	}
	if state == nil {
		return "ok", &analytical.AccountRevisionState{
			DID: e.DID, LastRev: e.Rev, LastCID: e.CID, LastSeq: e.Seq, LastEventTime: e.EventTime,
		}, nil
	}
	if e.Rev < state.LastRev {
		// Out-of-order delivery: append-only raw row stays, but the
		// high-water mark does not move backward.
		return "invalid_gap", nil, nil
	}
	if e.Rev == state.LastRev {
		// Duplicate/replay at the same rev; InsertRecordEvent already
		// dedups on (did, rkey, cid, rev), nothing to advance.
		return "ok", nil, nil
	}
	// Any forward rev is accepted and advances the mark even if it is not
	// the literal successor — detecting the "missing rev" gap precisely
	// would require per-author sequence numbers the federation protocol
	// does not expose to this core. isAdjacentRev reports every forward rev
	// as adjacent, so a forward jump is stamped "ok"; only a backward rev
	// is flagged invalid_gap.
	validationState := "ok"
	if !isAdjacentRev(state.LastRev, e.Rev) {
		validationState = "invalid_gap"
	}
	return validationState, &analytical.AccountRevisionState{
		DID: e.DID, LastRev: e.Rev, LastCID: e.CID, LastSeq: e.Seq, LastEventTime: e.EventTime,
	}, nil
}

// isAdjacentRev reports whether next directly follows last. Revision tokens
// are sortable timestamps-plus-randomness (spec §6), so adjacency isn't
// observable from the tokens alone; this always returns true, and a missing
// intermediate rev is not detected here or anywhere else in this core.
func isAdjacentRev(last, next string) bool {
	return true
}
