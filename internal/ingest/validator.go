package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/store/analytical"
)

// RepositoryFetcher re-fetches a single record directly from its authoring
// repository, bypassing the firehose. Implemented outside this core (the
// federation protocol's repository layout is explicitly out of scope, spec
// §1 non-goals); the background validator only needs this narrow contract.
type RepositoryFetcher interface {
	FetchRecord(ctx context.Context, did, collection, rkey string) (cid, rev string, recordJSON []byte, err error)
}

// Validator re-checks invalid_gap rows on a fixed interval (spec §7
// Recovery: "Gap-flagged records are re-fetched by a background validator
// that queries the authoring repository directly and re-ingests").
type Validator struct {
	store    *analytical.Store
	fetcher  RepositoryFetcher
	decoder  *Decoder
	log      *zap.Logger
	interval time.Duration
	batch    int
}

func NewValidator(store *analytical.Store, fetcher RepositoryFetcher, decoder *Decoder, log *zap.Logger, interval time.Duration) *Validator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Validator{store: store, fetcher: fetcher, decoder: decoder, log: log, interval: interval, batch: 100}
}

func (v *Validator) Run(ctx context.Context) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.sweep(ctx); err != nil && v.log != nil {
				v.log.Error("gap validator sweep failed", zap.Error(err))
			}
		}
	}
}

func (v *Validator) sweep(ctx context.Context) error {
	rows, err := v.store.ListInvalidGapRecords(ctx, v.batch)
	if err != nil {
		return err
	}
	for _, row := range rows {
		cid, rev, recordJSON, err := v.fetcher.FetchRecord(ctx, row.DID, row.Collection, row.RKey)
		if err != nil {
			if v.log != nil {
				v.log.Warn("gap validator re-fetch failed", zap.String("did", row.DID), zap.String("rkey", row.RKey), zap.Error(err))
			}
			continue
		}
		if cid != row.CID || rev != row.Rev {
			// The repository has moved on since the flagged row; a later
			// firehose event will supersede it, nothing to reconcile here.
			continue
		}
		if v.decoder.schemas != nil {
			if err := v.decoder.schemas.ValidateJSON(row.Collection, recordJSON); err != nil {
				continue
			}
		}
		if err := v.store.ClearValidationState(ctx, row.DID, row.RKey, row.CID, row.Rev); err != nil {
			return err
		}
	}
	return nil
}
