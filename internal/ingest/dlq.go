package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/store/analytical"
)

// DeadLetter writes undecodable frames to the durable dead-letter table
// without blocking the cursor (spec §4.A decode-failure mode).
type DeadLetter struct {
	store *analytical.Store
	log   *zap.Logger
}

func NewDeadLetter(store *analytical.Store, log *zap.Logger) *DeadLetter {
	return &DeadLetter{store: store, log: log}
}

func (d *DeadLetter) Record(ctx context.Context, seq int64, raw []byte, decodeErr error) {
	if err := d.store.InsertDeadLetter(ctx, seq, raw, decodeErr.Error()); err != nil && d.log != nil {
		d.log.Error("failed to persist dead letter, dropping frame",
			zap.Int64("seq", seq), zap.Error(err), zap.NamedError("decode_error", decodeErr))
		return
	}
	if d.log != nil {
		d.log.Warn("frame sent to dead letter", zap.Int64("seq", seq), zap.Error(decodeErr))
	}
}
