package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rsform/weaver/internal/store/analytical"
	"github.com/rsform/weaver/internal/validate"
)

// Decoder classifies and decodes one Frame into the row shape the
// analytical tier understands, validating against the per-collection
// schema along the way. This plays the role the teacher's ProviderAdapter
// played for webhook envelopes: parse an untyped wire payload into a set of
// typed actions — here, exactly one raw-table row per frame.
type Decoder struct {
	schemas *validate.Registry
}

func NewDecoder(schemas *validate.Registry) *Decoder {
	return &Decoder{schemas: schemas}
}

// DecodeResult carries exactly one of the three raw event kinds.
type DecodeResult struct {
	Kind     FrameKind
	Record   *analytical.RecordEvent
	Identity *analytical.IdentityEvent
	Account  *analytical.AccountEvent
}

func (d *Decoder) Decode(f Frame) (DecodeResult, error) {
	switch f.Kind {
	case FrameRecord:
		return d.decodeRecord(f)
	case FrameIdentity:
		return d.decodeIdentity(f)
	case FrameAccount:
		return d.decodeAccount(f)
	default:
		return DecodeResult{}, fmt.Errorf("ingest: unknown frame kind %q", f.Kind)
	}
}

func (d *Decoder) decodeRecord(f Frame) (DecodeResult, error) {
	var data RecordFrameData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return DecodeResult{}, fmt.Errorf("ingest: decode record frame: %w", err)
	}
	if data.DID == "" || data.Collection == "" || data.RKey == "" {
		return DecodeResult{}, fmt.Errorf("ingest: record frame missing identity fields")
	}
	eventTime, err := parseEventTime(data.EventTime)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("ingest: record frame event time: %w", err)
	}
	if d.schemas != nil && len(data.Record) > 0 {
		if err := d.schemas.ValidateJSON(data.Collection, data.Record); err != nil {
			return DecodeResult{}, fmt.Errorf("ingest: schema validation failed for %s: %w", data.Collection, err)
		}
	}
	return DecodeResult{
		Kind: FrameRecord,
		Record: &analytical.RecordEvent{
			DID:             data.DID,
			Collection:      data.Collection,
			RKey:            data.RKey,
			CID:             data.CID,
			Rev:             data.Rev,
			RecordJSON:      data.Record,
			Op:              data.Op,
			Seq:             f.Seq,
			EventTime:       eventTime,
			IsLive:          data.IsLive,
			ValidationState: "ok",
		},
	}, nil
}

func (d *Decoder) decodeIdentity(f Frame) (DecodeResult, error) {
	var data IdentityFrameData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return DecodeResult{}, fmt.Errorf("ingest: decode identity frame: %w", err)
	}
	if data.DID == "" {
		return DecodeResult{}, fmt.Errorf("ingest: identity frame missing did")
	}
	eventTime, err := parseEventTime(data.EventTime)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("ingest: identity frame event time: %w", err)
	}
	return DecodeResult{
		Kind: FrameIdentity,
		Identity: &analytical.IdentityEvent{
			DID: data.DID, Handle: data.Handle, Seq: f.Seq, EventTime: eventTime,
		},
	}, nil
}

func (d *Decoder) decodeAccount(f Frame) (DecodeResult, error) {
	var data AccountFrameData
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return DecodeResult{}, fmt.Errorf("ingest: decode account frame: %w", err)
	}
	if data.DID == "" {
		return DecodeResult{}, fmt.Errorf("ingest: account frame missing did")
	}
	eventTime, err := parseEventTime(data.EventTime)
	if err != nil {
		return DecodeResult{}, fmt.Errorf("ingest: account frame event time: %w", err)
	}
	return DecodeResult{
		Kind: FrameAccount,
		Account: &analytical.AccountEvent{
			DID: data.DID, Active: data.Active, Status: data.Status, Seq: f.Seq, EventTime: eventTime,
		},
	}, nil
}

func parseEventTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty event time")
	}
	return time.Parse(time.RFC3339, s)
}
