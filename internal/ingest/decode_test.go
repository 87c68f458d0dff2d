package ingest

import (
	"encoding/json"
	"testing"
)

func TestDecodeRecordFrame(t *testing.T) {
	d := NewDecoder(nil)
	data, _ := json.Marshal(RecordFrameData{
		DID: "did:plc:a", Collection: "weaver.notebook.entry", RKey: "r1",
		CID: "c1", Rev: "rev1", Record: json.RawMessage(`{"title":"hi"}`),
		Op: "create", EventTime: "2026-01-01T00:00:00Z", IsLive: true,
	})
	frame := Frame{Kind: FrameRecord, Seq: 7, Data: data}

	result, err := d.Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Kind != FrameRecord || result.Record == nil {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Record.Seq != 7 || result.Record.DID != "did:plc:a" {
		t.Fatalf("unexpected record %+v", result.Record)
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	d := NewDecoder(nil)
	data, _ := json.Marshal(RecordFrameData{Collection: "weaver.notebook.entry", RKey: "r1"})
	frame := Frame{Kind: FrameRecord, Seq: 1, Data: data}

	if _, err := d.Decode(frame); err == nil {
		t.Fatalf("expected error for missing did")
	}
}

func TestDecodeUnknownFrameKind(t *testing.T) {
	d := NewDecoder(nil)
	if _, err := d.Decode(Frame{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error for unknown frame kind")
	}
}
