package collab

import "testing"

func TestEncodeDecodeUpdate(t *testing.T) {
	atom := Atom{ID: Ident{{Pos: 5, Site: "s1"}}, Site: "s1", Lamport: 3, Char: 'x'}
	frame, err := Encode(KindUpdate, UpdatePayload{Atom: atom})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != KindUpdate {
		t.Fatalf("kind = %v, want KindUpdate", msg.Kind)
	}

	got, err := msg.DecodeUpdate()
	if err != nil {
		t.Fatalf("decode update payload: %v", err)
	}
	if got.Atom.Char != 'x' || got.Atom.Lamport != 3 {
		t.Fatalf("round-tripped atom mismatch: %+v", got.Atom)
	}
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	if _, err := Decode([]byte{0, 0}); err == nil {
		t.Fatal("expected error decoding a too-short frame")
	}
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	frame, err := Encode(KindLeave, LeavePayload{NodeID: "n1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Corrupt the declared length so it disagrees with the actual frame size.
	frame[3] ^= 0xFF

	if _, err := Decode(frame); err == nil {
		t.Fatal("expected error decoding a frame with a corrupted length prefix")
	}
}

func TestDecodeCursorAndJoinRoundTrip(t *testing.T) {
	cursorFrame, err := Encode(KindCursor, CursorPayload{
		NodeID:    "n2",
		Position:  7,
		Selection: &Selection{Start: 1, End: 4},
		Lamport:   9,
	})
	if err != nil {
		t.Fatalf("encode cursor: %v", err)
	}
	msg, err := Decode(cursorFrame)
	if err != nil {
		t.Fatalf("decode cursor frame: %v", err)
	}
	cp, err := msg.DecodeCursor()
	if err != nil {
		t.Fatalf("decode cursor payload: %v", err)
	}
	if cp.Position != 7 || cp.Selection == nil || cp.Selection.End != 4 {
		t.Fatalf("cursor payload mismatch: %+v", cp)
	}

	joinFrame, err := Encode(KindJoin, JoinPayload{DID: "did:plc:abc", DisplayName: "Ada", NodeID: "n3"})
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	msg, err = Decode(joinFrame)
	if err != nil {
		t.Fatalf("decode join frame: %v", err)
	}
	jp, err := msg.DecodeJoin()
	if err != nil {
		t.Fatalf("decode join payload: %v", err)
	}
	if jp.DID != "did:plc:abc" || jp.NodeID != "n3" {
		t.Fatalf("join payload mismatch: %+v", jp)
	}
}

func TestDecodeWrongKindPayloadYieldsZeroAtom(t *testing.T) {
	frame, err := Encode(KindJoin, JoinPayload{DID: "did:plc:abc", NodeID: "n1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, err := Decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// JoinPayload has no "atom" field, so unmarshaling it as an UpdatePayload
	// succeeds with a zero-value atom rather than erroring — documented here
	// so a future payload-shape change that should error is caught.
	up, err := msg.DecodeUpdate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up.Atom.Char != 0 {
		t.Fatalf("expected zero-value atom, got %+v", up.Atom)
	}
}
