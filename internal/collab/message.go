package collab

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MessageKind tags a gossip-channel frame (spec §4.D message schema, §6
// "length-prefixed binary with a 1-byte kind tag followed by payload").
type MessageKind byte

const (
	KindUpdate MessageKind = 1
	KindJoin   MessageKind = 2
	KindCursor MessageKind = 3
	KindLeave  MessageKind = 4
	KindSync   MessageKind = 5 // ExportSnapshot request/response, spec §4.D "full sync"
	KindError  MessageKind = 6 // reported to the local client, does not disconnect the peer (§7)
)

// UpdatePayload carries one CRDT delta.
type UpdatePayload struct {
	Atom Atom `json:"atom"`
}

// JoinPayload announces a new peer on the topic (spec §4.D step 4).
type JoinPayload struct {
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	NodeID      string `json:"nodeId"`
}

// Selection is an optional text range accompanying a cursor broadcast.
type Selection struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// CursorPayload is a participant's cursor/selection broadcast. It carries
// the sender's own Lamport timestamp so receivers can drop stale messages
// (spec §4.D ordering: "presence messages MUST be delivered... monotonically
// per sender by the sender's logical timestamp; late presence messages are
// dropped").
type CursorPayload struct {
	NodeID    string     `json:"nodeId"`
	Position  uint64     `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
	Lamport   uint64     `json:"lamport"`
}

// LeavePayload is an optional graceful-exit announcement.
type LeavePayload struct {
	NodeID string `json:"nodeId"`
}

// SyncPayload carries a full snapshot export, used to bring a lagging peer
// up to date (spec §4.D "the initiator sends ExportSnapshot bytes").
type SyncPayload struct {
	Snapshot []byte `json:"snapshot"`
}

// ErrorPayload is surfaced to the local client as a structured event
// without terminating the peer connection (spec §7).
type ErrorPayload struct {
	Message string `json:"message"`
}

// Message is one decoded gossip frame.
type Message struct {
	Kind    MessageKind
	Payload []byte // JSON-encoded payload matching Kind
}

// Encode renders a frame as length-prefixed binary: a 4-byte big-endian
// length, a 1-byte kind tag, then the JSON payload (spec §6 framing).
func Encode(kind MessageKind, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("collab: encode payload: %w", err)
	}
	frame := make([]byte, 4+1+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)+1))
	frame[4] = byte(kind)
	copy(frame[5:], body)
	return frame, nil
}

// Decode parses a single frame previously produced by Encode.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 5 {
		return Message{}, fmt.Errorf("collab: frame too short (%d bytes)", len(frame))
	}
	declared := binary.BigEndian.Uint32(frame[0:4])
	if int(declared) != len(frame)-4 {
		return Message{}, fmt.Errorf("collab: frame length mismatch: declared %d, got %d", declared, len(frame)-4)
	}
	return Message{Kind: MessageKind(frame[4]), Payload: frame[5:]}, nil
}

func (m Message) DecodeUpdate() (UpdatePayload, error) {
	var p UpdatePayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeJoin() (JoinPayload, error) {
	var p JoinPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeCursor() (CursorPayload, error) {
	var p CursorPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeLeave() (LeavePayload, error) {
	var p LeavePayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}

func (m Message) DecodeSync() (SyncPayload, error) {
	var p SyncPayload
	err := json.Unmarshal(m.Payload, &p)
	return p, err
}
