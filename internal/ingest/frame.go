package ingest

import "encoding/json"

// FrameKind classifies an incoming firehose frame as record, identity, or
// account (spec §4.A contract: "classifies as record / identity / account").
type FrameKind string

const (
	FrameRecord   FrameKind = "record"
	FrameIdentity FrameKind = "identity"
	FrameAccount  FrameKind = "account"
)

// Frame is the wire shape of one firehose event. The stream transport is
// WebSocket-framed per spec §6; the payload encoding itself is JSON here —
// no CBOR codec appears anywhere in the retrieval pack, so this core frames
// events the way the rest of the corpus frames everything else it streams.
type Frame struct {
	Kind FrameKind       `json:"kind"`
	Seq  int64           `json:"seq"`
	Data json.RawMessage `json:"data"`
}

// RecordFrameData is the payload of a FrameRecord frame.
type RecordFrameData struct {
	DID        string          `json:"did"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	CID        string          `json:"cid"`
	Rev        string          `json:"rev"`
	Record     json.RawMessage `json:"record"`
	Op         string          `json:"op"`
	EventTime  string          `json:"eventTime"`
	IsLive     bool            `json:"isLive"`
}

// IdentityFrameData is the payload of a FrameIdentity frame.
type IdentityFrameData struct {
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	EventTime string `json:"eventTime"`
}

// AccountFrameData is the payload of a FrameAccount frame.
type AccountFrameData struct {
	DID       string `json:"did"`
	Active    bool   `json:"active"`
	Status    string `json:"status"`
	EventTime string `json:"eventTime"`
}
