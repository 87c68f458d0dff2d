// Package weaverapi holds the identity, record, and error types shared by
// every component of the index and collaboration core.
package weaverapi

import (
	"fmt"
	"strings"
)

// DID is a federation author identifier (e.g. "did:plc:abc123").
type DID string

// Collection is a namespaced record schema identifier (e.g. "weaver.notebook.entry").
type Collection string

// RKey is a record key, unique within one author's repository for a given collection.
type RKey string

// CID is a content address; it changes with every mutation of a record.
type CID string

// Rev is a sortable, monotonically increasing per-author revision token.
type Rev string

// Less reports whether r sorts before other. Revision tokens are designed to be
// lexicographically comparable, so this is a plain string comparison, but kept as
// a named method so callers don't reach for strings.Compare directly at call sites.
func (r Rev) Less(other Rev) bool {
	return string(r) < string(other)
}

// ResourceRef identifies a resource independent of any one author's copy of it:
// the triple that the edit DAG and collaboration layer key state by.
type ResourceRef struct {
	DID        DID
	Collection Collection
	RKey       RKey
}

func (r ResourceRef) String() string {
	return fmt.Sprintf("at://%s/%s/%s", r.DID, r.Collection, r.RKey)
}

func (r ResourceRef) IsZero() bool {
	return r.DID == "" && r.Collection == "" && r.RKey == ""
}

// StrongRef pins both the location and the content of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID CID    `json:"cid"`
}

// RecordAddress renders the canonical at:// URI for a record identity.
func RecordAddress(did DID, collection Collection, rkey RKey) string {
	return fmt.Sprintf("at://%s/%s/%s", did, collection, rkey)
}

// ParseRecordAddress is the inverse of RecordAddress. It accepts only the
// canonical "at://did/collection/rkey" form; loosely-formed references
// (handles, shorthand triples) are resolved by query.resolveURI, not here.
func ParseRecordAddress(uri string) (DID, Collection, RKey, error) {
	const prefix = "at://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", "", fmt.Errorf("%w: missing at:// scheme", ErrInvalidRequest)
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: malformed record address %q", ErrInvalidRequest, uri)
	}
	return DID(parts[0]), Collection(parts[1]), RKey(parts[2]), nil
}
