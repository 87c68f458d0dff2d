// Package query is the Query Interface (spec §4.F): a small set of
// read-only operations, parameterized by resource identity, that compose
// the denormalization layer, the edit DAG, and the hot-tier shard cache
// into the views an external serving layer consumes.
package query

import (
	"context"
	"strings"

	"github.com/rsform/weaver/internal/weaverapi"
)

const (
	collectionEntry   = weaverapi.Collection("weaver.notebook.entry")
	collectionBook    = weaverapi.Collection("weaver.notebook.book")
	collectionProfile = weaverapi.Collection("weaver.actor.profile")
)

// resolveURI resolves a loosely-formed resource reference to a canonical
// (did, collection, rkey) triple (supplemented feature C.3). It accepts:
//   - a canonical "at://did/collection/rkey" address
//   - "at://handle/collection/rkey", resolving handle via the active
//     handle_mappings row
//   - a bare "author/collection-shorthand/rkey" triple, where author is
//     either a did or a handle and the shorthand is one of "entry"/"book"/
//     "profile" (shorthand for the full collection names)
func (s *Service) resolveURI(ctx context.Context, ref string) (weaverapi.ResourceRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return weaverapi.ResourceRef{}, weaverapi.ErrInvalidRequest
	}

	if strings.HasPrefix(ref, "at://") {
		did, collection, rkey, err := weaverapi.ParseRecordAddress(ref)
		if err != nil {
			return weaverapi.ResourceRef{}, err
		}
		return s.resolveAuthor(ctx, did, collection, rkey)
	}

	parts := strings.SplitN(ref, "/", 3)
	if len(parts) != 3 {
		return weaverapi.ResourceRef{}, weaverapi.ErrInvalidRequest
	}
	collection := expandShorthand(parts[1])
	return s.resolveAuthor(ctx, weaverapi.DID(parts[0]), collection, weaverapi.RKey(parts[2]))
}

func expandShorthand(s string) weaverapi.Collection {
	switch s {
	case "entry":
		return collectionEntry
	case "book", "notebook":
		return collectionBook
	case "profile":
		return collectionProfile
	default:
		return weaverapi.Collection(s)
	}
}

// resolveAuthor turns a did-or-handle into a canonical DID. A value not
// starting with "did:" is treated as a handle and looked up against the
// active handle mapping.
func (s *Service) resolveAuthor(ctx context.Context, author weaverapi.DID, collection weaverapi.Collection, rkey weaverapi.RKey) (weaverapi.ResourceRef, error) {
	if strings.HasPrefix(string(author), "did:") {
		return weaverapi.ResourceRef{DID: author, Collection: collection, RKey: rkey}, nil
	}
	did, err := s.store.ResolveHandle(ctx, string(author))
	if err != nil {
		return weaverapi.ResourceRef{}, err
	}
	if did == "" {
		return weaverapi.ResourceRef{}, weaverapi.ErrNotFound
	}
	return weaverapi.ResourceRef{DID: weaverapi.DID(did), Collection: collection, RKey: rkey}, nil
}

// resolveActor turns a did-or-handle actor reference into a canonical DID,
// the variant of resolveAuthor used by operations that take a bare actor
// (list_actor_notebooks, list_actor_entries, get_profile) rather than a full
// resource reference.
func (s *Service) resolveActor(ctx context.Context, actor string) (weaverapi.DID, error) {
	actor = strings.TrimSpace(actor)
	if strings.HasPrefix(actor, "did:") {
		return weaverapi.DID(actor), nil
	}
	did, err := s.store.ResolveHandle(ctx, actor)
	if err != nil {
		return "", err
	}
	if did == "" {
		return "", weaverapi.ErrNotFound
	}
	return weaverapi.DID(did), nil
}
