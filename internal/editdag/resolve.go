package editdag

import (
	"context"
	"fmt"
	"sort"

	"github.com/rsform/weaver/internal/weaverapi"
)

// Resolution is the outcome of canonical resource resolution (spec §4.C).
type Resolution struct {
	Resource  weaverapi.ResourceRef
	Heads     []Node
	Divergent bool
	// Chain is the root-to-head path used to reconstruct content when the
	// resource has converged (exactly one head). Empty when divergent.
	Chain []Node
}

// Resolve computes heads for resource and, if converged, the root-to-head
// chain to compose snapshot + diffs in order (spec §4.C steps 1-3).
func Resolve(ctx context.Context, loader *GraphLoader, resource weaverapi.ResourceRef) (Resolution, error) {
	nodes, err := loader.LoadResource(ctx, resource)
	if err != nil {
		return Resolution{}, err
	}
	heads := Heads(nodes)
	res := Resolution{Resource: resource, Heads: heads, Divergent: len(heads) > 1}
	if len(heads) != 1 {
		return res, nil
	}
	chain, err := chainToRoot(nodes, heads[0])
	if err != nil {
		return Resolution{}, err
	}
	res.Chain = chain
	return res, nil
}

// chainToRoot walks backward from head via prev links to the root, then
// returns the nodes in root-to-head order for composition.
func chainToRoot(nodes []Node, head Node) ([]Node, error) {
	byKey := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byKey[string(n.DID)+"/"+string(n.RKey)] = n
	}
	chain := []Node{head}
	cursor := head
	for cursor.NodeType != "root" {
		if !cursor.HasPrev() {
			return nil, fmt.Errorf("%w: chain broken before reaching root for %s/%s", weaverapi.ErrNotFound, head.DID, head.RKey)
		}
		prevKey := string(cursor.PrevDID) + "/" + string(cursor.PrevRKey)
		prev, ok := byKey[prevKey]
		if !ok {
			return nil, fmt.Errorf("%w: prev node %s not yet ingested", weaverapi.ErrNotFound, prevKey)
		}
		chain = append(chain, prev)
		cursor = prev
	}
	reverse(chain)
	return chain, nil
}

func reverse(nodes []Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}

// PublishedRecord is the minimal shape the cross-author tie-break (spec
// §4.C "tie-break for most up-to-date across multiple authors") needs to
// compare candidates for the same rkey published from different
// repositories.
type PublishedRecord struct {
	DID       weaverapi.DID
	Rev       weaverapi.Rev
	EventTime int64 // unix nanos; comparisons use event_time first
	CID       weaverapi.CID
}

// SelectCanonical picks the canonical record among candidates publishing
// the same rkey: highest event_time, tie broken by rev, tie broken by
// lexicographic did (spec §4.C).
func SelectCanonical(candidates []PublishedRecord) (PublishedRecord, bool) {
	if len(candidates) == 0 {
		return PublishedRecord{}, false
	}
	sorted := append([]PublishedRecord(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.EventTime != b.EventTime {
			return a.EventTime > b.EventTime
		}
		if a.Rev != b.Rev {
			return b.Rev.Less(a.Rev) // higher (more recent) rev sorts first
		}
		return a.DID < b.DID
	})
	return sorted[0], true
}
