// Package editdag maintains the per-resource graph of root/diff edit nodes,
// computes heads, and resolves the canonical state of a resource (spec
// §4.C).
package editdag

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rsform/weaver/internal/weaverapi"
)

// Node mirrors one row of the edit_nodes table.
type Node struct {
	DID           weaverapi.DID
	RKey          weaverapi.RKey
	CID           weaverapi.CID
	NodeType      string // "root" or "diff"
	Resource      weaverapi.ResourceRef
	RootDID       weaverapi.DID
	RootRKey      weaverapi.RKey
	RootCID       weaverapi.CID
	PrevDID       weaverapi.DID
	PrevRKey      weaverapi.RKey
	PrevCID       weaverapi.CID
	HasInlineDiff bool
	HasSnapshot   bool
	CreatedAt     time.Time
}

func (n Node) RootRef() weaverapi.ResourceRef {
	return weaverapi.ResourceRef{DID: n.RootDID, Collection: "", RKey: n.RootRKey}
}

func (n Node) HasPrev() bool {
	return n.PrevDID != "" && n.PrevRKey != ""
}

// nodeRow is the sqlx scan target for edit_nodes.
type nodeRow struct {
	DID                string    `db:"did"`
	RKey                string    `db:"rkey"`
	CID                 string    `db:"cid"`
	NodeType            string    `db:"node_type"`
	ResourceDID         string    `db:"resource_did"`
	ResourceCollection  string    `db:"resource_collection"`
	ResourceRKey        string    `db:"resource_rkey"`
	RootDID             string    `db:"root_did"`
	RootRKey            string    `db:"root_rkey"`
	RootCID             string    `db:"root_cid"`
	PrevDID             string    `db:"prev_did"`
	PrevRKey            string    `db:"prev_rkey"`
	PrevCID             string    `db:"prev_cid"`
	HasInlineDiff       bool      `db:"has_inline_diff"`
	HasSnapshot         bool      `db:"has_snapshot"`
	CreatedAt           time.Time `db:"created_at"`
}

func (r nodeRow) toNode() Node {
	return Node{
		DID: weaverapi.DID(r.DID), RKey: weaverapi.RKey(r.RKey), CID: weaverapi.CID(r.CID),
		NodeType: r.NodeType,
		Resource: weaverapi.ResourceRef{
			DID: weaverapi.DID(r.ResourceDID), Collection: weaverapi.Collection(r.ResourceCollection), RKey: weaverapi.RKey(r.ResourceRKey),
		},
		RootDID: weaverapi.DID(r.RootDID), RootRKey: weaverapi.RKey(r.RootRKey), RootCID: weaverapi.CID(r.RootCID),
		PrevDID: weaverapi.DID(r.PrevDID), PrevRKey: weaverapi.RKey(r.PrevRKey), PrevCID: weaverapi.CID(r.PrevCID),
		HasInlineDiff: r.HasInlineDiff, HasSnapshot: r.HasSnapshot, CreatedAt: r.CreatedAt,
	}
}

// GraphLoader reads edit nodes for one resource out of the analytical tier.
type GraphLoader struct {
	db *sqlx.DB
}

func NewGraphLoader(db *sqlx.DB) *GraphLoader {
	return &GraphLoader{db: db}
}

// LoadResource returns every node belonging to resource's edit graph.
func (g *GraphLoader) LoadResource(ctx context.Context, resource weaverapi.ResourceRef) ([]Node, error) {
	var rows []nodeRow
	err := g.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, cid, node_type, resource_did, resource_collection, resource_rkey,
			root_did, root_rkey, root_cid, prev_did, prev_rkey, prev_cid,
			has_inline_diff, has_snapshot, created_at
		FROM edit_nodes
		WHERE resource_did = $1 AND resource_collection = $2 AND resource_rkey = $3
		ORDER BY created_at ASC`,
		string(resource.DID), string(resource.Collection), string(resource.RKey))
	if err != nil {
		return nil, fmt.Errorf("editdag: load resource: %w", err)
	}
	nodes := make([]Node, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, r.toNode())
	}
	return nodes, nil
}

// Heads returns every node in nodes that no other node in nodes names as
// prev (spec §4.C head computation, done here in-memory for a single
// resource; analytical.RefreshEditHeads does the equivalent anti-join
// across all resources for the periodic view).
func Heads(nodes []Node) []Node {
	children := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.HasPrev() {
			children[string(n.PrevDID)+"/"+string(n.PrevRKey)] = true
		}
	}
	heads := make([]Node, 0, 1)
	for _, n := range nodes {
		key := string(n.DID) + "/" + string(n.RKey)
		if !children[key] {
			heads = append(heads, n)
		}
	}
	return heads
}
