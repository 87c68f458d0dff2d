package collab

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// SessionPeer is one other participant's advertised P2P address, read back
// from the analytical tier's collab_sessions table (spec §4.D lifecycle
// step 3: "queries the index... for other session records on the same
// resource, extracts their node_ids").
type SessionPeer struct {
	DID      string
	NodeID   string
	RelayURL string
}

// Discovery answers peer-discovery queries against the ingested session
// records. It is a thin read layer over the same analytical tier the Query
// Interface (component F) reads from — the loop the spec describes as
// "publishing closes via A -> B -> C for peer discovery".
type Discovery struct {
	db *sqlx.DB
}

func NewDiscovery(db *sqlx.DB) *Discovery {
	return &Discovery{db: db}
}

type sessionRow struct {
	DID      string    `db:"did"`
	NodeID   string    `db:"node_id"`
	RelayURL string    `db:"relay_url"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// Peers returns every non-expired session on resourceURI, excluding
// excludeDID (a client never needs to dial itself).
func (d *Discovery) Peers(ctx context.Context, resourceURI, excludeDID string) ([]SessionPeer, error) {
	var rows []sessionRow
	err := d.db.SelectContext(ctx, &rows, `
		SELECT did, node_id, relay_url, expires_at
		FROM collab_sessions
		WHERE resource_uri = $1 AND did != $2 AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())`,
		resourceURI, excludeDID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionPeer, 0, len(rows))
	for _, r := range rows {
		out = append(out, SessionPeer{DID: r.DID, NodeID: r.NodeID, RelayURL: r.RelayURL})
	}
	return out, nil
}
