package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/rsform/weaver/internal/editdag"
	"github.com/rsform/weaver/internal/weaverapi"
)

// newRKey mints a record key for a freshly published edit node. ULIDs are
// lexicographically sortable by creation time and lowercase-friendly,
// matching spec §6's description of rev tokens as "base32-like sortable
// strings encoding millisecond timestamps plus randomness" without this
// core needing to depend on the federation protocol's own rev format.
func newRKey() string {
	return strings.ToLower(ulid.Make().String())
}

// SnapshotBridge composes the edit DAG resolver with the federation client
// to implement collab.SnapshotLoader and collab.Publisher: the two narrow
// hooks the Collaboration Coordinator needs across the non-goal boundary of
// the federation protocol's own repository layout (spec §4.D lifecycle step
// 1 and "Persistence").
type SnapshotBridge struct {
	client *Client
	graphs *editdag.GraphLoader
	// PublisherDID is the local author identity this process publishes
	// converged snapshots under; a real deployment runs one collab worker
	// per connected author, each with its own bridge.
	PublisherDID string
}

func NewSnapshotBridge(client *Client, graphs *editdag.GraphLoader, publisherDID string) *SnapshotBridge {
	return &SnapshotBridge{client: client, graphs: graphs, PublisherDID: publisherDID}
}

// LoadSnapshot reconstructs a resource's starting CRDT state by resolving
// its edit DAG head and fetching the nearest full snapshot blob walking
// backward from it. Intervening inline diffs between that snapshot and the
// head are not replayed here — live gossip updates bring a freshly-joined
// peer the rest of the way to convergence (spec §4.D "a peer whose snapshot
// is behind requests a full sync"), so a slightly-stale cold start is
// corrected by the first ExportSnapshot exchange rather than by composing
// diffs in this read path. A divergent resource (multiple heads) has no
// single canonical snapshot to seed from; LoadSnapshot returns nil and the
// collaborative document starts empty, same as a brand-new resource.
func (b *SnapshotBridge) LoadSnapshot(ctx context.Context, resource weaverapi.ResourceRef) ([]byte, error) {
	res, err := editdag.Resolve(ctx, b.graphs, resource)
	if err != nil {
		return nil, fmt.Errorf("federation: resolve resource for snapshot load: %w", err)
	}
	if res.Divergent || len(res.Chain) == 0 {
		return nil, nil
	}
	for i := len(res.Chain) - 1; i >= 0; i-- {
		node := res.Chain[i]
		if !node.HasSnapshot {
			continue
		}
		return b.fetchNodeSnapshot(ctx, node)
	}
	return nil, nil
}

func (b *SnapshotBridge) fetchNodeSnapshot(ctx context.Context, node editdag.Node) ([]byte, error) {
	collection := weaverapi.CollectionEditDiff
	if node.NodeType == "root" {
		collection = weaverapi.CollectionEditRoot
	}
	_, _, recordJSON, err := b.client.FetchRecord(ctx, string(node.DID), string(collection), string(node.RKey))
	if err != nil {
		return nil, fmt.Errorf("federation: fetch edit node record: %w", err)
	}
	var ref struct {
		Snapshot *weaverapi.BlobRef `json:"snapshot"`
	}
	if err := json.Unmarshal(recordJSON, &ref); err != nil {
		return nil, fmt.Errorf("federation: decode edit node record: %w", err)
	}
	if ref.Snapshot == nil {
		return nil, nil
	}
	return b.client.FetchBlob(ctx, string(node.DID), string(ref.Snapshot.Ref.Link))
}

// PublishSnapshot writes a converged CRDT snapshot back to the publisher's
// own repository as a new edit.diff node chained onto the resource's
// current head (or an edit.root if the resource has no history yet),
// closing the loop described in spec §4.D "Persistence": ingestion of this
// write flows back through A -> B -> C and becomes the new canonical head.
func (b *SnapshotBridge) PublishSnapshot(ctx context.Context, resource weaverapi.ResourceRef, snapshot []byte) error {
	blobCID, err := b.client.UploadBlob(ctx, b.PublisherDID, snapshot, "application/octet-stream")
	if err != nil {
		return fmt.Errorf("federation: upload snapshot blob: %w", err)
	}
	blobRef := &weaverapi.BlobRef{MimeType: "application/octet-stream", Size: int64(len(snapshot))}
	blobRef.Ref.Link = weaverapi.CID(blobCID)

	res, err := editdag.Resolve(ctx, b.graphs, resource)
	if err != nil {
		return fmt.Errorf("federation: resolve resource for publish: %w", err)
	}

	rkey := newRKey()
	if len(res.Heads) == 0 {
		record := weaverapi.EditRootRecord{
			Doc:      weaverapi.DocRef{Value: resource.String()},
			Snapshot: blobRef,
		}
		_, err := b.client.PutRecord(ctx, b.PublisherDID, string(weaverapi.CollectionEditRoot), rkey, record)
		return err
	}
	if len(res.Heads) > 1 {
		// Publishing onto a divergent resource would just add a third
		// branch; the spec treats merge as an editor-level operation
		// outside this core (§4.C step 3), so the publisher picks the
		// lexicographically-first head deterministically rather than
		// guessing which branch the user meant to continue.
	}
	head := res.Heads[0]
	for _, h := range res.Heads[1:] {
		if string(h.DID)+string(h.RKey) < string(head.DID)+string(head.RKey) {
			head = h
		}
	}
	record := weaverapi.EditDiffRecord{
		Root:     weaverapi.StrongRef{URI: weaverapi.RecordAddress(head.RootDID, "", head.RootRKey), CID: head.RootCID},
		Prev:     &weaverapi.StrongRef{URI: weaverapi.RecordAddress(head.DID, "", head.RKey), CID: head.CID},
		Snapshot: blobRef,
		Doc:      weaverapi.DocRef{Value: resource.String()},
	}
	_, err = b.client.PutRecord(ctx, b.PublisherDID, string(weaverapi.CollectionEditDiff), rkey, record)
	return err
}
