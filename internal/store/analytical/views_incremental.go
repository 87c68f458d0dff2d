package analytical

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/editdag"
	"github.com/rsform/weaver/internal/weaverapi"
)

// Project fires once per raw_record_events insert (the incremental refresh
// discipline, spec §4.B.1) and projects the decoded record into its typed
// table. It does no base-state read beyond the single-row upsert/tombstone,
// so it is safe to call inline after every successful raw insert.
func (s *Store) Project(ctx context.Context, e RecordEvent) error {
	if e.Op == "delete" {
		return s.tombstone(ctx, e)
	}
	switch e.Collection {
	case "weaver.actor.profile":
		return s.projectProfile(ctx, e)
	case "weaver.notebook.book":
		return s.projectNotebook(ctx, e)
	case "weaver.notebook.entry":
		return s.projectEntry(ctx, e)
	case "weaver.edit.draft":
		return s.projectDraft(ctx, e)
	case "weaver.edit.root", "weaver.edit.diff":
		return s.projectEditNode(ctx, e)
	case "weaver.collab.invite":
		return s.projectCollabInvite(ctx, e)
	case "weaver.collab.accept":
		return s.projectCollabAccept(ctx, e)
	case "weaver.collab.session":
		return s.projectCollabSession(ctx, e)
	default:
		return nil // unknown collection: ignored per §7 validation taxonomy
	}
}

func (s *Store) tombstone(ctx context.Context, e RecordEvent) error {
	table, ok := tableForCollectionPrefix(e.Collection)
	if !ok {
		return nil
	}
	now := e.EventTime
	q, args, err := psql.Update(table).
		Set("deleted_at", now).
		Where(sqEq{"did": e.DID, "rkey": e.RKey}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

func tableForCollectionPrefix(collection string) (string, bool) {
	switch collection {
	case "weaver.actor.profile":
		return "profiles_weaver", true
	case "weaver.notebook.book":
		return "notebooks", true
	case "weaver.notebook.entry":
		return "entries", true
	case "weaver.edit.draft":
		return "drafts", true
	case "weaver.collab.invite":
		return "collab_invites", true
	case "weaver.collab.accept":
		return "collab_accepts", true
	case "weaver.collab.session":
		return "collab_sessions", true
	default:
		return "", false
	}
}

type profileFields struct {
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Avatar      *struct {
		Ref struct {
			Link string `json:"link"`
		} `json:"ref"`
	} `json:"avatar"`
	Banner *struct {
		Ref struct {
			Link string `json:"link"`
		} `json:"ref"`
	} `json:"banner"`
	CreatedAt string `json:"createdAt"`
}

func (s *Store) projectProfile(ctx context.Context, e RecordEvent) error {
	var f profileFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	avatarCID, bannerCID := "", ""
	if f.Avatar != nil {
		avatarCID = f.Avatar.Ref.Link
	}
	if f.Banner != nil {
		bannerCID = f.Banner.Ref.Link
	}
	q, args, err := psql.Insert("profiles_weaver").
		Columns("did", "rkey", "cid", "display_name", "description", "avatar_cid", "banner_cid", "created_at", "updated_at").
		Values(e.DID, e.RKey, e.CID, normalizeText(f.DisplayName), normalizeText(f.Description), avatarCID, bannerCID, e.EventTime, e.EventTime).
		Suffix(`ON CONFLICT (did) DO UPDATE SET
			rkey = EXCLUDED.rkey, cid = EXCLUDED.cid,
			display_name = EXCLUDED.display_name, description = EXCLUDED.description,
			avatar_cid = EXCLUDED.avatar_cid, banner_cid = EXCLUDED.banner_cid,
			updated_at = EXCLUDED.updated_at, deleted_at = NULL
			WHERE profiles_weaver.updated_at <= EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

type notebookFields struct {
	Title         string   `json:"title"`
	Path          string   `json:"path"`
	Tags          []string `json:"tags"`
	PublishGlobal bool     `json:"publishGlobal"`
	AuthorDIDs    []string `json:"authorDids"`
	EntryURIs     []string `json:"entryUris"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

func (s *Store) projectNotebook(ctx context.Context, e RecordEvent) error {
	var f notebookFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	q, args, err := psql.Insert("notebooks").
		Columns("did", "rkey", "cid", "title", "path", "tags", "publish_global", "author_dids", "entry_uris", "full_record", "created_at", "updated_at").
		Values(e.DID, e.RKey, e.CID, normalizeText(f.Title), f.Path, pq.Array(normalizeTags(f.Tags)), f.PublishGlobal, pq.Array(f.AuthorDIDs), pq.Array(f.EntryURIs), e.RecordJSON, e.EventTime, e.EventTime).
		Suffix(`ON CONFLICT (did, rkey) DO UPDATE SET
			cid = EXCLUDED.cid, title = EXCLUDED.title, path = EXCLUDED.path, tags = EXCLUDED.tags,
			publish_global = EXCLUDED.publish_global, author_dids = EXCLUDED.author_dids,
			entry_uris = EXCLUDED.entry_uris, full_record = EXCLUDED.full_record,
			updated_at = EXCLUDED.updated_at, deleted_at = NULL
			WHERE notebooks.updated_at <= EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	return s.reindexNotebookMembership(ctx, e.DID, e.RKey, f.EntryURIs)
}

func (s *Store) reindexNotebookMembership(ctx context.Context, notebookDID, notebookRKey string, entryURIs []string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM notebook_entry_membership WHERE notebook_did = $1 AND notebook_rkey = $2`,
		notebookDID, notebookRKey); err != nil {
		return err
	}
	for pos, uri := range entryURIs {
		entryDID, _, entryRKey, ok := splitResourceURI(uri)
		if !ok {
			continue
		}
		q, args, err := psql.Insert("notebook_entry_membership").
			Columns("entry_did", "entry_rkey", "notebook_did", "notebook_rkey", "position").
			Values(entryDID, entryRKey, notebookDID, notebookRKey, pos).
			Suffix("ON CONFLICT (entry_did, entry_rkey, notebook_did, notebook_rkey) DO UPDATE SET position = EXCLUDED.position").
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	return nil
}

type entryFields struct {
	Title      string   `json:"title"`
	Path       string   `json:"path"`
	Tags       []string `json:"tags"`
	AuthorDIDs []string `json:"authorDids"`
	CreatedAt  string   `json:"createdAt"`
	UpdatedAt  string   `json:"updatedAt"`
}

func (s *Store) projectEntry(ctx context.Context, e RecordEvent) error {
	var f entryFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	q, args, err := psql.Insert("entries").
		Columns("did", "rkey", "cid", "title", "path", "tags", "author_dids", "full_record", "created_at", "updated_at").
		Values(e.DID, e.RKey, e.CID, normalizeText(f.Title), f.Path, pq.Array(normalizeTags(f.Tags)), pq.Array(f.AuthorDIDs), e.RecordJSON, e.EventTime, e.EventTime).
		Suffix(`ON CONFLICT (did, rkey) DO UPDATE SET
			cid = EXCLUDED.cid, title = EXCLUDED.title, path = EXCLUDED.path, tags = EXCLUDED.tags,
			author_dids = EXCLUDED.author_dids, full_record = EXCLUDED.full_record,
			updated_at = EXCLUDED.updated_at, deleted_at = NULL
			WHERE entries.updated_at <= EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

type draftFields struct {
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
}

func (s *Store) projectDraft(ctx context.Context, e RecordEvent) error {
	var f draftFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	q, args, err := psql.Insert("drafts").
		Columns("did", "rkey", "cid", "title", "created_at").
		Values(e.DID, e.RKey, e.CID, normalizeText(f.Title), e.EventTime).
		Suffix(`ON CONFLICT (did, rkey) DO UPDATE SET
			cid = EXCLUDED.cid, title = EXCLUDED.title, deleted_at = NULL`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

type strongRefFields struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type editNodeFields struct {
	Root       strongRefFields  `json:"root"`
	Prev       *strongRefFields `json:"prev"`
	InlineDiff []byte           `json:"inlineDiff"`
	Snapshot   json.RawMessage  `json:"snapshot"`
	Doc        struct {
		Value string `json:"value"`
	} `json:"doc"`
	CreatedAt string `json:"createdAt"`
}

// projectEditNode handles both weaver.edit.root and weaver.edit.diff: a root
// names itself as its own root/prev for graph-loader uniformity.
func (s *Store) projectEditNode(ctx context.Context, e RecordEvent) error {
	var f editNodeFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	nodeType := "diff"
	rootDID, rootRKey := e.DID, e.RKey
	if e.Collection == "weaver.edit.root" {
		nodeType = "root"
	} else if f.Root.URI != "" {
		did, _, rkey, ok := splitResourceURI(f.Root.URI)
		if ok {
			rootDID, rootRKey = did, rkey
		}
	}
	var prevDID, prevRKey, prevCID string
	if f.Prev != nil {
		did, _, rkey, ok := splitResourceURI(f.Prev.URI)
		if ok {
			prevDID, prevRKey, prevCID = did, rkey, f.Prev.CID
		}
	}
	resDID, resCollection, resRKey, _ := splitResourceURI(f.Doc.Value)
	resource := weaverapi.ResourceRef{
		DID: weaverapi.DID(resDID), Collection: weaverapi.Collection(resCollection), RKey: weaverapi.RKey(resRKey),
	}
	candidate := editdag.Node{
		DID: weaverapi.DID(e.DID), RKey: weaverapi.RKey(e.RKey), CID: weaverapi.CID(e.CID),
		NodeType: nodeType,
		Resource: resource,
		RootDID:  weaverapi.DID(rootDID), RootRKey: weaverapi.RKey(rootRKey),
		PrevDID: weaverapi.DID(prevDID), PrevRKey: weaverapi.RKey(prevRKey), PrevCID: weaverapi.CID(prevCID),
	}

	existing, err := editdag.NewGraphLoader(s.db).LoadResource(ctx, resource)
	if err != nil {
		return err
	}
	if err := editdag.Admit(existing, candidate); err != nil {
		// Rejected by the graph loader (spec §4.C, §8 boundary behavior): the
		// raw event stays durable in raw_record_events, but it is never
		// projected into edit_nodes. Route it to the dead-letter table as a
		// validation failure rather than a decode failure.
		if s.log != nil {
			s.log.Warn("edit node rejected by graph loader",
				zap.String("did", e.DID), zap.String("rkey", e.RKey), zap.Error(err))
		}
		if dlqErr := s.InsertDeadLetter(ctx, e.Seq, e.RecordJSON, err.Error()); dlqErr != nil {
			return dlqErr
		}
		return nil
	}

	q, args, err := psql.Insert("edit_nodes").
		Columns("did", "rkey", "cid", "node_type", "resource_did", "resource_collection", "resource_rkey",
			"root_did", "root_rkey", "root_cid", "prev_did", "prev_rkey", "prev_cid",
			"has_inline_diff", "has_snapshot", "created_at").
		Values(e.DID, e.RKey, e.CID, nodeType, resDID, resCollection, resRKey,
			rootDID, rootRKey, e.CID, prevDID, prevRKey, prevCID,
			len(f.InlineDiff) > 0, len(f.Snapshot) > 0, e.EventTime).
		Suffix(`ON CONFLICT (did, rkey) DO UPDATE SET
			cid = EXCLUDED.cid, has_inline_diff = EXCLUDED.has_inline_diff, has_snapshot = EXCLUDED.has_snapshot`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

type collabInviteFields struct {
	Resource  strongRefFields `json:"resource"`
	Invitee   string          `json:"invitee"`
	Scope     string          `json:"scope"`
	Message   string          `json:"message"`
	ExpiresAt string          `json:"expiresAt"`
	CreatedAt string          `json:"createdAt"`
}

func (s *Store) projectCollabInvite(ctx context.Context, e RecordEvent) error {
	var f collabInviteFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	expiresAt, err := time.Parse(time.RFC3339, f.ExpiresAt)
	if err != nil {
		return err
	}
	q, args, err := psql.Insert("collab_invites").
		Columns("inviter_did", "rkey", "resource_uri", "invitee_did", "scope", "message", "expires_at", "created_at").
		Values(e.DID, e.RKey, f.Resource.URI, f.Invitee, f.Scope, f.Message, expiresAt, e.EventTime).
		Suffix(`ON CONFLICT (inviter_did, rkey) DO UPDATE SET
			resource_uri = EXCLUDED.resource_uri, invitee_did = EXCLUDED.invitee_did,
			scope = EXCLUDED.scope, message = EXCLUDED.message, expires_at = EXCLUDED.expires_at,
			deleted_at = NULL`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

type collabAcceptFields struct {
	Invite    strongRefFields `json:"invite"`
	Resource  string          `json:"resource"`
	CreatedAt string          `json:"createdAt"`
}

func (s *Store) projectCollabAccept(ctx context.Context, e RecordEvent) error {
	var f collabAcceptFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	q, args, err := psql.Insert("collab_accepts").
		Columns("accepter_did", "rkey", "invite_uri", "resource_uri", "created_at").
		Values(e.DID, e.RKey, f.Invite.URI, f.Resource, e.EventTime).
		Suffix(`ON CONFLICT (accepter_did, rkey) DO UPDATE SET
			invite_uri = EXCLUDED.invite_uri, resource_uri = EXCLUDED.resource_uri, deleted_at = NULL`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

type collabSessionFields struct {
	Resource  strongRefFields `json:"resource"`
	NodeID    string          `json:"nodeId"`
	RelayURL  string          `json:"relayUrl"`
	CreatedAt string          `json:"createdAt"`
	ExpiresAt string          `json:"expiresAt"`
}

func (s *Store) projectCollabSession(ctx context.Context, e RecordEvent) error {
	var f collabSessionFields
	if err := json.Unmarshal(e.RecordJSON, &f); err != nil {
		return err
	}
	var expiresAt *time.Time
	if f.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, f.ExpiresAt)
		if err != nil {
			return err
		}
		expiresAt = &t
	}
	q, args, err := psql.Insert("collab_sessions").
		Columns("did", "rkey", "resource_uri", "node_id", "relay_url", "created_at", "expires_at").
		Values(e.DID, e.RKey, f.Resource.URI, f.NodeID, f.RelayURL, e.EventTime, expiresAt).
		Suffix(`ON CONFLICT (did, rkey) DO UPDATE SET
			resource_uri = EXCLUDED.resource_uri, node_id = EXCLUDED.node_id,
			relay_url = EXCLUDED.relay_url, expires_at = EXCLUDED.expires_at, deleted_at = NULL`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, args...)
	return err
}

// splitResourceURI parses "at://did/collection/rkey" without importing
// weaverapi, keeping this package's dependency surface storage-only.
func splitResourceURI(uri string) (did, collection, rkey string, ok bool) {
	const prefix = "at://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", "", "", false
	}
	rest := uri[len(prefix):]
	first := indexByte(rest, '/')
	if first < 0 {
		return "", "", "", false
	}
	did = rest[:first]
	rest = rest[first+1:]
	second := indexByte(rest, '/')
	if second < 0 {
		return "", "", "", false
	}
	collection = rest[:second]
	rkey = rest[second+1:]
	if did == "" || collection == "" || rkey == "" {
		return "", "", "", false
	}
	return did, collection, rkey, true
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}
