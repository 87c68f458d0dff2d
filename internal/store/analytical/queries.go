package analytical

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// These row types are the analytical tier's native shapes; internal/query
// hydrates them into the public weaverapi view types. Keeping the two
// separate means a schema column rename never leaks into the wire contract.

type EntryRow struct {
	DID        string         `db:"did"`
	RKey       string         `db:"rkey"`
	CID        string         `db:"cid"`
	Title      string         `db:"title"`
	Path       string         `db:"path"`
	Tags       pq.StringArray `db:"tags"`
	AuthorDIDs pq.StringArray `db:"author_dids"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

type NotebookRow struct {
	DID           string         `db:"did"`
	RKey          string         `db:"rkey"`
	CID           string         `db:"cid"`
	Title         string         `db:"title"`
	Path          string         `db:"path"`
	Tags          pq.StringArray `db:"tags"`
	PublishGlobal bool           `db:"publish_global"`
	AuthorDIDs    pq.StringArray `db:"author_dids"`
	EntryURIs     pq.StringArray `db:"entry_uris"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type ProfileRow struct {
	DID           string `db:"did"`
	Handle        string `db:"handle"`
	DisplayName   string `db:"display_name"`
	Description   string `db:"description"`
	AvatarCID     string `db:"avatar_cid"`
	BannerCID     string `db:"banner_cid"`
	NotebookCount int64  `db:"notebook_count"`
	EntryCount    int64  `db:"entry_count"`
}

type EditNodeRow struct {
	DID            string    `db:"did"`
	RKey           string    `db:"rkey"`
	CID            string    `db:"cid"`
	NodeType       string    `db:"node_type"`
	RootDID        string    `db:"root_did"`
	RootRKey       string    `db:"root_rkey"`
	RootCID        string    `db:"root_cid"`
	PrevDID        string    `db:"prev_did"`
	PrevRKey       string    `db:"prev_rkey"`
	PrevCID        string    `db:"prev_cid"`
	HasInlineDiff  bool      `db:"has_inline_diff"`
	HasSnapshot    bool      `db:"has_snapshot"`
	CreatedAt      time.Time `db:"created_at"`
}

type EditHeadRow struct {
	HeadDID  string `db:"head_did"`
	HeadRKey string `db:"head_rkey"`
	HeadCID  string `db:"head_cid"`
}

type PermissionRow struct {
	DID   string `db:"did"`
	Role  string `db:"role"`
	Scope string `db:"scope"`
}

type CollaboratorRow struct {
	DID   string `db:"did"`
	Scope string `db:"scope"`
}

type PendingInviteRow struct {
	InviterDID string    `db:"inviter_did"`
	RKey       string    `db:"rkey"`
	InviteeDID string    `db:"invitee_did"`
	Scope      string    `db:"scope"`
	ExpiresAt  time.Time `db:"expires_at"`
}

type SessionRow struct {
	DID       string     `db:"did"`
	RKey      string     `db:"rkey"`
	NodeID    string     `db:"node_id"`
	RelayURL  string     `db:"relay_url"`
	ExpiresAt *time.Time `db:"expires_at"`
}

// notFound normalizes the sqlx "no rows" sentinel to a plain (nil, nil)
// result — callers that need the distinction from a real error check for
// ErrNoRows explicitly via GetContext's own return, but every query method
// below treats "absent" as a valid, non-error outcome.
func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// GetEntry returns the live entry row for (did, rkey), or nil if absent/deleted.
func (s *Store) GetEntry(ctx context.Context, did, rkey string) (*EntryRow, error) {
	var row EntryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT did, rkey, cid, title, path, tags, author_dids, created_at, updated_at
		FROM entries WHERE did = $1 AND rkey = $2 AND deleted_at IS NULL`, did, rkey)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetNotebook returns the live notebook row for (did, rkey), or nil if absent/deleted.
func (s *Store) GetNotebook(ctx context.Context, did, rkey string) (*NotebookRow, error) {
	var row NotebookRow
	err := s.db.GetContext(ctx, &row, `
		SELECT did, rkey, cid, title, path, tags, publish_global, author_dids, entry_uris, created_at, updated_at
		FROM notebooks WHERE did = $1 AND rkey = $2 AND deleted_at IS NULL`, did, rkey)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindEntryByPath resolves an entry by its author and path/slug, the target
// of resolve_entry(author, notebook_name, entry_name) once the caller has
// already matched the notebook (spec §4.F).
func (s *Store) FindEntryByPath(ctx context.Context, did, path string) (*EntryRow, error) {
	var row EntryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT did, rkey, cid, title, path, tags, author_dids, created_at, updated_at
		FROM entries WHERE did = $1 AND path = $2 AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`, did, path)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindNotebookByPath resolves a notebook by author and path/slug, the target
// of resolve_notebook(author, name) (spec §4.F).
func (s *Store) FindNotebookByPath(ctx context.Context, did, path string) (*NotebookRow, error) {
	var row NotebookRow
	err := s.db.GetContext(ctx, &row, `
		SELECT did, rkey, cid, title, path, tags, publish_global, author_dids, entry_uris, created_at, updated_at
		FROM notebooks WHERE did = $1 AND path = $2 AND deleted_at IS NULL
		ORDER BY updated_at DESC LIMIT 1`, did, path)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetProfile returns the merged profile view plus notebook/entry counts.
func (s *Store) GetProfile(ctx context.Context, did string) (*ProfileRow, error) {
	var row ProfileRow
	err := s.db.GetContext(ctx, &row, `
		SELECT p.did, p.handle, p.display_name, p.description, p.avatar_cid, p.banner_cid,
			(SELECT COUNT(*) FROM notebooks n WHERE n.did = p.did AND n.deleted_at IS NULL) AS notebook_count,
			(SELECT COUNT(*) FROM entries e WHERE e.did = p.did AND e.deleted_at IS NULL) AS entry_count
		FROM profiles_merged p WHERE p.did = $1`, did)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// GetHandleForDID returns the active handle for a did, or "" if none.
func (s *Store) GetHandleForDID(ctx context.Context, did string) (string, error) {
	var handle string
	err := s.db.GetContext(ctx, &handle, `
		SELECT handle FROM handle_mappings WHERE did = $1 AND freed = FALSE
		ORDER BY event_time DESC LIMIT 1`, did)
	if notFound(err) {
		return "", nil
	}
	return handle, err
}

// ResolveHandle looks up the active (freed=false) did for a handle
// (invariant §3.5: at most one active row per did).
func (s *Store) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var did string
	err := s.db.GetContext(ctx, &did, `
		SELECT did FROM handle_mappings WHERE handle = $1 AND freed = FALSE
		ORDER BY event_time DESC LIMIT 1`, handle)
	if notFound(err) {
		return "", nil
	}
	return did, err
}

// ListActorEntries pages through one actor's live entries, newest first,
// the opaque cursor encoding (updated_at, rkey) as sort key/tiebreaker.
func (s *Store) ListActorEntries(ctx context.Context, did string, limit int, afterUpdatedAt time.Time, afterRKey string) ([]EntryRow, error) {
	rows := []EntryRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, cid, title, path, tags, author_dids, created_at, updated_at
		FROM entries
		WHERE did = $1 AND deleted_at IS NULL
			AND (updated_at, rkey) < ($2, $3)
		ORDER BY updated_at DESC, rkey DESC
		LIMIT $4`, did, afterUpdatedAt, afterRKey, limit)
	return rows, err
}

// ListActorNotebooks pages through one actor's live notebooks, newest first.
func (s *Store) ListActorNotebooks(ctx context.Context, did string, limit int, afterUpdatedAt time.Time, afterRKey string) ([]NotebookRow, error) {
	rows := []NotebookRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, cid, title, path, tags, publish_global, author_dids, entry_uris, created_at, updated_at
		FROM notebooks
		WHERE did = $1 AND deleted_at IS NULL
			AND (updated_at, rkey) < ($2, $3)
		ORDER BY updated_at DESC, rkey DESC
		LIMIT $4`, did, afterUpdatedAt, afterRKey, limit)
	return rows, err
}

// GetEntryFeed pages through every live entry globally, newest first.
func (s *Store) GetEntryFeed(ctx context.Context, limit int, afterUpdatedAt time.Time, afterDID, afterRKey string) ([]EntryRow, error) {
	rows := []EntryRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, cid, title, path, tags, author_dids, created_at, updated_at
		FROM entries
		WHERE deleted_at IS NULL
			AND (updated_at, did, rkey) < ($1, $2, $3)
		ORDER BY updated_at DESC, did DESC, rkey DESC
		LIMIT $4`, afterUpdatedAt, afterDID, afterRKey, limit)
	return rows, err
}

// GetNotebookFeed pages through every globally published notebook, newest first.
func (s *Store) GetNotebookFeed(ctx context.Context, limit int, afterUpdatedAt time.Time, afterDID, afterRKey string) ([]NotebookRow, error) {
	rows := []NotebookRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, cid, title, path, tags, publish_global, author_dids, entry_uris, created_at, updated_at
		FROM notebooks
		WHERE deleted_at IS NULL AND publish_global = TRUE
			AND (updated_at, did, rkey) < ($1, $2, $3)
		ORDER BY updated_at DESC, did DESC, rkey DESC
		LIMIT $4`, afterUpdatedAt, afterDID, afterRKey, limit)
	return rows, err
}

// GetEditNodes returns every node recorded against a resource (spec §4.F
// get_edit_history), oldest first.
func (s *Store) GetEditNodes(ctx context.Context, resourceDID, resourceCollection, resourceRKey string) ([]EditNodeRow, error) {
	rows := []EditNodeRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, cid, node_type, root_did, root_rkey, root_cid, prev_did, prev_rkey, prev_cid, has_inline_diff, has_snapshot, created_at
		FROM edit_nodes
		WHERE resource_did = $1 AND resource_collection = $2 AND resource_rkey = $3
		ORDER BY created_at ASC`, resourceDID, resourceCollection, resourceRKey)
	return rows, err
}

// GetEditHeads returns the current head set for a resource (>1 means divergent).
func (s *Store) GetEditHeads(ctx context.Context, resourceDID, resourceCollection, resourceRKey string) ([]EditHeadRow, error) {
	rows := []EditHeadRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT head_did, head_rkey, head_cid FROM edit_heads
		WHERE resource_did = $1 AND resource_collection = $2 AND resource_rkey = $3`,
		resourceDID, resourceCollection, resourceRKey)
	return rows, err
}

// GetPermissions returns the permission view rows for a resource URI, used
// both by the query interface (GetResourceParticipants) and to refill a
// shard's permissions cache.
func (s *Store) GetPermissions(ctx context.Context, resourceURI string) ([]PermissionRow, error) {
	rows := []PermissionRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, role, scope FROM permissions WHERE resource_uri = $1`, resourceURI)
	return rows, err
}

// GetCollaborators returns the materialized collaborator rows for a resource.
func (s *Store) GetCollaborators(ctx context.Context, resourceURI string) ([]CollaboratorRow, error) {
	rows := []CollaboratorRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, scope FROM collaborators WHERE resource_uri = $1`, resourceURI)
	return rows, err
}

// GetPendingInvites returns unexpired invites for a resource.
func (s *Store) GetPendingInvites(ctx context.Context, resourceURI string) ([]PendingInviteRow, error) {
	rows := []PendingInviteRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT inviter_did, rkey, invitee_did, scope, expires_at
		FROM collab_invites
		WHERE resource_uri = $1 AND deleted_at IS NULL AND expires_at > NOW()`, resourceURI)
	return rows, err
}

// GetActiveSessions returns non-expired collab sessions for a resource
// (component D's discovery.Peers duplicates this narrowed to exclude one
// DID; this is the unfiltered version used to refill a shard cache).
func (s *Store) GetActiveSessions(ctx context.Context, resourceURI string) ([]SessionRow, error) {
	rows := []SessionRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT did, rkey, node_id, relay_url, expires_at
		FROM collab_sessions
		WHERE resource_uri = $1 AND deleted_at IS NULL
			AND (expires_at IS NULL OR expires_at > NOW())`, resourceURI)
	return rows, err
}

// GetEngagementCount reads one engagement counter (likes, bookmarks,
// subscriptions, followers, following) for a subject URI.
func (s *Store) GetEngagementCount(ctx context.Context, subjectURI, kind string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `
		SELECT COALESCE(count, 0) FROM engagement_counts WHERE subject_uri = $1 AND kind = $2`, subjectURI, kind)
	if notFound(err) {
		return 0, nil
	}
	return count, err
}

// GetDraftTitle reads the cached title extracted for a draft (supplemented
// feature C.1).
func (s *Store) GetDraftTitle(ctx context.Context, did, rkey string) (string, error) {
	var title string
	err := s.db.GetContext(ctx, &title, `
		SELECT title FROM draft_titles WHERE did = $1 AND rkey = $2`, did, rkey)
	if notFound(err) {
		return "", nil
	}
	return title, err
}
