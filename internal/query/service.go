package query

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/collab"
	"github.com/rsform/weaver/internal/editdag"
	"github.com/rsform/weaver/internal/store/analytical"
	"github.com/rsform/weaver/internal/weaverapi"
)

const defaultPageLimit = 20
const maxPageLimit = 100

// Service implements the Query Interface (spec §4.F) by composing the
// Denormalization Layer (B), the Edit DAG resolver (C), and the
// Collaboration Coordinator's live hub (D). The Hot-Tier Shard Router (E)
// is not used here or by the HTTP layer: every read goes to the analytical
// tier.
type Service struct {
	store  *analytical.Store
	graphs *editdag.GraphLoader
	hub    *collab.Hub // optional: nil means collaboration state queries report no live participants
	log    *zap.Logger
}

func NewService(store *analytical.Store, graphs *editdag.GraphLoader, hub *collab.Hub, log *zap.Logger) *Service {
	return &Service{store: store, graphs: graphs, hub: hub, log: log}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// GetEntry implements get_entry(uri) -> EntryView.
func (s *Service) GetEntry(ctx context.Context, uri string) (weaverapi.EntryView, error) {
	resource, err := s.resolveURI(ctx, uri)
	if err != nil {
		return weaverapi.EntryView{}, err
	}
	row, err := s.store.GetEntry(ctx, string(resource.DID), string(resource.RKey))
	if err != nil {
		return weaverapi.EntryView{}, fmt.Errorf("query: get entry: %w", err)
	}
	if row == nil {
		return weaverapi.EntryView{}, weaverapi.ErrNotFound
	}
	return s.hydrateEntry(ctx, *row), nil
}

// GetNotebook implements get_notebook(uri) -> NotebookView.
func (s *Service) GetNotebook(ctx context.Context, uri string) (weaverapi.NotebookView, error) {
	resource, err := s.resolveURI(ctx, uri)
	if err != nil {
		return weaverapi.NotebookView{}, err
	}
	row, err := s.store.GetNotebook(ctx, string(resource.DID), string(resource.RKey))
	if err != nil {
		return weaverapi.NotebookView{}, fmt.Errorf("query: get notebook: %w", err)
	}
	if row == nil {
		return weaverapi.NotebookView{}, weaverapi.ErrNotFound
	}
	return s.hydrateNotebook(ctx, *row), nil
}

// ResolveEntry implements resolve_entry(author, notebook_name, entry_name) -> EntryView.
// notebookName narrows the search to entries whose owning notebook matches
// by path; entryName is the entry's own path/slug.
func (s *Service) ResolveEntry(ctx context.Context, author, notebookName, entryName string) (weaverapi.EntryView, error) {
	did, err := s.resolveActor(ctx, author)
	if err != nil {
		return weaverapi.EntryView{}, err
	}
	if notebookName != "" {
		nb, err := s.store.FindNotebookByPath(ctx, string(did), notebookName)
		if err != nil {
			return weaverapi.EntryView{}, fmt.Errorf("query: resolve entry: %w", err)
		}
		if nb == nil {
			return weaverapi.EntryView{}, weaverapi.ErrNotFound
		}
	}
	row, err := s.store.FindEntryByPath(ctx, string(did), entryName)
	if err != nil {
		return weaverapi.EntryView{}, fmt.Errorf("query: resolve entry: %w", err)
	}
	if row == nil {
		return weaverapi.EntryView{}, weaverapi.ErrNotFound
	}
	return s.hydrateEntry(ctx, *row), nil
}

// ResolveNotebook implements resolve_notebook(author, name) -> NotebookView.
func (s *Service) ResolveNotebook(ctx context.Context, author, name string) (weaverapi.NotebookView, error) {
	did, err := s.resolveActor(ctx, author)
	if err != nil {
		return weaverapi.NotebookView{}, err
	}
	row, err := s.store.FindNotebookByPath(ctx, string(did), name)
	if err != nil {
		return weaverapi.NotebookView{}, fmt.Errorf("query: resolve notebook: %w", err)
	}
	if row == nil {
		return weaverapi.NotebookView{}, weaverapi.ErrNotFound
	}
	return s.hydrateNotebook(ctx, *row), nil
}

// ListActorNotebooks implements list_actor_notebooks(actor, limit, cursor) -> Page<NotebookView>.
func (s *Service) ListActorNotebooks(ctx context.Context, actor string, limit int, cursor string) (weaverapi.Page[weaverapi.NotebookView], error) {
	did, err := s.resolveActor(ctx, actor)
	if err != nil {
		return weaverapi.Page[weaverapi.NotebookView]{}, err
	}
	c, err := weaverapi.DecodeCursor(cursor)
	if err != nil {
		return weaverapi.Page[weaverapi.NotebookView]{}, err
	}
	after, rkey := cursorToUpdatedAt(c)
	limit = clampLimit(limit)

	rows, err := s.store.ListActorNotebooks(ctx, string(did), limit, after, rkey)
	if err != nil {
		return weaverapi.Page[weaverapi.NotebookView]{}, fmt.Errorf("query: list actor notebooks: %w", err)
	}
	return s.pageNotebooks(ctx, rows, limit), nil
}

// ListActorEntries implements list_actor_entries(actor, limit, cursor) -> Page<EntryView>.
func (s *Service) ListActorEntries(ctx context.Context, actor string, limit int, cursor string) (weaverapi.Page[weaverapi.EntryView], error) {
	did, err := s.resolveActor(ctx, actor)
	if err != nil {
		return weaverapi.Page[weaverapi.EntryView]{}, err
	}
	c, err := weaverapi.DecodeCursor(cursor)
	if err != nil {
		return weaverapi.Page[weaverapi.EntryView]{}, err
	}
	after, rkey := cursorToUpdatedAt(c)
	limit = clampLimit(limit)

	rows, err := s.store.ListActorEntries(ctx, string(did), limit, after, rkey)
	if err != nil {
		return weaverapi.Page[weaverapi.EntryView]{}, fmt.Errorf("query: list actor entries: %w", err)
	}
	return s.pageEntries(ctx, rows, limit), nil
}

// GetProfile implements get_profile(actor) -> ProfileView.
func (s *Service) GetProfile(ctx context.Context, actor string) (weaverapi.ProfileView, error) {
	did, err := s.resolveActor(ctx, actor)
	if err != nil {
		return weaverapi.ProfileView{}, err
	}
	return s.hydrateProfile(ctx, string(did))
}

// GetEntryFeed implements get_entry_feed(limit, cursor).
func (s *Service) GetEntryFeed(ctx context.Context, limit int, cursor string) (weaverapi.Page[weaverapi.EntryView], error) {
	c, err := weaverapi.DecodeCursor(cursor)
	if err != nil {
		return weaverapi.Page[weaverapi.EntryView]{}, err
	}
	after, did, rkey := feedCursorParts(c)
	limit = clampLimit(limit)

	rows, err := s.store.GetEntryFeed(ctx, limit, after, did, rkey)
	if err != nil {
		return weaverapi.Page[weaverapi.EntryView]{}, fmt.Errorf("query: get entry feed: %w", err)
	}
	return s.pageEntriesFeed(ctx, rows, limit), nil
}

// GetNotebookFeed implements get_notebook_feed(limit, cursor).
func (s *Service) GetNotebookFeed(ctx context.Context, limit int, cursor string) (weaverapi.Page[weaverapi.NotebookView], error) {
	c, err := weaverapi.DecodeCursor(cursor)
	if err != nil {
		return weaverapi.Page[weaverapi.NotebookView]{}, err
	}
	after, did, rkey := feedCursorParts(c)
	limit = clampLimit(limit)

	rows, err := s.store.GetNotebookFeed(ctx, limit, after, did, rkey)
	if err != nil {
		return weaverapi.Page[weaverapi.NotebookView]{}, fmt.Errorf("query: get notebook feed: %w", err)
	}
	return s.pageNotebooksFeed(ctx, rows, limit), nil
}

// GetEditHistory implements get_edit_history(resource_uri) -> {nodes, heads}.
func (s *Service) GetEditHistory(ctx context.Context, resourceURI string) (weaverapi.EditHistoryView, error) {
	resource, err := s.resolveURI(ctx, resourceURI)
	if err != nil {
		return weaverapi.EditHistoryView{}, err
	}
	res, err := editdag.Resolve(ctx, s.graphs, resource)
	if err != nil {
		return weaverapi.EditHistoryView{}, fmt.Errorf("query: get edit history: %w", err)
	}
	nodes, err := s.graphs.LoadResource(ctx, resource)
	if err != nil {
		return weaverapi.EditHistoryView{}, fmt.Errorf("query: get edit history: %w", err)
	}
	return weaverapi.EditHistoryView{
		Resource:  resource,
		Nodes:     toNodeViews(nodes),
		Heads:     toNodeViews(res.Heads),
		Divergent: res.Divergent,
	}, nil
}

func toNodeViews(nodes []editdag.Node) []weaverapi.EditNodeView {
	out := make([]weaverapi.EditNodeView, 0, len(nodes))
	for _, n := range nodes {
		v := weaverapi.EditNodeView{
			DID: n.DID, RKey: n.RKey, CID: n.CID, NodeType: n.NodeType,
			Root:          weaverapi.StrongRef{URI: weaverapi.RecordAddress(n.RootDID, "", n.RootRKey), CID: n.RootCID},
			HasInlineDiff: n.HasInlineDiff, HasSnapshot: n.HasSnapshot, CreatedAt: n.CreatedAt,
		}
		if n.HasPrev() {
			v.Prev = &weaverapi.StrongRef{URI: weaverapi.RecordAddress(n.PrevDID, "", n.PrevRKey), CID: n.PrevCID}
		}
		out = append(out, v)
	}
	return out
}

// GetResourceParticipants implements the supplemented feature C.4:
// distinguishes owner from participants and reports whether viewer holds
// edit rights, backed by the permissions view.
func (s *Service) GetResourceParticipants(ctx context.Context, resourceURI string, viewer weaverapi.DID) (weaverapi.ParticipantsView, error) {
	resource, err := s.resolveURI(ctx, resourceURI)
	if err != nil {
		return weaverapi.ParticipantsView{}, err
	}
	rows, err := s.store.GetPermissions(ctx, resource.String())
	if err != nil {
		return weaverapi.ParticipantsView{}, fmt.Errorf("query: get resource participants: %w", err)
	}

	view := weaverapi.ParticipantsView{Resource: resource}
	for _, r := range rows {
		if r.Role == "owner" {
			view.Owner = weaverapi.DID(r.DID)
		}
		view.Participants = append(view.Participants, *s.actorRef(ctx, r.DID))
		if weaverapi.DID(r.DID) == viewer {
			view.ViewerCanEdit = true
		}
	}
	return view, nil
}

// GetCollaborationState implements the supplemented feature C.5: a
// read-only summary of live collaboration for clients not joining the
// gossip channel.
func (s *Service) GetCollaborationState(ctx context.Context, resourceURI string, secret []byte) (weaverapi.CollaborationStateView, error) {
	resource, err := s.resolveURI(ctx, resourceURI)
	if err != nil {
		return weaverapi.CollaborationStateView{}, err
	}
	res, err := editdag.Resolve(ctx, s.graphs, resource)
	if err != nil {
		return weaverapi.CollaborationStateView{}, fmt.Errorf("query: get collaboration state: %w", err)
	}

	view := weaverapi.CollaborationStateView{Resource: resource, Divergent: res.Divergent}
	if len(res.Heads) > 0 {
		view.HeadCID = res.Heads[0].CID
	}
	if s.hub != nil {
		topic := collab.DeriveTopic(resource.String(), secret)
		for _, p := range s.hub.Participants(topic) {
			view.Live = append(view.Live, weaverapi.ActorRef{DID: weaverapi.DID(p.DID), DisplayName: p.DisplayName})
		}
		view.ParticipantCount = len(view.Live)
	}
	return view, nil
}

func cursorToUpdatedAt(c weaverapi.Cursor) (time.Time, string) {
	if c.IsZero() {
		return time.Now().Add(100 * 365 * 24 * time.Hour), "" // effectively "from the future", i.e. the start
	}
	t, err := time.Parse(time.RFC3339Nano, c.SortKey)
	if err != nil {
		return time.Now(), ""
	}
	return t, c.Tiebreaker
}

func feedCursorParts(c weaverapi.Cursor) (time.Time, string, string) {
	t, rkey := cursorToUpdatedAt(c)
	did := ""
	if idx := indexOfNull(c.Tiebreaker); idx >= 0 {
		did, rkey = c.Tiebreaker[:idx], c.Tiebreaker[idx+1:]
	}
	return t, did, rkey
}

func indexOfNull(s string) int {
	for i, r := range s {
		if r == 0 {
			return i
		}
	}
	return -1
}
