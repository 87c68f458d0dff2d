package query

import (
	"context"
	"time"

	"github.com/rsform/weaver/internal/store/analytical"
	"github.com/rsform/weaver/internal/weaverapi"
)

// Pagination cursors encode (sort_key, tiebreaker) per spec §4.F: sort_key is
// the row's updated_at in RFC3339Nano (so it's both a valid sort key and
// round-trips exactly), tiebreaker is the rkey for a single-actor listing or
// "did\x00rkey" for a cross-actor feed where rkey alone isn't unique.

func nextPageCursor(rows int, limit int, lastUpdatedAt time.Time, tiebreaker string) string {
	if rows < limit {
		return "" // fewer rows than requested: this was the last page
	}
	return weaverapi.Cursor{SortKey: lastUpdatedAt.Format(time.RFC3339Nano), Tiebreaker: tiebreaker}.Encode()
}

func (s *Service) pageEntries(ctx context.Context, rows []analytical.EntryRow, limit int) weaverapi.Page[weaverapi.EntryView] {
	items := make([]weaverapi.EntryView, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.hydrateEntry(ctx, r))
	}
	page := weaverapi.Page[weaverapi.EntryView]{Items: items}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		page.Cursor = nextPageCursor(len(rows), limit, last.UpdatedAt, last.RKey)
	}
	return page
}

func (s *Service) pageEntriesFeed(ctx context.Context, rows []analytical.EntryRow, limit int) weaverapi.Page[weaverapi.EntryView] {
	items := make([]weaverapi.EntryView, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.hydrateEntry(ctx, r))
	}
	page := weaverapi.Page[weaverapi.EntryView]{Items: items}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		page.Cursor = nextPageCursor(len(rows), limit, last.UpdatedAt, last.DID+"\x00"+last.RKey)
	}
	return page
}

func (s *Service) pageNotebooks(ctx context.Context, rows []analytical.NotebookRow, limit int) weaverapi.Page[weaverapi.NotebookView] {
	items := make([]weaverapi.NotebookView, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.hydrateNotebook(ctx, r))
	}
	page := weaverapi.Page[weaverapi.NotebookView]{Items: items}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		page.Cursor = nextPageCursor(len(rows), limit, last.UpdatedAt, last.RKey)
	}
	return page
}

func (s *Service) pageNotebooksFeed(ctx context.Context, rows []analytical.NotebookRow, limit int) weaverapi.Page[weaverapi.NotebookView] {
	items := make([]weaverapi.NotebookView, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.hydrateNotebook(ctx, r))
	}
	page := weaverapi.Page[weaverapi.NotebookView]{Items: items}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		page.Cursor = nextPageCursor(len(rows), limit, last.UpdatedAt, last.DID+"\x00"+last.RKey)
	}
	return page
}
