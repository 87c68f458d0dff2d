package query

import (
	"context"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/store/analytical"
	"github.com/rsform/weaver/internal/weaverapi"
)

// engagementKinds named per spec §4.B Counts.
const (
	kindLike         = "like"
	kindBookmark     = "bookmark"
	kindSubscription = "subscription"
)

func (s *Service) actorRef(ctx context.Context, did string) *weaverapi.ActorRef {
	handle, err := s.store.GetHandleForDID(ctx, did)
	if err != nil && s.log != nil {
		s.log.Warn("query: handle lookup failed", zap.Error(err))
	}
	ref := &weaverapi.ActorRef{DID: weaverapi.DID(did), Handle: handle}
	profile, err := s.store.GetProfile(ctx, did)
	if err == nil && profile != nil {
		ref.DisplayName = profile.DisplayName
	}
	return ref
}

func (s *Service) hydrateEntry(ctx context.Context, row analytical.EntryRow) weaverapi.EntryView {
	likes, _ := s.store.GetEngagementCount(ctx, weaverapi.RecordAddress(weaverapi.DID(row.DID), collectionEntry, weaverapi.RKey(row.RKey)), kindLike)
	bookmarks, _ := s.store.GetEngagementCount(ctx, weaverapi.RecordAddress(weaverapi.DID(row.DID), collectionEntry, weaverapi.RKey(row.RKey)), kindBookmark)

	authors := make([]weaverapi.DID, 0, len(row.AuthorDIDs))
	for _, d := range row.AuthorDIDs {
		authors = append(authors, weaverapi.DID(d))
	}

	return weaverapi.EntryView{
		URI:        weaverapi.RecordAddress(weaverapi.DID(row.DID), collectionEntry, weaverapi.RKey(row.RKey)),
		DID:        weaverapi.DID(row.DID),
		RKey:       weaverapi.RKey(row.RKey),
		CID:        weaverapi.CID(row.CID),
		Title:      row.Title,
		Path:       row.Path,
		Tags:       row.Tags,
		AuthorDIDs: authors,
		Author:     s.actorRef(ctx, row.DID),
		Likes:      likes,
		Bookmarks:  bookmarks,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

func (s *Service) hydrateNotebook(ctx context.Context, row analytical.NotebookRow) weaverapi.NotebookView {
	uri := weaverapi.RecordAddress(weaverapi.DID(row.DID), collectionBook, weaverapi.RKey(row.RKey))
	likes, _ := s.store.GetEngagementCount(ctx, uri, kindLike)
	bookmarks, _ := s.store.GetEngagementCount(ctx, uri, kindBookmark)
	subs, _ := s.store.GetEngagementCount(ctx, uri, kindSubscription)

	authors := make([]weaverapi.DID, 0, len(row.AuthorDIDs))
	for _, d := range row.AuthorDIDs {
		authors = append(authors, weaverapi.DID(d))
	}

	return weaverapi.NotebookView{
		URI:           uri,
		DID:           weaverapi.DID(row.DID),
		RKey:          weaverapi.RKey(row.RKey),
		CID:           weaverapi.CID(row.CID),
		Title:         row.Title,
		Path:          row.Path,
		Tags:          row.Tags,
		PublishGlobal: row.PublishGlobal,
		AuthorDIDs:    authors,
		EntryURIs:     row.EntryURIs,
		Author:        s.actorRef(ctx, row.DID),
		Likes:         likes,
		Bookmarks:     bookmarks,
		Subscriptions: subs,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func (s *Service) hydrateProfile(ctx context.Context, did string) (weaverapi.ProfileView, error) {
	row, err := s.store.GetProfile(ctx, did)
	if err != nil {
		return weaverapi.ProfileView{}, err
	}
	if row == nil {
		return weaverapi.ProfileView{}, weaverapi.ErrNotFound
	}
	followers, _ := s.store.GetEngagementCount(ctx, "did:"+did, "follower")
	following, _ := s.store.GetEngagementCount(ctx, "did:"+did, "following")
	return weaverapi.ProfileView{
		DID:           weaverapi.DID(row.DID),
		Handle:        row.Handle,
		DisplayName:   row.DisplayName,
		Description:   row.Description,
		AvatarCID:     weaverapi.CID(row.AvatarCID),
		BannerCID:     weaverapi.CID(row.BannerCID),
		Followers:     followers,
		Following:     following,
		NotebookCount: row.NotebookCount,
		EntryCount:    row.EntryCount,
	}, nil
}
