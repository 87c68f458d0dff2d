package weaverapi

import "time"

// EntryView, NotebookView, and ProfileView are the hydrated read shapes
// returned by the query interface (spec §4.F). They join base rows against
// profile, count, and permission views.
type EntryView struct {
	URI        string    `json:"uri"`
	DID        DID       `json:"did"`
	RKey       RKey      `json:"rkey"`
	CID        CID       `json:"cid"`
	Title      string    `json:"title"`
	Path       string    `json:"path"`
	Tags       []string  `json:"tags,omitempty"`
	AuthorDIDs []DID     `json:"authorDids,omitempty"`
	Author     *ActorRef `json:"author,omitempty"`
	Likes      int64     `json:"likes"`
	Bookmarks  int64     `json:"bookmarks"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type NotebookView struct {
	URI           string    `json:"uri"`
	DID           DID       `json:"did"`
	RKey          RKey      `json:"rkey"`
	CID           CID       `json:"cid"`
	Title         string    `json:"title"`
	Path          string    `json:"path"`
	Tags          []string  `json:"tags,omitempty"`
	PublishGlobal bool      `json:"publishGlobal"`
	AuthorDIDs    []DID     `json:"authorDids,omitempty"`
	EntryURIs     []string  `json:"entryUris,omitempty"`
	Author        *ActorRef `json:"author,omitempty"`
	Likes         int64     `json:"likes"`
	Bookmarks     int64     `json:"bookmarks"`
	Subscriptions int64     `json:"subscriptions"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ProfileView struct {
	DID          DID       `json:"did"`
	Handle       string    `json:"handle,omitempty"`
	DisplayName  string    `json:"displayName"`
	Description  string    `json:"description,omitempty"`
	AvatarCID    CID       `json:"avatarCid,omitempty"`
	BannerCID    CID       `json:"bannerCid,omitempty"`
	Followers    int64     `json:"followers"`
	Following    int64     `json:"following"`
	NotebookCount int64    `json:"notebookCount"`
	EntryCount   int64     `json:"entryCount"`
}

type ActorRef struct {
	DID         DID    `json:"did"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// EditNodeView is one node in an edit history response.
type EditNodeView struct {
	DID          DID       `json:"did"`
	RKey         RKey      `json:"rkey"`
	CID          CID       `json:"cid"`
	NodeType     string    `json:"nodeType"`
	Root         StrongRef `json:"root"`
	Prev         *StrongRef `json:"prev,omitempty"`
	HasInlineDiff bool     `json:"hasInlineDiff"`
	HasSnapshot  bool      `json:"hasSnapshot"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EditHistoryView is the response for get_edit_history: the full node set
// plus the current head set (len > 1 means divergent).
type EditHistoryView struct {
	Resource  ResourceRef    `json:"resource"`
	Nodes     []EditNodeView `json:"nodes"`
	Heads     []EditNodeView `json:"heads"`
	Divergent bool           `json:"divergent"`
}

// ParticipantsView answers GetResourceParticipants (supplemented feature C.4).
type ParticipantsView struct {
	Resource     ResourceRef `json:"resource"`
	Owner        DID         `json:"owner"`
	Participants []ActorRef  `json:"participants"`
	ViewerCanEdit bool       `json:"viewerCanEdit"`
}

// CollaborationStateView answers GetCollaborationState (supplemented feature C.5).
type CollaborationStateView struct {
	Resource    ResourceRef `json:"resource"`
	HeadCID     CID         `json:"headCid"`
	Divergent   bool        `json:"divergent"`
	Live        []ActorRef  `json:"live"`
	ParticipantCount int    `json:"participantCount"`
}

// Page is the paginated envelope returned by list_* operations, keyed by an
// opaque cursor string encoding (sort_key, tiebreaker).
type Page[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor,omitempty"`
}
