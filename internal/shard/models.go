// Package shard is the Hot-Tier Shard Router (spec §4.E): a per-resource
// cache of permissions, sessions, invites, collaborators, and edit-graph
// mirrors, backed by a file-per-resource embedded SQL database so the
// latency-sensitive read path never waits on the analytical tier.
package shard

import "time"

// PermissionCache mirrors one row of the analytical `permissions` view for
// fast local reads (spec §4.E: "permissions cache (owner + collaborators)").
type PermissionCache struct {
	ResourceURI string `gorm:"column:resource_uri;primaryKey"`
	DID         string `gorm:"column:did;primaryKey"`
	Role        string `gorm:"column:role;not null"`
	Scope       string `gorm:"column:scope;not null;default:''"`
	RefreshedAt int64  `gorm:"column:refreshed_at;not null"`
}

func (PermissionCache) TableName() string { return "permissions_cache" }

// SessionCache mirrors active collab session records (spec §4.E: "sessions
// cache (active collab sessions with expires_at)").
type SessionCache struct {
	DID         string `gorm:"column:did;primaryKey"`
	RKey        string `gorm:"column:rkey;primaryKey"`
	ResourceURI string `gorm:"column:resource_uri;not null;index:idx_sessions_cache_resource"`
	NodeID      string `gorm:"column:node_id;not null"`
	RelayURL    string `gorm:"column:relay_url;not null;default:''"`
	ExpiresAt   int64  `gorm:"column:expires_at;not null"`
}

func (SessionCache) TableName() string { return "sessions_cache" }

// PendingInviteCache mirrors unexpired collab invites (spec §4.E:
// "pending_invites").
type PendingInviteCache struct {
	InviterDID  string `gorm:"column:inviter_did;primaryKey"`
	RKey        string `gorm:"column:rkey;primaryKey"`
	ResourceURI string `gorm:"column:resource_uri;not null"`
	InviteeDID  string `gorm:"column:invitee_did;not null"`
	Scope       string `gorm:"column:scope;not null"`
	ExpiresAt   int64  `gorm:"column:expires_at;not null"`
}

func (PendingInviteCache) TableName() string { return "pending_invites_cache" }

// CollaboratorCache mirrors the materialized invite+accept join (spec §4.E:
// "collaborators (materialized invite+accept)").
type CollaboratorCache struct {
	ResourceURI string `gorm:"column:resource_uri;primaryKey"`
	DID         string `gorm:"column:did;primaryKey"`
	Scope       string `gorm:"column:scope;not null"`
	RefreshedAt int64  `gorm:"column:refreshed_at;not null"`
}

func (CollaboratorCache) TableName() string { return "collaborators_cache" }

// EditNodeMirror is a local copy of the edit nodes for this shard's
// resource, so the hot path can compute heads without round-tripping to the
// analytical tier (spec §4.E: "local edit-graph mirrors for the hot path").
type EditNodeMirror struct {
	DID       string `gorm:"column:did;primaryKey"`
	RKey      string `gorm:"column:rkey;primaryKey"`
	CID       string `gorm:"column:cid;not null"`
	NodeType  string `gorm:"column:node_type;not null"`
	RootDID   string `gorm:"column:root_did;not null"`
	RootRKey  string `gorm:"column:root_rkey;not null"`
	RootCID   string `gorm:"column:root_cid;not null"`
	PrevDID   string `gorm:"column:prev_did;not null;default:''"`
	PrevRKey  string `gorm:"column:prev_rkey;not null;default:''"`
	PrevCID   string `gorm:"column:prev_cid;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null"`
}

func (EditNodeMirror) TableName() string { return "edit_node_mirror" }

// DraftTitleCache mirrors the denormalization layer's draft_titles table
// (SPEC_FULL.md §C.1) so a draft list view can skip full-document
// reconstruction.
type DraftTitleCache struct {
	DID         string `gorm:"column:did;primaryKey"`
	RKey        string `gorm:"column:rkey;primaryKey"`
	Title       string `gorm:"column:title;not null;default:''"`
	HeadCID     string `gorm:"column:head_cid;not null;default:''"`
	RefreshedAt int64  `gorm:"column:refreshed_at;not null"`
}

func (DraftTitleCache) TableName() string { return "draft_titles_cache" }

// PresenceCache is an optional last-observed presence snapshot, written on
// shard save so a cold shard reopened after eviction can show stale-but-
// present participant info before the gossip hub reconnects (spec §4.E:
// "optionally: presence bookkeeping").
type PresenceCache struct {
	ResourceURI string `gorm:"column:resource_uri;primaryKey"`
	DID         string `gorm:"column:did;primaryKey"`
	DisplayName string `gorm:"column:display_name;not null;default:''"`
	NodeID      string `gorm:"column:node_id;not null"`
	LastSeen    int64  `gorm:"column:last_seen;not null"`
}

func (PresenceCache) TableName() string { return "presence_cache" }

func allModels() []any {
	return []any{
		&PermissionCache{},
		&SessionCache{},
		&PendingInviteCache{},
		&CollaboratorCache{},
		&EditNodeMirror{},
		&DraftTitleCache{},
		&PresenceCache{},
	}
}

// unixNow is a small seam so tests can avoid depending on wall-clock time.
func unixNow() int64 { return time.Now().Unix() }
