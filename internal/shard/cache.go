package shard

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/rsform/weaver/internal/store/analytical"
)

// Reads consult the shard first, the analytical tier second (spec §4.E
// consistency: "the hot tier is a read-through cache with a best-effort
// refresh"). Each Refresh* method below is the miss path: fetch fresh rows
// from the authoritative analytical tier and replace the shard's cached
// copy for that resource.

// RefreshPermissions repopulates the shard's permissions cache for resourceURI.
func (s *Shard) RefreshPermissions(ctx context.Context, store *analytical.Store, resourceURI string) ([]PermissionCache, error) {
	rows, err := store.GetPermissions(ctx, resourceURI)
	if err != nil {
		return nil, fmt.Errorf("shard: refresh permissions: %w", err)
	}
	db, done := s.DB()
	defer done()

	now := unixNow()
	cached := make([]PermissionCache, 0, len(rows))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_uri = ?", resourceURI).Delete(&PermissionCache{}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			row := PermissionCache{ResourceURI: resourceURI, DID: r.DID, Role: r.Role, Scope: r.Scope, RefreshedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			cached = append(cached, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shard: persist permissions cache: %w", err)
	}
	return cached, nil
}

// Permissions reads the shard's cached permissions without consulting the
// analytical tier; callers decide whether to refresh on an empty result.
func (s *Shard) Permissions(ctx context.Context, resourceURI string) ([]PermissionCache, error) {
	db, done := s.DB()
	defer done()
	var rows []PermissionCache
	err := db.WithContext(ctx).Where("resource_uri = ?", resourceURI).Find(&rows).Error
	return rows, err
}

// RefreshCollaborators repopulates the shard's collaborators cache.
func (s *Shard) RefreshCollaborators(ctx context.Context, store *analytical.Store, resourceURI string) ([]CollaboratorCache, error) {
	rows, err := store.GetCollaborators(ctx, resourceURI)
	if err != nil {
		return nil, fmt.Errorf("shard: refresh collaborators: %w", err)
	}
	db, done := s.DB()
	defer done()

	now := unixNow()
	cached := make([]CollaboratorCache, 0, len(rows))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_uri = ?", resourceURI).Delete(&CollaboratorCache{}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			row := CollaboratorCache{ResourceURI: resourceURI, DID: r.DID, Scope: r.Scope, RefreshedAt: now}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			cached = append(cached, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shard: persist collaborators cache: %w", err)
	}
	return cached, nil
}

// RefreshSessions repopulates the shard's session cache for a resource.
func (s *Shard) RefreshSessions(ctx context.Context, store *analytical.Store, resourceURI string) ([]SessionCache, error) {
	rows, err := store.GetActiveSessions(ctx, resourceURI)
	if err != nil {
		return nil, fmt.Errorf("shard: refresh sessions: %w", err)
	}
	db, done := s.DB()
	defer done()

	cached := make([]SessionCache, 0, len(rows))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_uri = ?", resourceURI).Delete(&SessionCache{}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			var expires int64
			if r.ExpiresAt != nil {
				expires = r.ExpiresAt.Unix()
			}
			row := SessionCache{DID: r.DID, RKey: r.RKey, ResourceURI: resourceURI, NodeID: r.NodeID, RelayURL: r.RelayURL, ExpiresAt: expires}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			cached = append(cached, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shard: persist sessions cache: %w", err)
	}
	return cached, nil
}

// RefreshPendingInvites repopulates the shard's pending-invites cache.
func (s *Shard) RefreshPendingInvites(ctx context.Context, store *analytical.Store, resourceURI string) ([]PendingInviteCache, error) {
	rows, err := store.GetPendingInvites(ctx, resourceURI)
	if err != nil {
		return nil, fmt.Errorf("shard: refresh pending invites: %w", err)
	}
	db, done := s.DB()
	defer done()

	cached := make([]PendingInviteCache, 0, len(rows))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_uri = ?", resourceURI).Delete(&PendingInviteCache{}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			row := PendingInviteCache{
				InviterDID: r.InviterDID, RKey: r.RKey, ResourceURI: resourceURI,
				InviteeDID: r.InviteeDID, Scope: r.Scope, ExpiresAt: r.ExpiresAt.Unix(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			cached = append(cached, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shard: persist pending invites cache: %w", err)
	}
	return cached, nil
}

// RefreshEditNodes repopulates the shard's local edit-graph mirror.
func (s *Shard) RefreshEditNodes(ctx context.Context, store *analytical.Store, resourceDID, resourceCollection, resourceRKey string) ([]EditNodeMirror, error) {
	rows, err := store.GetEditNodes(ctx, resourceDID, resourceCollection, resourceRKey)
	if err != nil {
		return nil, fmt.Errorf("shard: refresh edit node mirror: %w", err)
	}
	db, done := s.DB()
	defer done()

	cached := make([]EditNodeMirror, 0, len(rows))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&EditNodeMirror{}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			row := EditNodeMirror{
				DID: r.DID, RKey: r.RKey, CID: r.CID, NodeType: r.NodeType,
				RootDID: r.RootDID, RootRKey: r.RootRKey, RootCID: r.RootCID,
				PrevDID: r.PrevDID, PrevRKey: r.PrevRKey, PrevCID: r.PrevCID,
				CreatedAt: r.CreatedAt.Unix(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			cached = append(cached, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shard: persist edit node mirror: %w", err)
	}
	return cached, nil
}

// SaveDraftTitle mirrors one entry of the denormalization layer's
// draft_titles table into this resource's shard (SPEC_FULL.md §C.1: exposed
// indirectly via the shard router's draft-titles cache).
func (s *Shard) SaveDraftTitle(ctx context.Context, did, rkey, title, headCID string) error {
	db, done := s.DB()
	defer done()
	row := DraftTitleCache{DID: did, RKey: rkey, Title: title, HeadCID: headCID, RefreshedAt: unixNow()}
	return db.WithContext(ctx).Save(&row).Error
}

// DraftTitle reads the cached draft title, without falling back to the
// analytical tier.
func (s *Shard) DraftTitle(ctx context.Context, did, rkey string) (string, error) {
	db, done := s.DB()
	defer done()
	var row DraftTitleCache
	err := db.WithContext(ctx).Where("did = ? AND rkey = ?", did, rkey).First(&row).Error
	if err != nil {
		return "", err
	}
	return row.Title, nil
}

// SavePresence writes a last-observed presence snapshot for best-effort
// display while the collaboration hub reconnects (spec §4.E: "optionally:
// presence bookkeeping").
func (s *Shard) SavePresence(ctx context.Context, resourceURI, did, displayName, nodeID string) error {
	db, done := s.DB()
	defer done()
	row := PresenceCache{ResourceURI: resourceURI, DID: did, DisplayName: displayName, NodeID: nodeID, LastSeen: unixNow()}
	return db.WithContext(ctx).Save(&row).Error
}
