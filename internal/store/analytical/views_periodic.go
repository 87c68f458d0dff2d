package analytical

import "context"

// RefreshHandleMappings recomputes the active handle mapping per did: the
// row with freed=false having the greatest event_time (invariant §3.5). An
// identity event always inserts a fresh row via raw_identity_events; this
// refresh just flips every earlier row for the did to freed=true.
func (s *Store) RefreshHandleMappings(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handle_mappings (handle, did, freed, account_status, source, event_time)
		SELECT DISTINCT i.handle, i.did, FALSE, 'active', 'identity', i.event_time
		FROM raw_identity_events i
		ON CONFLICT (did, handle, event_time) DO NOTHING;

		UPDATE handle_mappings hm SET freed = TRUE
		WHERE hm.freed = FALSE AND hm.event_time < (
			SELECT MAX(hm2.event_time) FROM handle_mappings hm2 WHERE hm2.did = hm.did
		);
	`)
	return err
}

// RefreshMergedProfiles coalesces weaver.actor.profile over the cross-app
// profile, weaver fields taking priority, and joins the active handle.
func (s *Store) RefreshMergedProfiles(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles_merged AS
		SELECT w.did, '' AS handle, w.display_name, w.description, w.avatar_cid, w.banner_cid
		FROM profiles_weaver w WHERE FALSE;

		TRUNCATE profiles_merged;

		INSERT INTO profiles_merged (did, handle, display_name, description, avatar_cid, banner_cid)
		SELECT
			COALESCE(w.did, c.did) AS did,
			COALESCE(h.handle, '') AS handle,
			COALESCE(NULLIF(w.display_name, ''), c.display_name, '') AS display_name,
			COALESCE(NULLIF(w.description, ''), c.description, '') AS description,
			COALESCE(w.avatar_cid, '') AS avatar_cid,
			COALESCE(w.banner_cid, '') AS banner_cid
		FROM profiles_weaver w
		FULL OUTER JOIN profiles_cross_app c ON c.did = w.did AND c.deleted_at IS NULL
		LEFT JOIN handle_mappings h ON h.did = COALESCE(w.did, c.did) AND h.freed = FALSE
		WHERE w.deleted_at IS NULL OR w.did IS NULL;
	`)
	return err
}

// RefreshEditHeads recomputes heads(resource) by anti-join: nodes that no
// other node names as prev (spec §4.C head computation).
func (s *Store) RefreshEditHeads(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM edit_heads;
		INSERT INTO edit_heads (resource_did, resource_collection, resource_rkey, head_did, head_rkey, head_cid)
		SELECT n.resource_did, n.resource_collection, n.resource_rkey, n.did, n.rkey, n.cid
		FROM edit_nodes n
		LEFT JOIN edit_nodes child
			ON child.prev_did = n.did AND child.prev_rkey = n.rkey
		WHERE child.did IS NULL;
	`)
	return err
}

// RefreshCollaborators recomputes invite/accept pairs whose invite has not
// expired (invariant §3.4: a collaborator exists only with both a
// non-expired invite and a matching accept).
func (s *Store) RefreshCollaborators(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM collaborators;
		INSERT INTO collaborators (resource_uri, did, scope)
		SELECT i.resource_uri, a.accepter_did, i.scope
		FROM collab_invites i
		JOIN collab_accepts a ON a.invite_uri = 'at://' || i.inviter_did || '/weaver.collab.invite/' || i.rkey
		WHERE i.deleted_at IS NULL AND a.deleted_at IS NULL
			AND i.expires_at > NOW()
			AND a.accepter_did = i.invitee_did;
	`)
	return err
}

// RefreshPermissions recomputes owners ∪ granted collaborators (spec §3
// Permissions view). Owner is derived from the entry/notebook author.
func (s *Store) RefreshPermissions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM permissions;

		INSERT INTO permissions (resource_uri, resource_did, did, role, scope)
		SELECT 'at://' || e.did || '/weaver.notebook.entry/' || e.rkey, e.did, e.did, 'owner', ''
		FROM entries e WHERE e.deleted_at IS NULL
		UNION ALL
		SELECT 'at://' || n.did || '/weaver.notebook.book/' || n.rkey, n.did, n.did, 'owner', ''
		FROM notebooks n WHERE n.deleted_at IS NULL;

		INSERT INTO permissions (resource_uri, resource_did, did, role, scope)
		SELECT c.resource_uri, split_part(substring(c.resource_uri from 6), '/', 1), c.did, 'collaborator', c.scope
		FROM collaborators c
		ON CONFLICT (resource_uri, did) DO UPDATE SET role = 'collaborator', scope = EXCLUDED.scope;
	`)
	return err
}

// RefreshContributors recomputes the union of owners, edit-node authors, and
// publishing collaborators (spec §3 Contributors view).
func (s *Store) RefreshContributors(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM contributors;
		INSERT INTO contributors (resource_uri, did)
		SELECT resource_uri, did FROM permissions
		UNION
		SELECT 'at://' || n.resource_did || '/' || n.resource_collection || '/' || n.resource_rkey, n.did
		FROM edit_nodes n
		ON CONFLICT (resource_uri, did) DO NOTHING;
	`)
	return err
}

// RefreshEngagementCounts sums engagement_deltas into engagement_counts.
// Each create/delete produces a +1/-1 delta row; this is the background
// merge side of the signed-increment summing table (spec §4.B Counts).
func (s *Store) RefreshEngagementCounts(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_counts (subject_uri, kind, count)
		SELECT subject_uri, kind, SUM(delta)
		FROM engagement_deltas
		GROUP BY subject_uri, kind
		ON CONFLICT (subject_uri, kind) DO UPDATE SET
			count = EXCLUDED.count, refreshed_at = NOW();
	`)
	return err
}

// RefreshDraftTitles extracts a display title for drafts whose edit head
// changed since the last pass (supplemented feature C.1), avoiding a full
// document reconstruction on every list_drafts-style query.
func (s *Store) RefreshDraftTitles(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO draft_titles (did, rkey, title, head_cid)
		SELECT d.did, d.rkey, d.title, h.head_cid
		FROM drafts d
		JOIN edit_heads h ON h.resource_did = d.did AND h.resource_collection = 'weaver.edit.draft' AND h.resource_rkey = d.rkey
		WHERE d.deleted_at IS NULL
		ON CONFLICT (did, rkey) DO UPDATE SET
			title = EXCLUDED.title, head_cid = EXCLUDED.head_cid, refreshed_at = NOW()
			WHERE draft_titles.head_cid IS DISTINCT FROM EXCLUDED.head_cid;
	`)
	return err
}

// RefreshAll runs every periodic view in dependency order: heads and
// collaborators feed permissions, which feeds contributors.
func (s *Store) RefreshAll(ctx context.Context) error {
	steps := []func(context.Context) error{
		s.RefreshHandleMappings,
		s.RefreshMergedProfiles,
		s.RefreshEditHeads,
		s.RefreshCollaborators,
		s.RefreshPermissions,
		s.RefreshContributors,
		s.RefreshEngagementCounts,
		s.RefreshDraftTitles,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}
