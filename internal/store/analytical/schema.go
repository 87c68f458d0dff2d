// Package analytical is the columnar/relational tier: raw append-only event
// tables plus the incremental and periodic-refreshable views that the
// Denormalization Layer (spec §4.B) and Edit DAG (§4.C) populate from them.
package analytical

import "context"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS _migrations (
	version     INTEGER PRIMARY KEY,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- raw event streams (append-only, §3)

CREATE TABLE IF NOT EXISTS raw_record_events (
	id               BIGSERIAL PRIMARY KEY,
	did              TEXT NOT NULL,
	collection       TEXT NOT NULL,
	rkey             TEXT NOT NULL,
	cid              TEXT NOT NULL,
	rev              TEXT NOT NULL,
	record_json      JSONB NOT NULL,
	op               TEXT NOT NULL,
	seq              BIGINT NOT NULL,
	event_time       TIMESTAMPTZ NOT NULL,
	indexed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_live          BOOLEAN NOT NULL DEFAULT TRUE,
	validation_state TEXT NOT NULL DEFAULT 'ok',
	UNIQUE (did, rkey, cid, rev)
);
CREATE INDEX IF NOT EXISTS idx_raw_record_events_did_rkey ON raw_record_events(did, rkey);
CREATE INDEX IF NOT EXISTS idx_raw_record_events_collection ON raw_record_events(collection);
CREATE INDEX IF NOT EXISTS idx_raw_record_events_indexed_at ON raw_record_events(indexed_at);

CREATE TABLE IF NOT EXISTS raw_identity_events (
	id         BIGSERIAL PRIMARY KEY,
	did        TEXT NOT NULL,
	handle     TEXT NOT NULL,
	seq        BIGINT NOT NULL,
	event_time TIMESTAMPTZ NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_raw_identity_events_did ON raw_identity_events(did);

CREATE TABLE IF NOT EXISTS raw_account_events (
	id         BIGSERIAL PRIMARY KEY,
	did        TEXT NOT NULL,
	active     BOOLEAN NOT NULL,
	status     TEXT NOT NULL,
	seq        BIGINT NOT NULL,
	event_time TIMESTAMPTZ NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_raw_account_events_did ON raw_account_events(did);

CREATE TABLE IF NOT EXISTS dead_letter_events (
	id          BIGSERIAL PRIMARY KEY,
	seq         BIGINT NOT NULL,
	raw_bytes   BYTEA NOT NULL,
	decode_error TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- per-account revision state (§3)

CREATE TABLE IF NOT EXISTS account_revision_state (
	did             TEXT PRIMARY KEY,
	last_rev        TEXT NOT NULL,
	last_cid        TEXT NOT NULL,
	last_seq        BIGINT NOT NULL,
	last_event_time TIMESTAMPTZ NOT NULL
);

-- ingestion cursor (one row per consumer)

CREATE TABLE IF NOT EXISTS ingest_cursors (
	consumer_id TEXT PRIMARY KEY,
	seq         BIGINT NOT NULL,
	event_time  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- derived entities (§3), incrementally populated

CREATE TABLE IF NOT EXISTS profiles_weaver (
	did         TEXT PRIMARY KEY,
	rkey        TEXT NOT NULL,
	cid         TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	avatar_cid  TEXT NOT NULL DEFAULT '',
	banner_cid  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS profiles_cross_app (
	did         TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS notebooks (
	did            TEXT NOT NULL,
	rkey           TEXT NOT NULL,
	cid            TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	path           TEXT NOT NULL DEFAULT '',
	tags           TEXT[] NOT NULL DEFAULT '{}',
	publish_global BOOLEAN NOT NULL DEFAULT FALSE,
	author_dids    TEXT[] NOT NULL DEFAULT '{}',
	entry_uris     TEXT[] NOT NULL DEFAULT '{}',
	full_record    JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	indexed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at     TIMESTAMPTZ,
	PRIMARY KEY (did, rkey)
);
CREATE INDEX IF NOT EXISTS idx_notebooks_updated_at ON notebooks(updated_at) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS entries (
	did         TEXT NOT NULL,
	rkey        TEXT NOT NULL,
	cid         TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	tags        TEXT[] NOT NULL DEFAULT '{}',
	author_dids TEXT[] NOT NULL DEFAULT '{}',
	full_record JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	indexed_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at  TIMESTAMPTZ,
	PRIMARY KEY (did, rkey)
);
CREATE INDEX IF NOT EXISTS idx_entries_updated_at ON entries(updated_at) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS notebook_entry_membership (
	entry_did    TEXT NOT NULL,
	entry_rkey   TEXT NOT NULL,
	notebook_did TEXT NOT NULL,
	notebook_rkey TEXT NOT NULL,
	position     INTEGER NOT NULL,
	PRIMARY KEY (entry_did, entry_rkey, notebook_did, notebook_rkey)
);

CREATE TABLE IF NOT EXISTS drafts (
	did        TEXT NOT NULL,
	rkey       TEXT NOT NULL,
	cid        TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deleted_at TIMESTAMPTZ,
	PRIMARY KEY (did, rkey)
);

CREATE TABLE IF NOT EXISTS draft_titles (
	did          TEXT NOT NULL,
	rkey         TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	head_cid     TEXT NOT NULL DEFAULT '',
	refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (did, rkey)
);

CREATE TABLE IF NOT EXISTS edit_nodes (
	did              TEXT NOT NULL,
	rkey             TEXT NOT NULL,
	cid              TEXT NOT NULL,
	node_type        TEXT NOT NULL,
	resource_did     TEXT NOT NULL,
	resource_collection TEXT NOT NULL,
	resource_rkey    TEXT NOT NULL,
	root_did         TEXT NOT NULL,
	root_rkey        TEXT NOT NULL,
	root_cid         TEXT NOT NULL,
	prev_did         TEXT NOT NULL DEFAULT '',
	prev_rkey        TEXT NOT NULL DEFAULT '',
	prev_cid         TEXT NOT NULL DEFAULT '',
	has_inline_diff  BOOLEAN NOT NULL DEFAULT FALSE,
	has_snapshot     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at       TIMESTAMPTZ NOT NULL,
	indexed_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (did, rkey)
);
CREATE INDEX IF NOT EXISTS idx_edit_nodes_resource ON edit_nodes(resource_did, resource_collection, resource_rkey);
CREATE INDEX IF NOT EXISTS idx_edit_nodes_prev ON edit_nodes(prev_did, prev_rkey);

CREATE TABLE IF NOT EXISTS collab_invites (
	inviter_did   TEXT NOT NULL,
	rkey          TEXT NOT NULL,
	resource_uri  TEXT NOT NULL,
	invitee_did   TEXT NOT NULL,
	scope         TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	deleted_at    TIMESTAMPTZ,
	PRIMARY KEY (inviter_did, rkey)
);
CREATE INDEX IF NOT EXISTS idx_collab_invites_resource ON collab_invites(resource_uri);

CREATE TABLE IF NOT EXISTS collab_accepts (
	accepter_did TEXT NOT NULL,
	rkey         TEXT NOT NULL,
	invite_uri   TEXT NOT NULL,
	resource_uri TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	deleted_at   TIMESTAMPTZ,
	PRIMARY KEY (accepter_did, rkey)
);
CREATE INDEX IF NOT EXISTS idx_collab_accepts_invite ON collab_accepts(invite_uri);

CREATE TABLE IF NOT EXISTS collab_sessions (
	did          TEXT NOT NULL,
	rkey         TEXT NOT NULL,
	resource_uri TEXT NOT NULL,
	node_id      TEXT NOT NULL,
	relay_url    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ,
	deleted_at   TIMESTAMPTZ,
	PRIMARY KEY (did, rkey)
);
CREATE INDEX IF NOT EXISTS idx_collab_sessions_resource ON collab_sessions(resource_uri);

-- computed views, periodically refreshed (§3, §4.B, §4.C)

CREATE TABLE IF NOT EXISTS handle_mappings (
	handle         TEXT NOT NULL,
	did            TEXT NOT NULL,
	freed          BOOLEAN NOT NULL DEFAULT FALSE,
	account_status TEXT NOT NULL DEFAULT 'active',
	source         TEXT NOT NULL DEFAULT 'identity',
	event_time     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (did, handle, event_time)
);
CREATE INDEX IF NOT EXISTS idx_handle_mappings_active ON handle_mappings(did) WHERE freed = FALSE;

CREATE TABLE IF NOT EXISTS edit_heads (
	resource_did        TEXT NOT NULL,
	resource_collection TEXT NOT NULL,
	resource_rkey       TEXT NOT NULL,
	head_did            TEXT NOT NULL,
	head_rkey           TEXT NOT NULL,
	head_cid            TEXT NOT NULL,
	refreshed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (resource_did, resource_collection, resource_rkey, head_did, head_rkey)
);

CREATE TABLE IF NOT EXISTS collaborators (
	resource_uri TEXT NOT NULL,
	did          TEXT NOT NULL,
	scope        TEXT NOT NULL,
	refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (resource_uri, did)
);

CREATE TABLE IF NOT EXISTS permissions (
	resource_uri TEXT NOT NULL,
	resource_did TEXT NOT NULL,
	did          TEXT NOT NULL,
	role         TEXT NOT NULL,
	scope        TEXT NOT NULL DEFAULT '',
	refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (resource_uri, did)
);

CREATE TABLE IF NOT EXISTS contributors (
	resource_uri TEXT NOT NULL,
	did          TEXT NOT NULL,
	refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (resource_uri, did)
);

-- signed-increment summing tables for engagement counters (§4.B)

CREATE TABLE IF NOT EXISTS engagement_deltas (
	id           BIGSERIAL PRIMARY KEY,
	subject_uri  TEXT NOT NULL,
	kind         TEXT NOT NULL,
	delta        INTEGER NOT NULL,
	event_time   TIMESTAMPTZ NOT NULL,
	indexed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_engagement_deltas_subject ON engagement_deltas(subject_uri, kind);

CREATE TABLE IF NOT EXISTS engagement_counts (
	subject_uri TEXT NOT NULL,
	kind        TEXT NOT NULL,
	count       BIGINT NOT NULL DEFAULT 0,
	refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (subject_uri, kind)
);
`

// Migrate applies the schema idempotently and records the applied version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO _migrations (version) VALUES (1) ON CONFLICT (version) DO NOTHING`)
	return err
}
