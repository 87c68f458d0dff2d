package validate

import "testing"

func TestRegistryValidatesEntry(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ok := []byte(`{"title": "Hello", "createdAt": "2026-01-01T00:00:00Z"}`)
	if err := reg.ValidateJSON("weaver.notebook.entry", ok); err != nil {
		t.Fatalf("expected valid entry, got %v", err)
	}

	missing := []byte(`{"path": "/x"}`)
	if err := reg.ValidateJSON("weaver.notebook.entry", missing); err == nil {
		t.Fatalf("expected validation error for missing title/createdAt")
	}
}

func TestRegistryUnknownCollectionPasses(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := reg.ValidateJSON("app.bsky.actor.profile", []byte(`{"anything": true}`)); err != nil {
		t.Fatalf("unknown collection should not be validated, got %v", err)
	}
}

func TestRegistryRejectsInvalidScope(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	invite := []byte(`{
		"resource": {"uri": "at://did:plc:a/weaver.notebook.entry/r1", "cid": "c1"},
		"invitee": "did:plc:b",
		"scope": "superadmin",
		"expiresAt": "2026-01-01T00:00:00Z",
		"createdAt": "2026-01-01T00:00:00Z"
	}`)
	if err := reg.ValidateJSON("weaver.collab.invite", invite); err == nil {
		t.Fatalf("expected validation error for invalid scope enum")
	}
}
