package collab

import "testing"

func TestLocalInsertAndText(t *testing.T) {
	d := NewDocument("site-a")
	d.LocalInsert(0, "hello")
	if got := d.Text(); got != "hello" {
		t.Fatalf("Text() = %q, want %q", got, "hello")
	}
}

func TestLocalDeleteTombstones(t *testing.T) {
	d := NewDocument("site-a")
	d.LocalInsert(0, "hello")
	d.LocalDelete(1, 3)
	if got := d.Text(); got != "ho" {
		t.Fatalf("Text() = %q, want %q", got, "ho")
	}
}

// TestSnapshotRoundTrip exercises invariant #5: import(export_snapshot(doc)) == doc.
func TestSnapshotRoundTrip(t *testing.T) {
	d := NewDocument("site-a")
	d.LocalInsert(0, "weaver")
	d.LocalDelete(2, 1)

	snap, err := d.ExportSnapshot()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	restored := NewDocument("site-a")
	if err := restored.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !d.Equal(restored) {
		t.Fatalf("round-tripped document diverged: got %q want %q", restored.Text(), d.Text())
	}
}

// TestUpdatesSinceRoundTrip exercises the delta half of invariant #5:
// import(export_updates_since(doc, V)) applied to doc_at_V == doc.
func TestUpdatesSinceRoundTrip(t *testing.T) {
	d := NewDocument("site-a")
	d.LocalInsert(0, "abc")
	v := d.Version()
	snapAtV, err := d.ExportSnapshot()
	if err != nil {
		t.Fatalf("export snapshot at V: %v", err)
	}
	d.LocalInsert(3, "def")

	delta := d.ExportUpdatesSince(v)
	if len(delta) != 3 {
		t.Fatalf("expected 3 delta atoms, got %d", len(delta))
	}

	docAtV := NewDocument("site-a")
	if err := docAtV.ImportSnapshot(snapAtV); err != nil {
		t.Fatalf("import snapshot at V: %v", err)
	}
	docAtV.ApplyUpdates(delta)

	if !d.Equal(docAtV) {
		t.Fatalf("delta-applied document diverged: got %q want %q", docAtV.Text(), d.Text())
	}
}

// TestConvergesRegardlessOfOrderOrDuplicates exercises invariant #6: two
// peers exchanging the same update set, in any order, with duplicates,
// converge to byte-equal canonical serializations.
func TestConvergesRegardlessOfOrderOrDuplicates(t *testing.T) {
	p1 := NewDocument("p1")
	updatesA := p1.LocalInsert(0, "A")

	p2 := NewDocument("p2")
	updatesB := p2.LocalInsert(0, "B")

	// p1 sees its own "A" plus p2's "B", delivered with a duplicate.
	p1.ApplyUpdates(updatesB)
	p1.ApplyUpdates(updatesB) // duplicate delivery must be a no-op

	// p2 sees the same updates in the opposite order.
	p2.ApplyUpdates(updatesA)
	p2.ApplyUpdates(updatesA)

	if !p1.Equal(p2) {
		t.Fatalf("documents failed to converge: p1=%q p2=%q", p1.Text(), p2.Text())
	}
	if len(p1.Text()) != 2 {
		t.Fatalf("expected a 2-character converged document, got %q", p1.Text())
	}
}

func TestConcurrentInsertAtSamePositionConverges(t *testing.T) {
	base := NewDocument("base")
	base.LocalInsert(0, "xz")
	snap, _ := base.ExportSnapshot()

	p1 := NewDocument("p1")
	_ = p1.ImportSnapshot(snap)
	p2 := NewDocument("p2")
	_ = p2.ImportSnapshot(snap)

	u1 := p1.LocalInsert(1, "1")
	u2 := p2.LocalInsert(1, "2")

	p1.ApplyUpdates(u2)
	p2.ApplyUpdates(u1)

	if !p1.Equal(p2) {
		t.Fatalf("concurrent same-position inserts did not converge: p1=%q p2=%q", p1.Text(), p2.Text())
	}
	if len(p1.Text()) != 4 {
		t.Fatalf("expected 4 characters after two concurrent inserts, got %q", p1.Text())
	}
}

func TestIdentCompareTotalOrder(t *testing.T) {
	a := Ident{{Pos: 1, Site: "a"}}
	b := Ident{{Pos: 2, Site: "a"}}
	if a.Compare(b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if b.Compare(a) <= 0 {
		t.Fatalf("expected b > a")
	}
	if a.Compare(a) != 0 {
		t.Fatalf("expected a == a")
	}
}
