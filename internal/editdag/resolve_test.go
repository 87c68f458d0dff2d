package editdag

import (
	"testing"
	"time"

	"github.com/rsform/weaver/internal/weaverapi"
)

func mkNode(did, rkey, nodeType, rootDID, rootRKey, prevDID, prevRKey string, t time.Time) Node {
	return Node{
		DID: weaverapi.DID(did), RKey: weaverapi.RKey(rkey), CID: weaverapi.CID("cid-" + rkey),
		NodeType: nodeType,
		Resource: weaverapi.ResourceRef{DID: "did:plc:owner", Collection: "weaver.notebook.entry", RKey: "entry1"},
		RootDID:  weaverapi.DID(rootDID), RootRKey: weaverapi.RKey(rootRKey),
		PrevDID: weaverapi.DID(prevDID), PrevRKey: weaverapi.RKey(prevRKey),
		CreatedAt: t,
	}
}

func TestHeadsLinearHistory(t *testing.T) {
	t0 := time.Now()
	root := mkNode("d1", "e1", "root", "d1", "e1", "", "", t0)
	diff1 := mkNode("d1", "e2", "diff", "d1", "e1", "d1", "e1", t0.Add(time.Second))
	diff2 := mkNode("d1", "e3", "diff", "d1", "e1", "d1", "e2", t0.Add(2*time.Second))

	nodes := []Node{root, diff1, diff2}
	heads := Heads(nodes)
	if len(heads) != 1 || heads[0].RKey != "e3" {
		t.Fatalf("expected single head e3, got %+v", heads)
	}
}

func TestHeadsDivergent(t *testing.T) {
	t0 := time.Now()
	root := mkNode("d1", "e1", "root", "d1", "e1", "", "", t0)
	diff1 := mkNode("d1", "e2", "diff", "d1", "e1", "d1", "e1", t0.Add(time.Second))
	diff2 := mkNode("d1", "e3", "diff", "d1", "e1", "d1", "e2", t0.Add(2*time.Second))
	diff2b := mkNode("d2", "e4", "diff", "d1", "e1", "d1", "e2", t0.Add(2*time.Second))

	nodes := []Node{root, diff1, diff2, diff2b}
	heads := Heads(nodes)
	if len(heads) != 2 {
		t.Fatalf("expected two divergent heads, got %d: %+v", len(heads), heads)
	}
}

func TestAdmitRejectsRootMismatch(t *testing.T) {
	t0 := time.Now()
	root := mkNode("d1", "e1", "root", "d1", "e1", "", "", t0)
	otherRoot := mkNode("d1", "x1", "root", "d1", "x1", "", "", t0)
	candidate := mkNode("d1", "e2", "diff", "d1", "x1", "d1", "e1", t0.Add(time.Second))

	err := Admit([]Node{root, otherRoot}, candidate)
	if err == nil {
		t.Fatalf("expected root mismatch error")
	}
}

func TestAdmitRejectsCycle(t *testing.T) {
	t0 := time.Now()
	root := mkNode("d1", "e1", "root", "d1", "e1", "", "", t0)
	// loopNode already (incorrectly) points forward to the candidate's key,
	// so admitting candidate with prev=loopNode closes a cycle.
	loopNode := mkNode("d1", "e2", "diff", "d1", "e1", "d1", "e3", t0.Add(time.Second))
	candidate := mkNode("d1", "e3", "diff", "d1", "e1", "d1", "e2", t0.Add(2*time.Second))

	err := Admit([]Node{root, loopNode}, candidate)
	if err == nil {
		t.Fatalf("expected cycle detection error")
	}
}

func TestSelectCanonicalTieBreak(t *testing.T) {
	a := PublishedRecord{DID: "did:plc:b", Rev: "rev1", EventTime: 100}
	b := PublishedRecord{DID: "did:plc:a", Rev: "rev1", EventTime: 100}
	winner, ok := SelectCanonical([]PublishedRecord{a, b})
	if !ok {
		t.Fatalf("expected a winner")
	}
	if winner.DID != "did:plc:a" {
		t.Fatalf("expected lexicographically smaller did to win tie, got %s", winner.DID)
	}
}
