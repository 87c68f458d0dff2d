package editdag

import (
	"fmt"

	"github.com/rsform/weaver/internal/weaverapi"
)

// Admit validates a candidate node against the resource's existing graph
// before it is projected, per spec §4.C invariants:
//   - invariant 2: a diff's prev must name a node whose root matches the
//     diff's own root (diffs cannot cross root boundaries).
//   - failure semantics: a cycle must not exist by construction; an
//     implementation SHOULD detect and refuse to admit a diff that would
//     create one.
//
// A diff whose prev does not exist yet is admitted anyway (spec §4.C
// failure semantics: "kept in the graph; head computation treats it as a
// head until its prev arrives").
func Admit(existing []Node, candidate Node) error {
	if candidate.NodeType == "root" {
		return nil
	}
	if !candidate.HasPrev() {
		return fmt.Errorf("%w: diff node has no prev", weaverapi.ErrInvalidRequest)
	}

	byKey := make(map[string]Node, len(existing))
	for _, n := range existing {
		byKey[string(n.DID)+"/"+string(n.RKey)] = n
	}

	prevKey := string(candidate.PrevDID) + "/" + string(candidate.PrevRKey)
	if prev, ok := byKey[prevKey]; ok {
		if prev.RootDID != candidate.RootDID || prev.RootRKey != candidate.RootRKey {
			return fmt.Errorf("%w: diff %s/%s root %s/%s does not match prev's root %s/%s",
				weaverapi.ErrRootMismatch, candidate.DID, candidate.RKey,
				candidate.RootDID, candidate.RootRKey, prev.RootDID, prev.RootRKey)
		}
	}

	if wouldCreateCycle(byKey, candidate) {
		return fmt.Errorf("%w: admitting %s/%s would create a cycle", weaverapi.ErrCycleDetected, candidate.DID, candidate.RKey)
	}
	return nil
}

// wouldCreateCycle walks backward from candidate's prev chain looking for
// candidate's own key. Existing nodes are assumed acyclic (admitted one at
// a time through this same check), so one walk from the new edge suffices.
func wouldCreateCycle(byKey map[string]Node, candidate Node) bool {
	selfKey := string(candidate.DID) + "/" + string(candidate.RKey)
	cursor := string(candidate.PrevDID) + "/" + string(candidate.PrevRKey)
	visited := map[string]bool{}
	for cursor != "" {
		if cursor == selfKey {
			return true
		}
		if visited[cursor] {
			return false // existing cycle would be a pre-existing data bug, not this admission's fault
		}
		visited[cursor] = true
		node, ok := byKey[cursor]
		if !ok || !node.HasPrev() {
			return false
		}
		cursor = string(node.PrevDID) + "/" + string(node.PrevRKey)
	}
	return false
}
