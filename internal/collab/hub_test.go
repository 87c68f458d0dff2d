package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rsform/weaver/internal/weaverapi"
)

// fakeConn is an in-memory Conn that records every frame sent to it, for
// assertions without a real websocket.
type fakeConn struct {
	nodeID string
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeConn(nodeID string) *fakeConn {
	return &fakeConn{nodeID: nodeID}
}

func (c *fakeConn) NodeID() string { return c.nodeID }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) kinds() []MessageKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MessageKind, 0, len(c.frames))
	for _, f := range c.frames {
		if msg, err := Decode(f); err == nil {
			out = append(out, msg.Kind)
		}
	}
	return out
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type fakePublisher struct {
	mu        sync.Mutex
	snapshots [][]byte
}

func (p *fakePublisher) PublishSnapshot(_ context.Context, _ weaverapi.ResourceRef, snapshot []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snapshot)
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func testResource() weaverapi.ResourceRef {
	return weaverapi.ResourceRef{DID: "did:plc:abc", Collection: "weaver.notebook.entry", RKey: "r1"}
}

func TestHubJoinSendsSyncSnapshot(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn := newFakeConn("peer-1")
	hub.Join(topic, resource, conn, "did:plc:abc", "Ada")

	waitFor(t, time.Second, func() bool { return conn.count() >= 1 })

	kinds := conn.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != KindSync {
		t.Fatalf("expected a Sync frame sent to the joining peer, got kinds %v", kinds)
	}
}

func TestHubBroadcastsJoinToExistingPeers(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn1 := newFakeConn("peer-1")
	hub.Join(topic, resource, conn1, "did:plc:abc", "Ada")
	waitFor(t, time.Second, func() bool { return conn1.count() >= 1 })

	conn2 := newFakeConn("peer-2")
	hub.Join(topic, resource, conn2, "did:plc:def", "Grace")

	waitFor(t, time.Second, func() bool {
		for _, k := range conn1.kinds() {
			if k == KindJoin {
				return true
			}
		}
		return false
	})
}

func TestHubUpdateBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn1 := newFakeConn("peer-1")
	conn2 := newFakeConn("peer-2")
	hub.Join(topic, resource, conn1, "did:plc:abc", "Ada")
	hub.Join(topic, resource, conn2, "did:plc:def", "Grace")
	waitFor(t, time.Second, func() bool { return conn1.count() >= 1 && conn2.count() >= 1 })

	before := conn1.count()

	atom := Atom{ID: Ident{{Pos: 10, Site: "peer-1"}}, Site: "peer-1", Lamport: 1, Char: 'h'}
	msg, err := Encode(KindUpdate, UpdatePayload{Atom: atom})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hub.Frame(topic, "peer-1", decoded)

	waitFor(t, time.Second, func() bool { return conn2.count() > 0 })

	// The sender's own connection should not receive its own update echoed
	// back (broadcastExcept semantics).
	if conn1.count() != before {
		t.Fatalf("sender received its own update echoed back: before=%d after=%d", before, conn1.count())
	}
}

func TestHubParticipantsListsJoinedPeers(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn := newFakeConn("peer-1")
	hub.Join(topic, resource, conn, "did:plc:abc", "Ada")
	waitFor(t, time.Second, func() bool { return conn.count() >= 1 })

	parts := hub.Participants(topic)
	if len(parts) != 1 || parts[0].DID != "did:plc:abc" {
		t.Fatalf("expected one participant did:plc:abc, got %+v", parts)
	}
}

func TestHubLeaveRemovesParticipant(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn1 := newFakeConn("peer-1")
	conn2 := newFakeConn("peer-2")
	hub.Join(topic, resource, conn1, "did:plc:abc", "Ada")
	hub.Join(topic, resource, conn2, "did:plc:def", "Grace")
	waitFor(t, time.Second, func() bool { return len(hub.Participants(topic)) == 2 })

	hub.Leave(topic, "peer-2")

	waitFor(t, time.Second, func() bool { return len(hub.Participants(topic)) == 1 })
}

func TestHubMalformedFrameDoesNotDisconnectPeer(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn := newFakeConn("peer-1")
	hub.Join(topic, resource, conn, "did:plc:abc", "Ada")
	waitFor(t, time.Second, func() bool { return conn.count() >= 1 })

	// A cursor message with an unparsable payload triggers sendError, not a
	// forced disconnect (spec §7: malformed single messages don't disconnect
	// other peers, and are surfaced to the sender as a structured error).
	hub.Frame(topic, "peer-1", Message{Kind: KindCursor, Payload: []byte("not json")})

	waitFor(t, time.Second, func() bool {
		for _, k := range conn.kinds() {
			if k == KindError {
				return true
			}
		}
		return false
	})

	if len(hub.Participants(topic)) != 1 {
		t.Fatalf("peer was disconnected after a malformed frame")
	}
}

func TestHubTopicReusableAfterLastPeerLeaves(t *testing.T) {
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: time.Hour})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn1 := newFakeConn("peer-1")
	hub.Join(topic, resource, conn1, "did:plc:abc", "Ada")
	waitFor(t, time.Second, func() bool { return conn1.count() >= 1 })

	hub.Leave(topic, "peer-1")
	waitFor(t, time.Second, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.topics[topic]
		return !ok
	})

	// Rejoining the same topic after its last peer left must spin up a fresh
	// actor and actually process the join — not queue it against a dead
	// goroutine's command channel (spec §4.D lifecycle steps 2-4, exercised
	// twice against the same resource as in S6).
	conn2 := newFakeConn("peer-2")
	hub.Join(topic, resource, conn2, "did:plc:def", "Grace")

	waitFor(t, time.Second, func() bool { return conn2.count() >= 1 })

	kinds := conn2.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != KindSync {
		t.Fatalf("expected a Sync frame sent to the rejoining peer, got kinds %v", kinds)
	}
	if parts := hub.Participants(topic); len(parts) != 1 || parts[0].DID != "did:plc:def" {
		t.Fatalf("expected one participant did:plc:def after rejoin, got %+v", parts)
	}
}

func TestHubSaveInvokesPublisherPeriodically(t *testing.T) {
	pub := &fakePublisher{}
	hub := NewHub(HubOptions{PresenceTTL: time.Hour, SaveInterval: 20 * time.Millisecond, Publisher: pub})
	resource := testResource()
	topic := DeriveTopic(resource.String(), []byte("secret"))

	conn := newFakeConn("peer-1")
	hub.Join(topic, resource, conn, "did:plc:abc", "Ada")

	waitFor(t, time.Second, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.snapshots) > 0
	})
}
