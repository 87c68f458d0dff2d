package collab

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rsform/weaver/internal/weaverapi"
)

// Publisher writes a converged snapshot back to the owning author's
// repository as a new edit node (spec §4.D "Persistence": the publisher
// writes a root or diff record carrying the snapshot blob). Implemented
// outside this core — the federation protocol's signing and repository
// layout are an explicit non-goal (spec §1) — the hub only needs this
// narrow write-back hook, mirroring ingest.RepositoryFetcher's read-back
// hook for the same boundary.
type Publisher interface {
	PublishSnapshot(ctx context.Context, resource weaverapi.ResourceRef, snapshot []byte) error
}

// SnapshotLoader reconstructs a resource's starting document state, either
// from the hot-tier cache or by walking the edit DAG to its head (spec
// §4.D lifecycle step 1). Returns (nil, nil) if the resource has no prior
// edit history — a brand new collaborative document.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, resource weaverapi.ResourceRef) ([]byte, error)
}

// HubOptions configures a Hub.
type HubOptions struct {
	Secret       []byte
	Publisher    Publisher
	Loader       SnapshotLoader
	Log          *zap.Logger
	PresenceTTL  time.Duration // spec §5 timeout T3
	SaveInterval time.Duration // spec §4.D "periodically and on explicit save"
}

// Hub owns every active topic's actor. One actor per topic enforces spec
// §5's exclusive-ownership rule for the CRDT document: all mutation happens
// on that topic's own goroutine via command messages, never directly.
type Hub struct {
	mu     sync.Mutex
	topics map[Topic]*topicActor
	opts   HubOptions
}

func NewHub(opts HubOptions) *Hub {
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = 30 * time.Second
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 30 * time.Second
	}
	return &Hub{topics: map[Topic]*topicActor{}, opts: opts}
}

// topicOf returns the actor for topic, starting one (and loading its
// initial document state) if this is the first peer to join.
func (h *Hub) topicOf(topic Topic, resource weaverapi.ResourceRef) *topicActor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.topics[topic]; ok {
		return a
	}
	a := newTopicActor(topic, resource, h.opts, h)
	h.topics[topic] = a
	go a.run()
	return a
}

// Join admits conn to the topic for resource, sending a Join announcement
// to existing peers and replying with the current snapshot (spec §4.D
// lifecycle steps 2-4).
func (h *Hub) Join(topic Topic, resource weaverapi.ResourceRef, conn Conn, did, displayName string) {
	a := h.topicOf(topic, resource)
	a.cmds <- joinCmd{conn: conn, did: did, displayName: displayName}
}

// Frame delivers one decrypted, decoded gossip message from a peer already
// joined to topic.
func (h *Hub) Frame(topic Topic, nodeID string, msg Message) {
	h.mu.Lock()
	a, ok := h.topics[topic]
	h.mu.Unlock()
	if !ok {
		return
	}
	a.cmds <- frameCmd{nodeID: nodeID, msg: msg}
}

// Leave removes a peer from a topic (spec §4.D lifecycle step 7: explicit
// close) and tears the topic actor down once its last peer is gone.
func (h *Hub) Leave(topic Topic, nodeID string) {
	h.mu.Lock()
	a, ok := h.topics[topic]
	h.mu.Unlock()
	if !ok {
		return
	}
	a.cmds <- leaveCmd{nodeID: nodeID}
}

// Participants returns the live presence list for a topic, or nil if the
// topic has no active actor (spec's supplemented GetCollaborationState
// query, §4.F).
func (h *Hub) Participants(topic Topic) []Participant {
	h.mu.Lock()
	a, ok := h.topics[topic]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	reply := make(chan []Participant, 1)
	a.cmds <- listCmd{reply: reply}
	return <-reply
}

// closeTopic drops a topic actor once it has no peers left, called by the
// actor itself from its own goroutine.
func (h *Hub) closeTopic(topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics, topic)
}

// --- topic actor ---

type joinCmd struct {
	conn        Conn
	did         string
	displayName string
}
type frameCmd struct {
	nodeID string
	msg    Message
}
type leaveCmd struct{ nodeID string }
type listCmd struct{ reply chan []Participant }
type tickCmd struct{}
type stopCmd struct{}

type topicActor struct {
	topic    Topic
	resource weaverapi.ResourceRef
	opts     HubOptions
	hub      *Hub

	doc      *Document
	presence *PresenceSet
	peers    map[string]Conn

	cmds chan any
	log  *zap.Logger
}

func newTopicActor(topic Topic, resource weaverapi.ResourceRef, opts HubOptions, hub *Hub) *topicActor {
	return &topicActor{
		topic:    topic,
		resource: resource,
		opts:     opts,
		hub:      hub,
		doc:      NewDocument(resource.String()),
		presence: NewPresenceSet(),
		peers:    map[string]Conn{},
		cmds:     make(chan any, 64),
		log:      opts.Log,
	}
}

func (a *topicActor) run() {
	if a.opts.Loader != nil {
		if snap, err := a.opts.Loader.LoadSnapshot(context.Background(), a.resource); err == nil && len(snap) > 0 {
			_ = a.doc.ImportSnapshot(snap)
		} else if err != nil && a.log != nil {
			a.log.Warn("collab: snapshot load failed", zap.String("resource", a.resource.String()), zap.Error(err))
		}
	}

	saveTicker := time.NewTicker(a.opts.SaveInterval)
	presenceTicker := time.NewTicker(a.opts.PresenceTTL)
	defer saveTicker.Stop()
	defer presenceTicker.Stop()

	for {
		select {
		case cmd := <-a.cmds:
			if a.handle(cmd) {
				a.hub.closeTopic(a.topic)
				return
			}
		case <-saveTicker.C:
			a.save(context.Background())
		case <-presenceTicker.C:
			a.evictIdle()
		}
	}
}

// handle processes one command; it returns true when the actor should stop
// (its last peer left).
func (a *topicActor) handle(cmd any) bool {
	switch c := cmd.(type) {
	case joinCmd:
		a.onJoin(c)
	case frameCmd:
		a.onFrame(c)
	case leaveCmd:
		a.onLeave(c.nodeID)
		if len(a.peers) == 0 {
			return true
		}
	case listCmd:
		c.reply <- a.presence.List()
	case stopCmd:
		return true
	}
	return false
}

func (a *topicActor) onJoin(c joinCmd) {
	nodeID := c.conn.NodeID()
	a.peers[nodeID] = c.conn
	a.presence.Join(c.did, c.displayName, nodeID, time.Now())

	announce, err := Encode(KindJoin, JoinPayload{DID: c.did, DisplayName: c.displayName, NodeID: nodeID})
	if err == nil {
		a.broadcastExcept(nodeID, announce)
	}

	if snap, err := a.doc.ExportSnapshot(); err == nil {
		if frame, err := Encode(KindSync, SyncPayload{Snapshot: snap}); err == nil {
			_ = c.conn.Send(frame)
		}
	}
}

func (a *topicActor) onFrame(c frameCmd) {
	switch c.msg.Kind {
	case KindUpdate:
		p, err := c.msg.DecodeUpdate()
		if err != nil {
			a.sendError(c.nodeID, err.Error())
			return
		}
		a.doc.ApplyUpdate(Update{Atom: p.Atom})
		a.broadcastExcept(c.nodeID, mustEncode(KindUpdate, p))
	case KindCursor:
		p, err := c.msg.DecodeCursor()
		if err != nil {
			a.sendError(c.nodeID, err.Error())
			return
		}
		if a.presence.ApplyCursor(c.nodeID, p.Position, p.Selection, p.Lamport, time.Now()) {
			a.broadcastExcept(c.nodeID, mustEncode(KindCursor, p))
		}
		// Stale/out-of-order cursor messages are silently dropped per spec
		// §5 ordering guarantee — not an error, just discarded.
	case KindSync:
		p, err := c.msg.DecodeSync()
		if err != nil {
			a.sendError(c.nodeID, err.Error())
			return
		}
		if err := a.doc.ImportSnapshot(p.Snapshot); err != nil {
			a.sendError(c.nodeID, err.Error())
		}
	case KindLeave:
		a.onLeave(c.nodeID)
	default:
		a.sendError(c.nodeID, "unrecognized gossip message kind")
	}
}

func (a *topicActor) onLeave(nodeID string) {
	if conn, ok := a.peers[nodeID]; ok {
		_ = conn.Close()
		delete(a.peers, nodeID)
	}
	a.presence.Leave(nodeID)
	if frame, err := Encode(KindLeave, LeavePayload{NodeID: nodeID}); err == nil {
		a.broadcastExcept(nodeID, frame)
	}
}

func (a *topicActor) evictIdle() {
	for _, nodeID := range a.presence.EvictIdle(time.Now(), a.opts.PresenceTTL) {
		a.onLeave(nodeID)
	}
}

func (a *topicActor) save(ctx context.Context) {
	if a.opts.Publisher == nil {
		return
	}
	snap, err := a.doc.ExportSnapshot()
	if err != nil {
		return
	}
	if err := a.opts.Publisher.PublishSnapshot(ctx, a.resource, snap); err != nil && a.log != nil {
		a.log.Warn("collab: periodic snapshot publish failed", zap.String("resource", a.resource.String()), zap.Error(err))
	}
}

func (a *topicActor) broadcastExcept(exclude string, frame []byte) {
	for nodeID, conn := range a.peers {
		if nodeID == exclude {
			continue
		}
		if err := conn.Send(frame); err != nil && a.log != nil {
			// A single peer's send failure is tolerated (spec §4.D failure
			// semantics: malformed/failed single messages don't disconnect
			// others); the read pump for that peer will notice the
			// underlying connection is dead and send a leaveCmd.
			a.log.Debug("collab: send to peer failed", zap.String("node_id", nodeID), zap.Error(err))
		}
	}
}

func (a *topicActor) sendError(nodeID, message string) {
	conn, ok := a.peers[nodeID]
	if !ok {
		return
	}
	if frame, err := Encode(KindError, ErrorPayload{Message: message}); err == nil {
		_ = conn.Send(frame)
	}
}

func mustEncode(kind MessageKind, payload any) []byte {
	frame, err := Encode(kind, payload)
	if err != nil {
		return nil
	}
	return frame
}
