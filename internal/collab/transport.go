package collab

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one peer's gossip transport connection. The P2P overlay's
// encrypted, authenticated, multiplexing transport (spec §6) is realized
// here as a relay-mediated websocket connection per topic: true NAT-
// traversing direct P2P dialing is outside what a server process can do,
// so the relay plays the role bringyour-connect's "extender" plays for its
// clients — a rendezvous every peer can reach, with the actual content
// still end-to-end sealed per-topic (see topic.go Seal/Open).
type Conn interface {
	NodeID() string
	Send(frame []byte) error
	Close() error
}

// WSConn adapts a gorilla/websocket connection into a Conn, serializing
// concurrent writes since gorilla's Conn forbids concurrent writers.
type WSConn struct {
	nodeID string
	ws     *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func NewWSConn(nodeID string, ws *websocket.Conn) *WSConn {
	return &WSConn{nodeID: nodeID, ws: ws}
}

func (c *WSConn) NodeID() string { return c.nodeID }

func (c *WSConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("collab: connection %s is closed", c.nodeID)
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

// Read blocks for the next binary frame from the peer. Not part of the Conn
// interface (the hub only needs to push) — called directly by the read
// pump that owns this connection.
func (c *WSConn) Read() ([]byte, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("collab: unexpected websocket message type %d", kind)
	}
	return data, nil
}

// SealedConn wraps a Conn so every frame the hub pushes is encrypted under
// the topic's derived key before it reaches the relay (spec §6: the gossip
// overlay's frames are end-to-end sealed per topic, independent of
// whatever transport carries them). The hub and topic actor only ever see
// plaintext gossip.Message bytes; sealing/opening happens at this boundary.
type SealedConn struct {
	inner  Conn
	topic  Topic
	secret []byte
}

func NewSealedConn(inner Conn, topic Topic, secret []byte) *SealedConn {
	return &SealedConn{inner: inner, topic: topic, secret: secret}
}

func (c *SealedConn) NodeID() string { return c.inner.NodeID() }

func (c *SealedConn) Send(frame []byte) error {
	sealed, err := Seal(c.topic, c.secret, frame)
	if err != nil {
		return fmt.Errorf("collab: seal outgoing frame: %w", err)
	}
	return c.inner.Send(sealed)
}

func (c *SealedConn) Close() error { return c.inner.Close() }

// Open unseals a frame read off the wire for this connection's topic,
// the inverse of what Send applies on the way out.
func (c *SealedConn) Open(sealed []byte) ([]byte, error) {
	return Open(c.topic, c.secret, sealed)
}
