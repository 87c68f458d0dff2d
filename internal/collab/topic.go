package collab

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// TopicSize is the gossip topic identifier length (spec §6: "a gossip
// overlay on a 32-byte topic identifier").
const TopicSize = 32

// Topic keys a peer group on the gossip overlay.
type Topic [TopicSize]byte

// DeriveTopic computes the topic for a resource under a per-deployment
// shared secret: HMAC-SHA256(resourceURI) keyed by secret. This is the
// mitigation recorded for the open P2P side-channel auth question (spec §9,
// DESIGN.md D.4): dialing the correct topic already requires knowing the
// shared secret, so the topic itself carries authorization, even though no
// identity is cryptographically bound to the transport handshake.
func DeriveTopic(resourceURI string, secret []byte) Topic {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(resourceURI))
	var t Topic
	copy(t[:], mac.Sum(nil))
	return t
}

func (t Topic) String() string {
	return fmt.Sprintf("%x", t[:])
}

// frameKey derives a per-topic symmetric key for secretbox from the same
// shared secret, so gossip frames are encrypted independently of whatever
// transport (websocket relay or direct dial) carries them.
func frameKey(topic Topic, secret []byte) *[32]byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("weaver-collab-frame-key"))
	mac.Write(topic[:])
	var key [32]byte
	copy(key[:], mac.Sum(nil))
	return &key
}

// Seal encrypts a gossip frame for transmission over the relay.
func Seal(topic Topic, secret []byte, plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("collab: generate nonce: %w", err)
	}
	key := frameKey(topic, secret)
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return sealed, nil
}

// Open decrypts a frame produced by Seal for the same topic/secret.
func Open(topic Topic, secret []byte, sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("collab: sealed frame too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	key := frameKey(topic, secret)
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, key)
	if !ok {
		// Topic mismatch failure mode (spec §4.D): a peer dialing with the
		// wrong topic derives the wrong key and every frame fails to open.
		return nil, fmt.Errorf("collab: frame did not decrypt under topic %s", topic)
	}
	return plaintext, nil
}
