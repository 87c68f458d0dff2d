// Package ingest is the Firehose Ingester (spec §4.A): it consumes the
// federation event stream, classifies and decodes events, and drives the
// analytical tier's raw tables and projections.
package ingest

import (
	"math/rand"
	"time"
)

// backoff computes a capped, jittered exponential delay for stream
// reconnects, in the same style as the teacher's HTTP retry delay.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	return delay/2 + jitter
}
