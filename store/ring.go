// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package store implements the bounded, ordered Observation ring: a
// fixed-capacity sequence with a write cursor and a read cursor that is
// only advanced on commit, so an in-flight upload can be retried without
// losing data and a completed one can be freed in one step.
package store

import (
	"sync"

	"github.com/samdbmg/sbc-wsn/wire"
)

// Token is a captured write-cursor value used to commit a batch on ACK.
type Token uint64

// Ring is a fixed-capacity ordered sequence of Observations with a write
// cursor W and a read cursor R, both monotonically increasing counters (the
// ring index is the counter modulo capacity). This makes the "R := max(R,
// token)" conservative-commit rule a plain integer comparison.
//
// The original firmware relies on single-producer/single-consumer
// discipline for lock-free coherence; this port instead guards the ring
// with a mutex because Go goroutines are genuinely concurrent, unlike the
// single-core interrupt model the discipline was designed for.
type Ring struct {
	mu  sync.Mutex
	buf []wire.Observation
	w   uint64
	r   uint64
}

// New creates a Ring with the given fixed capacity (typically 512).
func New(capacity int) *Ring {
	if capacity <= 0 {
		panic("store: capacity must be positive")
	}
	return &Ring{buf: make([]wire.Observation, capacity)}
}

// Cap returns the ring's fixed capacity.
func (s *Ring) Cap() int { return len(s.buf) }

// Append writes obs at the write cursor and advances it. If the ring is
// full, the oldest live entry is silently evicted by advancing the read
// cursor first (newest-wins).
func (s *Ring) Append(obs wire.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uint64(len(s.buf))
	if s.w-s.r == n {
		s.r++
	}
	s.buf[s.w%n] = obs
	s.w++
}

// Size returns the number of live entries.
func (s *Ring) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.w - s.r)
}

// Snapshot captures the current write cursor as a commit token.
func (s *Ring) Snapshot() Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Token(s.w)
}

// Peek copies up to count entries starting offset past the read cursor into
// dst, without disturbing either cursor, and returns how many were copied.
// It never reads at or beyond token, so entries read this way are exactly
// the ones guaranteed stable by the outstanding snapshot.
func (s *Ring) Peek(token Token, offset, count int, dst []wire.Observation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := s.r + uint64(offset)
	limit := uint64(token)
	if limit > s.w {
		limit = s.w
	}
	n := uint64(len(s.buf))
	copied := 0
	for copied < count && copied < len(dst) {
		pos := start + uint64(copied)
		if pos >= limit {
			break
		}
		dst[copied] = s.buf[pos%n]
		copied++
	}
	return copied
}

// Commit advances the read cursor to token, conservatively: if token was
// captured before a newest-wins eviction pushed the read cursor further
// ahead already, the read cursor is left where it is rather than moved
// backwards.
func (s *Ring) Commit(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := uint64(token)
	if t > s.r {
		s.r = t
	}
	if s.r > s.w {
		s.r = s.w
	}
}
