// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package base

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/samdbmg/sbc-wsn/wire"
)

// Store persists each node upload as one CSV row per Observation:
// node_id, timestamp_seconds, kind, payload, plus a fifth retry_log
// column carrying the slot's per-round missing-fragment counts,
// varint-packed and hex-encoded into one field (wire.EncodeVarint, cut
// out for exactly this). The fifth column is a deliberate extension past
// the minimal persisted-record format: without it a slot's ARQ history
// is gone the moment the row is written, and that history is the only
// record of how lossy a node's link has become. The pack carries no
// third-party CSV writer anywhere (mqttradio/sx1231-test read and write
// JSON/TOML, never CSV), so this is one of the few components grounded
// on the standard library rather than an ecosystem package.
type Store struct {
	mu sync.Mutex
	w  *csv.Writer
	f  io.Closer
}

// NewStore opens (creating if necessary) an append-only CSV file at path.
func NewStore(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("base: open store: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("base: stat store: %w", err)
	}
	s := &Store{w: csv.NewWriter(f), f: f}
	if info.Size() == 0 {
		s.w.Write([]string{"node_id", "timestamp_seconds", "kind", "payload", "retry_log"})
		s.w.Flush()
	}
	return s, nil
}

// Record implements Recorder, writing one row per Observation. retryLog is
// repeated, encoded, across every row of the same upload.
func (s *Store) Record(nodeID byte, obs []wire.Observation, retryLog []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := encodeRetryLog(retryLog)
	for _, o := range obs {
		s.w.Write([]string{
			strconv.Itoa(int(nodeID)),
			strconv.Itoa(int(o.Time)),
			o.Kind.String(),
			strconv.Itoa(int(o.Payload)),
			log,
		})
	}
	s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	return s.f.Close()
}

// encodeRetryLog packs a slot's per-round missing-fragment counts into a
// single CSV-safe field using wire's varint codec.
func encodeRetryLog(rounds []int) string {
	buf := wire.EncodeVarint(rounds)
	const hexDigits = "0123456789abcdef"
	hexBuf := make([]byte, 2*len(buf))
	for i, b := range buf {
		hexBuf[2*i] = hexDigits[b>>4]
		hexBuf[2*i+1] = hexDigits[b&0xf]
	}
	return string(hexBuf)
}
