// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"sync"
	"time"
)

// loopbackSPI stands in for a radio chip's SPI FIFO, wired directly to a
// peer loopbackSPI instead of silicon, so link.Radio's worker loop runs
// unmodified against an in-process transport. Promoted from link_test.go's
// fakeSPI (which only ever replays a canned response queue) into something
// that actually carries frames between two Radios: a write whose length
// exceeds the 1-byte FIFO-length probe is a transmit and is pushed onto the
// peer's incoming queue; single-byte probes and their matching bodies are
// link.Radio.deliver's two-step FIFO read.
type loopbackSPI struct {
	mu   sync.Mutex
	peer *loopbackSPI
	gpio *loopbackGPIO

	incoming [][]byte // frames pushed here by peer.Tx, popped by our own deliver reads
	pending  []byte   // body byte awaiting deliver's second Tx call
}

func (s *loopbackSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		copy(r, s.pending)
		s.pending = nil
		return nil
	}
	if len(w) == 1 {
		if len(s.incoming) == 0 {
			r[0] = 0
			return nil
		}
		frame := s.incoming[0]
		s.incoming = s.incoming[1:]
		r[0] = frame[0]
		s.pending = frame[1:]
		return nil
	}

	// A multi-byte write with nothing pending is a transmit: hand the
	// encoded frame to the peer and wake its interrupt-polling goroutine.
	frame := append([]byte(nil), w...)
	s.peer.mu.Lock()
	s.peer.incoming = append(s.peer.incoming, frame)
	s.peer.mu.Unlock()
	s.peer.gpio.raise()
	return nil
}

func (s *loopbackSPI) Speed(hz int64) error           { return nil }
func (s *loopbackSPI) Configure(mode, bits int) error { return nil }
func (s *loopbackSPI) Close() error                   { return nil }

// loopbackGPIO replaces the radio interrupt pin: raise() is called by the
// peer's transmit and WaitForEdge reports it to link.Radio's worker, same
// contract as a real rising-edge IRQ line.
type loopbackGPIO struct {
	edge chan struct{}
}

func newLoopbackGPIO() *loopbackGPIO { return &loopbackGPIO{edge: make(chan struct{}, 1)} }

func (g *loopbackGPIO) raise() {
	select {
	case g.edge <- struct{}{}:
	default:
	}
}

func (g *loopbackGPIO) In(edge int) error { return nil }
func (g *loopbackGPIO) Read() int         { return 0 }
func (g *loopbackGPIO) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-g.edge:
		return true
	case <-time.After(timeout):
		return false
	}
}
func (g *loopbackGPIO) Out(level int) {}
func (g *loopbackGPIO) Number() int   { return 0 }

// newLoopbackPair builds two SPI/GPIO device sets wired to each other, one
// per side of the radio link.
func newLoopbackPair() (spiA, spiB *loopbackSPI) {
	a := &loopbackSPI{gpio: newLoopbackGPIO()}
	b := &loopbackSPI{gpio: newLoopbackGPIO()}
	a.peer, b.peer = b, a
	return a, b
}
