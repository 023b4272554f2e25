// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package base

import (
	"sync"
	"testing"
	"time"

	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/link"
	"github.com/samdbmg/sbc-wsn/power"
	"github.com/samdbmg/sbc-wsn/timesource"
	"github.com/samdbmg/sbc-wsn/wire"
)

type fakeSPI struct {
	mu     sync.Mutex
	writes [][]byte
}

func (s *fakeSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, append([]byte(nil), w...))
	return nil
}
func (s *fakeSPI) Speed(hz int64) error           { return nil }
func (s *fakeSPI) Configure(mode, bits int) error { return nil }
func (s *fakeSPI) Close() error                   { return nil }

type fakeGPIO struct{}

func (fakeGPIO) In(edge int) error { return nil }
func (fakeGPIO) Read() int         { return 0 }
func (fakeGPIO) WaitForEdge(timeout time.Duration) bool {
	time.Sleep(time.Millisecond)
	return false
}
func (fakeGPIO) Out(level int) {}
func (fakeGPIO) Number() int   { return 0 }

type noopSleeper struct{}

func (noopSleeper) WaitForWake(power.Mode) {}

type fakeRecorder struct {
	node     byte
	obs      []wire.Observation
	retryLog []int
	calls    int
}

func (r *fakeRecorder) Record(nodeID byte, obs []wire.Observation, retryLog []int) {
	r.node, r.obs, r.retryLog = nodeID, obs, retryLog
	r.calls++
}

func newTestProtocol(t *testing.T, cfg Config) (*Protocol, *link.Radio) {
	t.Helper()
	spi := &fakeSPI{}
	disp := deferred.New()
	radio := link.New(spi, fakeGPIO{}, disp, link.Opts{LocalAddr: wire.BaseAddress})
	if !radio.Init(nil) {
		t.Fatalf("radio init failed: %v", radio.Error())
	}
	t.Cleanup(radio.Stop)
	clock := timesource.New(disp, 0)
	pwr := power.New(noopSleeper{})
	return New(cfg, radio, clock, pwr, nil, nil), radio
}

func testConfig() Config {
	c := DefaultConfig()
	c.M = 4
	return c
}

func TestOnBeaconAssignsMiddleSlotOnEmptyTable(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.receivePhaseStart = 100
	p.onBeacon(0x07)
	if p.slots[2] != 0x07 {
		t.Fatalf("slots = %v, want 0x07 at the middle slot (2)", p.slots)
	}
}

func TestOnBeaconReAcksAlreadyAssignedNode(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[1] = 0x09
	p.receivePhaseStart = 100
	p.onBeacon(0x09)
	count := 0
	for _, s := range p.slots {
		if s == 0x09 {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("node 0x09 occupies %d slots, want exactly 1 (idempotent re-beacon)", count)
	}
}

func TestStoreFragmentAndMissing(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.storeFragment(wire.DataPayload{SeqTotal: 2, SeqIndex: 2, Observations: []wire.Observation{wire.NewCall(5, 4, false)}})
	if m := p.missing(); len(m) != 1 || m[0] != 1 {
		t.Fatalf("missing after fragment 2/2 = %v, want [1]", m)
	}
	p.storeFragment(wire.DataPayload{SeqTotal: 2, SeqIndex: 1, Observations: nil})
	if m := p.missing(); m != nil {
		t.Fatalf("missing after both fragments = %v, want nil", m)
	}
}

func TestArqStepRequestsRepeatWhenFragmentsMissing(t *testing.T) {
	p, radio := newTestProtocol(t, testConfig())
	_ = radio
	p.slots[0] = 0x05
	p.curSlot = 0
	p.curFragTotal = 2
	p.curFrags = make([][]wire.Observation, 2) // both missing
	p.arqStep()

	if p.sub != Repeating {
		t.Fatalf("sub = %v, want Repeating", p.sub)
	}
	if p.retries[0] != 1 {
		t.Fatalf("retries[0] = %d, want 1", p.retries[0])
	}
}

func TestArqStepFinishesSlotWhenRetriesExhausted(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[0] = 0x05
	p.curSlot = 0
	p.curFragTotal = 1
	p.curFrags = make([][]wire.Observation, 1) // missing
	p.retries[0] = p.cfg.MaxRetries
	rec := &fakeRecorder{}
	p.rec = rec
	p.order = []int{0}
	p.orderIdx = 0

	p.arqStep()

	if rec.calls != 1 {
		t.Fatalf("Record called %d times, want 1", rec.calls)
	}
	if p.retries[0] != 0 {
		t.Fatalf("retries[0] = %d, want reset to 0", p.retries[0])
	}
}

func TestSlotWindowStartEntersAwakeNotRecv(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[1] = 0x09
	p.receivePhaseStart = 0

	p.slotWindowStart(1)

	if p.sub != Awake {
		t.Fatalf("sub = %v after slotWindowStart, want Awake", p.sub)
	}
}

func TestOnFrameMovesAwakeToRecvOnFirstFragment(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[0] = 0x05
	p.curSlot = 0
	p.sub = Awake

	data := wire.DataPayload{SeqTotal: 2, SeqIndex: 1, Observations: []wire.Observation{wire.NewCall(5, 4, false)}}
	p.onFrame(wire.Frame{Src: 0x05, Dst: wire.BaseAddress, Opcode: wire.OpData, Payload: data.Encode()})

	if p.sub != Recv {
		t.Fatalf("sub = %v after the first fragment, want Recv", p.sub)
	}
}

func TestSlotTimeoutWhileAwakeDoesNotArq(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[0] = 0x05
	p.order = []int{0}
	p.orderIdx = 0
	p.curSlot = 0
	p.sub = Awake

	p.slotTimeout()

	if p.sub == Repeating || p.sub == Arq {
		t.Fatalf("sub = %v after a silent window, want neither Arq nor Repeating", p.sub)
	}
	if p.silentWindows[0] != 1 {
		t.Fatalf("silentWindows[0] = %d, want 1", p.silentWindows[0])
	}
	if p.slots[0] != 0x05 {
		t.Fatalf("slot deregistered after a single silent window, want still occupied")
	}
}

func TestHandleSilentWindowDeregistersAfterMaxRetriesPlusOne(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[0] = 0x05
	p.order = []int{0}

	for i := 0; i <= p.cfg.MaxRetries; i++ {
		p.orderIdx = 0
		p.curSlot = 0
		p.sub = Awake
		p.slotTimeout()
	}

	if p.slots[0] != 0 {
		t.Fatalf("slots[0] = %#x after %d consecutive silent windows, want deregistered (0)", p.slots[0], p.cfg.MaxRetries+1)
	}
	if p.silentWindows[0] != 0 {
		t.Fatalf("silentWindows[0] = %d after deregistration, want reset to 0", p.silentWindows[0])
	}
}

func TestFinishSlotResetsSilentWindowCount(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[0] = 0x05
	p.order = []int{0}
	p.silentWindows[0] = 2
	p.curSlot = 0
	p.curFrags = [][]wire.Observation{{wire.NewCall(1, 4, false)}}
	p.orderIdx = 0

	p.finishSlot()

	if p.silentWindows[0] != 0 {
		t.Fatalf("silentWindows[0] = %d after a successful slot, want reset to 0", p.silentWindows[0])
	}
	if p.slots[0] != 0x05 {
		t.Fatalf("slot deregistered despite a successful reception")
	}
}

func TestFinishSlotPersistsReassembledObservations(t *testing.T) {
	p, _ := newTestProtocol(t, testConfig())
	p.slots[0] = 0x05
	p.curSlot = 0
	p.curFrags = [][]wire.Observation{
		{wire.NewCall(1, 4, false)},
		{wire.NewCall(2, 5, true)},
	}
	rec := &fakeRecorder{}
	p.rec = rec
	p.order = []int{0}
	p.orderIdx = 0

	p.finishSlot()

	if rec.node != 0x05 || len(rec.obs) != 2 {
		t.Fatalf("Record(node=%#x, obs=%v), want node 0x05 with 2 observations", rec.node, rec.obs)
	}
}
