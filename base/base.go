// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package base implements the base-station protocol: a recurring
// beacon window that admits new nodes, followed by a round-robin tour of
// per-node receive slots, each running its own Awake/Recv/Arq/Repeating
// sub-state machine to pull a fragmented upload out of one node before
// moving to the next. Grounded on node's Setup/Beacon/.../WaitAck shape
// (Tag-enum transition methods driven by onFrame and per-timeout methods)
// and, for the chained one-shot rescheduling needed because timesource.Source
// has only one alarm slot, on node.Protocol.armNextWake's pattern.
package base

import (
	"github.com/samdbmg/sbc-wsn/link"
	"github.com/samdbmg/sbc-wsn/power"
	"github.com/samdbmg/sbc-wsn/timesource"
	"github.com/samdbmg/sbc-wsn/wire"
)

// Tag is the base's current activity.
type Tag int

const (
	BeaconWindow Tag = iota
	Awake
	Recv
	Arq
	Repeating
)

func (t Tag) String() string {
	switch t {
	case BeaconWindow:
		return "BeaconWindow"
	case Awake:
		return "Awake"
	case Recv:
		return "Recv"
	case Arq:
		return "Arq"
	case Repeating:
		return "Repeating"
	default:
		return "Tag(?)"
	}
}

// Config holds the base protocol's numeric defaults.
type Config struct {
	M              int    // size of the slot table
	Period         uint32 // cycle length, seconds
	BeaconLen      uint32 // beacon window length, seconds
	MaxRetries     int    // per-node repeat rounds before giving up on a fragment
	MaxRepeat      int    // deepest repeat queue kept per slot; excess missing fragments are dropped
	ShortTimeout   uint32 // wait for a requested repeat, seconds
	InitialTimeout uint32 // wait for a slot's first fragment, seconds
}

// DefaultConfig returns the base protocol's stated defaults. The clock
// only resolves to whole seconds of day, so the sub-second short timeout
// (750ms) is rounded up to 1s here; everything else is used as specified.
func DefaultConfig() Config {
	return Config{
		M: 20, Period: 30, BeaconLen: 5,
		MaxRetries: 3, MaxRepeat: 20,
		ShortTimeout: 1, InitialTimeout: 10,
	}
}

// Recorder persists one node's reassembled upload. retryLog has one entry
// per repeat round this slot needed,
// each the number of fragments still missing at the start of that round;
// an empty retryLog means the upload came in clean on the first pass.
type Recorder interface {
	Record(nodeID byte, obs []wire.Observation, retryLog []int)
}

// LogPrintf is a function used by the protocol to print logging info.
type LogPrintf func(format string, v ...interface{})

// Protocol drives the base station's lifecycle. Like node.Protocol, it is
// not concurrency-safe on its own: every method runs in the main context,
// either directly or via the deferred dispatcher.
type Protocol struct {
	cfg   Config
	radio *link.Radio
	clock *timesource.Source
	pwr   *power.Arbiter
	rec   Recorder
	log   LogPrintf

	slots         []byte // slots[i] is the node address occupying slot i, 0 if free
	retries       []int  // retries[i] counts repeat rounds used this window
	silentWindows []int  // silentWindows[i] counts consecutive windows slot i gave no data at all

	order    []int // occupied slot indices, ascending, built at beaconWindowEnd
	orderIdx int

	sub          Tag
	curSlot      int
	curFrags     [][]wire.Observation // indexed by seqIndex-1
	curFragTotal int
	repeatQueue  []byte // pending seqIndex values still owed a Repeat
	retryLog     []int  // missing-fragment count at the start of each repeat round this slot

	cycleStart        uint32
	receivePhaseStart uint32

	rxBuf [wire.HeaderLen + wire.MaxPayload + 1]byte
}

// New creates a Protocol with an empty slot table.
func New(cfg Config, radio *link.Radio, clock *timesource.Source, pwr *power.Arbiter, rec Recorder, log LogPrintf) *Protocol {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Protocol{
		cfg: cfg, radio: radio, clock: clock, pwr: pwr, rec: rec, log: log,
		slots: make([]byte, cfg.M), retries: make([]int, cfg.M), silentWindows: make([]int, cfg.M),
	}
}

// State returns the protocol's current activity.
func (p *Protocol) State() Tag { return p.sub }

// Start opens the first beacon window immediately.
func (p *Protocol) Start() {
	p.clock.Schedule(p.clock.Get(), p.beaconWindowStart)
}

// OnRadioReady is the link.RxCallback.
func (p *Protocol) OnRadioReady(int) {
	got := p.radio.TakeRx(p.rxBuf[:])
	if got == 0 {
		return
	}
	f, err := wire.DecodeFrame(p.rxBuf[:got])
	if err != nil {
		p.log("bad frame: %v", err)
		return
	}
	p.onFrame(f)
}

// step is the time, in seconds, between adjacent slots.
func (p *Protocol) step() uint32 {
	return (p.cfg.Period - p.cfg.BeaconLen) / uint32(p.cfg.M)
}

// beaconWindowStart opens the window during which new nodes may beacon in.
func (p *Protocol) beaconWindowStart() {
	p.sub = BeaconWindow
	p.cycleStart = p.clock.Get()
	p.receivePhaseStart = p.cycleStart + p.cfg.BeaconLen
	p.radio.SetPower(true)
	p.radio.SetReceive(true)
	p.pwr.SetMinimum(power.Radio, power.LightSleep)
	p.clock.Schedule(p.receivePhaseStart, p.beaconWindowEnd)
}

// beaconWindowEnd closes beacon admission and begins the slot tour.
func (p *Protocol) beaconWindowEnd() {
	p.order = p.order[:0]
	for i, addr := range p.slots {
		if addr != 0 {
			p.order = append(p.order, i)
		}
	}
	p.orderIdx = 0
	p.scheduleNextSlot()
}

// scheduleNextSlot arms the next occupied slot in this cycle, or, once the
// tour is exhausted, re-arms beaconWindowStart for the following cycle —
// the chained-one-shot pattern that works around the clock's single alarm
// slot for an arbitrary, non-daily recurring period.
func (p *Protocol) scheduleNextSlot() {
	if p.orderIdx >= len(p.order) {
		p.radio.SetPower(false)
		p.pwr.SetMinimum(power.Radio, power.DeepSleep)
		p.clock.Schedule(p.cycleStart+p.cfg.Period, p.beaconWindowStart)
		return
	}
	idx := p.order[p.orderIdx]
	at := p.receivePhaseStart + uint32(idx)*p.step()
	p.clock.Schedule(at, func() { p.slotWindowStart(idx) })
}

// slotWindowStart opens slot idx's receive window: Awake until the first
// Data fragment arrives, at which point onFrame moves it to Recv.
func (p *Protocol) slotWindowStart(idx int) {
	p.curSlot = idx
	p.curFrags = nil
	p.curFragTotal = 0
	p.repeatQueue = nil
	p.retryLog = nil
	p.sub = Awake
	p.clock.Schedule(p.clock.Get()+p.cfg.InitialTimeout, p.slotTimeout)
}

func (p *Protocol) onFrame(f wire.Frame) {
	if f.Opcode == wire.OpBeacon {
		p.onBeacon(f.Src)
		return
	}
	if p.sub != Awake && p.sub != Recv && p.sub != Repeating {
		return
	}
	if f.Src != p.slots[p.curSlot] {
		return // mismatched-source Data frame during another node's slot
	}
	if f.Opcode != wire.OpData {
		return
	}
	data, err := wire.DecodeData(f.Payload)
	if err != nil {
		p.log("bad Data from %#x: %v", f.Src, err)
		return
	}
	p.storeFragment(data)
	p.clock.Cancel()
	if p.missing() == nil {
		p.arqStep()
		return
	}
	if p.sub == Repeating && len(p.repeatQueue) > 0 {
		p.sendNextRepeat()
		return
	}
	p.sub = Recv
	p.clock.Schedule(p.clock.Get()+p.cfg.ShortTimeout, p.slotTimeout)
}

// onBeacon admits a new node or re-acknowledges one already in the table,
// using chooseSlot's max-min-neighbor-distance placement rule (ties favor
// lower index, empty table picks the middle).
func (p *Protocol) onBeacon(addr byte) {
	idx := -1
	for i, a := range p.slots {
		if a == addr {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = chooseSlot(p.slots)
		if idx < 0 {
			p.log("slot table full, dropping beacon from %#x", addr)
			return
		}
		p.slots[idx] = addr
		p.retries[idx] = 0
		p.silentWindows[idx] = 0
	}
	nextWake := p.receivePhaseStart + uint32(idx)*p.step()
	ack := wire.BeaconAckPayload{Time: p.clock.Get(), Period: p.cfg.Period, NextWake: nextWake}
	p.radio.Send(addr, wire.OpBeaconAck, ack.Encode())
}

// storeFragment records one Data fragment, growing curFrags as needed.
func (p *Protocol) storeFragment(d wire.DataPayload) {
	if int(d.SeqTotal) > p.curFragTotal {
		grown := make([][]wire.Observation, d.SeqTotal)
		copy(grown, p.curFrags)
		p.curFrags = grown
		p.curFragTotal = int(d.SeqTotal)
	}
	if d.SeqIndex < 1 || int(d.SeqIndex) > p.curFragTotal {
		return
	}
	obs := d.Observations
	if obs == nil {
		obs = []wire.Observation{} // an empty fragment still counts as received
	}
	p.curFrags[d.SeqIndex-1] = obs
}

// missing returns the 1-based seqIndex values not yet received, nil if the
// upload is complete. Only called once at least one fragment has arrived
// (the Awake state, entered with no fragment yet, never reaches it).
func (p *Protocol) missing() []byte {
	var m []byte
	for i, frag := range p.curFrags {
		if frag == nil {
			m = append(m, byte(i+1))
		}
	}
	return m
}

// slotTimeout fires when a slot goes quiet: waiting for the first fragment
// (InitialTimeout, still Awake), for the next one (ShortTimeout, Recv), or
// for a requested repeat (ShortTimeout, Repeating). Awake's silence is a
// distinct case from a stalled Recv/Repeating: it means the node never
// transmitted anything this window at all, and counts toward deregistering
// an unresponsive node rather than toward repeating a fragment.
func (p *Protocol) slotTimeout() {
	switch p.sub {
	case Awake:
		p.handleSilentWindow()
	case Recv, Repeating:
		p.arqStep()
	}
}

// handleSilentWindow closes out a window where the node never sent a single
// Data frame. Once the consecutive silent windows exceed MaxRetries (the
// fourth, with the default of 3) the node is deregistered; the window ends either way without an Ack, since there was never
// anything to acknowledge.
func (p *Protocol) handleSilentWindow() {
	p.silentWindows[p.curSlot]++
	if p.silentWindows[p.curSlot] > p.cfg.MaxRetries {
		p.log("node %#x silent for %d consecutive windows, deregistering slot %d", p.slots[p.curSlot], p.silentWindows[p.curSlot], p.curSlot)
		p.slots[p.curSlot] = 0
		p.retries[p.curSlot] = 0
		p.silentWindows[p.curSlot] = 0
	}
	p.orderIdx++
	p.scheduleNextSlot()
}

// arqStep is the Arq state's synchronous handler: it decides, the instant
// a slot's receive attempt stalls, whether to request a repeat or to close
// the slot out. It is only reached once at least one fragment has arrived;
// a node that sent nothing at all is handled by handleSilentWindow instead.
// Entering Arq never needs its own timer because every transition into it
// calls this directly.
func (p *Protocol) arqStep() {
	p.sub = Arq
	miss := p.missing()
	if len(miss) > 0 && p.retries[p.curSlot] < p.cfg.MaxRetries {
		p.retryLog = append(p.retryLog, len(miss))
		if len(miss) > p.cfg.MaxRepeat {
			p.log("slot %d: dropping %d excess missing fragments beyond repeat queue depth", p.curSlot, len(miss)-p.cfg.MaxRepeat)
			miss = miss[:p.cfg.MaxRepeat]
		}
		p.repeatQueue = miss
		p.retries[p.curSlot]++
		p.sub = Repeating
		p.sendNextRepeat()
		return
	}
	p.finishSlot()
}

// sendNextRepeat sends a Repeat for the next queued seqIndex and arms the
// short timeout to wait for it.
func (p *Protocol) sendNextRepeat() {
	if len(p.repeatQueue) == 0 {
		p.arqStep()
		return
	}
	idx := p.repeatQueue[0]
	p.repeatQueue = p.repeatQueue[1:]
	rep := wire.RepeatPayload{SeqTotal: byte(p.curFragTotal), SeqIndex: idx}
	p.radio.Send(p.slots[p.curSlot], wire.OpRepeat, rep.Encode())
	p.clock.Schedule(p.clock.Get()+p.cfg.ShortTimeout, p.slotTimeout)
}

// finishSlot acknowledges (successfully or not), persists whatever was
// reassembled, and advances the tour to the next occupied slot. Reaching
// here at all means the node sent at least one fragment this window, so
// its consecutive-silence count resets.
func (p *Protocol) finishSlot() {
	p.silentWindows[p.curSlot] = 0
	ack := wire.AckPayload{Time: p.clock.Get()}
	p.radio.Send(p.slots[p.curSlot], wire.OpAck, ack.Encode())

	if p.rec != nil {
		var obs []wire.Observation
		for _, frag := range p.curFrags {
			obs = append(obs, frag...)
		}
		p.rec.Record(p.slots[p.curSlot], obs, p.retryLog)
	}
	p.retries[p.curSlot] = 0
	p.orderIdx++
	p.scheduleNextSlot()
}
