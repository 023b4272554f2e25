// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package node implements the node protocol: periodically deliver the data
// store to the base, and respond to time-sync and fragment-repeat
// requests. Grounded on original_source/node-software/src/main.c and
// radio_code/radio_protocol.c for the Setup→Beacon→WaitBeacon→Idle→Send→
// WaitAck lifecycle; Go shape (a stateful Protocol whose methods mutate its
// state and drive the radio and clock directly, plus a thin driver loop in
// cmd/node) grounded on cmd/mqttradio/main.go's config-driven component
// construction. The transitions are not pure functions.
package node

import (
	"github.com/samdbmg/sbc-wsn/link"
	"github.com/samdbmg/sbc-wsn/power"
	"github.com/samdbmg/sbc-wsn/store"
	"github.com/samdbmg/sbc-wsn/timesource"
	"github.com/samdbmg/sbc-wsn/wire"
)

// Tag is a node protocol state.
type Tag int

const (
	Setup Tag = iota
	Beacon
	WaitBeacon
	Idle
	Send
	WaitAck
)

func (t Tag) String() string {
	switch t {
	case Setup:
		return "Setup"
	case Beacon:
		return "Beacon"
	case WaitBeacon:
		return "WaitBeacon"
	case Idle:
		return "Idle"
	case Send:
		return "Send"
	case WaitAck:
		return "WaitAck"
	default:
		return "Tag(?)"
	}
}

// AckTimeout is the fixed 3s wait for a BeaconAck or Ack.
const AckTimeout uint32 = 3

// Sensors reads the environment inputs, reduced to their 8-bit encodings.
type Sensors interface {
	Temperature() byte
	Humidity() byte
	Light() byte
}

// LogPrintf is a function used by the protocol to print logging info.
type LogPrintf func(format string, v ...interface{})

// Config holds a node's fixed identity.
type Config struct {
	LocalAddr byte // this node's link-layer address, used as given (no DIP-switch read or bit inversion here)
}

// Protocol drives one node's lifecycle. It is not concurrency-safe: all of
// its methods are expected to run in the main context, either directly or
// via the deferred dispatcher.
type Protocol struct {
	cfg     Config
	radio   *link.Radio
	clock   *timesource.Source
	ring    *store.Ring
	pwr     *power.Arbiter
	sensors Sensors
	log     LogPrintf

	state    Tag
	period   uint32
	nextWake uint32
	snapshot store.Token
	fragTot  int

	rxBuf [wire.HeaderLen + wire.MaxPayload + 1]byte
}

// New creates a Protocol in Setup state.
func New(cfg Config, radio *link.Radio, clock *timesource.Source, ring *store.Ring, pwr *power.Arbiter, sensors Sensors, log LogPrintf) *Protocol {
	if log == nil {
		log = func(string, ...interface{}) {}
	}
	return &Protocol{cfg: cfg, radio: radio, clock: clock, ring: ring, pwr: pwr, sensors: sensors, log: log, state: Setup}
}

// State returns the protocol's current Tag.
func (p *Protocol) State() Tag { return p.state }

// Address returns this node's configured link-layer address.
func (p *Protocol) Address() byte { return p.cfg.LocalAddr }

// Start begins the lifecycle: schedule the first beacon transmission.
func (p *Protocol) Start() {
	p.state = Setup
	p.clock.Schedule(p.clock.Get(), p.transmitBeacon)
}

// OnRadioReady is the link.RxCallback: it drains the ready frame and
// dispatches it.
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

func (p *Protocol) onFrame(f wire.Frame) {
	if f.Opcode == wire.OpTimeSync {
		ts, err := wire.DecodeTimeSync(f.Payload)
		if err == nil {
			p.clock.Set(ts.Time)
		}
		return // no state change on TimeSync
	}

	switch p.state {
	case WaitBeacon:
		if f.Opcode != wire.OpBeaconAck {
			return
		}
		ack, err := wire.DecodeBeaconAck(f.Payload)
		if err != nil {
			return
		}
		p.clock.Cancel()
		p.clock.Set(ack.Time)
		p.period = ack.Period
		p.nextWake = ack.NextWake
		if p.nextWake < ack.Time {
			p.nextWake = (p.nextWake + p.period) % wire.DayWrap // already past: one period later
		}
		p.clock.Schedule(p.nextWake, p.beginSend)
		p.state = Idle
		p.pwr.SetMinimum(power.Radio, power.DeepSleep)

	case WaitAck:
		switch f.Opcode {
		case wire.OpAck:
			p.clock.Cancel()
			p.ring.Commit(p.snapshot)
			p.radio.SetPower(false)
			p.pwr.SetMinimum(power.Radio, power.DeepSleep)
			p.state = Idle
			p.armNextWake()
		case wire.OpRepeat:
			rep, err := wire.DecodeRepeat(f.Payload)
			if err != nil || int(rep.SeqTotal) != p.fragTot {
				return
			}
			p.sendFragment(int(rep.SeqIndex))
			p.clock.Schedule(p.clock.Get()+AckTimeout, p.waitAckTimeout)
		}
	}
}

// transmitBeacon broadcasts a Beacon and waits for the base's BeaconAck.
func (p *Protocol) transmitBeacon() {
	p.radio.SetPower(true)
	p.radio.SetReceive(true)
	p.pwr.SetMinimum(power.Radio, power.LightSleep)
	p.state = Beacon
	p.radio.Send(wire.BaseAddress, wire.OpBeacon, nil)
	p.state = WaitBeacon
	p.clock.Schedule(p.clock.Get()+AckTimeout, p.waitBeaconTimeout)
}

func (p *Protocol) waitBeaconTimeout() {
	if p.state != WaitBeacon {
		return
	}
	p.radio.SetPower(false)
	p.pwr.SetMinimum(power.Radio, power.DeepSleep)
	p.state = Setup
	p.transmitBeacon()
}

// beginSend samples the sensors, fragments the ring, and transmits.
func (p *Protocol) beginSend() {
	p.state = Send
	p.ring.Append(wire.Observation{Time: p.clock.Get(), Kind: wire.Temperature, Payload: p.sensors.Temperature()})
	p.ring.Append(wire.Observation{Time: p.clock.Get(), Kind: wire.Humidity, Payload: p.sensors.Humidity()})
	p.ring.Append(wire.Observation{Time: p.clock.Get(), Kind: wire.Light, Payload: p.sensors.Light()})

	p.snapshot = p.ring.Snapshot()
	scratch := make([]wire.Observation, p.ring.Cap())
	total := p.ring.Peek(p.snapshot, 0, len(scratch), scratch)
	p.fragTot = (total + wire.MaxObservationsPerFragment - 1) / wire.MaxObservationsPerFragment
	if p.fragTot == 0 {
		p.fragTot = 1 // always send at least an empty fragment
	}

	p.radio.SetPower(true)
	p.radio.SetReceive(true)
	p.pwr.SetMinimum(power.Radio, power.LightSleep)
	for i := 1; i <= p.fragTot; i++ {
		p.sendFragment(i)
	}
	p.state = WaitAck
	p.clock.Schedule(p.clock.Get()+AckTimeout, p.waitAckTimeout)
}

// armNextWake schedules the following upload, period seconds after the
// last one, reusing the single one-shot alarm slot: the clock has no
// dedicated recurring slot for an arbitrary node-assigned period, only the
// daily housekeeping alarm recurs on its own.
func (p *Protocol) armNextWake() {
	if p.period == 0 {
		return
	}
	p.nextWake = (p.nextWake + p.period) % wire.DayWrap
	p.clock.Schedule(p.nextWake, p.beginSend)
}

// sendFragment sends Data fragment index (1-based) out of p.fragTot.
func (p *Protocol) sendFragment(index int) {
	scratch := make([]wire.Observation, wire.MaxObservationsPerFragment)
	n := p.ring.Peek(p.snapshot, (index-1)*wire.MaxObservationsPerFragment, wire.MaxObservationsPerFragment, scratch)
	payload := wire.DataPayload{SeqTotal: byte(p.fragTot), SeqIndex: byte(index), Observations: scratch[:n]}
	p.radio.Send(wire.BaseAddress, wire.OpData, payload.Encode())
}

func (p *Protocol) waitAckTimeout() {
	if p.state != WaitAck {
		return
	}
	p.radio.SetPower(false)
	p.pwr.SetMinimum(power.Radio, power.DeepSleep)
	p.state = Idle
	p.armNextWake()
}
