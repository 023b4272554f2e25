// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

// Command criquet-demo runs one node and the base station in a single
// process, wired over an in-memory loopback transport instead of real
// radios, so the full beacon/admit/upload/ack pipeline can be watched end
// to end without hardware. Grounded on cmd/sx1231-test/main.go's
// directness (flags only, no config file, immediate component wiring).
package main

import (
	"flag"
	"log"
	"time"

	"github.com/samdbmg/sbc-wsn/base"
	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/link"
	"github.com/samdbmg/sbc-wsn/node"
	"github.com/samdbmg/sbc-wsn/power"
	"github.com/samdbmg/sbc-wsn/store"
	"github.com/samdbmg/sbc-wsn/timesource"
	"github.com/samdbmg/sbc-wsn/wire"
)

// stubSensors stands in for the I2C environment sensors with fixed
// readings. The comparator/detector pipeline is skipped entirely: main
// seeds the ring directly with a few observations instead.
type stubSensors struct{}

func (stubSensors) Temperature() byte { return 21 }
func (stubSensors) Humidity() byte    { return 55 }
func (stubSensors) Light() byte       { return 128 }

type sleeper struct{}

func (sleeper) WaitForWake(power.Mode) { time.Sleep(10 * time.Millisecond) }

const localAddr = 0x11

func main() {
	runFor := flag.Duration("for", 90*time.Second, "how long to run the demo")
	flag.Parse()

	nodeSPI, baseSPI := newLoopbackPair()

	nodeDisp := deferred.New()
	nodeClock := timesource.New(nodeDisp, 0)
	nodePwr := power.New(sleeper{})
	ring := store.New(64)
	nodeRadio := link.New(nodeSPI, nodeSPI.gpio, nodeDisp, link.Opts{LocalAddr: localAddr, Logger: log.Printf})
	nodeProto := node.New(node.Config{LocalAddr: localAddr}, nodeRadio, nodeClock, ring, nodePwr, stubSensors{}, log.Printf)
	if !nodeRadio.Init(nodeProto.OnRadioReady) {
		log.Fatalf("node radio init: %v", nodeRadio.Error())
	}

	baseDisp := deferred.New()
	baseClock := timesource.New(baseDisp, 0)
	basePwr := power.New(sleeper{})
	rec := &loggingRecorder{}
	baseCfg := base.DefaultConfig()
	baseCfg.M = 4
	baseCfg.Period = 20
	baseCfg.BeaconLen = 4
	baseRadio := link.New(baseSPI, baseSPI.gpio, baseDisp, link.Opts{LocalAddr: wire.BaseAddress, Logger: log.Printf})
	baseProto := base.New(baseCfg, baseRadio, baseClock, basePwr, rec, log.Printf)
	if !baseRadio.Init(baseProto.OnRadioReady) {
		log.Fatalf("base radio init: %v", baseRadio.Error())
	}

	// Seed a few observations so the first upload has something to carry.
	ring.Append(wire.NewCall(10, 5, false))
	ring.Append(wire.NewCall(40, 3, true))
	ring.Append(wire.Observation{Time: 70, Kind: wire.Temperature, Payload: stubSensors{}.Temperature()})

	baseProto.Start()
	nodeProto.Start()
	log.Printf("criquet-demo: node %#x and base station running over loopback", localAddr)

	start := time.Now()
	deadline := start.Add(*runFor)
	for time.Now().Before(deadline) {
		now := uint32(time.Since(start).Seconds()) % wire.DayWrap
		nodeClock.Tick(now)
		nodeDisp.DrainAndRun()
		baseClock.Tick(now)
		baseDisp.DrainAndRun()
		time.Sleep(20 * time.Millisecond)
	}
	log.Printf("criquet-demo: finished after %s, %d record(s) persisted", *runFor, rec.calls)
}

// loggingRecorder is base.Recorder for the demo: print what was reassembled
// instead of writing it anywhere durable.
type loggingRecorder struct {
	calls int
}

func (r *loggingRecorder) Record(nodeID byte, obs []wire.Observation, retryLog []int) {
	r.calls++
	log.Printf("base: recorded %d observation(s) from node %#x (retry rounds: %v)", len(obs), nodeID, retryLog)
	for _, o := range obs {
		log.Printf("  %s @%ds payload=%d", o.Kind, o.Time, o.Payload)
	}
}
