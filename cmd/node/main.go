// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/detect"
	"github.com/samdbmg/sbc-wsn/edgetimer"
	"github.com/samdbmg/sbc-wsn/hal/periphhal"
	"github.com/samdbmg/sbc-wsn/link"
	"github.com/samdbmg/sbc-wsn/node"
	"github.com/samdbmg/sbc-wsn/power"
	"github.com/samdbmg/sbc-wsn/sensor"
	"github.com/samdbmg/sbc-wsn/store"
	"github.com/samdbmg/sbc-wsn/timesource"
	"github.com/samdbmg/sbc-wsn/wire"
)

// Config is the node station's TOML config file shape, the way
// mqttradio.Config drives radio/module construction from one file.
type Config struct {
	Debug     bool
	LocalAddr byte `toml:"local_addr"`

	SpiBus     string `toml:"spi_bus"`
	IntrPin    string `toml:"intr_pin"`
	CompPin    string `toml:"comparator_pin"` // acoustic comparator edge input
	I2CBus     string `toml:"i2c_bus"`
	SensorAddr int    `toml:"sensor_addr"`

	RingCapacity int `toml:"ring_capacity"`
}

// tickInterval is how often the main loop advances the clock and drains
// the deferred dispatcher; small enough that the "within one tick"
// scheduling slop stays negligible next to the multi-second timeouts it
// governs.
const tickInterval = 100 * time.Millisecond

type sleeper struct{}

// WaitForWake stands in for the platform's wait-for-interrupt primitive:
// on a host OS there is no real sleep state to enter, so this just yields
// the tick interval back to the scheduler.
func (sleeper) WaitForWake(power.Mode) { time.Sleep(tickInterval) }

func main() {
	configFile := flag.String("config", "node.toml", "path to config file")
	flag.Parse()

	raw, err := ioutil.ReadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot read config file: %s\n", err)
		os.Exit(1)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "cannot parse config file: %s\n", err)
		os.Exit(1)
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = 512
	}

	logger := log.Printf
	if !cfg.Debug {
		logger = func(string, ...interface{}) {}
	}

	if err := periphhal.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot initialize host drivers: %s\n", err)
		os.Exit(1)
	}
	spiBus, err := periphhal.OpenSPI(cfg.SpiBus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open radio SPI bus: %s\n", err)
		os.Exit(1)
	}
	intrPin, err := periphhal.OpenGPIO(cfg.IntrPin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open radio interrupt pin: %s\n", err)
		os.Exit(1)
	}
	compPin, err := periphhal.OpenGPIO(cfg.CompPin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open comparator pin: %s\n", err)
		os.Exit(1)
	}
	i2cBus, err := periphhal.OpenI2C(cfg.I2CBus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open sensor I2C bus: %s\n", err)
		os.Exit(1)
	}

	disp := deferred.New()
	clock := timesource.New(disp, 0)
	pwr := power.New(sleeper{})
	ring := store.New(cfg.RingCapacity)
	radio := link.New(spiBus, intrPin, disp, link.Opts{LocalAddr: cfg.LocalAddr, Logger: logger})

	emit := func(o wire.Observation) { ring.Append(o) }
	edges := periphhal.NewEdgeCounter(compPin)
	window := periphhal.NewWindowTimer()
	timer := edgetimer.New(window, edges, disp, detect.DefaultParams(), clock, emit)

	sensors := sensor.New(i2cBus, uint16(cfg.SensorAddr))
	proto := node.New(node.Config{LocalAddr: cfg.LocalAddr}, radio, clock, ring, pwr, sensors, logger)

	if !radio.Init(proto.OnRadioReady) {
		fmt.Fprintf(os.Stderr, "radio init failed: %s\n", radio.Error())
		os.Exit(1)
	}
	stop := make(chan struct{})
	go timer.Run(stop)

	proto.Start()
	log.Printf("Node %#x is running", cfg.LocalAddr)

	dayStart := time.Now()
	for {
		now := uint32(time.Since(dayStart).Seconds()) % wire.DayWrap
		clock.Tick(now)
		disp.DrainAndRun()
		pwr.Sleep()
	}
}
