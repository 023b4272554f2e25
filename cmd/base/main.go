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

	"github.com/samdbmg/sbc-wsn/base"
	"github.com/samdbmg/sbc-wsn/deferred"
	"github.com/samdbmg/sbc-wsn/hal/periphhal"
	"github.com/samdbmg/sbc-wsn/link"
	"github.com/samdbmg/sbc-wsn/power"
	sbcruntime "github.com/samdbmg/sbc-wsn/runtime"
	"github.com/samdbmg/sbc-wsn/timesource"
	"github.com/samdbmg/sbc-wsn/wire"
)

// Config is the base station's TOML config file shape, matching
// mqttradio.Config's one-file, config-driven component construction.
type Config struct {
	Debug   bool
	SpiBus  string `toml:"spi_bus"`
	IntrPin string `toml:"intr_pin"`

	SlotTableSize int    `toml:"slot_table_size"`
	Period        uint32 `toml:"period_seconds"`
	BeaconLen     uint32 `toml:"beacon_seconds"`

	StorePath string `toml:"store_path"`
	Mqtt      *base.MqttConfig
}

const tickInterval = 100 * time.Millisecond

type sleeper struct{}

func (sleeper) WaitForWake(power.Mode) { time.Sleep(tickInterval) }

func main() {
	configFile := flag.String("config", "base.toml", "path to config file")
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

	if cfg.StorePath == "" {
		cfg.StorePath = "records.csv"
	}
	store, err := base.NewStore(cfg.StorePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open record store: %s\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var rec base.Recorder = store
	if cfg.Mqtt != nil {
		telemetry, err := base.NewTelemetry(*cfg.Mqtt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot connect to MQTT broker: %s\n", err)
			os.Exit(1)
		}
		rec = multiRecorder{store, telemetry}
	}

	bcfg := base.DefaultConfig()
	if cfg.SlotTableSize != 0 {
		bcfg.M = cfg.SlotTableSize
	}
	if cfg.Period != 0 {
		bcfg.Period = cfg.Period
	}
	if cfg.BeaconLen != 0 {
		bcfg.BeaconLen = cfg.BeaconLen
	}

	disp := deferred.New()
	clock := timesource.New(disp, 0)
	pwr := power.New(sleeper{})
	radio := link.New(spiBus, intrPin, disp, link.Opts{LocalAddr: wire.BaseAddress, Logger: logger})

	proto := base.New(bcfg, radio, clock, pwr, rec, logger)
	if !radio.Init(proto.OnRadioReady) {
		fmt.Fprintf(os.Stderr, "radio init failed: %s\n", radio.Error())
		os.Exit(1)
	}

	if err := sbcruntime.Realtime(); err != nil {
		log.Printf("could not raise to real-time priority: %s (continuing anyway)", err)
	}

	proto.Start()
	log.Printf("Base station is running")

	dayStart := time.Now()
	for {
		now := uint32(time.Since(dayStart).Seconds()) % wire.DayWrap
		clock.Tick(now)
		disp.DrainAndRun()
		pwr.Sleep()
	}
}

// multiRecorder fans a record out to both the CSV store and MQTT
// telemetry, so enabling Mqtt in the config never trades off persistence.
type multiRecorder struct {
	store     *base.Store
	telemetry *base.Telemetry
}

func (m multiRecorder) Record(nodeID byte, obs []wire.Observation, retryLog []int) {
	m.store.Record(nodeID, obs, retryLog)
	m.telemetry.Record(nodeID, obs, retryLog)
}
