// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package base

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/samdbmg/sbc-wsn/wire"
)

// MqttConfig names a broker to republish persisted uploads to, for
// whatever dashboard or downstream consumer wants a live feed. Trimmed
// from mqttradio's MqttConfig to the fields a publish-only client needs.
type MqttConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Topic    string // base topic; node uploads publish to Topic/<node_id>
}

// record is the JSON shape published per observation of a node upload.
type record struct {
	Node    byte   `json:"node"`
	Time    uint32 `json:"time"`
	Kind    string `json:"kind"`
	Payload byte   `json:"payload,omitempty"`
	Clicks  int    `json:"clicks,omitempty"`
	Female  bool   `json:"female,omitempty"`
	Retries int    `json:"retries"`
}

// Telemetry republishes Recorder.Record calls to an MQTT broker, grounded
// on mqttradio's mq type but trimmed to publish-only: there is nothing for
// the base station to subscribe to.
type Telemetry struct {
	conn  mqtt.Client
	topic string
}

// NewTelemetry connects to conf's broker. The connection is a single
// best-effort attempt, matching mqttradio's newMQ.
func NewTelemetry(conf MqttConfig) (*Telemetry, error) {
	mqtt.ERROR = log.New(os.Stderr, "", 0)
	opts := mqtt.NewClientOptions().AddBroker(fmt.Sprintf("tcp://%s:%d", conf.Host, conf.Port))
	opts.ClientID = "sbc-wsn-base"
	opts.Username = conf.User
	opts.Password = conf.Password

	conn := mqtt.NewClient(opts)
	if token := conn.Connect(); !token.WaitTimeout(10 * time.Second) {
		return nil, token.Error()
	}
	return &Telemetry{conn: conn, topic: conf.Topic}, nil
}

// Record implements Recorder by publishing one JSON message per observation
// to Topic/<node_id>.
func (m *Telemetry) Record(nodeID byte, obs []wire.Observation, retryLog []int) {
	topic := fmt.Sprintf("%s/%d", m.topic, nodeID)
	for _, o := range obs {
		rec := record{Node: nodeID, Time: o.Time, Kind: o.Kind.String(), Retries: len(retryLog)}
		switch o.Kind {
		case wire.Call:
			rec.Clicks = o.ClickCount()
			rec.Female = o.FemaleResponse()
		default:
			rec.Payload = o.Payload
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		m.conn.Publish(topic, 1, false, payload)
	}
}
