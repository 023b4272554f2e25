package wire

import (
	"reflect"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := map[string]Frame{
		"beacon":  {Dst: Broadcast, Src: 0x01, Opcode: OpBeacon},
		"ack":     {Dst: 0x01, Src: 0xFF, Opcode: OpAck, Payload: AckPayload{Time: 100}.Encode()},
		"data":    {Dst: 0xFF, Src: 0x01, Opcode: OpData, Payload: DataPayload{SeqTotal: 3, SeqIndex: 1, Observations: []Observation{NewCall(1, 4, false)}}.Encode()},
		"maxsize": {Dst: 1, Src: 2, Opcode: OpData, Payload: make([]byte, MaxPayload)},
	}
	for name, f := range cases {
		enc, err := f.Encode()
		if err != nil {
			t.Fatalf("%s: encode error: %v", name, err)
		}
		if int(enc[0]) != HeaderLen+len(f.Payload) {
			t.Fatalf("%s: len byte %d != %d", name, enc[0], HeaderLen+len(f.Payload))
		}
		got, err := DecodeFrame(enc)
		if err != nil {
			t.Fatalf("%s: decode error: %v", name, err)
		}
		if got.Payload == nil {
			got.Payload = []byte{}
		}
		want := f
		if want.Payload == nil {
			want.Payload = []byte{}
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: round trip mismatch: got %+v want %+v", name, got, want)
		}
	}
}

func TestFrameTooLarge(t *testing.T) {
	f := Frame{Payload: make([]byte, MaxPayload+1)}
	if _, err := f.Encode(); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestBeaconAckRoundTrip(t *testing.T) {
	p := BeaconAckPayload{Time: 70000, Period: 30, NextWake: 70300, Flags: 0x01}
	enc := p.Encode()
	got, err := DecodeBeaconAck(enc)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got != p {
		t.Fatalf("got %+v want %+v", got, p)
	}
}

func TestDataPayloadFragmentCapacity(t *testing.T) {
	if MaxObservationsPerFragment != 14 {
		t.Fatalf("expected 14 observations per fragment, got %d", MaxObservationsPerFragment)
	}
}
