package codec

import (
	"encoding/json"
	"testing"
)

func TestDecodeInitialStateBasic(t *testing.T) {
	raw := `{
		"1234": {
			"name": "Family Car",
			"model": "DXL-5000",
			"bit_state": 1,
			"engine_rpm": 0,
			"speed": 0
		}
	}`

	state, err := DecodeInitialState(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeInitialState: %v", err)
	}
	dev, ok := state.Devices[1234]
	if !ok {
		t.Fatalf("expected device 1234 in snapshot")
	}
	if dev.Identity.Name != "Family Car" {
		t.Errorf("Name = %q", dev.Identity.Name)
	}
	if dev.BitState != 1 {
		t.Errorf("BitState = %d, want 1", dev.BitState)
	}
	if !dev.Telemetry.EngineRPM.Set() || dev.Telemetry.EngineRPM.Value != 0 {
		t.Errorf("EngineRPM not decoded as present-zero")
	}
}

func TestDecodeStateSparseVsNull(t *testing.T) {
	// speed present with a value; fuel explicitly null; bearing absent entirely.
	raw := `{"device_id": 1234, "speed": 42, "fuel": null}`

	delta, err := DecodeState(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if delta.DeviceID != 1234 {
		t.Errorf("DeviceID = %d", delta.DeviceID)
	}
	if !delta.Telemetry.Speed.Set() || delta.Telemetry.Speed.Value != 42 {
		t.Errorf("Speed should be present with value 42")
	}
	if !delta.Telemetry.FuelPercent.Present || !delta.Telemetry.FuelPercent.Null {
		t.Errorf("FuelPercent should be present+null (explicit clear)")
	}
	if delta.Telemetry.Bearing.Present {
		t.Errorf("Bearing should be entirely absent (unchanged), got Present=true")
	}
}

func TestDecodeStateBitStateReplacesAtomically(t *testing.T) {
	raw := `{"device_id": 1234, "bit_state": 7}`
	delta, err := DecodeState(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if !delta.BitState.Set() || delta.BitState.Value != 7 {
		t.Errorf("BitState should be present with value 7")
	}
}

func TestDecodeStatePreservesUnknownFields(t *testing.T) {
	raw := `{"device_id": 1234, "speed": 10, "some_future_field": "xyz"}`
	delta, err := DecodeState(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if delta.Raw == nil {
		t.Fatal("expected unknown field to be preserved in Raw sidecar")
	}
	if _, ok := delta.Raw["some_future_field"]; !ok {
		t.Errorf("Raw sidecar missing some_future_field: %v", delta.Raw)
	}
}

func TestDecodeEventUnknownCodePair(t *testing.T) {
	raw := `{"device_id": 1234, "primary": 999, "secondary": 999}`
	ev, err := DecodeEvent(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if EventType(ev.PrimaryCode, ev.SecondaryCode) != "unknown" {
		t.Errorf("expected unknown event type for undocumented pair")
	}
}

func TestDecodeEventKnownCodePair(t *testing.T) {
	raw := `{"device_id": 1234, "primary": 1, "secondary": 0}`
	ev, err := DecodeEvent(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if EventType(ev.PrimaryCode, ev.SecondaryCode) != "armed" {
		t.Errorf("got %q, want armed", EventType(ev.PrimaryCode, ev.SecondaryCode))
	}
}

func TestDecodeCommandReply(t *testing.T) {
	raw := `{"device_id": 1234, "command_id": 4, "result": 0}`
	reply, err := DecodeCommandReply(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeCommandReply: %v", err)
	}
	if reply.Result != 0 {
		t.Errorf("Result = %d, want 0", reply.Result)
	}
	if reply.Reply.Present {
		t.Errorf("Reply should be absent when not in payload")
	}
}

func TestDecodeCommandReplyFailureWithReplyCode(t *testing.T) {
	raw := `{"device_id": 1234, "command_id": 255, "result": 1, "reply": 42}`
	reply, err := DecodeCommandReply(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeCommandReply: %v", err)
	}
	if !reply.Reply.Set() || reply.Reply.Value != 42 {
		t.Errorf("Reply should carry value 42")
	}
}

func TestDecodePointRequiresAllFields(t *testing.T) {
	raw := `{"device_id": 1234, "lat": 1.0, "lon": 2.0, "speed": 3.0}`
	_, err := DecodePoint(json.RawMessage(raw))
	if err == nil {
		t.Fatal("expected error for missing direction/timestamp")
	}
}

func TestDecodePointComplete(t *testing.T) {
	raw := `{"device_id": 1234, "lat": 1.5, "lon": 2.5, "speed": 30, "direction": 90, "timestamp": 1700000000}`
	p, err := DecodePoint(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodePoint: %v", err)
	}
	if p.Latitude != 1.5 || p.Longitude != 2.5 {
		t.Errorf("lat/lon mismatch: %+v", p)
	}
}

func TestDecodeDispatchesByType(t *testing.T) {
	env := Envelope{Type: FramePoint, Data: json.RawMessage(`{"device_id":1,"lat":1,"lon":1,"speed":1,"direction":1,"timestamp":1700000000}`)}
	v, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := v.(*Point); !ok {
		t.Errorf("expected *Point, got %T", v)
	}
}

func TestDecodeUnknownFrameType(t *testing.T) {
	_, err := Decode(Envelope{Type: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func TestExpandBits(t *testing.T) {
	// armed (bit 0) + ignition (bit 1) set, nothing else.
	flags := ExpandBits(uint64(0b11), DefaultBitStateMap)
	if !flags["armed"] || !flags["ignition"] {
		t.Errorf("expected armed and ignition true: %v", flags)
	}
	if flags["engine_running"] {
		t.Errorf("expected engine_running false: %v", flags)
	}
}
