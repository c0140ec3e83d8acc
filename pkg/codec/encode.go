package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Encoders mirror the decoders: typed fields are merged back over the Raw
// sidecar so a decode → encode → decode cycle reproduces the same semantic
// frame, unknown keys included.

var nullRaw = json.RawMessage("null")

// jsonRaw marshals a primitive wire value. The inputs are always numbers,
// strings or bools, which cannot fail to marshal.
func jsonRaw(v interface{}) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func cloneRaw(raw map[string]json.RawMessage, extra int) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(raw)+extra)
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// putField writes a sparse field: absent fields stay absent, explicit nulls
// stay null, values are marshalled.
func putField[T any](raw map[string]json.RawMessage, key string, f Field[T]) {
	if !f.Present {
		return
	}
	if f.Null {
		raw[key] = nullRaw
		return
	}
	raw[key] = jsonRaw(f.Value)
}

// putUnixField writes a Field[time.Time] back as Unix seconds.
func putUnixField(raw map[string]json.RawMessage, key string, f Field[time.Time]) {
	if !f.Present {
		return
	}
	if f.Null {
		raw[key] = nullRaw
		return
	}
	raw[key] = jsonRaw(f.Value.Unix())
}

func encodeTelemetry(raw map[string]json.RawMessage, t Telemetry) {
	putField(raw, "latitude", t.Latitude)
	putField(raw, "longitude", t.Longitude)
	putField(raw, "speed", t.Speed)
	putField(raw, "bearing", t.Bearing)
	putField(raw, "engine_rpm", t.EngineRPM)
	putField(raw, "voltage", t.Voltage)
	putField(raw, "exterior_temp", t.ExteriorTemp)
	putField(raw, "engine_temp", t.EngineTemp)
	putField(raw, "fuel", t.FuelPercent)
	putField(raw, "mileage", t.Mileage)
	putField(raw, "gsm_level", t.GSMLevel)
	putField(raw, "balance", t.Balance)
	putUnixField(raw, "last_online", t.LastOnline)
	putUnixField(raw, "last_command_at", t.LastCommandAt)
}

func encodeDeviceSnapshot(snap *DeviceSnapshot) map[string]json.RawMessage {
	raw := cloneRaw(snap.Raw, 8)
	raw["name"] = jsonRaw(snap.Identity.Name)
	raw["model"] = jsonRaw(snap.Identity.Model)
	raw["firmware_version"] = jsonRaw(snap.Identity.FirmwareVer)
	raw["color"] = jsonRaw(snap.Identity.Color)
	raw["capability_mask"] = jsonRaw(snap.Identity.CapabilityMask)
	raw["bit_state"] = jsonRaw(snap.BitState)
	raw["can_bit_state"] = jsonRaw(snap.CanBitState)
	encodeTelemetry(raw, snap.Telemetry)
	return raw
}

// EncodeInitialState re-encodes a full-account snapshot keyed by device id.
func EncodeInitialState(state *InitialState) (json.RawMessage, error) {
	out := make(map[string]map[string]json.RawMessage, len(state.Devices))
	for id, snap := range state.Devices {
		out[strconv.FormatInt(id, 10)] = encodeDeviceSnapshot(snap)
	}
	return json.Marshal(out)
}

// EncodeState re-encodes a per-device delta frame.
func EncodeState(d *StateDelta) (json.RawMessage, error) {
	raw := cloneRaw(d.Raw, 4)
	raw["device_id"] = jsonRaw(d.DeviceID)
	encodeTelemetry(raw, d.Telemetry)
	putField(raw, "bit_state", d.BitState)
	putField(raw, "can_bit_state", d.CanBitState)
	return json.Marshal(raw)
}

// EncodeEvent re-encodes a domain event frame.
func EncodeEvent(f *EventFrame) (json.RawMessage, error) {
	raw := cloneRaw(f.Raw, 6)
	raw["device_id"] = jsonRaw(f.DeviceID)
	raw["primary"] = jsonRaw(f.PrimaryCode)
	raw["secondary"] = jsonRaw(f.SecondaryCode)
	raw["timestamp"] = jsonRaw(f.Timestamp.Unix())
	putField(raw, "latitude", f.Latitude)
	putField(raw, "longitude", f.Longitude)
	return json.Marshal(raw)
}

// EncodeCommandReply re-encodes a command-reply frame.
func EncodeCommandReply(r *CommandReply) (json.RawMessage, error) {
	raw := make(map[string]json.RawMessage, 4)
	raw["device_id"] = jsonRaw(r.DeviceID)
	raw["command_id"] = jsonRaw(r.CommandID)
	raw["result"] = jsonRaw(r.Result)
	putField(raw, "reply", r.Reply)
	return json.Marshal(raw)
}

// EncodePoint re-encodes a GPS track point frame.
func EncodePoint(p *Point) (json.RawMessage, error) {
	raw := make(map[string]json.RawMessage, 6)
	raw["device_id"] = jsonRaw(p.DeviceID)
	raw["lat"] = jsonRaw(p.Latitude)
	raw["lon"] = jsonRaw(p.Longitude)
	raw["speed"] = jsonRaw(p.Speed)
	raw["direction"] = jsonRaw(p.Direction)
	raw["timestamp"] = jsonRaw(p.Timestamp.Unix())
	return json.Marshal(raw)
}

// EncodeUpdateSettings re-encodes an update-settings notification.
func EncodeUpdateSettings(u *UpdateSettings) (json.RawMessage, error) {
	raw := cloneRaw(u.Raw, 1)
	raw["device_id"] = jsonRaw(u.DeviceID)
	return json.Marshal(raw)
}

// Encode dispatches a decoded frame back to its wire envelope, the inverse
// of Decode.
func Encode(frame interface{}) (Envelope, error) {
	var (
		data json.RawMessage
		typ  FrameType
		err  error
	)
	switch f := frame.(type) {
	case *InitialState:
		typ = FrameInitialState
		data, err = EncodeInitialState(f)
	case *StateDelta:
		typ = FrameState
		data, err = EncodeState(f)
	case *EventFrame:
		typ = FrameEvent
		data, err = EncodeEvent(f)
	case *CommandReply:
		typ = FrameCommand
		data, err = EncodeCommandReply(f)
	case *Point:
		typ = FramePoint
		data, err = EncodePoint(f)
	case *UpdateSettings:
		typ = FrameUpdateSettings
		data, err = EncodeUpdateSettings(f)
	default:
		return Envelope{}, newUnknownFrameTypeError(fmt.Sprintf("%T", frame))
	}
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Data: data}, nil
}
