package codec

import (
	"encoding/json"
	"fmt"
	"time"
)

// knownTelemetryKeys lists every wire key consumed into Telemetry, so decode
// functions can preserve everything else in a Raw sidecar map for
// lossless round-tripping.
var knownTelemetryKeys = []string{
	"latitude", "longitude", "speed", "bearing", "engine_rpm", "voltage",
	"exterior_temp", "engine_temp", "fuel", "mileage", "gsm_level", "balance",
	"last_online", "last_command_at",
}

func decodeTelemetry(raw map[string]json.RawMessage) (Telemetry, error) {
	var t Telemetry
	var err error

	if t.Latitude, err = extractField[float64](raw, "latitude"); err != nil {
		return t, fmt.Errorf("latitude: %w", err)
	}
	if t.Longitude, err = extractField[float64](raw, "longitude"); err != nil {
		return t, fmt.Errorf("longitude: %w", err)
	}
	if t.Speed, err = extractField[float64](raw, "speed"); err != nil {
		return t, fmt.Errorf("speed: %w", err)
	}
	if t.Bearing, err = extractField[float64](raw, "bearing"); err != nil {
		return t, fmt.Errorf("bearing: %w", err)
	}
	if t.EngineRPM, err = extractField[int](raw, "engine_rpm"); err != nil {
		return t, fmt.Errorf("engine_rpm: %w", err)
	}
	if t.Voltage, err = extractField[float64](raw, "voltage"); err != nil {
		return t, fmt.Errorf("voltage: %w", err)
	}
	if t.ExteriorTemp, err = extractField[int](raw, "exterior_temp"); err != nil {
		return t, fmt.Errorf("exterior_temp: %w", err)
	}
	if t.EngineTemp, err = extractField[int](raw, "engine_temp"); err != nil {
		return t, fmt.Errorf("engine_temp: %w", err)
	}
	if t.FuelPercent, err = extractField[int](raw, "fuel"); err != nil {
		return t, fmt.Errorf("fuel: %w", err)
	}
	if t.Mileage, err = extractField[float64](raw, "mileage"); err != nil {
		return t, fmt.Errorf("mileage: %w", err)
	}
	if t.GSMLevel, err = extractField[int](raw, "gsm_level"); err != nil {
		return t, fmt.Errorf("gsm_level: %w", err)
	}
	if t.Balance, err = extractField[float64](raw, "balance"); err != nil {
		return t, fmt.Errorf("balance: %w", err)
	}
	if t.LastOnline, err = extractUnixField(raw, "last_online"); err != nil {
		return t, fmt.Errorf("last_online: %w", err)
	}
	if t.LastCommandAt, err = extractUnixField(raw, "last_command_at"); err != nil {
		return t, fmt.Errorf("last_command_at: %w", err)
	}
	return t, nil
}

// extractUnixField decodes a key carrying a Unix-seconds integer timestamp
// into a Field[time.Time], preserving the absent/null/value distinction.
func extractUnixField(raw map[string]json.RawMessage, key string) (Field[time.Time], error) {
	f, err := extractField[int64](raw, key)
	if err != nil {
		return Field[time.Time]{}, err
	}
	return Field[time.Time]{
		Present: f.Present,
		Null:    f.Null,
		Value:   time.Unix(f.Value, 0).UTC(),
	}, nil
}

// sideCar returns a copy of raw with every key in used removed, for the
// round-trip "raw" preservation requirement.
func sideCar(raw map[string]json.RawMessage, used ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for _, k := range used {
		delete(out, k)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func requireInt64(raw map[string]json.RawMessage, key, frameType string) (int64, error) {
	rm, ok := raw[key]
	if !ok {
		return 0, newMissingFieldError(frameType, key)
	}
	var v int64
	if err := json.Unmarshal(rm, &v); err != nil {
		return 0, fmt.Errorf("%s.%s: %w", frameType, key, err)
	}
	return v, nil
}

func requireInt(raw map[string]json.RawMessage, key, frameType string) (int, error) {
	v, err := requireInt64(raw, key, frameType)
	return int(v), err
}

// DecodeInitialState decodes a full-account snapshot keyed by numeric device id.
func DecodeInitialState(data json.RawMessage) (*InitialState, error) {
	var devicesRaw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &devicesRaw); err != nil {
		return nil, fmt.Errorf("decoding initial-state: %w", err)
	}

	out := &InitialState{Devices: make(map[int64]*DeviceSnapshot, len(devicesRaw))}
	for idStr, raw := range devicesRaw {
		snap, err := decodeDeviceSnapshot(idStr, raw)
		if err != nil {
			return nil, err
		}
		out.Devices[snap.DeviceID] = snap
	}
	return out, nil
}

func decodeDeviceSnapshot(idStr string, raw map[string]json.RawMessage) (*DeviceSnapshot, error) {
	var id int64
	if err := json.Unmarshal([]byte(idStr), &id); err != nil {
		// object keys are always strings; numeric device ids may or may not
		// be quoted by the upstream depending on encoder, so fall back.
		if _, err2 := fmt.Sscanf(idStr, "%d", &id); err2 != nil {
			return nil, fmt.Errorf("decoding device id %q: %w", idStr, err)
		}
	}

	telemetry, err := decodeTelemetry(raw)
	if err != nil {
		return nil, fmt.Errorf("device %d: %w", id, err)
	}

	identity := Identity{}
	if v, ok := raw["name"]; ok {
		json.Unmarshal(v, &identity.Name)
	}
	if v, ok := raw["model"]; ok {
		json.Unmarshal(v, &identity.Model)
	}
	if v, ok := raw["firmware_version"]; ok {
		json.Unmarshal(v, &identity.FirmwareVer)
	}
	if v, ok := raw["color"]; ok {
		json.Unmarshal(v, &identity.Color)
	}
	if v, ok := raw["capability_mask"]; ok {
		json.Unmarshal(v, &identity.CapabilityMask)
	}

	var bitState uint64
	if v, ok := raw["bit_state"]; ok {
		json.Unmarshal(v, &bitState)
	}
	var canBitState uint32
	if v, ok := raw["can_bit_state"]; ok {
		json.Unmarshal(v, &canBitState)
	}

	used := append([]string{"name", "model", "firmware_version", "color",
		"capability_mask", "bit_state", "can_bit_state"}, knownTelemetryKeys...)

	return &DeviceSnapshot{
		DeviceID:    id,
		Identity:    identity,
		Telemetry:   telemetry,
		BitState:    bitState,
		CanBitState: canBitState,
		Raw:         sideCar(raw, used...),
	}, nil
}

// DecodeState decodes a per-device delta frame.
func DecodeState(data json.RawMessage) (*StateDelta, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}

	deviceID, err := requireInt64(raw, "device_id", "state")
	if err != nil {
		return nil, err
	}

	telemetry, err := decodeTelemetry(raw)
	if err != nil {
		return nil, fmt.Errorf("state device %d: %w", deviceID, err)
	}

	bitState, err := extractField[uint64](raw, "bit_state")
	if err != nil {
		return nil, fmt.Errorf("state device %d: bit_state: %w", deviceID, err)
	}
	canBitState, err := extractField[uint32](raw, "can_bit_state")
	if err != nil {
		return nil, fmt.Errorf("state device %d: can_bit_state: %w", deviceID, err)
	}

	used := append([]string{"device_id", "bit_state", "can_bit_state"}, knownTelemetryKeys...)
	return &StateDelta{
		DeviceID:    deviceID,
		Telemetry:   telemetry,
		BitState:    bitState,
		CanBitState: canBitState,
		Raw:         sideCar(raw, used...),
	}, nil
}

// DecodeEvent decodes a domain event frame.
func DecodeEvent(data json.RawMessage) (*EventFrame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	deviceID, err := requireInt64(raw, "device_id", "event")
	if err != nil {
		return nil, err
	}
	primary, err := requireInt(raw, "primary", "event")
	if err != nil {
		return nil, err
	}
	secondary, err := requireInt(raw, "secondary", "event")
	if err != nil {
		return nil, err
	}

	ts, err := extractUnixField(raw, "timestamp")
	if err != nil {
		return nil, fmt.Errorf("event device %d: timestamp: %w", deviceID, err)
	}
	timestamp := time.Now().UTC()
	if ts.Set() {
		timestamp = ts.Value
	}

	lat, err := extractField[float64](raw, "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := extractField[float64](raw, "longitude")
	if err != nil {
		return nil, err
	}

	return &EventFrame{
		DeviceID:      deviceID,
		PrimaryCode:   primary,
		SecondaryCode: secondary,
		Timestamp:     timestamp,
		Latitude:      lat,
		Longitude:     lon,
		Raw:           sideCar(raw, "device_id", "primary", "secondary", "timestamp", "latitude", "longitude"),
	}, nil
}

// DecodeCommandReply decodes a command-reply frame.
func DecodeCommandReply(data json.RawMessage) (*CommandReply, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding command: %w", err)
	}

	deviceID, err := requireInt64(raw, "device_id", "command")
	if err != nil {
		return nil, err
	}
	commandID, err := requireInt(raw, "command_id", "command")
	if err != nil {
		return nil, err
	}
	result, err := requireInt(raw, "result", "command")
	if err != nil {
		return nil, err
	}
	reply, err := extractField[int](raw, "reply")
	if err != nil {
		return nil, err
	}

	return &CommandReply{DeviceID: deviceID, CommandID: commandID, Result: result, Reply: reply}, nil
}

// DecodePoint decodes a GPS track point frame. All fields are required.
func DecodePoint(data json.RawMessage) (*Point, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding point: %w", err)
	}

	deviceID, err := requireInt64(raw, "device_id", "point")
	if err != nil {
		return nil, err
	}

	var p Point
	p.DeviceID = deviceID
	if err := unmarshalRequired(raw, "lat", &p.Latitude); err != nil {
		return nil, err
	}
	if err := unmarshalRequired(raw, "lon", &p.Longitude); err != nil {
		return nil, err
	}
	if err := unmarshalRequired(raw, "speed", &p.Speed); err != nil {
		return nil, err
	}
	if err := unmarshalRequired(raw, "direction", &p.Direction); err != nil {
		return nil, err
	}

	ts, err := requireInt64(raw, "timestamp", "point")
	if err != nil {
		return nil, err
	}
	p.Timestamp = time.Unix(ts, 0).UTC()
	return &p, nil
}

func unmarshalRequired(raw map[string]json.RawMessage, key string, dst interface{}) error {
	rm, ok := raw[key]
	if !ok {
		return newMissingFieldError("point", key)
	}
	return json.Unmarshal(rm, dst)
}

// DecodeUpdateSettings decodes an update-settings notification as an opaque event.
func DecodeUpdateSettings(data json.RawMessage) (*UpdateSettings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding update-settings: %w", err)
	}
	deviceID, err := requireInt64(raw, "device_id", "update-settings")
	if err != nil {
		return nil, err
	}
	return &UpdateSettings{DeviceID: deviceID, Raw: sideCar(raw, "device_id")}, nil
}

// Decode dispatches an Envelope to the matching frame decoder. The returned
// value is one of *InitialState, *StateDelta, *EventFrame, *CommandReply,
// *Point or *UpdateSettings.
func Decode(env Envelope) (interface{}, error) {
	switch env.Type {
	case FrameInitialState:
		return DecodeInitialState(env.Data)
	case FrameState:
		return DecodeState(env.Data)
	case FrameEvent:
		return DecodeEvent(env.Data)
	case FrameCommand:
		return DecodeCommandReply(env.Data)
	case FramePoint:
		return DecodePoint(env.Data)
	case FrameUpdateSettings:
		return DecodeUpdateSettings(env.Data)
	default:
		return nil, newUnknownFrameTypeError(string(env.Type))
	}
}
