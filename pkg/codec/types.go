// Package codec decodes the six WebSocket/HTTP frame kinds the Pandora/
// PanDECT cloud emits, and expands the bit_state/can_bit_state words into
// named boolean maps. It is pure: no I/O, no global state.
package codec

import (
	"encoding/json"
	"time"
)

// FrameType is the discriminator carried in every WebSocket frame's "type" field.
type FrameType string

const (
	FrameInitialState   FrameType = "initial-state"
	FrameState          FrameType = "state"
	FrameEvent          FrameType = "event"
	FrameCommand        FrameType = "command"
	FramePoint          FrameType = "point"
	FrameUpdateSettings FrameType = "update-settings"
)

// Envelope is the outer shape of every WebSocket message.
type Envelope struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Identity holds the attributes of a Device that are mutated only on a
// full snapshot.
type Identity struct {
	Name           string
	Model          string
	FirmwareVer    string
	Color          string
	CapabilityMask uint64
}

// Telemetry is the sparse, independently-nullable set of measured values
// carried by both initial-state (full) and state (delta) frames.
type Telemetry struct {
	Latitude      Field[float64]
	Longitude     Field[float64]
	Speed         Field[float64]
	Bearing       Field[float64]
	EngineRPM     Field[int]
	Voltage       Field[float64]
	ExteriorTemp  Field[int]
	EngineTemp    Field[int]
	FuelPercent   Field[int]
	Mileage       Field[float64]
	GSMLevel      Field[int]
	Balance       Field[float64]
	LastOnline    Field[time.Time]
	LastCommandAt Field[time.Time]
}

// DeviceSnapshot is one device entry inside an initial-state frame or the
// HTTP /api/updates response: identity and bit_state are replaced
// wholesale; telemetry fields are merged field-by-field by
// Device.ApplySnapshot.
type DeviceSnapshot struct {
	DeviceID     int64
	Identity     Identity
	Telemetry    Telemetry
	BitState     uint64
	CanBitState  uint32
	Raw          map[string]json.RawMessage
}

// InitialState is a full snapshot for every device in the account.
type InitialState struct {
	Devices map[int64]*DeviceSnapshot
}

// StateDelta is a partial update for exactly one device; absent fields mean
// "unchanged", a present bit_state/can_bit_state key always fully replaces
// the word.
type StateDelta struct {
	DeviceID    int64
	Telemetry   Telemetry
	BitState    Field[uint64]
	CanBitState Field[uint32]
	Raw         map[string]json.RawMessage
}

// EventFrame is a domain event with a (primary, secondary) code pair.
type EventFrame struct {
	DeviceID      int64
	PrimaryCode   int
	SecondaryCode int
	Timestamp     time.Time
	Latitude      Field[float64]
	Longitude     Field[float64]
	Raw           map[string]json.RawMessage
}

// CommandReply reports the outcome of a previously submitted command.
// Result == 0 means accepted at the unit; any other value is a failure,
// with Reply (when present) conveying vendor-specific detail.
type CommandReply struct {
	DeviceID  int64
	CommandID int
	Result    int
	Reply     Field[int]
}

// Point is a GPS track point; all fields are always present.
type Point struct {
	DeviceID  int64
	Latitude  float64
	Longitude float64
	Speed     float64
	Direction float64
	Timestamp time.Time
}

// UpdateSettings is an opaque settings-changed notification, decoded as an event.
type UpdateSettings struct {
	DeviceID int64
	Raw      map[string]json.RawMessage
}
