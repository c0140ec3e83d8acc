// Package device holds the in-memory representation of one vehicle alarm
// unit: its identity, telemetry, derived boolean flags and command state.
// A Device merges sparse snapshot/delta frames under the field-sparse,
// bit_state-atomic, last_online-monotonic invariants and fans the committed
// view out to subscribers through bounded, coalescing queues.
package device

import (
	"sort"
	"sync"
	"time"

	"github.com/pandora-cas/goclient/pkg/backpressure"
	"github.com/pandora-cas/goclient/pkg/codec"
)

// View is an immutable snapshot handed to subscribers and callers of
// Device.Snapshot. Mutating it has no effect on the Device.
type View struct {
	DeviceID       int64
	Name           string
	Model          string
	FirmwareVer    string
	Color          string
	CapabilityMask uint64

	Latitude      codec.Field[float64]
	Longitude     codec.Field[float64]
	Speed         codec.Field[float64]
	Bearing       codec.Field[float64]
	EngineRPM     codec.Field[int]
	Voltage       codec.Field[float64]
	ExteriorTemp  codec.Field[int]
	EngineTemp    codec.Field[int]
	FuelPercent   codec.Field[int]
	Mileage       codec.Field[float64]
	GSMLevel      codec.Field[int]
	Balance       codec.Field[float64]
	LastOnline    codec.Field[time.Time]
	LastCommandAt codec.Field[time.Time]

	BitState    uint64
	CanBitState uint32
	Flags       map[string]bool
	CANFlags    map[string]bool

	LastCommandID  int
	LastReplyCode  int
	LastReplyAt    time.Time
	PendingCommand bool
}

// ID satisfies capability.DeviceView.
func (v View) ID() int64 { return v.DeviceID }

// Capabilities satisfies capability.DeviceView.
func (v View) Capabilities() uint64 { return v.CapabilityMask }

// Update is delivered to listeners after a merge commits.
type Update struct {
	View    View
	Changed []string
	// Backpressure is set when this listener's queue overflowed and older
	// pending updates were coalesced into this one.
	Backpressure bool
	Closed       bool // final notification sent on unsubscribe-all / Account.close
}

// Device is one device_id's state, guarded by a single mutex; merges are
// CPU-only and never suspend, per the concurrency model.
type Device struct {
	mu   sync.Mutex
	view View

	listenersMu sync.Mutex
	listeners   map[int]*backpressure.Queue[Update]
	nextHandle  int
}

// New creates an empty Device for id; it has no data until the first
// snapshot or delta is applied.
func New(id int64) *Device {
	return &Device{
		view: View{
			DeviceID: id,
			Flags:    map[string]bool{},
			CANFlags: map[string]bool{},
		},
		listeners: make(map[int]*backpressure.Queue[Update]),
	}
}

// ID returns the device_id this Device represents.
func (d *Device) ID() int64 {
	return d.view.DeviceID
}

// Snapshot returns the current immutable view.
func (d *Device) Snapshot() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copyView(d.view)
}

func copyView(v View) View {
	out := v
	out.Flags = make(map[string]bool, len(v.Flags))
	for k, val := range v.Flags {
		out.Flags[k] = val
	}
	out.CANFlags = make(map[string]bool, len(v.CANFlags))
	for k, val := range v.CANFlags {
		out.CANFlags[k] = val
	}
	return out
}

// Subscribe registers a listener and returns a handle for Unsubscribe. The
// listener's queue has capacity 32 and coalesces (drops oldest) on overflow.
func (d *Device) Subscribe() (handle int, ch <-chan Update) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()

	q := backpressure.New[Update](backpressure.DefaultCapacity)
	d.nextHandle++
	h := d.nextHandle
	d.listeners[h] = q
	return h, q.Chan()
}

// Unsubscribe removes a listener. The queue is closed; no further sends occur.
func (d *Device) Unsubscribe(handle int) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	if q, ok := d.listeners[handle]; ok {
		delete(d.listeners, handle)
		q.Close()
	}
}

// CloseListeners sends a final closed notification to every listener and
// closes their queues, used by Account.close().
func (d *Device) CloseListeners() {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	view := d.Snapshot()
	for h, q := range d.listeners {
		q.Push(Update{View: view, Closed: true})
		q.Close()
		delete(d.listeners, h)
	}
}

func (d *Device) notify(view View, changed []string) {
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	for _, q := range d.listeners {
		q.PushMarked(Update{View: view, Changed: changed}, markBackpressure)
	}
}

func markBackpressure(u Update) Update {
	u.Backpressure = true
	return u
}

// ApplySnapshot replaces identity and bit_state wholesale and merges
// telemetry field-by-field under the monotonic last_online rule. Returns the
// list of changed field names for the listener notification.
func (d *Device) ApplySnapshot(snap *codec.DeviceSnapshot) []string {
	d.mu.Lock()
	changed := d.applySnapshotLocked(snap)
	view := copyView(d.view)
	d.mu.Unlock()

	d.notify(view, changed)
	return changed
}

func (d *Device) applySnapshotLocked(snap *codec.DeviceSnapshot) []string {
	var changed []string

	if d.view.Name != snap.Identity.Name {
		d.view.Name = snap.Identity.Name
		changed = append(changed, "name")
	}
	if d.view.Model != snap.Identity.Model {
		d.view.Model = snap.Identity.Model
		changed = append(changed, "model")
	}
	if d.view.FirmwareVer != snap.Identity.FirmwareVer {
		d.view.FirmwareVer = snap.Identity.FirmwareVer
		changed = append(changed, "firmware_version")
	}
	if d.view.Color != snap.Identity.Color {
		d.view.Color = snap.Identity.Color
		changed = append(changed, "color")
	}
	if d.view.CapabilityMask != snap.Identity.CapabilityMask {
		d.view.CapabilityMask = snap.Identity.CapabilityMask
		changed = append(changed, "capability_mask")
	}

	// bit_state/can_bit_state always replace wholesale, never OR-merge.
	if d.view.BitState != snap.BitState {
		d.view.BitState = snap.BitState
		d.view.Flags = codec.ExpandBits(snap.BitState, codec.DefaultBitStateMap)
		changed = append(changed, "bit_state")
	}
	if d.view.CanBitState != snap.CanBitState {
		d.view.CanBitState = snap.CanBitState
		d.view.CANFlags = codec.ExpandBits(snap.CanBitState, codec.DefaultCanBitStateMap)
		changed = append(changed, "can_bit_state")
	}

	changed = append(changed, mergeTelemetryLocked(&d.view, snap.Telemetry)...)
	return changed
}

// ApplyDelta merges a partial frame: absent fields stay unchanged, a
// present bit_state replaces the word wholesale, and last_online is
// monotonic non-decreasing.
func (d *Device) ApplyDelta(delta *codec.StateDelta) []string {
	d.mu.Lock()
	changed := mergeTelemetryLocked(&d.view, delta.Telemetry)

	if delta.BitState.Set() && d.view.BitState != delta.BitState.Value {
		d.view.BitState = delta.BitState.Value
		d.view.Flags = codec.ExpandBits(delta.BitState.Value, codec.DefaultBitStateMap)
		changed = append(changed, "bit_state")
	}
	if delta.CanBitState.Set() && d.view.CanBitState != delta.CanBitState.Value {
		d.view.CanBitState = delta.CanBitState.Value
		d.view.CANFlags = codec.ExpandBits(delta.CanBitState.Value, codec.DefaultCanBitStateMap)
		changed = append(changed, "can_bit_state")
	}

	view := copyView(d.view)
	d.mu.Unlock()

	d.notify(view, changed)
	return changed
}

// ApplyPoint merges a GPS track point into telemetry. A point always
// carries every field it names, but last_online still gates it: a point
// timestamped before the device's current last_online is dropped whole.
func (d *Device) ApplyPoint(p *codec.Point) []string {
	delta := codec.Telemetry{
		Latitude:   codec.Field[float64]{Present: true, Value: p.Latitude},
		Longitude:  codec.Field[float64]{Present: true, Value: p.Longitude},
		Speed:      codec.Field[float64]{Present: true, Value: p.Speed},
		Bearing:    codec.Field[float64]{Present: true, Value: p.Direction},
		LastOnline: codec.Field[time.Time]{Present: true, Value: p.Timestamp},
	}

	d.mu.Lock()
	changed := mergeTelemetryLocked(&d.view, delta)
	view := copyView(d.view)
	d.mu.Unlock()

	d.notify(view, changed)
	return changed
}

// SeedWarm applies an advisory warm-start record restored from WarmStore.
// It is only ever called once, before the first real snapshot or delta, and
// never overwrites data that has already arrived from the upstream. A
// seeded last_online counts as an earlier observation: later frames are
// checked against it under the monotonic last_online rule.
func (d *Device) SeedWarm(bitState uint64, canBitState uint32, lastOnline time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.view.LastOnline.Set() {
		return // real data already arrived; the seed is stale by construction
	}
	d.view.BitState = bitState
	d.view.CanBitState = canBitState
	d.view.Flags = codec.ExpandBits(bitState, codec.DefaultBitStateMap)
	d.view.CANFlags = codec.ExpandBits(canBitState, codec.DefaultCanBitStateMap)
	if !lastOnline.IsZero() {
		d.view.LastOnline = codec.Field[time.Time]{Present: true, Value: lastOnline}
	}
}

// ApplyCommandReply records the outcome of a terminated command on the
// device's command_state for observability; Commander is the source of
// truth for PendingCommand lifecycle.
func (d *Device) ApplyCommandReply(commandID, result int) []string {
	d.mu.Lock()
	d.view.LastCommandID = commandID
	d.view.LastReplyCode = result
	d.view.LastReplyAt = time.Now().UTC()
	d.view.PendingCommand = false
	view := copyView(d.view)
	d.mu.Unlock()

	changed := []string{"last_command_id", "last_reply_code", "last_reply_at", "pending_command"}
	d.notify(view, changed)
	return changed
}

// MarkCommandPending records that a command was just submitted, before any
// reply arrives.
func (d *Device) MarkCommandPending(commandID int) {
	d.mu.Lock()
	d.view.LastCommandID = commandID
	d.view.PendingCommand = true
	view := copyView(d.view)
	d.mu.Unlock()
	d.notify(view, []string{"last_command_id", "pending_command"})
}

// mergeTelemetryLocked merges field-by-field (absent = unchanged,
// explicit null = clear) and drops any update whose last_online is older
// than what's already recorded. Caller must hold d.mu.
func mergeTelemetryLocked(v *View, t codec.Telemetry) []string {
	var changed []string

	// last_online gates the whole telemetry set: an older-timestamped
	// frame is dropped in its entirety, not just the timestamp field.
	if t.LastOnline.Set() {
		if v.LastOnline.Set() && t.LastOnline.Value.Before(v.LastOnline.Value) {
			return nil
		}
	}

	changed = mergeField(&v.Latitude, t.Latitude, "latitude", changed)
	changed = mergeField(&v.Longitude, t.Longitude, "longitude", changed)
	changed = mergeField(&v.Speed, t.Speed, "speed", changed)
	changed = mergeField(&v.Bearing, t.Bearing, "bearing", changed)
	changed = mergeField(&v.EngineRPM, t.EngineRPM, "engine_rpm", changed)
	changed = mergeField(&v.Voltage, t.Voltage, "voltage", changed)
	changed = mergeField(&v.ExteriorTemp, t.ExteriorTemp, "exterior_temp", changed)
	changed = mergeField(&v.EngineTemp, t.EngineTemp, "engine_temp", changed)
	changed = mergeField(&v.FuelPercent, t.FuelPercent, "fuel", changed)
	changed = mergeField(&v.Mileage, t.Mileage, "mileage", changed)
	changed = mergeField(&v.GSMLevel, t.GSMLevel, "gsm_level", changed)
	changed = mergeField(&v.Balance, t.Balance, "balance", changed)
	changed = mergeField(&v.LastOnline, t.LastOnline, "last_online", changed)
	changed = mergeField(&v.LastCommandAt, t.LastCommandAt, "last_command_at", changed)

	return changed
}

// mergeField merges one sparse field: absent (Present=false) is a
// no-op; explicit null clears; a value overwrites.
func mergeField[T comparable](dst *codec.Field[T], src codec.Field[T], name string, changed []string) []string {
	if !src.Present {
		return changed
	}
	if src.Null {
		if dst.Present && !dst.Null {
			*dst = codec.Field[T]{Present: true, Null: true}
			return append(changed, name)
		}
		return changed
	}
	if dst.Set() && dst.Value == src.Value {
		return changed
	}
	*dst = src
	return append(changed, name)
}
