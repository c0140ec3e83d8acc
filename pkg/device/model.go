package device

import (
	"sync"

	"github.com/pandora-cas/goclient/pkg/codec"
)

// Model is the map device_id → Device for one Account. Devices are created
// lazily on first observation and live for the Account's lifetime.
type Model struct {
	mu      sync.RWMutex
	devices map[int64]*Device
}

// NewModel creates an empty Model.
func NewModel() *Model {
	return &Model{devices: make(map[int64]*Device)}
}

// Get returns the Device for id, creating it if this is the first time it
// has been observed.
func (m *Model) Get(id int64) *Device {
	m.mu.RLock()
	d, ok := m.devices[id]
	m.mu.RUnlock()
	if ok {
		return d
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok = m.devices[id]; ok {
		return d
	}
	d = New(id)
	m.devices[id] = d
	return d
}

// Lookup returns the Device for id without creating it.
func (m *Model) Lookup(id int64) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok
}

// IDs returns every known device_id, in no particular order.
func (m *Model) IDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	return ids
}

// ApplyInitialState replaces every device named in the snapshot wholesale
// (identity + bit_state), creating Devices that were never seen before.
func (m *Model) ApplyInitialState(state *codec.InitialState) {
	for id, snap := range state.Devices {
		m.Get(id).ApplySnapshot(snap)
	}
}

// ApplySnapshot replaces one device's identity/bit_state and merges its
// telemetry. An HTTP /api/updates entry has the same per-device shape as a
// WebSocket initial-state entry; Poller feeds whole responses through
// ApplyInitialState.
func (m *Model) ApplySnapshot(snap *codec.DeviceSnapshot) {
	m.Get(snap.DeviceID).ApplySnapshot(snap)
}

// ApplyDelta merges a per-device delta frame.
func (m *Model) ApplyDelta(delta *codec.StateDelta) {
	m.Get(delta.DeviceID).ApplyDelta(delta)
}

// ApplyPoint merges a GPS track point frame.
func (m *Model) ApplyPoint(p *codec.Point) {
	m.Get(p.DeviceID).ApplyPoint(p)
}

// View returns the current immutable view for id, without creating it.
func (m *Model) View(id int64) (View, bool) {
	d, ok := m.Lookup(id)
	if !ok {
		return View{}, false
	}
	return d.Snapshot(), true
}

// CloseAll sends every Device's listeners a final closed notification, used
// by Account.close().
func (m *Model) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		d.CloseListeners()
	}
}
