package device

import (
	"testing"
	"time"

	"github.com/pandora-cas/goclient/pkg/codec"
)

func presentInt(v int) codec.Field[int]       { return codec.Field[int]{Present: true, Value: v} }
func presentFloat(v float64) codec.Field[float64] { return codec.Field[float64]{Present: true, Value: v} }

func TestApplySnapshotDerivesFlags(t *testing.T) {
	d := New(1234)
	snap := &codec.DeviceSnapshot{
		DeviceID:  1234,
		BitState:  0x01, // armed bit
		Telemetry: codec.Telemetry{EngineRPM: presentInt(0)},
	}
	changed := d.ApplySnapshot(snap)
	if len(changed) == 0 {
		t.Fatal("expected changed fields")
	}
	view := d.Snapshot()
	if !view.Flags["armed"] {
		t.Errorf("expected armed=true")
	}
	if view.Flags["engine_running"] {
		t.Errorf("expected engine_running=false")
	}
}

func TestApplyDeltaMergesFieldSparse(t *testing.T) {
	d := New(1234)
	d.ApplySnapshot(&codec.DeviceSnapshot{
		DeviceID: 1234,
		Telemetry: codec.Telemetry{
			Speed:       presentFloat(0),
			FuelPercent: presentInt(50),
		},
	})

	changed := d.ApplyDelta(&codec.StateDelta{
		DeviceID:  1234,
		Telemetry: codec.Telemetry{Speed: presentFloat(42)},
	})

	view := d.Snapshot()
	if view.Speed.Value != 42 {
		t.Errorf("Speed = %v, want 42", view.Speed.Value)
	}
	if view.FuelPercent.Value != 50 {
		t.Errorf("FuelPercent should be unchanged at 50, got %v", view.FuelPercent.Value)
	}
	found := false
	for _, c := range changed {
		if c == "speed" {
			found = true
		}
		if c == "fuel" {
			t.Errorf("fuel should not appear in changed set: %v", changed)
		}
	}
	if !found {
		t.Errorf("expected \"speed\" in changed set, got %v", changed)
	}
}

func TestApplyDeltaExplicitNullClears(t *testing.T) {
	d := New(1234)
	d.ApplySnapshot(&codec.DeviceSnapshot{
		DeviceID:  1234,
		Telemetry: codec.Telemetry{FuelPercent: presentInt(50)},
	})

	d.ApplyDelta(&codec.StateDelta{
		DeviceID:  1234,
		Telemetry: codec.Telemetry{FuelPercent: codec.Field[int]{Present: true, Null: true}},
	})

	view := d.Snapshot()
	if view.FuelPercent.Set() {
		t.Errorf("expected FuelPercent cleared, got %+v", view.FuelPercent)
	}
}

func TestApplyDeltaBitStateReplacesNeverOrMerges(t *testing.T) {
	d := New(1234)
	d.ApplySnapshot(&codec.DeviceSnapshot{DeviceID: 1234, BitState: 0b11})
	d.ApplyDelta(&codec.StateDelta{
		DeviceID: 1234,
		BitState: codec.Field[uint64]{Present: true, Value: 0b01},
	})
	view := d.Snapshot()
	if view.BitState != 0b01 {
		t.Errorf("BitState = %b, want replaced to 0b01 (not OR-merged)", view.BitState)
	}
	if view.Flags["ignition"] {
		t.Errorf("ignition bit should be cleared by the replace, not OR'd in")
	}
}

func TestOlderTimestampedFrameDropped(t *testing.T) {
	d := New(1234)
	newer := time.Unix(2000, 0).UTC()
	older := time.Unix(1000, 0).UTC()

	d.ApplyDelta(&codec.StateDelta{
		DeviceID: 1234,
		Telemetry: codec.Telemetry{
			Speed:      presentFloat(10),
			LastOnline: codec.Field[time.Time]{Present: true, Value: newer},
		},
	})

	changed := d.ApplyDelta(&codec.StateDelta{
		DeviceID: 1234,
		Telemetry: codec.Telemetry{
			Speed:      presentFloat(999),
			LastOnline: codec.Field[time.Time]{Present: true, Value: older},
		},
	})

	if len(changed) != 0 {
		t.Errorf("expected older-timestamped frame to be a no-op, got changed=%v", changed)
	}
	view := d.Snapshot()
	if view.Speed.Value != 10 {
		t.Errorf("Speed should remain 10 from the newer frame, got %v", view.Speed.Value)
	}
}

func TestSubscribeReceivesNotificationAfterCommit(t *testing.T) {
	d := New(1234)
	_, ch := d.Subscribe()

	d.ApplyDelta(&codec.StateDelta{
		DeviceID:  1234,
		Telemetry: codec.Telemetry{Speed: presentFloat(5)},
	})

	select {
	case upd := <-ch:
		if upd.View.Speed.Value != 5 {
			t.Errorf("update view Speed = %v, want 5", upd.View.Speed.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener notification")
	}
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	d := New(1234)
	handle, ch := d.Subscribe()
	d.Unsubscribe(handle)

	d.ApplyDelta(&codec.StateDelta{
		DeviceID:  1234,
		Telemetry: codec.Telemetry{Speed: presentFloat(5)},
	})

	_, ok := <-ch
	if ok {
		t.Errorf("expected channel closed after unsubscribe")
	}
}

func TestModelGetIsLazyAndStable(t *testing.T) {
	m := NewModel()
	d1 := m.Get(1234)
	d2 := m.Get(1234)
	if d1 != d2 {
		t.Errorf("expected the same Device instance across Get calls")
	}
	if len(m.IDs()) != 1 {
		t.Errorf("expected exactly one known device id")
	}
}
