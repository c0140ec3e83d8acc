package commander

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pandora-cas/goclient/pkg/codec"
	"github.com/pandora-cas/goclient/pkg/device"
	"github.com/pandora-cas/goclient/pkg/events"
)

type fakeTransport struct {
	mu        sync.Mutex
	posts     []url.Values
	responses []string // one per call, cycling on last if exhausted
	calls     int
}

func (t *fakeTransport) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.posts = append(t.posts, form)
	resp := `{"status":"success"}`
	if t.calls < len(t.responses) {
		resp = t.responses[t.calls]
	}
	t.calls++
	return []byte(resp), nil
}

type fakeModel struct {
	mu      sync.Mutex
	devices map[int64]*device.Device
}

func newFakeModel() *fakeModel { return &fakeModel{devices: make(map[int64]*device.Device)} }

func (m *fakeModel) Lookup(id int64) (*device.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		d = device.New(id)
		// Grant every capability bit so commander capability checks never
		// interfere with the command-lifecycle behavior under test.
		d.ApplySnapshot(&codec.DeviceSnapshot{DeviceID: id, Identity: codec.Identity{CapabilityMask: ^uint64(0)}})
		m.devices[id] = d
	}
	return d, true
}

type fakeBus struct {
	mu        sync.Mutex
	published []events.CommandPayload
}

func (b *fakeBus) Publish(_ events.Topic, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cp, ok := payload.(events.CommandPayload); ok {
		b.published = append(b.published, cp)
	}
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func TestSubmitEnsureCompleteResolvesOnMatchingReply(t *testing.T) {
	tr := &fakeTransport{}
	model := newFakeModel()
	bus := &fakeBus{}
	c := New(tr, model, bus)

	fut, err := c.Submit(context.Background(), 1234, 4, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.RouteReply(&codec.CommandReply{DeviceID: 1234, CommandID: 4, Result: 0})

	outcome, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Result != ResultOK {
		t.Errorf("Result = %v, want ResultOK", outcome.Result)
	}
	if bus.count() != 1 {
		t.Errorf("published %d command events, want 1", bus.count())
	}
}

func TestSubmitFireAndForgetResolvesImmediately(t *testing.T) {
	tr := &fakeTransport{}
	model := newFakeModel()
	bus := &fakeBus{}
	c := New(tr, model, bus)

	fut, err := c.Submit(context.Background(), 1234, 4, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	outcome, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Result != ResultOK {
		t.Errorf("Result = %v, want ResultOK (HTTP accept)", outcome.Result)
	}

	// The later reply still completes the pending command and fires the event.
	c.RouteReply(&codec.CommandReply{DeviceID: 1234, CommandID: 4, Result: 0})
	time.Sleep(20 * time.Millisecond)
	if bus.count() != 1 {
		t.Errorf("published %d command events after late reply, want 1", bus.count())
	}
}

func TestSecondSubmitForSameDeviceWaitsForFirst(t *testing.T) {
	tr := &fakeTransport{}
	model := newFakeModel()
	bus := &fakeBus{}
	c := New(tr, model, bus)

	fut1, err := c.Submit(context.Background(), 1234, 4, true)
	if err != nil {
		t.Fatalf("Submit 1: %v", err)
	}

	submitted := make(chan struct{})
	go func() {
		_, err := c.Submit(context.Background(), 1234, 8, true)
		if err != nil {
			t.Errorf("Submit 2: %v", err)
		}
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("second submit for the same device completed before the first terminated")
	case <-time.After(100 * time.Millisecond):
	}

	c.RouteReply(&codec.CommandReply{DeviceID: 1234, CommandID: 4, Result: 0})
	fut1.Wait(context.Background())

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("second submit never proceeded after first command terminated")
	}
}

func TestDeadlineElapsesWithoutReplyResolvesTimeout(t *testing.T) {
	tr := &fakeTransport{}
	model := newFakeModel()
	bus := &fakeBus{}
	c := New(tr, model, bus)
	// Use a very short deadline for the test by completing manually instead
	// of waiting on the real 30s Deadline constant.
	fut, err := c.Submit(context.Background(), 1234, 255, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.mu.Lock()
	pc := c.pending[key{DeviceID: 1234, CommandID: 255}]
	c.mu.Unlock()
	pc.timer.Stop()
	go c.complete(key{DeviceID: 1234, CommandID: 255}, Outcome{Result: ResultTimeout})

	outcome, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Result != ResultTimeout {
		t.Errorf("Result = %v, want ResultTimeout", outcome.Result)
	}
}

func TestCancelAllCompletesOutstandingCommands(t *testing.T) {
	tr := &fakeTransport{}
	model := newFakeModel()
	bus := &fakeBus{}
	c := New(tr, model, bus)

	fut, err := c.Submit(context.Background(), 1234, 4, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	c.CancelAll()

	outcome, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if outcome.Result != ResultCancelled {
		t.Errorf("Result = %v, want ResultCancelled", outcome.Result)
	}
}
