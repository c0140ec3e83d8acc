package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pandora-cas/goclient/pkg/codec"
	"github.com/pandora-cas/goclient/pkg/device"
	"github.com/pandora-cas/goclient/pkg/events"
	"github.com/pandora-cas/goclient/pkg/transport"
)

func TestNextBackoffStaysWithinCapAndGrows(t *testing.T) {
	for attempt := 0; attempt < 12; attempt++ {
		d := nextBackoff(attempt)
		if d < 0 || d > backoffCap {
			t.Fatalf("attempt %d: backoff %v out of [0, %v]", attempt, d, backoffCap)
		}
	}
}

type fakeModel struct {
	mu       sync.Mutex
	initial  []*codec.InitialState
	deltas   []*codec.StateDelta
	points   []*codec.Point
	received chan struct{}
}

func newFakeModel() *fakeModel {
	return &fakeModel{received: make(chan struct{}, 16)}
}

func (m *fakeModel) ApplyInitialState(s *codec.InitialState) {
	m.mu.Lock()
	m.initial = append(m.initial, s)
	m.mu.Unlock()
	m.received <- struct{}{}
}
func (m *fakeModel) ApplyDelta(d *codec.StateDelta) {
	m.mu.Lock()
	m.deltas = append(m.deltas, d)
	m.mu.Unlock()
	m.received <- struct{}{}
}
func (m *fakeModel) ApplyPoint(p *codec.Point) {
	m.mu.Lock()
	m.points = append(m.points, p)
	m.mu.Unlock()
	m.received <- struct{}{}
}
func (m *fakeModel) View(int64) (device.View, bool) { return device.View{}, false }

type fakeBus struct {
	mu        sync.Mutex
	published []interface{}
}

func (b *fakeBus) Publish(_ events.Topic, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
}

type fakeRouter struct {
	mu      sync.Mutex
	replies []*codec.CommandReply
}

func (r *fakeRouter) RouteReply(reply *codec.CommandReply) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, reply)
}

type noopAuth struct{}

func (noopAuth) Refresh(context.Context) error { return nil }
func (noopAuth) ShouldEscalate() bool               { return false }

var upgrader = websocket.Upgrader{}

func TestRunDispatchesInitialStateFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]interface{}{
			"type": "initial-state",
			"data": map[string]interface{}{
				"1234": map[string]interface{}{"bit_state": 1},
			},
		})
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	tr, err := transport.New(srv.URL, "test-agent")
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}

	model := newFakeModel()
	bus := &fakeBus{}
	router := &fakeRouter{}
	s := New(tr, noopAuth{}, model, bus, router, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-model.received:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial-state dispatch")
	}

	model.mu.Lock()
	gotInitial := len(model.initial)
	model.mu.Unlock()
	if gotInitial != 1 {
		t.Fatalf("initial-state frames received = %d, want 1", gotInitial)
	}

	cancel()
	<-done
}
