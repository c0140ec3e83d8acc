// Package stream implements the WebSocket lifecycle: dial,
// subscribe, dispatch frames to DeviceModel/EventBus/Commander, and
// reconnect with exponential-full-jitter backoff, heartbeating the
// connection and re-requesting a full initial-state after every reconnect
// so a stale device is never left behind.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pandora-cas/goclient/pkg/auth"
	"github.com/pandora-cas/goclient/pkg/codec"
	"github.com/pandora-cas/goclient/pkg/device"
	"github.com/pandora-cas/goclient/pkg/events"
	"github.com/pandora-cas/goclient/pkg/status"
	"github.com/pandora-cas/goclient/pkg/util"
)

const (
	// Path is the WebSocket endpoint.
	Path = "/api/v4/updates"

	backoffBase      = 1 * time.Second
	backoffCap       = 120 * time.Second
	stableResetAfter = 60 * time.Second

	heartbeatInterval = 30 * time.Second
	pongTimeout       = 10 * time.Second
)

// Transport is the subset of pkg/transport.Transport the Stream needs.
type Transport interface {
	OpenWS(ctx context.Context, path string) (*websocket.Conn, *http.Response, error)
}

// Authenticator is the subset of pkg/auth.Authenticator the Stream needs to
// recover from an auth-expired signal.
type Authenticator interface {
	Refresh(ctx context.Context) error
	ShouldEscalate() bool
}

// Model is the subset of device.Model the Stream dispatches frames into.
type Model interface {
	ApplyInitialState(*codec.InitialState)
	ApplyDelta(*codec.StateDelta)
	ApplyPoint(*codec.Point)
	View(id int64) (device.View, bool)
}

// EventPublisher is the subset of events.Bus the Stream publishes through.
type EventPublisher interface {
	Publish(topic events.Topic, payload interface{})
}

// CommandRouter is the subset of commander.Commander the Stream routes
// command-reply frames to.
type CommandRouter interface {
	RouteReply(reply *codec.CommandReply)
}

// Stream owns one WebSocket connection per Account while it runs.
type Stream struct {
	transport Transport
	authr     Authenticator
	model     Model
	bus       EventPublisher
	commander CommandRouter
	report    func(status.Status)

	writeMu sync.Mutex // serializes control-frame writes against a live conn

	consecutiveAuthExpiry int
	backoffAttempt        int
}

// New creates a Stream. report is invoked on every lifecycle transition so
// the owning Account can fold it into its status observable; it may be nil.
func New(t Transport, a Authenticator, m Model, bus EventPublisher, cmd CommandRouter, report func(status.Status)) *Stream {
	if report == nil {
		report = func(status.Status) {}
	}
	return &Stream{transport: t, authr: a, model: m, bus: bus, commander: cmd, report: report}
}

// authExpiredErr marks a readLoop failure as an auth-expiry signal so Run
// can trigger Authenticator.Refresh without backoff on the first occurrence.
type authExpiredErr struct{ cause error }

func (e authExpiredErr) Error() string { return fmt.Sprintf("stream auth expired: %v", e.cause) }
func (e authExpiredErr) Unwrap() error { return e.cause }

// Run drives the connect → subscribe → dispatch → backoff state machine
// until ctx is cancelled. It never returns an error; every failure short of
// cancellation is absorbed into the reconnect loop (transport and
// protocol errors inside the stream loop never kill the Account).
func (s *Stream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		if _, ok := err.(authExpiredErr); ok {
			s.consecutiveAuthExpiry++
			util.Warn("stream: session expired, refreshing")
			if rerr := s.authr.Refresh(ctx); rerr != nil {
				util.Errorf("stream: auth refresh failed: %v", rerr)
				if s.authr.ShouldEscalate() {
					// Three consecutive bad-credential refreshes end the
					// Account, not just this connection.
					s.report(status.Status{State: status.StateAuthFailure, Reason: rerr.Error()})
					return
				}
				s.report(status.Status{State: status.StateDegraded, Reason: rerr.Error()})
				s.waitBackoff(ctx)
				continue
			}
			if s.consecutiveAuthExpiry <= 1 {
				continue // no backoff on the first auth-expiry
			}
			s.waitBackoff(ctx)
			continue
		}

		s.consecutiveAuthExpiry = 0
		if err != nil {
			util.Warnf("stream: connection lost: %v", err)
		}
		s.report(status.Status{State: status.StateDegraded, Reason: "stream reconnecting"})
		s.waitBackoff(ctx)
	}
}

func (s *Stream) waitBackoff(ctx context.Context) {
	delay := nextBackoff(s.backoffAttempt)
	s.backoffAttempt++
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// nextBackoff returns a full-jitter delay for the given attempt number,
// base 1s doubling up to a 120s cap.
func nextBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	ceiling := backoffCap
	exp := backoffBase
	for i := 0; i < attempt && exp < ceiling; i++ {
		exp *= 2
	}
	if exp > ceiling {
		exp = ceiling
	}
	return time.Duration(rand.Int63n(int64(exp) + 1))
}

func (s *Stream) connectAndServe(ctx context.Context) error {
	conn, resp, err := s.transport.OpenWS(ctx, Path)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return authExpiredErr{err}
		}
		return err
	}
	defer conn.Close()

	// Close the connection when ctx is cancelled so a blocked ReadMessage
	// returns and Run can observe the cancellation.
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopWatch:
		}
	}()

	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("%w: subscribing stream: %v", util.ErrProtocol, err)
	}

	connectedAt := time.Now()
	hbDone := make(chan struct{})
	go s.heartbeat(conn, hbDone)
	defer close(hbDone)

	s.report(status.Status{State: status.StateOK})

	err = s.readLoop(ctx, conn)

	if time.Since(connectedAt) >= stableResetAfter {
		s.backoffAttempt = 0
	}
	return err
}

// subscribe sends the subscribe request that asks the upstream to reply
// with a fresh initial-state frame after every (re)connect.
func (s *Stream) subscribe(conn *websocket.Conn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(map[string]string{"type": "subscribe"})
}

func (s *Stream) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	pongReceived := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongReceived <- struct{}{}:
		default:
		}
		return nil
	})

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			werr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if werr != nil {
				conn.Close()
				return
			}
			select {
			case <-pongReceived:
			case <-time.After(pongTimeout):
				util.Warn("stream: heartbeat pong timeout, closing connection")
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok && auth.IsExpiredCloseCode(ce.Code) {
				return authExpiredErr{ce}
			}
			return fmt.Errorf("%w: reading stream frame: %v", util.ErrTransport, err)
		}

		var env codec.Envelope
		if jerr := json.Unmarshal(data, &env); jerr != nil {
			util.Warnf("stream: malformed frame envelope: %v", jerr)
			continue
		}
		frame, derr := codec.Decode(env)
		if derr != nil {
			util.Warnf("stream: dropping undecodable %s frame: %v", env.Type, derr)
			continue
		}
		s.dispatch(frame)
	}
}

func (s *Stream) dispatch(frame interface{}) {
	switch f := frame.(type) {
	case *codec.InitialState:
		s.model.ApplyInitialState(f)
	case *codec.StateDelta:
		s.model.ApplyDelta(f)
	case *codec.Point:
		s.model.ApplyPoint(f)
	case *codec.EventFrame:
		s.publishEvent(f)
	case *codec.UpdateSettings:
		s.publishUpdateSettings(f)
	case *codec.CommandReply:
		s.commander.RouteReply(f)
	default:
		util.Warnf("stream: no dispatcher for frame type %T", f)
	}
}

func (s *Stream) publishEvent(f *codec.EventFrame) {
	payload := events.EventPayload{
		DeviceID:         f.DeviceID,
		EventIDPrimary:   f.PrimaryCode,
		EventIDSecondary: f.SecondaryCode,
		TitlePrimary:     codec.EventTitlePrimary(f.PrimaryCode),
		TitleSecondary:   codec.EventTitle(f.PrimaryCode, f.SecondaryCode),
		EventType:        codec.EventType(f.PrimaryCode, f.SecondaryCode),
	}
	if f.Latitude.Set() {
		payload.Latitude = f.Latitude.Value
	}
	if f.Longitude.Set() {
		payload.Longitude = f.Longitude.Value
	}
	if view, ok := s.model.View(f.DeviceID); ok {
		if view.GSMLevel.Set() {
			payload.GSMLevel = view.GSMLevel.Value
		}
		if view.FuelPercent.Set() {
			payload.FuelPercent = view.FuelPercent.Value
		}
		if view.ExteriorTemp.Set() {
			payload.ExteriorTemperature = view.ExteriorTemp.Value
		}
		if view.EngineTemp.Set() {
			payload.EngineTemperature = view.EngineTemp.Value
		}
	}
	s.bus.Publish(events.TopicEvent, payload)
}

// publishUpdateSettings publishes an update-settings frame as an opaque
// event with a stable symbolic name of its own.
func (s *Stream) publishUpdateSettings(f *codec.UpdateSettings) {
	s.bus.Publish(events.TopicEvent, events.EventPayload{
		DeviceID:  f.DeviceID,
		EventType: "settings_changed",
	})
}
