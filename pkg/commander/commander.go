// Package commander implements command submission and the async
// command-reply correlation lifecycle: per-device
// serialization, a deadline-bound pending-command table shared with
// Stream, and the terminal pandora_cas_command event every command emits
// regardless of how it ends.
package commander

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pandora-cas/goclient/pkg/capability"
	"github.com/pandora-cas/goclient/pkg/codec"
	"github.com/pandora-cas/goclient/pkg/device"
	"github.com/pandora-cas/goclient/pkg/events"
	"github.com/pandora-cas/goclient/pkg/util"
)

// Path is the HTTP command endpoint.
const Path = "/api/devices/command"

// Deadline is how long Commander waits for a command-reply frame before
// resolving a command's future with Timeout.
const Deadline = 30 * time.Second

// Result is the terminal outcome of a submitted command.
type Result int

const (
	ResultOK Result = iota
	ResultFailure
	ResultTimeout
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultFailure:
		return "failure"
	case ResultTimeout:
		return "timeout"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is delivered on a Future's channel when a command terminates.
type Outcome struct {
	Result Result
	// RawResult is the numeric result code as the upstream's command-reply
	// frame carried it (0 == accepted), or a synthetic nonzero code when
	// the command terminated without ever getting a reply (timeout,
	// cancelled). It is what travels as CommandPayload.Result.
	RawResult int
	// ReplyCode is the optional vendor-specific detail from the reply
	// frame's "reply" field, when present.
	ReplyCode int
}

// Future is returned by Submit; the caller may Wait for it or discard it.
type Future struct {
	ch chan Outcome
}

// Wait blocks until the command terminates or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case o := <-f.ch:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Transport is the subset of pkg/transport.Transport Commander needs.
type Transport interface {
	PostForm(ctx context.Context, path string, form url.Values) ([]byte, error)
}

// Model is the subset of device.Model Commander needs: a capability check
// before submission and recording pending/terminal command state on the
// Device for observability.
type Model interface {
	Lookup(id int64) (*device.Device, bool)
}

// EventPublisher is the subset of events.Bus Commander publishes through.
type EventPublisher interface {
	Publish(topic events.Topic, payload interface{})
}

type key struct {
	DeviceID  int64
	CommandID int
}

type pendingCommand struct {
	deviceID   int64
	commandID  int
	submitTime time.Time
	deadline   time.Time
	done       chan Outcome // buffered 1; always fully written exactly once
	timer      *time.Timer
	deviceLock chan struct{} // the per-device serialization token to return on completion
}

// Commander submits commands over Transport and correlates their async
// command-reply frames, enforcing at most one outstanding command per
// device_id regardless of command_id.
type Commander struct {
	transport Transport
	model     Model
	bus       EventPublisher

	mu          sync.Mutex
	pending     map[key]*pendingCommand
	deviceLocks map[int64]chan struct{}
}

// New creates a Commander.
func New(t Transport, m Model, bus EventPublisher) *Commander {
	return &Commander{
		transport:   t,
		model:       m,
		bus:         bus,
		pending:     make(map[key]*pendingCommand),
		deviceLocks: make(map[int64]chan struct{}),
	}
}

func (c *Commander) deviceLock(deviceID int64) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.deviceLocks[deviceID]
	if !ok {
		l = make(chan struct{}, 1)
		l <- struct{}{}
		c.deviceLocks[deviceID] = l
	}
	return l
}

// Submit posts commandID to deviceID and returns a Future for its outcome.
// At most one command is outstanding per deviceID at a time; a second
// Submit for the same device blocks until the first terminates. When
// ensureComplete is false, the returned Future resolves as soon as the
// HTTP POST is accepted — the later command-reply frame still updates the
// Device and fires pandora_cas_command, but does not affect this caller.
func (c *Commander) Submit(ctx context.Context, deviceID int64, commandID int, ensureComplete bool) (*Future, error) {
	if dev, ok := c.model.Lookup(deviceID); ok {
		if err := capability.Check(dev.Snapshot(), commandID); err != nil {
			return nil, err
		}
	}

	lock := c.deviceLock(deviceID)
	select {
	case <-lock:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting to submit command %d for device %d", util.ErrCancelled, commandID, deviceID)
	}

	body, err := c.transport.PostForm(ctx, Path, url.Values{
		"id":      []string{strconv.FormatInt(deviceID, 10)},
		"command": []string{strconv.Itoa(commandID)},
	})
	if err != nil {
		lock <- struct{}{}
		return nil, err
	}

	var resp struct {
		Status string `json:"status"`
	}
	if jerr := json.Unmarshal(body, &resp); jerr != nil {
		lock <- struct{}{}
		return nil, fmt.Errorf("%w: malformed command response: %v", util.ErrProtocol, jerr)
	}
	if resp.Status != "success" {
		lock <- struct{}{}
		return nil, util.NewCommandRejectedLocal(deviceID, commandID, "upstream rejected command at HTTP layer: "+resp.Status)
	}

	now := time.Now()
	pc := &pendingCommand{
		deviceID:   deviceID,
		commandID:  commandID,
		submitTime: now,
		deadline:   now.Add(Deadline),
		done:       make(chan Outcome, 1),
		deviceLock: lock,
	}

	k := key{DeviceID: deviceID, CommandID: commandID}
	c.mu.Lock()
	c.pending[k] = pc
	c.mu.Unlock()

	if dev, ok := c.model.Lookup(deviceID); ok {
		dev.MarkCommandPending(commandID)
	}

	pc.timer = time.AfterFunc(Deadline, func() {
		c.complete(k, Outcome{Result: ResultTimeout})
	})

	if ensureComplete {
		return &Future{ch: pc.done}, nil
	}

	immediate := &Future{ch: make(chan Outcome, 1)}
	immediate.ch <- Outcome{Result: ResultOK, RawResult: 0}
	return immediate, nil
}

// RouteReply matches an incoming command-reply frame to its pendingCommand
// and completes it, called by Stream's dispatch.
func (c *Commander) RouteReply(reply *codec.CommandReply) {
	k := key{DeviceID: reply.DeviceID, CommandID: reply.CommandID}
	outcome := Outcome{RawResult: reply.Result}
	if reply.Result == 0 {
		outcome.Result = ResultOK
	} else {
		outcome.Result = ResultFailure
	}
	if reply.Reply.Set() {
		outcome.ReplyCode = reply.Reply.Value
	}
	c.complete(k, outcome)
}

// complete is the single compare-and-remove point shared by RouteReply and
// the deadline timer, so a reply and a timeout for the same command can
// never both terminate it.
func (c *Commander) complete(k key, outcome Outcome) {
	c.mu.Lock()
	pc, ok := c.pending[k]
	if ok {
		delete(c.pending, k)
	}
	c.mu.Unlock()
	if !ok {
		return // already terminated by the other path, or a stray/late reply
	}

	pc.timer.Stop()

	// Timeout and cancellation never saw a reply frame; synthesize a
	// nonzero result code so the command event is unambiguously a failure.
	switch outcome.Result {
	case ResultTimeout:
		outcome.RawResult = -1
	case ResultCancelled:
		outcome.RawResult = -2
	}

	pc.done <- outcome

	if dev, ok := c.model.Lookup(pc.deviceID); ok {
		dev.ApplyCommandReply(pc.commandID, outcome.RawResult)
	}
	c.bus.Publish(events.TopicCommand, events.CommandPayload{
		DeviceID:  pc.deviceID,
		CommandID: pc.commandID,
		Result:    outcome.RawResult,
		Reply:     outcome.ReplyCode,
	})

	pc.deviceLock <- struct{}{}
}

// CancelAll terminates every outstanding command with ResultCancelled,
// used by Account.Close().
func (c *Commander) CancelAll() {
	c.mu.Lock()
	keys := make([]key, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.complete(k, Outcome{Result: ResultCancelled})
	}
}
