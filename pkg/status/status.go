// Package status implements the Account-level status observable: a small,
// terminal-aware state machine (ok, degraded,
// auth_failure, closed) that every subscriber sees converge to, fanned out
// through the same bounded, coalescing queue pattern as DeviceModel
// listeners and the EventBus.
package status

import (
	"sync"

	"github.com/pandora-cas/goclient/pkg/backpressure"
)

// State is one of the four states an Account's status observable can be in.
type State string

const (
	StateOK          State = "ok"
	StateDegraded    State = "degraded"
	StateAuthFailure State = "auth_failure"
	StateClosed      State = "closed"
)

// Status is one value on the observable: a State plus, for Degraded and
// AuthFailure, a human-readable Reason.
type Status struct {
	State  State
	Reason string
}

// terminal reports whether s can never be superseded by a later Set call.
// AuthFailure and Closed are both terminal: once an Account
// has escalated to closed(auth_failure) or been explicitly closed, no
// further ok/degraded report should paper over that.
func (s Status) terminal() bool {
	return s.State == StateAuthFailure || s.State == StateClosed
}

// Observable fans out Status changes to subscribers, queue capacity 32
// with drop-oldest-coalesce on overflow, same as Device and EventBus.
type Observable struct {
	mu      sync.Mutex
	current Status
	subs    map[int]*backpressure.Queue[Status]
	next    int
}

// NewObservable creates an Observable starting in StateOK.
func NewObservable() *Observable {
	return &Observable{
		current: Status{State: StateOK},
		subs:    make(map[int]*backpressure.Queue[Status]),
	}
}

// Current returns the most recently set Status.
func (o *Observable) Current() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Set records a new Status and publishes it to every subscriber. Updates
// are dropped when the Observable is already in a terminal state, or when
// the new Status equals the current one (a steady poller reporting ok
// every tick is not a transition).
func (o *Observable) Set(s Status) {
	o.mu.Lock()
	if o.current.terminal() || s == o.current {
		o.mu.Unlock()
		return
	}
	o.current = s
	subs := make([]*backpressure.Queue[Status], 0, len(o.subs))
	for _, q := range o.subs {
		subs = append(subs, q)
	}
	o.mu.Unlock()

	for _, q := range subs {
		q.Push(s)
	}
}

// Subscribe registers a listener and returns a handle for Unsubscribe plus
// the bounded, coalescing receive channel. The current Status is delivered
// immediately so a new subscriber never waits for the next transition.
func (o *Observable) Subscribe() (handle int, ch <-chan Status) {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := backpressure.New[Status](backpressure.DefaultCapacity)
	o.next++
	h := o.next
	o.subs[h] = q
	q.Push(o.current)
	return h, q.Chan()
}

// Unsubscribe removes a listener and closes its queue.
func (o *Observable) Unsubscribe(handle int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if q, ok := o.subs[handle]; ok {
		delete(o.subs, handle)
		q.Close()
	}
}

// CloseAll sends every subscriber a final Closed status and closes their queues.
func (o *Observable) CloseAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = Status{State: StateClosed}
	for h, q := range o.subs {
		q.Push(o.current)
		q.Close()
		delete(o.subs, h)
	}
}
