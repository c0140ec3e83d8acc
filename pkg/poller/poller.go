// Package poller implements the periodic HTTP snapshot refresh:
// a ticking `/api/updates` poll that repairs missed stream deltas, coalesced
// so at most one request is ever in flight, plus an on-demand one-shot poll
// scheduled ten seconds after any successful command.
package poller

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pandora-cas/goclient/pkg/codec"
	"github.com/pandora-cas/goclient/pkg/status"
	"github.com/pandora-cas/goclient/pkg/util"
)

// DefaultInterval is the default polling cadence.
const DefaultInterval = 60 * time.Second

// PostCommandDelay is how long after a successful command Poller schedules
// a one-shot refresh, to observe the resulting state change even if the
// stream missed it.
const PostCommandDelay = 10 * time.Second

// degradedThreshold is the number of consecutive poll failures that trips
// an Account status=degraded report.
const degradedThreshold = 10

// Path is the HTTP snapshot endpoint.
const Path = "/api/updates"

// Transport is the subset of pkg/transport.Transport the Poller needs.
type Transport interface {
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// Model is the subset of device.Model the Poller feeds snapshots into.
type Model interface {
	ApplyInitialState(*codec.InitialState)
}

// Poller periodically refreshes every device's state from the HTTP
// snapshot endpoint.
type Poller struct {
	transport Transport
	model     Model
	interval  time.Duration
	report    func(status.Status)

	mu              sync.Mutex
	inFlight        bool
	lastTS          int64
	consecutiveFail int
}

// New creates a Poller. pkg/config.Validate rejects intervals outside
// config.MinPollingInterval..config.MaxPollingInterval; Poller
// itself just uses whatever it is given, defaulting to DefaultInterval
// when interval <= 0. report is invoked on status-relevant transitions
// (degraded after ten consecutive failures, recovered after the next
// success); it may be nil.
func New(t Transport, m Model, interval time.Duration, report func(status.Status)) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if report == nil {
		report = func(status.Status) {}
	}
	return &Poller{transport: t, model: m, interval: interval, report: report}
}

// Run ticks every interval until ctx is cancelled, issuing a coalesced poll
// each time.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// ScheduleOneShot arranges a single extra poll after delay, used by
// Account after a successful command. It does not
// block and is safe to call from any goroutine.
func (p *Poller) ScheduleOneShot(ctx context.Context, delay time.Duration) {
	go func() {
		select {
		case <-time.After(delay):
			p.poll(ctx)
		case <-ctx.Done():
		}
	}()
}

// poll issues one HTTP snapshot request, dropping itself if another
// poll is already in flight rather than queuing behind it.
func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	ts := p.lastTS
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	query := url.Values{"ts": []string{strconv.FormatInt(ts, 10)}}
	body, err := p.transport.Get(ctx, Path, query)
	if err != nil {
		p.recordFailure(err)
		return
	}

	snap, err := codec.DecodeInitialState(body)
	if err != nil {
		p.recordFailure(err)
		return
	}

	p.mu.Lock()
	p.lastTS = time.Now().Unix()
	p.consecutiveFail = 0
	p.mu.Unlock()

	p.model.ApplyInitialState(snap)
	p.report(status.Status{State: status.StateOK})
}

func (p *Poller) recordFailure(err error) {
	p.mu.Lock()
	p.consecutiveFail++
	n := p.consecutiveFail
	p.mu.Unlock()

	util.Warnf("poller: /api/updates failed (%d consecutive): %v", n, err)
	if n == degradedThreshold {
		p.report(status.Status{State: status.StateDegraded, Reason: "10 consecutive poll failures"})
	}
}
