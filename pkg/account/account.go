// Package account is the composition root: it ties one
// credential pair to an Authenticator, Transport, Stream, Poller and
// Commander, owns the Device map and EventBus, and exposes the single
// status observable and subscription surface external code holds per
// credential.
package account

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/pandora-cas/goclient/pkg/auth"
	"github.com/pandora-cas/goclient/pkg/codec"
	"github.com/pandora-cas/goclient/pkg/commander"
	"github.com/pandora-cas/goclient/pkg/config"
	"github.com/pandora-cas/goclient/pkg/device"
	"github.com/pandora-cas/goclient/pkg/events"
	"github.com/pandora-cas/goclient/pkg/poller"
	"github.com/pandora-cas/goclient/pkg/status"
	"github.com/pandora-cas/goclient/pkg/stream"
	"github.com/pandora-cas/goclient/pkg/transport"
	"github.com/pandora-cas/goclient/pkg/util"
	"github.com/pandora-cas/goclient/pkg/warmstore"
)

// DefaultBaseURL is the upstream Pandora/PanDECT cloud service host.
const DefaultBaseURL = "https://pro.p-on.ru"

// Lifecycle is the Account's own state, distinct from the status
// observable: initialising → authenticated → streaming → closed, or
// errored on any start-sequence failure.
type Lifecycle string

const (
	LifecycleInitialising  Lifecycle = "initialising"
	LifecycleAuthenticated Lifecycle = "authenticated"
	LifecycleStreaming     Lifecycle = "streaming"
	LifecycleErrored       Lifecycle = "errored"
	LifecycleClosed        Lifecycle = "closed"
)

// Account owns everything scoped to one set of credentials.
type Account struct {
	cfg       *config.Config
	transport *transport.Transport
	auth      *auth.Authenticator
	model     *device.Model
	bus       *events.Bus
	warm      *warmstore.Store
	stream    *stream.Stream
	poller    *poller.Poller
	commander *commander.Commander
	statusObs *status.Observable

	mu             sync.Mutex
	lifecycle      Lifecycle
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	detachedCtx    context.Context
	detachedCancel context.CancelFunc
}

// New constructs an Account from cfg, ready to Start. baseURL overrides
// DefaultBaseURL when non-empty (used by tests).
func New(cfg *config.Config, baseURL string) (*Account, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t, err := transport.New(baseURL, cfg.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	var warm *warmstore.Store
	if cfg.WarmStore != nil {
		warm, err = warmstore.New(warmstore.Config{
			Addr:      cfg.WarmStore.Addr,
			DB:        cfg.WarmStore.DB,
			KeyPrefix: cfg.WarmStore.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting warm store: %w", err)
		}
	}

	a := &Account{
		cfg:       cfg,
		transport: t,
		auth:      auth.New(cfg.Username, cfg.Password, t),
		model:     device.NewModel(),
		bus:       events.NewBus(),
		warm:      warm,
		statusObs: status.NewObservable(),
		lifecycle: LifecycleInitialising,
	}

	a.commander = commander.New(t, a.model, a.bus)
	a.poller = poller.New(t, a.model, time.Duration(cfg.PollingInterval)*time.Second, a.reportStatus)
	a.stream = stream.New(t, a.auth, a.model, a.bus, a.commander, a.reportStatus)
	a.detachedCtx, a.detachedCancel = context.WithCancel(context.Background())

	return a, nil
}

// reportStatus folds a Stream/Poller status report into the Account's
// observable. An auth_failure report is terminal: the stream has given up
// on refreshing, so the whole Account shuts down.
func (a *Account) reportStatus(s status.Status) {
	a.statusObs.Set(s)
	if s.State == status.StateAuthFailure {
		go a.Close()
	}
}

func (a *Account) setLifecycle(l Lifecycle) {
	a.mu.Lock()
	a.lifecycle = l
	a.mu.Unlock()
}

// Lifecycle returns the Account's current start-sequence state.
func (a *Account) Lifecycle() Lifecycle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle
}

// Status subscribes to the Account's status observable:
// {ok, degraded(reason), auth_failure, closed}.
func (a *Account) Status() (handle int, ch <-chan status.Status) {
	return a.statusObs.Subscribe()
}

// UnsubscribeStatus removes a Status subscription.
func (a *Account) UnsubscribeStatus(handle int) {
	a.statusObs.Unsubscribe(handle)
}

// SetEventSink installs (or clears, with nil) a durable sink that records
// every published bus payload in addition to live subscriber delivery.
func (a *Account) SetEventSink(sink events.Sink) {
	a.bus.SetSink(sink)
}

// Events subscribes to one of the two downstream event bus topics.
func (a *Account) Events(topic events.Topic) (handle int, ch <-chan interface{}) {
	return a.bus.Subscribe(topic)
}

// UnsubscribeEvents removes an Events subscription.
func (a *Account) UnsubscribeEvents(topic events.Topic, handle int) {
	a.bus.Unsubscribe(topic, handle)
}

// Device returns the current view of one known device.
func (a *Account) Device(id int64) (device.View, bool) {
	return a.model.View(id)
}

// Devices returns every known device_id.
func (a *Account) Devices() []int64 {
	return a.model.IDs()
}

// Subscribe registers a listener for one device's committed updates.
func (a *Account) Subscribe(deviceID int64) (handle int, ch <-chan device.Update) {
	return a.model.Get(deviceID).Subscribe()
}

// Unsubscribe removes a device update listener.
func (a *Account) Unsubscribe(deviceID int64, handle int) {
	if d, ok := a.model.Lookup(deviceID); ok {
		d.Unsubscribe(handle)
	}
}

// Submit submits a command to a device and schedules the post-command
// one-shot poll on HTTP acceptance.
func (a *Account) Submit(ctx context.Context, deviceID int64, commandID int, ensureComplete bool) (*commander.Future, error) {
	fut, err := a.commander.Submit(ctx, deviceID, commandID, ensureComplete)
	if err != nil {
		return nil, err
	}
	// Detach from ctx: the poll fires ten seconds from now regardless of
	// whether the caller's request-scoped context has since been cancelled,
	// but is still cancelled by Account.Close.
	a.poller.ScheduleOneShot(a.detachedCtx, poller.PostCommandDelay)
	return fut, nil
}

// Start runs the startup sequence: login, first snapshot, then the
// stream and poller loops. Any step's failure transitions Lifecycle to errored and
// reports a classified status without leaving goroutines running.
func (a *Account) Start(ctx context.Context) error {
	log := util.WithAccount(a.cfg.Username)
	a.setLifecycle(LifecycleInitialising)

	if err := a.auth.Login(ctx); err != nil {
		log.Errorf("login failed: %v", err)
		a.setLifecycle(LifecycleErrored)
		a.statusObs.Set(status.Status{State: status.StateAuthFailure, Reason: err.Error()})
		return err
	}
	a.setLifecycle(LifecycleAuthenticated)

	a.seedWarmStore(ctx)

	if err := a.firstSnapshot(ctx); err != nil {
		log.Errorf("first snapshot failed: %v", err)
		a.setLifecycle(LifecycleErrored)
		a.statusObs.Set(status.Status{State: status.StateDegraded, Reason: err.Error()})
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.stream.Run(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.poller.Run(runCtx)
	}()
	if a.warm != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.persistWarmLoop(runCtx)
		}()
	}

	a.setLifecycle(LifecycleStreaming)
	a.statusObs.Set(status.Status{State: status.StateOK})
	log.Info("account streaming")
	return nil
}

func (a *Account) firstSnapshot(ctx context.Context) error {
	body, err := a.transport.Get(ctx, poller.Path, url.Values{"ts": []string{"0"}})
	if err != nil {
		return fmt.Errorf("fetching first snapshot: %w", err)
	}
	snap, err := codec.DecodeInitialState(body)
	if err != nil {
		return fmt.Errorf("decoding first snapshot: %w", err)
	}
	a.model.ApplyInitialState(snap)
	return nil
}

// seedWarmStore restores advisory bit_state/last_online per device, ahead
// of the first real snapshot; failures here are non-fatal since the warm
// store is only advisory.
func (a *Account) seedWarmStore(ctx context.Context) {
	if a.warm == nil {
		return
	}
	records, err := a.warm.LoadAll(ctx)
	if err != nil {
		util.WithAccount(a.cfg.Username).Warnf("warm store load failed: %v", err)
		return
	}
	for id, rec := range records {
		a.model.Get(id).SeedWarm(rec.BitState, rec.CanBitState, rec.LastOnline)
	}
}

// warmSaveInterval is how often the warm store is rewritten from the live
// device views while an Account is streaming.
const warmSaveInterval = 60 * time.Second

// persistWarmLoop periodically writes each device's bitfields and
// last_online back to the warm store, and once more on shutdown so the
// next start seeds from the freshest state we observed.
func (a *Account) persistWarmLoop(ctx context.Context) {
	ticker := time.NewTicker(warmSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.saveWarmRecords(ctx)
		case <-ctx.Done():
			// ctx is already cancelled; the final save gets its own
			// short deadline instead.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.saveWarmRecords(flushCtx)
			cancel()
			return
		}
	}
}

func (a *Account) saveWarmRecords(ctx context.Context) {
	for _, id := range a.model.IDs() {
		view, ok := a.model.View(id)
		if !ok || !view.LastOnline.Set() {
			continue
		}
		err := a.warm.Save(ctx, warmstore.Record{
			DeviceID:    id,
			BitState:    view.BitState,
			CanBitState: view.CanBitState,
			LastOnline:  view.LastOnline.Value,
		})
		if err != nil {
			util.WithDevice(id).Warnf("warm store save failed: %v", err)
		}
	}
}

// Close cancels the stream and poller, drains outstanding commands as
// cancelled, and releases resources, in that order.
func (a *Account) Close() error {
	a.mu.Lock()
	if a.lifecycle == LifecycleClosed {
		a.mu.Unlock()
		return nil
	}
	a.lifecycle = LifecycleClosed
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.detachedCancel()

	a.commander.CancelAll()
	a.model.CloseAll()
	a.bus.Close()
	if a.warm != nil {
		a.warm.Close()
	}

	a.statusObs.CloseAll()
	return nil
}
