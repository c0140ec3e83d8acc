// Package events implements the downstream event bus: the two logical
// topics external subscribers read from (pandora_cas_event and
// pandora_cas_command), each delivered through a bounded, coalescing queue
// so a slow subscriber can never block the Stream or Commander that publish
// to it.
package events

import (
	"sync"

	"github.com/pandora-cas/goclient/pkg/backpressure"
)

// Topic names the two external event bus topics.
type Topic string

const (
	TopicEvent   Topic = "pandora_cas_event"
	TopicCommand Topic = "pandora_cas_command"
)

// EventPayload is the pandora_cas_event topic payload.
type EventPayload struct {
	DeviceID            int64   `json:"device_id"`
	EventIDPrimary      int     `json:"event_id_primary"`
	EventIDSecondary    int     `json:"event_id_secondary"`
	TitlePrimary        string  `json:"title_primary"`
	TitleSecondary      string  `json:"title_secondary"`
	EventType           string  `json:"event_type"`
	Latitude            float64 `json:"latitude,omitempty"`
	Longitude           float64 `json:"longitude,omitempty"`
	GSMLevel            int     `json:"gsm_level,omitempty"`
	FuelPercent         int     `json:"fuel,omitempty"`
	ExteriorTemperature int     `json:"exterior_temperature,omitempty"`
	EngineTemperature   int     `json:"engine_temperature,omitempty"`
}

// CommandPayload is the pandora_cas_command topic payload.
type CommandPayload struct {
	DeviceID  int64 `json:"device_id"`
	CommandID int   `json:"command_id"`
	Result    int   `json:"result"`
	Reply     int   `json:"reply,omitempty"`
}

// Sink durably records every published payload, independent of and in
// addition to live subscriber delivery.
type Sink interface {
	Record(topic Topic, payload interface{}) error
	Close() error
}

// Bus fans published payloads out to subscribers of a single topic, plus an
// optional durable Sink.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic]map[int]*backpressure.Queue[interface{}]
	next int

	sinkMu sync.RWMutex
	sink   Sink
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]*backpressure.Queue[interface{}])}
}

// SetSink installs (or clears, with nil) the durable sink.
func (b *Bus) SetSink(sink Sink) {
	b.sinkMu.Lock()
	defer b.sinkMu.Unlock()
	b.sink = sink
}

// Subscribe registers a listener for topic and returns a handle for
// Unsubscribe plus the bounded, coalescing receive channel.
func (b *Bus) Subscribe(topic Topic) (handle int, ch <-chan interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]*backpressure.Queue[interface{}])
	}
	q := backpressure.New[interface{}](backpressure.DefaultCapacity)
	b.next++
	h := b.next
	b.subs[topic][h] = q
	return h, q.Chan()
}

// Unsubscribe removes a listener from topic and closes its queue.
func (b *Bus) Unsubscribe(topic Topic, handle int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.subs[topic]; ok {
		if q, ok := m[handle]; ok {
			delete(m, handle)
			q.Close()
		}
	}
}

// Publish delivers payload to every subscriber of topic without blocking,
// and records it to the sink if one is installed.
func (b *Bus) Publish(topic Topic, payload interface{}) {
	b.mu.RLock()
	for _, q := range b.subs[topic] {
		q.Push(payload)
	}
	b.mu.RUnlock()

	b.sinkMu.RLock()
	sink := b.sink
	b.sinkMu.RUnlock()
	if sink != nil {
		sink.Record(topic, payload)
	}
}

// Close unsubscribes every listener on every topic, closing their queues.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.subs {
		for h, q := range m {
			q.Close()
			delete(m, h)
		}
	}

	b.sinkMu.RLock()
	sink := b.sink
	b.sinkMu.RUnlock()
	if sink != nil {
		sink.Close()
	}
}
