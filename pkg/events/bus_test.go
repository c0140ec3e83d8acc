package events

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	_, ch := b.Subscribe(TopicCommand)

	b.Publish(TopicCommand, CommandPayload{DeviceID: 1234, CommandID: 4, Result: 0})

	select {
	case v := <-ch:
		cp, ok := v.(CommandPayload)
		if !ok {
			t.Fatalf("expected CommandPayload, got %T", v)
		}
		if cp.CommandID != 4 {
			t.Errorf("CommandID = %d, want 4", cp.CommandID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published payload")
	}
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := NewBus()
	_, eventCh := b.Subscribe(TopicEvent)
	_, cmdCh := b.Subscribe(TopicCommand)

	b.Publish(TopicEvent, EventPayload{DeviceID: 1, EventType: "armed"})

	select {
	case <-cmdCh:
		t.Fatal("command topic should not receive event-topic payloads")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case v := <-eventCh:
		if v.(EventPayload).EventType != "armed" {
			t.Errorf("unexpected payload: %+v", v)
		}
	default:
		t.Fatal("expected event-topic payload to be queued")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	h, ch := b.Subscribe(TopicEvent)
	b.Unsubscribe(TopicEvent, h)

	b.Publish(TopicEvent, EventPayload{DeviceID: 1})

	_, ok := <-ch
	if ok {
		t.Errorf("expected channel closed after unsubscribe")
	}
}

func TestFileSinkRecordsAndTails(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "events.jsonl"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	b := NewBus()
	b.SetSink(sink)
	b.Publish(TopicCommand, CommandPayload{DeviceID: 1, CommandID: 4, Result: 0})
	b.Publish(TopicCommand, CommandPayload{DeviceID: 1, CommandID: 8, Result: 1})

	recs, err := sink.Tail(0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recorded events, got %d", len(recs))
	}
	if recs[0].Topic != TopicCommand {
		t.Errorf("Topic = %q, want %q", recs[0].Topic, TopicCommand)
	}
}

func TestFileSinkTailLimitsToLastN(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "events.jsonl"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer sink.Close()

	for i := 0; i < 5; i++ {
		sink.Record(TopicCommand, CommandPayload{DeviceID: int64(i)})
	}

	recs, err := sink.Tail(2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}
