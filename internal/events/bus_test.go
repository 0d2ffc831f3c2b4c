package events

import (
	"testing"
	"time"
)

func receiveOne(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before event arrived")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	if got := bus.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	bus.Publish(Event{Type: TypeJobAdded, Data: "job-1"})

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		evt := receiveOne(t, ch)
		if evt.Type != TypeJobAdded {
			t.Errorf("%s subscriber got type %q, want %q", name, evt.Type, TypeJobAdded)
		}
		if evt.Data != "job-1" {
			t.Errorf("%s subscriber got data %v, want job-1", name, evt.Data)
		}
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	cancel()

	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount after cancel = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed after cancel")
	}

	// Double cancel must not panic.
	cancel()
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	ch, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: TypeJobProgress, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// Only the first event fit; the rest were dropped.
	evt := receiveOne(t, ch)
	if evt.Data != 0 {
		t.Fatalf("buffered event data = %v, want 0", evt.Data)
	}
	select {
	case extra, ok := <-ch:
		if ok {
			t.Fatalf("unexpected extra buffered event: %v", extra)
		}
	default:
	}
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	bus := NewBus(4)
	ch, _ := bus.Subscribe()

	bus.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel to be closed after bus Close")
	}
	if got := bus.SubscriberCount(); got != 0 {
		t.Fatalf("SubscriberCount after Close = %d, want 0", got)
	}

	// Publish and a fresh Subscribe become no-ops on a closed bus.
	bus.Publish(Event{Type: TypeJobAdded})
	late, cancel := bus.Subscribe()
	defer cancel()
	if _, ok := <-late; ok {
		t.Fatal("expected post-Close subscription channel to be closed")
	}

	// Double close must not panic.
	bus.Close()
}
