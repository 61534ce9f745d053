package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	b := NewBus()
	chA, cancelA := b.Subscribe()
	chB, cancelB := b.Subscribe()
	defer cancelA()
	defer cancelB()

	b.Publish(Event{Type: EventItemEnqueued, ItemID: "i1"})

	for name, ch := range map[string]<-chan Event{"a": chA, "b": chB} {
		select {
		case evt := <-ch:
			if evt.Type != EventItemEnqueued || evt.ItemID != "i1" {
				t.Fatalf("subscriber %s got %+v", name, evt)
			}
			if evt.At.IsZero() {
				t.Fatalf("subscriber %s event has zero timestamp", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Nobody drains the subscriber; publishing must still return.
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Type: EventHeartbeat})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Publish() blocked on a full subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish(Event{Type: EventHeartbeat})
}

func TestRecentReturnsTail(t *testing.T) {
	b := NewBus()
	ids := []string{"e1", "e2", "e3", "e4"}
	for _, id := range ids {
		b.Publish(Event{Type: EventItemEnqueued, ItemID: id})
	}

	recent := b.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d events, want 2", len(recent))
	}
	if recent[0].ItemID != "e3" || recent[1].ItemID != "e4" {
		t.Fatalf("Recent(2) = [%s %s], want oldest-first tail [e3 e4]", recent[0].ItemID, recent[1].ItemID)
	}

	all := b.Recent(0)
	if len(all) != 4 {
		t.Fatalf("Recent(0) returned %d events, want full history", len(all))
	}
}

func TestHistoryIsBounded(t *testing.T) {
	b := NewBus()
	for i := 0; i < defaultHistoryLimit+50; i++ {
		b.Publish(Event{Type: EventHeartbeat})
	}
	if got := len(b.Recent(0)); got != defaultHistoryLimit {
		t.Fatalf("history length = %d, want bounded at %d", got, defaultHistoryLimit)
	}
}

func TestPublishDuringUnsubscribeChurn(t *testing.T) {
	b := NewBus()

	// A subscriber cancelling while a publish is in flight must never be a
	// send on a closed channel.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			b.Publish(Event{Type: EventHeartbeat, Depth: i})
		}
	}()

	for i := 0; i < 500; i++ {
		ch, cancel := b.Subscribe()
		select {
		case <-ch:
		default:
		}
		cancel()
	}

	close(stop)
	wg.Wait()
}
