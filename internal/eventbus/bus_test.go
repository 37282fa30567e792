package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: NotifySent, Data: 1})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != NotifySent || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TaskQueued})
	b.Publish(Event{Type: TaskQueued})
	b.Publish(Event{Type: TaskQueued})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
			unsub()
		}()
	}
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: SweepCompleted})
	}
	wg.Wait()
}

func TestNopBus(t *testing.T) {
	t.Parallel()
	var b Bus = Nop{}
	b.Publish(Event{Type: TimerFired})
	ch, unsub := b.Subscribe(1)
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("nop channel should be closed")
	}
}
