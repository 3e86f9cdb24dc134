package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	defer unsubA()
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: TypeCheckCompleted})
	for i, ch := range []<-chan Event{a, c} {
		select {
		case ev := <-ch:
			if ev.Type != TypeCheckCompleted {
				t.Fatalf("sub %d Type = %s, want %s", i, ev.Type, TypeCheckCompleted)
			}
			if ev.Time.IsZero() {
				t.Fatalf("sub %d Time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub %d got nothing", i)
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})
	if ev := <-ch; ev.Type != "one" {
		t.Fatalf("Type = %s, want one", ev.Type)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "after"})
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
}
