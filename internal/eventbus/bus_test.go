package eventbus

import (
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: AnswerRecorded, Survey: "Pulse", User: "u1"})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != AnswerRecorded || e.Survey != "Pulse" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel open after unsubscribe")
	}
	b.Publish(Event{Type: SweepFinished})
	if e := <-c; e.Type != SweepFinished {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: SurveyCreated})
	b.Publish(Event{Type: SurveyCreated})
	b.Publish(Event{Type: SurveyCreated})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestNopSubscribeIsClosed(t *testing.T) {
	t.Parallel()

	ch, unsub := Nop{}.Subscribe(1)
	defer unsub()
	Nop{}.Publish(Event{Type: SurveyCreated})
	if _, ok := <-ch; ok {
		t.Fatalf("Nop channel should be closed")
	}
}
