// Package eventbus fans out in-process survey events. Delivery is
// best-effort: Publish never blocks and slow subscribers lose events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	SurveyCreated  = "survey.created"
	AnswerRecorded = "answer.recorded"
	GroupCreated   = "group.created"
	GroupDeleted   = "group.deleted"
	SweepFinished  = "reminder.sweep_finished"
)

// Event carries a type and small payload. Survey and User are set when the
// event concerns one.
type Event struct {
	Type   string
	Time   time.Time
	Survey string
	User   string
	Data   any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

// Memory is an in-process Bus with no goroutines of its own.
type Memory struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     uint64
	dropped atomic.Uint64
}

var _ Bus = (*Memory)(nil)

func New() *Memory {
	return &Memory{subs: map[uint64]chan Event{}}
}

// Publish holds the read lock while sending so Subscribe's unsubscribe
// cannot close a channel mid-send.
func (b *Memory) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Memory) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *Memory) Dropped() uint64 { return b.dropped.Load() }
