package jobs

import (
	"sync"

	"github.com/sells-group/pulse/internal/model"
)

// Subscription is the single live listener of one job's progress.
type Subscription struct {
	C <-chan model.ProgressEvent

	jobID string
	ch    chan model.ProgressEvent
	once  sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker is a set of topics keyed by job id, each with at most one
// subscriber. Publishing never blocks: events are dropped when nobody is
// listening or the listener's buffer is full.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	buffer int
}

// NewBroker returns a broker whose subscriptions buffer up to buffer
// events.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{subs: make(map[string]*Subscription), buffer: buffer}
}

// Subscribe attaches a listener to jobID, closing any listener it replaces.
func (b *Broker) Subscribe(jobID string) *Subscription {
	ch := make(chan model.ProgressEvent, b.buffer)
	sub := &Subscription{C: ch, jobID: jobID, ch: ch}

	b.mu.Lock()
	old := b.subs[jobID]
	b.subs[jobID] = sub
	b.mu.Unlock()

	if old != nil {
		old.close()
	}
	return sub
}

// Unsubscribe detaches sub if it is still the current listener.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if b.subs[sub.jobID] == sub {
		delete(b.subs, sub.jobID)
	}
	b.mu.Unlock()
	sub.close()
}

// Publish delivers ev to the listener of jobID, if any. A status event is
// the last one a listener receives; its subscription is closed after it.
func (b *Broker) Publish(jobID string, ev model.ProgressEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.subs[jobID]
	if sub == nil {
		return false
	}
	delivered := false
	select {
	case sub.ch <- ev:
		delivered = true
	default:
	}
	if ev.Type == model.EventStatus {
		delete(b.subs, jobID)
		sub.close()
	}
	return delivered
}

// Listening reports whether jobID has a listener.
func (b *Broker) Listening(jobID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[jobID] != nil
}
