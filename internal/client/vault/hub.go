package vault

import (
	"log/slog"
	"sync"
	"time"
)

const (
	subscriberBufferSize  = 256
	defaultPublishTimeout = 30 * time.Second
)

type subscriber struct {
	ch       chan Event
	done     chan struct{}
	doneOnce sync.Once
}

func (s *subscriber) stop() {
	s.doneOnce.Do(func() { close(s.done) })
}

// hub fans events out to subscribers. A full subscriber blocks the producer
// for up to publishTimeout; after that the event is dropped and the next full
// sync or reconcile pass picks up the change.
type hub struct {
	mu             sync.Mutex
	subs           map[int]*subscriber
	next           int
	publishTimeout time.Duration
}

func newHub() *hub {
	return &hub{
		subs:           make(map[int]*subscriber),
		publishTimeout: defaultPublishTimeout,
	}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	sub := &subscriber{
		ch:   make(chan Event, subscriberBufferSize),
		done: make(chan struct{}),
	}
	h.subs[id] = sub

	cancel := func() {
		// release a publish blocked on this subscriber before taking the lock
		sub.stop()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		timer := time.NewTimer(h.publishTimeout)
		select {
		case sub.ch <- ev:
		case <-sub.done:
		case <-timer.C:
			slog.Warn("vault event dropped", "reason", "subscriber full", "op", ev.Op, "path", ev.Path)
		}
		timer.Stop()
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		sub.stop()
		delete(h.subs, id)
		close(sub.ch)
	}
}
