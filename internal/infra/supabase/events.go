package supabase

import (
	"sync"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
)

// subscriber owns an unbounded FIFO of events and a goroutine that drains
// it, so emitters never block and one subscriber sees events in order.
type subscriber struct {
	id  uint64
	fn  func(domain.AuthEvent)
	hub *eventHub

	mu     sync.Mutex
	queue  []domain.AuthEvent
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscriber) push(ev domain.AuthEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next pops the head of the queue. ok is false when closed or empty.
func (s *subscriber) next() (domain.AuthEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return domain.AuthEvent{}, false
	}
	ev := s.queue[0]
	s.queue[0] = domain.AuthEvent{}
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			ev, ok := s.next()
			if !ok {
				break
			}
			s.fn(ev)
		}
	}
}

// Unsubscribe implements port.Subscription. A callback already running
// finishes; none starts afterwards.
func (s *subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
		s.hub.remove(s.id)
	})
}

// eventHub fans auth events out to the subscribers of one rendering context.
type eventHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[uint64]*subscriber)}
}

// add registers fn. A non-nil first is queued as its initial event.
func (h *eventHub) add(fn func(domain.AuthEvent), first *domain.AuthEvent) *subscriber {
	h.mu.Lock()
	h.nextID++
	s := &subscriber{
		id:   h.nextID,
		fn:   fn,
		hub:  h,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.subs[s.id] = s
	h.mu.Unlock()

	go s.run()
	if first != nil {
		s.push(*first)
	}
	return s
}

func (h *eventHub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *eventHub) emit(ev domain.AuthEvent) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

func (h *eventHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
