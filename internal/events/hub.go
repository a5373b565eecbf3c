package events

import (
	"context"
	"sync"
	"time"
)

// Hub stores recent events and wakes waiters when new ones arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	subs     map[int]*subscriber
	nextSub  int
}

// NewHub constructs a hub retaining up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1024
	}
	h := &Hub{capacity: capacity, subs: make(map[int]*subscriber)}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish assigns a sequence number, buffers the event, and delivers it to
// subscribers. A subscriber that falls behind loses its oldest progress
// event; other kinds are always delivered.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	for _, sub := range h.subs {
		sub.push(evt)
	}
	h.cond.Broadcast()
}

// Droppable reports whether a slow subscriber may lose evt.
func Droppable(kind Kind) bool {
	return kind == KindTaskProgress || kind == KindBatchProgress
}

// subscriber queues events for one reader. pending[0] is being sent when
// sending is set and is never evicted.
type subscriber struct {
	out   chan Event
	limit int
	wake  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	pending []Event
	sending bool
}

func (s *subscriber) push(evt Event) {
	s.mu.Lock()
	s.pending = append(s.pending, evt)
	if len(s.pending) > s.limit {
		s.evictLocked()
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) evictLocked() {
	first := 0
	if s.sending {
		first = 1
	}
	for i := first; i < len(s.pending); i++ {
		if Droppable(s.pending[i].Kind) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		evt := s.pending[0]
		s.sending = true
		s.mu.Unlock()

		select {
		case s.out <- evt:
		case <-s.done:
			return
		}

		s.mu.Lock()
		s.pending[0] = Event{}
		s.pending = s.pending[1:]
		s.sending = false
		s.mu.Unlock()
	}
}

// Subscribe returns a channel receiving every event published after the call
// and a function that unsubscribes and closes the channel. buffer bounds how
// many progress events are held for a slow reader.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &subscriber{
		out:   make(chan Event),
		limit: buffer,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = sub
	h.mu.Unlock()
	go sub.pump()

	var once sync.Once
	return sub.out, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.done)
		})
	}
}

// Fetch returns up to limit events with sequence greater than since, plus
// the sequence to pass as since next time. When wait is true Fetch blocks
// until at least one event is available or ctx ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stopWake := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-stopWake:
			}
		}()
	}
	defer close(stopWake)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		out, next := h.snapshotLocked(since, limit)
		if len(out) > 0 || !wait {
			return out, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := contextError(ctx); err != nil {
			return nil, since, err
		}
	}
}

// Tail returns the most recent limit events without blocking.
func (h *Hub) Tail(limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := len(h.buffer) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Event, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

// LastSequence returns the most recently assigned sequence number.
func (h *Hub) LastSequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]Event, uint64) {
	start := -1
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			start = i
			break
		}
	}
	if start < 0 {
		if since > h.nextSeq {
			return nil, h.nextSeq
		}
		return nil, since
	}
	end := start + limit
	if end > len(h.buffer) {
		end = len(h.buffer)
	}
	out := make([]Event, end-start)
	copy(out, h.buffer[start:end])
	return out, out[len(out)-1].Sequence
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

var _ Sink = (*Hub)(nil)
