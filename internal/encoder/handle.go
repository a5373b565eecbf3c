package encoder

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"crunch/internal/services"
	"crunch/internal/taskkey"
)

const eventBuffer = 32

// RunFunc performs the encode. It reports progress through the callback and
// returns the written output path.
type RunFunc func(ctx context.Context, progress func(percent float64)) (string, error)

// Handle tracks one running invocation.
type Handle struct {
	key             taskkey.Key
	events          chan Event
	done            chan struct{}
	cancel          context.CancelFunc
	cancelRequested atomic.Bool
}

// Start runs fn on its own goroutine and returns a Handle streaming its
// lifecycle. The Started event is queued before Start returns.
func Start(parent context.Context, key taskkey.Key, fn RunFunc) *Handle {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		key:    key,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	em := &emitter{handle: h, last: -1}
	h.events <- Event{Kind: EventStarted, Key: key, At: time.Now()}

	go func() {
		defer close(h.done)
		defer close(h.events)
		defer cancel()

		out, err := h.execute(ctx, fn, em.progress)
		em.finish(ctx, out, err)
	}()
	return h
}

func (h *Handle) execute(ctx context.Context, fn RunFunc, progress func(float64)) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = services.Wrap(services.ErrExternalTool, "encoder", "run", fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	if fn == nil {
		return "", services.Wrap(services.ErrConfiguration, "encoder", "run", "no encoder configured", nil)
	}
	return fn(ctx, progress)
}

// Key returns the task key this handle was started for.
func (h *Handle) Key() taskkey.Key { return h.key }

// Events returns the lifecycle stream. It is closed after the terminal event.
func (h *Handle) Events() <-chan Event { return h.events }

// Done is closed once the terminal event has been queued and the stream closed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the underlying process to stop. The terminal event becomes a
// cancellation failure unless the encode had already finished. Safe to call
// more than once.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.cancelRequested.Store(true)
	h.cancel()
}

type emitter struct {
	handle *Handle
	mu     sync.Mutex
	last   float64
	closed bool
}

// progress clamps percent to [0,100] and forwards strictly increasing values.
// Under backpressure an update is dropped rather than blocking the encoder;
// a later update supersedes it.
func (e *emitter) progress(percent float64) {
	if math.IsNaN(percent) {
		return
	}
	percent = math.Max(0, math.Min(100, percent))
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || percent <= e.last {
		return
	}
	select {
	case e.handle.events <- Event{Kind: EventProgress, Key: e.handle.key, Percent: percent, At: time.Now()}:
		e.last = percent
	default:
	}
}

func (e *emitter) finish(ctx context.Context, out string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true

	ev := Event{Key: e.handle.key, At: time.Now()}
	switch {
	case err == nil:
		ev.Kind = EventSucceeded
		ev.Percent = 100
		ev.OutputPath = out
	case e.handle.cancelRequested.Load() || ctx.Err() != nil:
		ev.Kind = EventFailed
		ev.Err = services.Wrap(services.ErrCancelled, "encoder", "run", "cancelled", nil)
	default:
		ev.Kind = EventFailed
		ev.Err = err
	}
	e.handle.events <- ev
}
