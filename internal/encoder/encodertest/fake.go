// Package encodertest provides a manually driven encoder.Invoker for tests.
package encodertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crunch/internal/encoder"
	"crunch/internal/taskkey"
)

type outcome struct {
	output string
	err    error
}

type control struct {
	req      encoder.Request
	handle   *encoder.Handle
	progress chan float64
	finish   chan outcome
}

// Invoker starts handles that do nothing until the test drives them.
type Invoker struct {
	mu        sync.Mutex
	tasks     map[taskkey.Key]*control
	order     []taskkey.Key
	active    int
	maxActive int
	invoked   chan taskkey.Key
}

// NewInvoker returns an empty fake.
func NewInvoker() *Invoker {
	return &Invoker{
		tasks:   make(map[taskkey.Key]*control),
		invoked: make(chan taskkey.Key, 1024),
	}
}

// Invoke records req and returns a handle blocked until Progress, Succeed,
// Fail, or cancellation.
func (f *Invoker) Invoke(ctx context.Context, req encoder.Request) *encoder.Handle {
	ctl := &control{
		req:      req,
		progress: make(chan float64),
		finish:   make(chan outcome, 1),
	}
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	ctl.handle = encoder.Start(ctx, req.Key, func(ctx context.Context, progress func(float64)) (string, error) {
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		}()
		for {
			select {
			case pct := <-ctl.progress:
				progress(pct)
			case res := <-ctl.finish:
				return res.output, res.err
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	})

	f.mu.Lock()
	f.tasks[req.Key] = ctl
	f.order = append(f.order, req.Key)
	f.mu.Unlock()
	f.invoked <- req.Key
	return ctl.handle
}

// Invoked returns the keys invoked so far in order.
func (f *Invoker) Invoked() []taskkey.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]taskkey.Key(nil), f.order...)
}

// MaxActive returns the highest number of simultaneously running encodes.
func (f *Invoker) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Request returns the request recorded for key.
func (f *Invoker) Request(key taskkey.Key) (encoder.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctl, ok := f.tasks[key]
	if !ok {
		return encoder.Request{}, false
	}
	return ctl.req, true
}

// Handle returns the handle started for key.
func (f *Invoker) Handle(key taskkey.Key) *encoder.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctl, ok := f.tasks[key]; ok {
		return ctl.handle
	}
	return nil
}

// WaitInvoked blocks until n more invocations have happened or timeout
// elapses, returning the keys observed.
func (f *Invoker) WaitInvoked(n int, timeout time.Duration) ([]taskkey.Key, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	keys := make([]taskkey.Key, 0, n)
	for len(keys) < n {
		select {
		case key := <-f.invoked:
			keys = append(keys, key)
		case <-deadline.C:
			return keys, fmt.Errorf("waited %s for %d invocations, saw %d", timeout, n, len(keys))
		}
	}
	return keys, nil
}

// Progress pushes a progress update for key and waits until the encoder
// accepted it. Returns false if key is unknown or already finished.
func (f *Invoker) Progress(key taskkey.Key, percent float64) bool {
	ctl := f.lookup(key)
	if ctl == nil {
		return false
	}
	select {
	case ctl.progress <- percent:
		return true
	case <-ctl.handle.Done():
		return false
	}
}

// Succeed finishes key successfully with its requested output path.
func (f *Invoker) Succeed(key taskkey.Key) bool {
	ctl := f.lookup(key)
	if ctl == nil {
		return false
	}
	return f.finish(ctl, outcome{output: ctl.req.OutputPath})
}

// Fail finishes key with err.
func (f *Invoker) Fail(key taskkey.Key, err error) bool {
	ctl := f.lookup(key)
	if ctl == nil {
		return false
	}
	if err == nil {
		err = fmt.Errorf("encode failed")
	}
	return f.finish(ctl, outcome{err: err})
}

func (f *Invoker) finish(ctl *control, res outcome) bool {
	select {
	case ctl.finish <- res:
		return true
	default:
		return false
	}
}

func (f *Invoker) lookup(key taskkey.Key) *control {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[key]
}

var _ encoder.Invoker = (*Invoker)(nil)
