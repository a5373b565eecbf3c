package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crunch/internal/admission"
	"crunch/internal/encoder"
	"crunch/internal/events"
	"crunch/internal/logging"
	"crunch/internal/plan"
	"crunch/internal/preset"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

type task struct {
	entry      plan.Entry
	status     Status
	progress   float64
	outputPath string
	err        string
	startedAt  time.Time
	finishedAt time.Time
	handle     *encoder.Handle
}

func (t *task) view() Task {
	return Task{
		Key:         t.entry.Key,
		SourcePath:  t.entry.SourcePath,
		PresetID:    t.entry.Preset.ID,
		KeepAudio:   t.entry.KeepAudio,
		PlannedPath: t.entry.OutputPath,
		Status:      t.status,
		Progress:    t.progress,
		OutputPath:  t.outputPath,
		Error:       t.err,
		StartedAt:   t.startedAt,
		FinishedAt:  t.finishedAt,
	}
}

// run holds per-batch completion state handed to waiters.
type run struct {
	id      string
	done    chan struct{}
	summary Summary
}

// Orchestrator supervises one batch at a time.
type Orchestrator struct {
	invoker encoder.Invoker
	sink    events.Sink
	logger  *slog.Logger
	policy  admission.Policy
	now     func() time.Time
	newID   func() string
	baseCtx context.Context

	mu          sync.Mutex
	lifecycle   Lifecycle
	cleaningUp  bool
	generation  uint64
	current     *run
	last        *Summary
	recent      []Summary
	started     bool
	startedAt   time.Time
	tasks       map[taskkey.Key]*task
	queue       []taskkey.Key
	running     map[taskkey.Key]*encoder.Handle
	counts      events.Counts
	reading     *admission.Reading
	lastReason  string
	batchCtx    context.Context
	cancelBatch context.CancelFunc
	live        map[*encoder.Handle]struct{}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy sets the admission policy.
func WithPolicy(p admission.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides batch ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithBaseContext sets the parent context for encoder invocations. Ending it
// stops every encode.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Orchestrator) {
		if ctx != nil {
			o.baseCtx = ctx
		}
	}
}

// New constructs an Orchestrator. A nil sink discards events.
func New(invoker encoder.Invoker, sink events.Sink, logger *slog.Logger, opts ...Option) *Orchestrator {
	if sink == nil {
		sink = events.Discard
	}
	o := &Orchestrator{
		invoker:   invoker,
		sink:      sink,
		logger:    logging.NewComponentLogger(logger, "orchestrator"),
		policy:    admission.Policy{Ceiling: 2},
		now:       time.Now,
		newID:     uuid.NewString,
		baseCtx:   context.Background(),
		lifecycle: LifecycleUninitialized,
		tasks:     make(map[taskkey.Key]*task),
		running:   make(map[taskkey.Key]*encoder.Handle),
		live:      make(map[*encoder.Handle]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitializeBatch plans files x presets and initializes a batch from the
// result. See InitializePlan.
func (o *Orchestrator) InitializeBatch(files []string, presets []preset.Preset, opts plan.Options) (string, error) {
	p, err := plan.Build(files, presets, opts)
	if err != nil {
		return "", err
	}
	return o.InitializePlan(p)
}

// InitializePlan replaces any existing batch with one pending task per plan
// entry and returns the new batch ID. A batch still in flight is torn down
// first, cancelling its encodes. Calling it twice in a row is equivalent to
// Teardown followed by one call.
func (o *Orchestrator) InitializePlan(p plan.Plan) (string, error) {
	if o.invoker == nil {
		return "", services.Wrap(services.ErrConfiguration, "orchestrator", "initialize", "no encoder invoker configured", nil)
	}
	seen := make(map[taskkey.Key]struct{}, p.Len())
	for _, e := range p.Entries {
		if _, dup := seen[e.Key]; dup {
			return "", services.Wrap(ErrKeyCollision, "orchestrator", "initialize", e.Key.String(), nil)
		}
		seen[e.Key] = struct{}{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.lifecycle != LifecycleUninitialized {
		if len(o.running) > 0 {
			logging.WarnWithContext(o.logger, "initializing over a running batch; cancelling its encodes", "batch_replaced",
				logging.String(logging.FieldBatchID, o.current.id),
				logging.Int("running", len(o.running)),
				logging.String(logging.FieldImpact, "in-flight encodes of the previous batch are stopped"),
				logging.String(logging.FieldErrorHint, "tear down the previous batch before starting another"),
			)
		}
		o.teardownLocked()
	}

	o.lifecycle = LifecycleInitializing
	o.generation++
	o.current = &run{id: o.newID(), done: make(chan struct{})}
	o.started = false
	o.startedAt = time.Time{}
	o.tasks = make(map[taskkey.Key]*task, p.Len())
	o.queue = make([]taskkey.Key, 0, p.Len())
	o.running = make(map[taskkey.Key]*encoder.Handle)
	o.counts = events.Counts{Total: p.Len()}
	for _, e := range p.Entries {
		o.tasks[e.Key] = &task{entry: e, status: StatusPending}
		o.queue = append(o.queue, e.Key)
	}
	o.batchCtx, o.cancelBatch = context.WithCancel(services.WithBatchID(o.baseCtx, o.current.id))
	o.lifecycle = LifecycleActive

	o.batchLogger().Info("batch initialized",
		logging.Int("tasks", p.Len()),
		logging.Int("ceiling", o.policy.Ceiling),
	)
	o.publishLocked(events.Event{Kind: events.KindBatchInitialized, Counts: o.countsPtrLocked()})
	return o.current.id, nil
}

// Run starts admitting tasks. It returns immediately; encodes proceed in the
// background and completion is observed through events, Done, or Wait.
func (o *Orchestrator) Run() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lifecycle != LifecycleActive {
		return &StateError{Op: "run", Lifecycle: o.lifecycle}
	}
	if o.started {
		return nil
	}
	o.started = true
	o.startedAt = o.now()
	o.fillLocked()
	o.checkCompleteLocked()
	return nil
}

// Cancel stops the active batch. Pending tasks become cancelled without
// starting; running encodes are asked to stop and finish through the normal
// completion path. When the last one reports, the batch moves to
// tearing_down and the batch-complete event fires.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lifecycle != LifecycleActive {
		return &StateError{Op: "cancel", Lifecycle: o.lifecycle}
	}
	o.lifecycle = LifecycleCancelling
	o.batchLogger().Info("batch cancelling",
		logging.Int("running", len(o.running)),
		logging.Int("pending", len(o.queue)),
	)
	o.publishLocked(events.Event{Kind: events.KindBatchCancelling, Counts: o.countsPtrLocked()})

	now := o.now()
	for len(o.queue) > 0 {
		t := o.tasks[o.queue[0]]
		o.queue = o.queue[1:]
		t.status = StatusCancelled
		t.finishedAt = now
		o.counts.Cancelled++
		o.publishTaskCompletedLocked(t)
	}
	for _, h := range o.running {
		h.Cancel()
	}
	o.checkCompleteLocked()
	return nil
}

// Teardown clears the batch. From active or cancelling it first cancels any
// running encodes; their late events are discarded. From uninitialized it is
// a no-op. Encoder processes may still be exiting when Teardown returns; use
// WaitIdle to await them.
func (o *Orchestrator) Teardown() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lifecycle == LifecycleUninitialized {
		return nil
	}
	o.teardownLocked()
	return nil
}

// teardownLocked raises the cleanup flag before touching any task so a
// racing event sees the discard condition, clears state, then lowers it.
func (o *Orchestrator) teardownLocked() {
	o.cleaningUp = true
	prev := o.lifecycle
	cur := o.current
	if cur != nil && !isClosed(cur.done) {
		cur.summary = o.summaryLocked()
		cur.summary.TornDown = true
		o.rememberLocked(cur.summary)
		close(cur.done)
	}
	o.lifecycle = LifecycleTearingDown
	o.generation++

	for _, h := range o.running {
		h.Cancel()
	}
	if o.cancelBatch != nil {
		o.cancelBatch()
	}
	batchID := ""
	if cur != nil {
		batchID = cur.id
	}

	o.tasks = make(map[taskkey.Key]*task)
	o.queue = nil
	o.running = make(map[taskkey.Key]*encoder.Handle)
	o.counts = events.Counts{}
	o.started = false
	o.startedAt = time.Time{}
	o.current = nil
	o.batchCtx, o.cancelBatch = nil, nil

	o.lifecycle = LifecycleUninitialized
	o.cleaningUp = false

	o.logger.Info("batch torn down",
		logging.String(logging.FieldBatchID, batchID),
		logging.String("previous_lifecycle", string(prev)),
	)
	o.sink.Publish(events.Event{Kind: events.KindBatchTornDown, BatchID: batchID, Timestamp: o.now().UTC()})
}

// UpdateTelemetry records a reading and re-runs admission, which may start
// more tasks when pressure drops.
func (o *Orchestrator) UpdateTelemetry(r admission.Reading) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reading = &r
	o.fillLocked()
	o.checkCompleteLocked()
}

// LastSummary returns the summary of the most recently finished batch,
// whether it completed or was torn down.
func (o *Orchestrator) LastSummary() (Summary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Summary{}, false
	}
	return *o.last, true
}

// Summary returns the summary of a recently finished batch by id. Only the
// last recentSummaries batches are kept.
func (o *Orchestrator) Summary(batchID string) (Summary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.recent) - 1; i >= 0; i-- {
		if o.recent[i].BatchID == batchID {
			return o.recent[i], true
		}
	}
	return Summary{}, false
}

const recentSummaries = 8

func (o *Orchestrator) rememberLocked(summary Summary) {
	o.last = &summary
	o.recent = append(o.recent, summary)
	if len(o.recent) > recentSummaries {
		o.recent = append(o.recent[:0], o.recent[len(o.recent)-recentSummaries:]...)
	}
}

// Lifecycle returns the current lifecycle.
func (o *Orchestrator) Lifecycle() Lifecycle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lifecycle
}

// Done returns a channel closed when the current batch completes or is torn
// down. With no batch the returned channel is already closed.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.current.done
}

// Wait blocks until the current batch completes and returns its summary.
func (o *Orchestrator) Wait(ctx context.Context) (Summary, error) {
	o.mu.Lock()
	cur := o.current
	lc := o.lifecycle
	o.mu.Unlock()
	if cur == nil {
		return Summary{}, &StateError{Op: "wait", Lifecycle: lc}
	}
	select {
	case <-cur.done:
		return cur.summary, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

// WaitIdle blocks until every encoder handle ever started by this
// orchestrator, including those from torn-down batches, has closed.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.mu.Lock()
	handles := make([]*encoder.Handle, 0, len(o.live))
	for h := range o.live {
		handles = append(handles, h)
	}
	o.mu.Unlock()
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Snapshot returns a deep copy of the current state with tasks sorted by key.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	ceiling, reason := admission.EffectiveCeiling(o.policy, o.reading)
	snap := Snapshot{
		Generation: o.generation,
		Lifecycle:  o.lifecycle,
		Started:    o.started,
		Counts:     o.countsLocked(),
		Percent:    o.percentLocked(),
		Ceiling:    ceiling,
		Reason:     reason,
		StartedAt:  o.startedAt,
		Tasks:      o.tasksLocked(),
	}
	if o.current != nil {
		snap.BatchID = o.current.id
	}
	if o.reading != nil {
		r := *o.reading
		snap.Reading = &r
	}
	return snap
}

func (o *Orchestrator) tasksLocked() []Task {
	out := make([]Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (o *Orchestrator) countsLocked() events.Counts {
	c := o.counts
	c.Running = len(o.running)
	c.Pending = len(o.queue)
	return c
}

func (o *Orchestrator) countsPtrLocked() *events.Counts {
	c := o.countsLocked()
	return &c
}

// percentLocked is the continuous aggregate: running progress plus 100 per
// completed task, over the total.
func (o *Orchestrator) percentLocked() float64 {
	if o.counts.Total == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range o.tasks {
		switch t.status {
		case StatusRunning:
			sum += t.progress
		case StatusCompleted:
			sum += 100
		}
	}
	return sum / float64(o.counts.Total)
}

func (o *Orchestrator) summaryLocked() Summary {
	s := Summary{
		StartedAt:  o.startedAt,
		FinishedAt: o.now(),
		Counts:     o.countsLocked(),
		Cancelled:  o.lifecycle == LifecycleCancelling,
		Tasks:      o.tasksLocked(),
	}
	if o.current != nil {
		s.BatchID = o.current.id
	}
	return s
}

func (o *Orchestrator) batchLogger() *slog.Logger {
	if o.current == nil {
		return o.logger
	}
	return o.logger.With(logging.String(logging.FieldBatchID, o.current.id))
}

func (o *Orchestrator) publishLocked(evt events.Event) {
	if o.current != nil && evt.BatchID == "" {
		evt.BatchID = o.current.id
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = o.now().UTC()
	}
	o.sink.Publish(evt)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
