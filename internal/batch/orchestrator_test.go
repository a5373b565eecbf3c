package batch

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crunch/internal/admission"
	"crunch/internal/conflict"
	"crunch/internal/encoder"
	"crunch/internal/events"
	"crunch/internal/plan"
	"crunch/internal/preset"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

func TestTwoFilesBothSucceed(t *testing.T) {
	h := newHarness(t, 2)
	files := h.files("a.mov", "b.mov")
	h.init(files, presetSmall)

	snap := h.orch.Snapshot()
	if snap.Counts.Total != 2 || snap.Counts.Pending != 2 || snap.Lifecycle != LifecycleActive {
		t.Fatalf("unexpected initial snapshot %+v", snap)
	}
	if err := h.orch.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, key := range h.waitInvoked(2) {
		h.fake.Succeed(key)
	}
	summary := h.wait()
	if summary.Counts.Completed != 2 || summary.Counts.Failed != 0 {
		t.Fatalf("unexpected summary counts %+v", summary.Counts)
	}
	if got := h.countEvents(events.KindBatchCompleted); got != 1 {
		t.Fatalf("batch_completed fired %d times, want 1", got)
	}
	if lc := h.orch.Lifecycle(); lc != LifecycleCompleted {
		t.Fatalf("lifecycle = %s, want completed", lc)
	}
	for _, task := range summary.Tasks {
		if task.Status != StatusCompleted || task.Progress != 100 || task.OutputPath != task.PlannedPath {
			t.Fatalf("unexpected task %+v", task)
		}
	}
}

func TestCeilingBoundsRunningTasks(t *testing.T) {
	h := newHarness(t, 2)
	h.init(h.files("a.mov", "b.mov", "c.mov"), presetSmall, presetHEVC)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}

	remaining := 6
	pending := h.waitInvoked(2)
	for remaining > 0 {
		snap := h.orch.Snapshot()
		if snap.Counts.Running > 2 {
			t.Fatalf("%d tasks running with ceiling 2", snap.Counts.Running)
		}
		checkCounters(t, snap)

		key := pending[0]
		pending = pending[1:]
		h.fake.Succeed(key)
		remaining--
		if remaining >= 2 {
			pending = append(pending, h.waitInvoked(1)...)
		}
	}
	summary := h.wait()
	if summary.Counts.Completed != 6 {
		t.Fatalf("expected 6 completed, got %+v", summary.Counts)
	}
	if maxActive := h.fake.MaxActive(); maxActive > 2 {
		t.Fatalf("encoder saw %d concurrent encodes with ceiling 2", maxActive)
	}
}

// stubbornInvoker ignores cancellation and emits whatever the test pushes,
// reproducing an encoder whose events land after teardown.
type stubbornInvoker struct {
	mu    sync.Mutex
	feeds map[taskkey.Key]chan encoder.Event
}

func newStubbornInvoker() *stubbornInvoker {
	return &stubbornInvoker{feeds: make(map[taskkey.Key]chan encoder.Event)}
}

func (s *stubbornInvoker) Invoke(_ context.Context, req encoder.Request) *encoder.Handle {
	feed := make(chan encoder.Event, 8)
	s.mu.Lock()
	s.feeds[req.Key] = feed
	s.mu.Unlock()
	return encoder.Start(context.Background(), req.Key, func(_ context.Context, progress func(float64)) (string, error) {
		for ev := range feed {
			switch ev.Kind {
			case encoder.EventProgress:
				progress(ev.Percent)
			case encoder.EventSucceeded:
				return req.OutputPath, nil
			case encoder.EventFailed:
				return "", ev.Err
			}
		}
		return "", errors.New("feed closed")
	})
}

func (s *stubbornInvoker) push(key taskkey.Key, ev encoder.Event) bool {
	s.mu.Lock()
	feed, ok := s.feeds[key]
	s.mu.Unlock()
	if ok {
		feed <- ev
	}
	return ok
}

func (s *stubbornInvoker) started() []taskkey.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]taskkey.Key, 0, len(s.feeds))
	for k := range s.feeds {
		keys = append(keys, k)
	}
	return keys
}

func TestLateEventsAfterTeardownAreDiscarded(t *testing.T) {
	inv := newStubbornInvoker()
	hub := events.NewHub(1024)
	orch := New(inv, hub, nil, WithPolicy(admission.Policy{Ceiling: 2}))
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.mov"), filepath.Join(dir, "b.mov"), filepath.Join(dir, "c.mov")}
	if _, err := orch.InitializeBatch(files, []preset.Preset{presetSmall}, plan.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(); err != nil {
		t.Fatal(err)
	}
	running := inv.started()
	if len(running) != 2 {
		t.Fatalf("expected 2 running tasks, got %v", running)
	}

	if err := orch.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	_, tornDownSeq := hub.Tail(1)

	time.Sleep(50 * time.Millisecond)
	inv.push(running[0], encoder.Event{Kind: encoder.EventProgress, Percent: 50})
	inv.push(running[1], encoder.Event{Kind: encoder.EventSucceeded})
	time.Sleep(50 * time.Millisecond)

	snap := orch.Snapshot()
	if snap.Lifecycle != LifecycleUninitialized || len(snap.Tasks) != 0 || snap.Counts != (events.Counts{}) {
		t.Fatalf("expected fully cleared state, got %+v", snap)
	}
	late, _, _ := hub.Fetch(context.Background(), tornDownSeq, 0, false)
	if len(late) != 0 {
		t.Fatalf("late events leaked to the sink: %+v", late)
	}
	inv.push(running[0], encoder.Event{Kind: encoder.EventSucceeded})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

// A completion from the previous batch that lands after a new batch with the
// same task keys has started must not touch the new batch.
func TestLateEventsDoNotLeakIntoNextBatch(t *testing.T) {
	inv := newStubbornInvoker()
	orch := New(inv, nil, nil, WithPolicy(admission.Policy{Ceiling: 1}))
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.mov")}
	if _, err := orch.InitializeBatch(files, []preset.Preset{presetSmall}, plan.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(); err != nil {
		t.Fatal(err)
	}
	key := taskkey.New(files[0], presetSmall.ID)
	inv.mu.Lock()
	oldFeed := inv.feeds[key]
	inv.mu.Unlock()

	if err := orch.Teardown(); err != nil {
		t.Fatal(err)
	}
	if _, err := orch.InitializeBatch(files, []preset.Preset{presetSmall}, plan.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(); err != nil {
		t.Fatal(err)
	}

	oldFeed <- encoder.Event{Kind: encoder.EventSucceeded}
	time.Sleep(50 * time.Millisecond)

	snap := orch.Snapshot()
	task, ok := taskByKey(snap, key)
	if !ok || task.Status != StatusRunning || snap.Counts.Completed != 0 {
		t.Fatalf("stale completion leaked into the new batch: %+v", snap)
	}
	inv.push(key, encoder.Event{Kind: encoder.EventSucceeded})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := orch.Wait(ctx)
	if err != nil || summary.Counts.Completed != 1 {
		t.Fatalf("expected new batch to complete once, got %+v err=%v", summary.Counts, err)
	}
}

func TestReinitializeIsIdempotent(t *testing.T) {
	h := newHarness(t, 2)
	files := h.files("a.mov", "b.mov")

	h.init(files, presetSmall, presetHEVC)
	h.init(files, presetSmall, presetHEVC)
	twice := h.orch.Snapshot()

	if err := h.orch.Teardown(); err != nil {
		t.Fatal(err)
	}
	h.init(files, presetSmall, presetHEVC)
	once := h.orch.Snapshot()

	if twice.Counts != once.Counts {
		t.Fatalf("counts differ: twice=%+v once=%+v", twice.Counts, once.Counts)
	}
	if len(twice.Tasks) != len(once.Tasks) {
		t.Fatalf("task counts differ: %d vs %d", len(twice.Tasks), len(once.Tasks))
	}
	for i := range once.Tasks {
		a, b := twice.Tasks[i], once.Tasks[i]
		if a.Key != b.Key || a.Status != b.Status || a.Progress != b.Progress || a.PlannedPath != b.PlannedPath {
			t.Fatalf("task %d differs: %+v vs %+v", i, a, b)
		}
	}
	if once.Counts.Total != 4 || once.Counts.Pending != 4 {
		t.Fatalf("unexpected counts %+v", once.Counts)
	}
}

func TestReinitializeCancelsRunningEncodes(t *testing.T) {
	h := newHarness(t, 2)
	files := h.files("a.mov")
	h.init(files, presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	key := h.waitInvoked(1)[0]
	old := h.fake.Handle(key)

	h.init(files, presetSmall)
	select {
	case <-old.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("previous batch encode was not cancelled")
	}
	snap := h.orch.Snapshot()
	if snap.Counts.Pending != 1 || snap.Counts.Cancelled != 0 {
		t.Fatalf("new batch should start clean, got %+v", snap.Counts)
	}
}

func TestSkippingConflictsShrinksBatch(t *testing.T) {
	h := newHarness(t, 2)
	files := h.files("a.mov", "b.mov", "c.mov")
	p, err := plan.Build(files, []preset.Preset{presetSmall}, plan.Options{KeepAudio: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range p.Entries[:2] {
		if err := os.MkdirAll(filepath.Dir(e.OutputPath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(e.OutputPath, []byte("old"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	resolver, err := conflict.NewResolver(nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer resolver.Release()
	conflicts, err := resolver.FindConflicts(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("expected 2 conflicts, got %+v", conflicts)
	}
	trimmed, _, err := conflict.Apply(p, conflicts, conflict.SkipAll(conflicts))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.InitializePlan(trimmed); err != nil {
		t.Fatal(err)
	}
	if total := h.orch.Snapshot().Counts.Total; total != p.Len()-2 {
		t.Fatalf("totalCount = %d, want %d", total, p.Len()-2)
	}
}

func TestConflictDispositions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mov")
	if err := os.WriteFile(src, []byte("src"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := plan.Build([]string{src}, []preset.Preset{presetSmall}, plan.Options{KeepAudio: true})
	if err != nil {
		t.Fatal(err)
	}
	existing := p.Entries[0].OutputPath
	if err := os.MkdirAll(filepath.Dir(existing), 0o755); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var invoked []taskkey.Key
	writer := encoder.InvokerFunc(func(ctx context.Context, req encoder.Request) *encoder.Handle {
		mu.Lock()
		invoked = append(invoked, req.Key)
		mu.Unlock()
		return encoder.Start(ctx, req.Key, func(context.Context, func(float64)) (string, error) {
			return req.OutputPath, os.WriteFile(req.OutputPath, []byte("new"), 0o644)
		})
	})

	for _, tc := range []struct {
		disposition conflict.Disposition
		wantContent string
		wantInvoked int
	}{
		{conflict.Overwrite, "new", 1},
		{conflict.Skip, "old", 0},
	} {
		t.Run(string(tc.disposition), func(t *testing.T) {
			if err := os.WriteFile(existing, []byte("old"), 0o644); err != nil {
				t.Fatal(err)
			}
			mu.Lock()
			invoked = nil
			mu.Unlock()

			resolver, err := conflict.NewResolver(nil, 1)
			if err != nil {
				t.Fatal(err)
			}
			defer resolver.Release()
			conflicts, err := resolver.FindConflicts(context.Background(), p)
			if err != nil || len(conflicts) != 1 {
				t.Fatalf("expected exactly one conflict, got %v err=%v", conflicts, err)
			}
			decided, _, err := conflict.Apply(p, conflicts, conflict.Decisions{conflicts[0].Key: tc.disposition})
			if err != nil {
				t.Fatal(err)
			}

			orch := New(writer, nil, nil)
			if _, err := orch.InitializePlan(decided); err != nil {
				t.Fatal(err)
			}
			if err := orch.Run(); err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := orch.Wait(ctx); err != nil {
				t.Fatal(err)
			}
			data, _ := os.ReadFile(existing)
			if string(data) != tc.wantContent {
				t.Fatalf("existing file content = %q, want %q", data, tc.wantContent)
			}
			mu.Lock()
			defer mu.Unlock()
			if len(invoked) != tc.wantInvoked {
				t.Fatalf("invoked %d encodes, want %d", len(invoked), tc.wantInvoked)
			}
		})
	}
}

func TestCancelLeavesNoTaskUnfinished(t *testing.T) {
	h := newHarness(t, 2)
	h.init(h.files("a.mov", "b.mov", "c.mov"), presetSmall, presetHEVC)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	running := h.waitInvoked(2)
	h.fake.Progress(running[0], 30)

	if err := h.orch.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	snap := h.orch.Snapshot()
	if snap.Lifecycle != LifecycleCancelling && snap.Lifecycle != LifecycleTearingDown {
		t.Fatalf("unexpected lifecycle after cancel: %s", snap.Lifecycle)
	}
	if snap.Counts.Pending != 0 || snap.Counts.Cancelled < 4 {
		t.Fatalf("pending tasks should be cancelled immediately, got %+v", snap.Counts)
	}
	checkCounters(t, snap)

	summary := h.wait()
	for _, task := range summary.Tasks {
		if !task.Status.Terminal() {
			t.Fatalf("task %s left in %s", task.Key, task.Status)
		}
	}
	if !summary.Cancelled || summary.Counts.Cancelled != 6 {
		t.Fatalf("expected all 6 cancelled, got %+v", summary.Counts)
	}
	if lc := h.orch.Lifecycle(); lc != LifecycleTearingDown {
		t.Fatalf("lifecycle = %s, want tearing_down", lc)
	}
	if got := len(h.fake.Invoked()); got != 2 {
		t.Fatalf("cancelled pending tasks must never spawn; %d encodes started", got)
	}
	if err := h.orch.Teardown(); err != nil {
		t.Fatal(err)
	}
	if lc := h.orch.Lifecycle(); lc != LifecycleUninitialized {
		t.Fatalf("lifecycle after teardown = %s", lc)
	}
}

func TestCompletionDuringCancelStillCounts(t *testing.T) {
	inv := newStubbornInvoker()
	orch := New(inv, nil, nil, WithPolicy(admission.Policy{Ceiling: 2}))
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.mov"), filepath.Join(dir, "b.mov")}
	if _, err := orch.InitializeBatch(files, []preset.Preset{presetSmall}, plan.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := orch.Run(); err != nil {
		t.Fatal(err)
	}
	keys := inv.started()
	if err := orch.Cancel(); err != nil {
		t.Fatal(err)
	}
	inv.push(keys[0], encoder.Event{Kind: encoder.EventSucceeded})
	inv.push(keys[1], encoder.Event{Kind: encoder.EventFailed, Err: services.Wrap(services.ErrCancelled, "test", "cancel", "", nil)})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := orch.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Counts.Completed != 1 || summary.Counts.Cancelled != 1 {
		t.Fatalf("unexpected counts %+v", summary.Counts)
	}
}

func TestInvalidOperationsAreRejected(t *testing.T) {
	h := newHarness(t, 1)
	if err := h.orch.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Cancel on uninitialized: %v", err)
	}
	if err := h.orch.Run(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Run on uninitialized: %v", err)
	}
	if _, err := h.orch.Wait(context.Background()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("Wait on uninitialized: %v", err)
	}
	if err := h.orch.Teardown(); err != nil {
		t.Fatalf("Teardown on uninitialized should be a no-op: %v", err)
	}

	h.init(h.files("a.mov"), presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Run(); err != nil {
		t.Fatalf("second Run should be a no-op: %v", err)
	}
	h.fake.Succeed(h.waitInvoked(1)[0])
	h.wait()

	var stateErr *StateError
	if err := h.orch.Cancel(); !errors.As(err, &stateErr) || stateErr.Lifecycle != LifecycleCompleted {
		t.Fatalf("Cancel after completion: %v", err)
	}
	before := h.orch.Snapshot()
	if err := h.orch.Run(); err == nil {
		t.Fatal("Run after completion should fail")
	}
	if after := h.orch.Snapshot(); after.Counts != before.Counts || after.Lifecycle != before.Lifecycle {
		t.Fatalf("rejected operation mutated state: %+v -> %+v", before, after)
	}
}

func TestKeyCollisionRejected(t *testing.T) {
	h := newHarness(t, 1)
	for _, sub := range []string{"x", "y"} {
		if err := os.MkdirAll(filepath.Join(h.dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	files := []string{filepath.Join(h.dir, "x", "a.mov"), filepath.Join(h.dir, "y", "a.mov")}
	_, err := h.orch.InitializeBatch(files, []preset.Preset{presetSmall}, plan.Options{})
	if !errors.Is(err, ErrKeyCollision) {
		t.Fatalf("expected key collision, got %v", err)
	}
	if h.orch.Lifecycle() != LifecycleUninitialized {
		t.Fatal("rejected init must not change lifecycle")
	}
}

func TestAggregateProgress(t *testing.T) {
	h := newHarness(t, 2)
	h.init(h.files("a.mov", "b.mov"), presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	keys := h.waitInvoked(2)
	h.fake.Progress(keys[0], 50)
	h.waitFor("25% aggregate", func(s Snapshot) bool { return s.Percent == 25 })

	h.fake.Progress(keys[0], 40)
	h.fake.Succeed(keys[0])
	snap := h.waitFor("first task done", func(s Snapshot) bool { return s.Counts.Completed == 1 })
	if snap.Percent != 50 {
		t.Fatalf("aggregate = %v, want 50", snap.Percent)
	}
	h.fake.Progress(keys[1], 20)
	snap = h.waitFor("60% aggregate", func(s Snapshot) bool { return s.Percent == 60 })
	if task, _ := taskByKey(snap, keys[0]); task.Progress != 100 {
		t.Fatalf("completed task progress = %v, want 100", task.Progress)
	}
	h.fake.Fail(keys[1], errors.New("corrupt input"))
	summary := h.wait()
	if summary.Counts.Failed != 1 || summary.Counts.Completed != 1 {
		t.Fatalf("unexpected counts %+v", summary.Counts)
	}
	failed, _ := taskByKey(Snapshot{Tasks: summary.Tasks}, keys[1])
	if failed.Error == "" || failed.OutputPath != "" {
		t.Fatalf("failed task should carry error and no output: %+v", failed)
	}
}

func TestTelemetryReducesAdmission(t *testing.T) {
	h := newHarness(t, 3)
	h.orch.policy = admission.Policy{Ceiling: 3, Adaptive: true, CPUThreshold: 80}
	h.orch.UpdateTelemetry(admission.Reading{Thermal: admission.PressureSerious})
	h.init(h.files("a.mov", "b.mov", "c.mov"), presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	first := h.waitInvoked(1)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.fake.Invoked()); n != 1 {
		t.Fatalf("serious pressure should admit one task, got %d", n)
	}
	h.orch.UpdateTelemetry(admission.Reading{Thermal: admission.PressureNominal})
	rest := h.waitInvoked(2)
	if snap := h.orch.Snapshot(); snap.Counts.Running != 3 || snap.Ceiling != 3 {
		t.Fatalf("expected full ceiling after recovery, got %+v", snap)
	}
	for _, key := range append(first, rest...) {
		h.fake.Succeed(key)
	}
	h.wait()
}

func TestPauseOnOverheatHoldsQueue(t *testing.T) {
	h := newHarness(t, 2)
	h.orch.policy = admission.Policy{Ceiling: 2, Adaptive: true, PauseOnOverheat: true}
	h.orch.UpdateTelemetry(admission.Reading{Thermal: admission.PressureCritical})
	h.init(h.files("a.mov"), presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(h.fake.Invoked()); n != 0 {
		t.Fatalf("critical pressure with pause should admit nothing, got %d", n)
	}
	h.orch.UpdateTelemetry(admission.Reading{Thermal: admission.PressureFair})
	h.fake.Succeed(h.waitInvoked(1)[0])
	h.wait()
}

func TestEmptyPlanCompletesOnRun(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.orch.InitializePlan(plan.Plan{}); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	summary := h.wait()
	if summary.Counts.Total != 0 || h.countEvents(events.KindBatchCompleted) != 1 {
		t.Fatalf("empty batch should complete immediately: %+v", summary)
	}
}

func TestSummaryByIDOutlivesLaterBatches(t *testing.T) {
	h := newHarness(t, 1)
	first := h.init(h.files("a.mov"), presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	h.fake.Succeed(h.waitInvoked(1)[0])
	h.wait()

	second, err := h.orch.InitializePlan(plan.Plan{})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	h.wait()

	if last, _ := h.orch.LastSummary(); last.BatchID != second {
		t.Fatalf("LastSummary = %s, want %s", last.BatchID, second)
	}
	got, ok := h.orch.Summary(first)
	if !ok || got.BatchID != first || got.Counts.Completed != 1 {
		t.Fatalf("Summary(%s) = %+v, %v", first, got, ok)
	}
	if _, ok := h.orch.Summary("missing"); ok {
		t.Fatal("unknown batch id should not resolve")
	}
}

func TestTeardownReleasesWaiters(t *testing.T) {
	h := newHarness(t, 1)
	h.init(h.files("a.mov"), presetSmall)
	if err := h.orch.Run(); err != nil {
		t.Fatal(err)
	}
	h.waitInvoked(1)
	done := h.orch.Done()
	result := make(chan Summary, 1)
	go func() {
		s, _ := h.orch.Wait(context.Background())
		result <- s
	}()
	time.Sleep(10 * time.Millisecond)
	if err := h.orch.Teardown(); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-result:
		if !s.TornDown {
			t.Fatalf("expected torn-down summary, got %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait not released by teardown")
	}
	<-done
	if h.countEvents(events.KindBatchCompleted) != 0 {
		t.Fatal("forced teardown must not report completion")
	}
}

// Random interleavings of progress, success, failure, and cancel must keep
// counters consistent and task progress monotonic.
func TestRandomizedInterleavingsKeepInvariants(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewPCG(seed, seed*7))
		h := newHarness(t, 3)
		h.init(h.files("a.mov", "b.mov", "c.mov", "d.mov"), presetSmall, presetHEVC)
		if err := h.orch.Run(); err != nil {
			t.Fatal(err)
		}
		active := h.waitInvoked(3)
		lastProgress := map[taskkey.Key]float64{}
		cancelled := false

		for step := 0; len(active) > 0 && step < 200; step++ {
			idx := rng.IntN(len(active))
			key := active[idx]
			switch op := rng.IntN(10); {
			case op < 6:
				h.fake.Progress(key, lastProgress[key]+float64(rng.IntN(20)+1))
			case op < 8:
				h.fake.Succeed(key)
			case op < 9:
				h.fake.Fail(key, errors.New("boom"))
			default:
				if !cancelled {
					cancelled = h.orch.Cancel() == nil
				}
			}
			snap := h.orch.Snapshot()
			checkCounters(t, snap)
			for _, task := range snap.Tasks {
				if task.Status == StatusRunning && task.Progress < lastProgress[task.Key] {
					t.Fatalf("seed %d: progress regressed for %s", seed, task.Key)
				}
				if task.Status == StatusCompleted && task.Progress != 100 {
					t.Fatalf("seed %d: completed task at %v", seed, task.Progress)
				}
				lastProgress[task.Key] = task.Progress
			}

			active = active[:0]
			for _, task := range snap.Tasks {
				if task.Status == StatusRunning {
					active = append(active, task.Key)
				}
			}
			if len(active) == 0 && snap.Counts.Pending > 0 {
				active = h.waitInvoked(1)
			}
		}
		summary := h.wait()
		for _, task := range summary.Tasks {
			if !task.Status.Terminal() {
				t.Fatalf("seed %d: task %s ended %s", seed, task.Key, task.Status)
			}
		}
	}
}
