package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crunch/internal/admission"
	"crunch/internal/encoder/encodertest"
	"crunch/internal/events"
	"crunch/internal/plan"
	"crunch/internal/preset"
	"crunch/internal/taskkey"
)

var (
	presetSmall = preset.Preset{ID: "small", Folder: "small", Suffix: "_small", Extension: "mp4", Backend: preset.BackendFFmpeg}
	presetHEVC  = preset.Preset{ID: "hevc", Folder: "hevc", Suffix: "_hevc", Extension: "mkv", Backend: preset.BackendFFmpeg}
)

type harness struct {
	t    *testing.T
	orch *Orchestrator
	fake *encodertest.Invoker
	hub  *events.Hub
	dir  string
}

func newHarness(t *testing.T, ceiling int, opts ...Option) *harness {
	t.Helper()
	fake := encodertest.NewInvoker()
	hub := events.NewHub(4096)
	opts = append([]Option{WithPolicy(admission.Policy{Ceiling: ceiling})}, opts...)
	orch := New(fake, hub, nil, opts...)
	t.Cleanup(func() {
		_ = orch.Teardown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.WaitIdle(ctx)
	})
	return &harness{t: t, orch: orch, fake: fake, hub: hub, dir: t.TempDir()}
}

func (h *harness) files(names ...string) []string {
	h.t.Helper()
	out := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(h.dir, name)
		if err := os.WriteFile(path, []byte("src"), 0o644); err != nil {
			h.t.Fatal(err)
		}
		out = append(out, path)
	}
	return out
}

func (h *harness) init(files []string, presets ...preset.Preset) string {
	h.t.Helper()
	id, err := h.orch.InitializeBatch(files, presets, plan.Options{KeepAudio: true})
	if err != nil {
		h.t.Fatalf("InitializeBatch: %v", err)
	}
	return id
}

func (h *harness) waitInvoked(n int) []taskkey.Key {
	h.t.Helper()
	keys, err := h.fake.WaitInvoked(n, 5*time.Second)
	if err != nil {
		h.t.Fatal(err)
	}
	return keys
}

func (h *harness) waitFor(desc string, cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := h.orch.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s; snapshot=%+v", desc, snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) wait() Summary {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	summary, err := h.orch.Wait(ctx)
	if err != nil {
		h.t.Fatalf("Wait: %v", err)
	}
	return summary
}

func (h *harness) countEvents(kind events.Kind) int {
	evts, _ := h.hub.Tail(0)
	n := 0
	for _, e := range evts {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func taskByKey(snap Snapshot, key taskkey.Key) (Task, bool) {
	for _, t := range snap.Tasks {
		if t.Key == key {
			return t, true
		}
	}
	return Task{}, false
}

// checkCounters asserts terminal counters plus pending and running tasks
// account for every task.
func checkCounters(t *testing.T, snap Snapshot) {
	t.Helper()
	c := snap.Counts
	active := 0
	byStatus := map[Status]int{}
	for _, task := range snap.Tasks {
		byStatus[task.Status]++
		if task.Status == StatusPending || task.Status == StatusRunning {
			active++
		}
	}
	if c.Completed+c.Failed+c.Cancelled+active != c.Total {
		t.Fatalf("counter mismatch: %+v with %d active tasks", c, active)
	}
	if byStatus[StatusCompleted] != c.Completed || byStatus[StatusFailed] != c.Failed || byStatus[StatusCancelled] != c.Cancelled {
		t.Fatalf("counters %+v disagree with task statuses %v", c, byStatus)
	}
	if byStatus[StatusPending] != c.Pending || byStatus[StatusRunning] != c.Running {
		t.Fatalf("pending/running counters %+v disagree with task statuses %v", c, byStatus)
	}
}
