// Package conflict finds planned outputs that already exist on disk and
// applies the user's overwrite or skip decisions to a plan.
//
// Existence probes fan out over an ants worker pool so large batches on slow
// network mounts do not probe serially. A probe that errors is treated as
// "no conflict" and logged; the encode will then replace whatever is there.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"crunch/internal/fileutil"
	"crunch/internal/logging"
	"crunch/internal/plan"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

// Disposition is the user's decision for one conflict.
type Disposition string

const (
	Overwrite Disposition = "overwrite"
	Skip      Disposition = "skip"
)

// ParseDisposition accepts "overwrite" or "skip".
func ParseDisposition(value string) (Disposition, error) {
	switch Disposition(value) {
	case Overwrite, Skip:
		return Disposition(value), nil
	}
	return "", services.Wrap(services.ErrValidation, "conflict", "parse disposition", fmt.Sprintf("unknown disposition %q", value), nil)
}

// Entry is a planned output that already exists.
type Entry struct {
	Key          taskkey.Key `json:"key"`
	SourcePath   string      `json:"source_path"`
	OutputPath   string      `json:"output_path"`
	ExistingName string      `json:"existing_name"`
}

// ExistsFunc reports whether path exists.
type ExistsFunc func(path string) (bool, error)

// Resolver probes planned outputs.
type Resolver struct {
	pool   *ants.Pool
	exists ExistsFunc
	logger *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithExists replaces the filesystem probe.
func WithExists(fn ExistsFunc) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.exists = fn
		}
	}
}

// NewResolver builds a resolver probing with up to workers goroutines.
func NewResolver(logger *slog.Logger, workers int, opts ...Option) (*Resolver, error) {
	if workers <= 0 {
		workers = 8
	}
	r := &Resolver{
		exists: fileutil.Exists,
		logger: logging.NewComponentLogger(logger, "conflict"),
	}
	pool, err := ants.NewPool(workers, ants.WithOptions(ants.Options{
		ExpiryDuration: 30 * time.Second,
		Nonblocking:    false,
		PanicHandler: func(p any) {
			r.logger.Error("conflict probe panicked", logging.Any("panic", p))
		},
	}))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "conflict", "create pool", "", err)
	}
	r.pool = pool
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Release stops the worker pool.
func (r *Resolver) Release() {
	if r != nil && r.pool != nil {
		r.pool.Release()
	}
}

// FindConflicts returns one entry per planned output that exists, sorted by
// key. Only context cancellation aborts the scan.
func (r *Resolver) FindConflicts(ctx context.Context, p plan.Plan) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	found := make([]bool, len(p.Entries))
	var wg sync.WaitGroup
	for i := range p.Entries {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		idx := i
		probe := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			found[idx] = r.probe(ctx, p.Entries[idx])
		}
		wg.Add(1)
		if err := r.pool.Submit(probe); err != nil {
			probe()
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conflicts []Entry
	for i, hit := range found {
		if !hit {
			continue
		}
		e := p.Entries[i]
		conflicts = append(conflicts, Entry{
			Key:          e.Key,
			SourcePath:   e.SourcePath,
			OutputPath:   e.OutputPath,
			ExistingName: describe(e.OutputPath),
		})
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Key < conflicts[j].Key })
	if len(conflicts) > 0 {
		r.logger.Info("existing outputs found", logging.Int("conflicts", len(conflicts)), logging.Int("planned", p.Len()))
	}
	return conflicts, nil
}

func (r *Resolver) probe(ctx context.Context, e plan.Entry) bool {
	ok, err := r.exists(e.OutputPath)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.logger), "output probe failed; assuming no conflict", "conflict_probe_failed",
			logging.String(logging.FieldTaskKey, e.Key.String()),
			logging.String("output", e.OutputPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the output directory"),
			logging.String(logging.FieldImpact, "an existing file at this path will be overwritten without confirmation"),
		)
		return false
	}
	return ok
}

func describe(path string) string {
	return filepath.Join(filepath.Base(filepath.Dir(path)), filepath.Base(path))
}

// Decisions maps conflicting keys to dispositions.
type Decisions map[taskkey.Key]Disposition

// ReplaceAll marks every conflict Overwrite.
func ReplaceAll(conflicts []Entry) Decisions {
	return uniform(conflicts, Overwrite)
}

// SkipAll marks every conflict Skip.
func SkipAll(conflicts []Entry) Decisions {
	return uniform(conflicts, Skip)
}

func uniform(conflicts []Entry, d Disposition) Decisions {
	out := make(Decisions, len(conflicts))
	for _, c := range conflicts {
		out[c.Key] = d
	}
	return out
}

// Apply removes skipped entries from p. Every conflict needs a decision;
// decisions for keys that did not conflict are ignored.
func Apply(p plan.Plan, conflicts []Entry, decisions Decisions) (plan.Plan, []taskkey.Key, error) {
	var skipped []taskkey.Key
	for _, c := range conflicts {
		d, ok := decisions[c.Key]
		if !ok {
			return plan.Plan{}, nil, services.Wrap(services.ErrValidation, "conflict", "apply", fmt.Sprintf("no decision for %s", c.Key), nil)
		}
		switch d {
		case Skip:
			skipped = append(skipped, c.Key)
		case Overwrite:
		default:
			return plan.Plan{}, nil, services.Wrap(services.ErrValidation, "conflict", "apply", fmt.Sprintf("unknown disposition %q for %s", d, c.Key), nil)
		}
	}
	return p.Without(skipped...), skipped, nil
}
