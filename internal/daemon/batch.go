package daemon

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"crunch/internal/conflict"
	"crunch/internal/events"
	"crunch/internal/logging"
	"crunch/internal/plan"
	"crunch/internal/preflight"
	"crunch/internal/preset"
	"crunch/internal/services"
	"crunch/internal/taskkey"
)

const conflictWorkers = 8

// PlanRequest selects the files and presets of a batch.
type PlanRequest struct {
	Files   []string `json:"files"`
	Presets []string `json:"presets"`
	// OutputDir overrides paths.output_dir; empty falls back to config,
	// then to each source's directory.
	OutputDir string `json:"output_dir,omitempty"`
	// KeepAudio overrides encoder.keep_audio when set.
	KeepAudio   *bool             `json:"keep_audio,omitempty"`
	CustomNames map[string]string `json:"custom_names,omitempty"`
}

// PlannedTask describes one entry of a plan.
type PlannedTask struct {
	Key        taskkey.Key `json:"key"`
	SourcePath string      `json:"source_path"`
	PresetID   string      `json:"preset_id"`
	Backend    string      `json:"backend"`
	OutputPath string      `json:"output_path"`
}

// PlanResult is a plan plus the outputs that already exist.
type PlanResult struct {
	Tasks     []PlannedTask    `json:"tasks"`
	Conflicts []conflict.Entry `json:"conflicts,omitempty"`

	plan plan.Plan
}

// StartRequest is a PlanRequest plus conflict decisions.
type StartRequest struct {
	PlanRequest
	// Decisions maps task keys to "overwrite" or "skip".
	Decisions map[string]string `json:"decisions,omitempty"`
	// OnConflict applies to every conflict without its own decision.
	OnConflict string `json:"on_conflict,omitempty"`
}

// StartResult reports the batch that was started.
type StartResult struct {
	BatchID string        `json:"batch_id"`
	Tasks   int           `json:"tasks"`
	Skipped []taskkey.Key `json:"skipped,omitempty"`
}

// Plan expands req and probes for existing outputs. When outputs already
// exist a conflicts_detected event is published.
func (d *Daemon) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	result, err := d.buildPlan(ctx, req)
	if err != nil {
		return PlanResult{}, err
	}
	if len(result.Conflicts) > 0 {
		keys := make([]string, 0, len(result.Conflicts))
		for _, c := range result.Conflicts {
			keys = append(keys, c.Key.String())
		}
		d.hub.Publish(events.Event{
			Kind:      events.KindConflictsDetected,
			Conflicts: keys,
			Message:   fmt.Sprintf("%d planned outputs already exist", len(result.Conflicts)),
		})
	}
	return result, nil
}

func (d *Daemon) buildPlan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	presets, err := d.resolvePresets(req.Presets)
	if err != nil {
		return PlanResult{}, err
	}
	p, err := plan.Build(req.Files, presets, d.planOptions(req))
	if err != nil {
		return PlanResult{}, err
	}

	resolver, err := conflict.NewResolver(d.logger, conflictWorkers)
	if err != nil {
		return PlanResult{}, err
	}
	defer resolver.Release()
	conflicts, err := resolver.FindConflicts(ctx, p)
	if err != nil {
		return PlanResult{}, err
	}

	result := PlanResult{Conflicts: conflicts, plan: p}
	for _, e := range p.Entries {
		result.Tasks = append(result.Tasks, PlannedTask{
			Key:        e.Key,
			SourcePath: e.SourcePath,
			PresetID:   e.Preset.ID,
			Backend:    e.Preset.Backend,
			OutputPath: e.OutputPath,
		})
	}
	return result, nil
}

// StartBatch plans req, applies conflict decisions, checks the binaries the
// batch needs, then initializes and runs it. Any batch already loaded is
// replaced.
func (d *Daemon) StartBatch(ctx context.Context, req StartRequest) (StartResult, error) {
	planned, err := d.buildPlan(ctx, req.PlanRequest)
	if err != nil {
		return StartResult{}, err
	}
	return d.StartPlanned(ctx, planned, req.Decisions, req.OnConflict)
}

// StartPlanned starts a plan returned by Plan without probing outputs
// again, so decisions apply to exactly the conflicts the caller saw.
func (d *Daemon) StartPlanned(ctx context.Context, planned PlanResult, perKey map[string]string, onConflict string) (StartResult, error) {
	decisions, err := buildDecisions(planned.Conflicts, perKey, onConflict)
	if err != nil {
		return StartResult{}, err
	}
	final, skipped, err := conflict.Apply(planned.plan, planned.Conflicts, decisions)
	if err != nil {
		return StartResult{}, err
	}

	if err := d.checkBackends(final); err != nil {
		d.reportError(ctx, err)
		return StartResult{}, err
	}

	id, err := d.orch.InitializePlan(final)
	if err != nil {
		return StartResult{}, err
	}
	if err := d.orch.Run(); err != nil {
		return StartResult{}, err
	}
	d.logger.Info("batch started",
		logging.String(logging.FieldBatchID, id),
		logging.Int("tasks", final.Len()),
		logging.Int("skipped", len(skipped)),
	)
	return StartResult{BatchID: id, Tasks: final.Len(), Skipped: skipped}, nil
}

// checkBackends fails when a binary some task needs is missing. Skipping
// every task leaves nothing to check.
func (d *Daemon) checkBackends(p plan.Plan) error {
	if p.Len() == 0 {
		return nil
	}
	blocking := preflight.Blocking(preflight.DepResults(preflight.CheckSystemDeps(d.cfg, backendsOf(p)...)))
	if len(blocking) == 0 {
		return nil
	}
	names := make([]string, 0, len(blocking))
	for _, b := range blocking {
		names = append(names, fmt.Sprintf("%s: %s", b.Name, b.Detail))
	}
	return services.Wrap(services.ErrConfiguration, "daemon", "start batch", strings.Join(names, "; "), nil)
}

func (d *Daemon) resolvePresets(ids []string) ([]preset.Preset, error) {
	if len(ids) == 0 {
		return nil, services.Wrap(services.ErrValidation, "daemon", "resolve presets", "no presets selected", nil)
	}
	out := make([]preset.Preset, 0, len(ids))
	for _, id := range ids {
		p, ok := d.catalog.Lookup(id)
		if !ok {
			return nil, services.Wrap(services.ErrValidation, "daemon", "resolve presets", fmt.Sprintf("unknown preset %q", id), nil)
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *Daemon) planOptions(req PlanRequest) plan.Options {
	opts := plan.Options{
		OutputRoot:  strings.TrimSpace(req.OutputDir),
		AudioSuffix: d.cfg.Encoder.AudioSuffix,
		KeepAudio:   d.cfg.Encoder.KeepAudio,
		CustomNames: req.CustomNames,
	}
	if opts.OutputRoot == "" {
		opts.OutputRoot = d.cfg.Paths.OutputDir
	}
	if req.KeepAudio != nil {
		opts.KeepAudio = *req.KeepAudio
	}
	return opts
}

func (d *Daemon) reportError(ctx context.Context, err error) {
	if notifyErr := d.notifier.NotifyError(ctx, err, "batch start"); notifyErr != nil {
		d.logger.Debug("error notification failed", logging.Error(notifyErr))
	}
}

// buildDecisions merges per-key decisions with a fallback disposition.
func buildDecisions(conflicts []conflict.Entry, perKey map[string]string, fallback string) (conflict.Decisions, error) {
	decisions := make(conflict.Decisions, len(conflicts))
	var def conflict.Disposition
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		parsed, err := conflict.ParseDisposition(fallback)
		if err != nil {
			return nil, err
		}
		def = parsed
	}
	for _, c := range conflicts {
		if raw, ok := perKey[c.Key.String()]; ok {
			parsed, err := conflict.ParseDisposition(strings.TrimSpace(raw))
			if err != nil {
				return nil, err
			}
			decisions[c.Key] = parsed
			continue
		}
		if def != "" {
			decisions[c.Key] = def
		}
	}
	return decisions, nil
}

func backendsOf(p plan.Plan) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range p.Entries {
		if _, ok := seen[e.Preset.Backend]; ok {
			continue
		}
		seen[e.Preset.Backend] = struct{}{}
		out = append(out, e.Preset.Backend)
	}
	sort.Strings(out)
	return out
}
