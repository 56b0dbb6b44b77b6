package recompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"github.com/jortega-grc/covmap/internal/core/services/gap"
	"github.com/jortega-grc/covmap/internal/core/services/mapping"
	"github.com/jortega-grc/covmap/internal/telemetry"
)

// errSuperseded aborts a generation whose key received a newer trigger.
var errSuperseded = errors.New("generation superseded")

// Config tunes job execution.
type Config struct {
	Workers    int
	BatchSize  int
	JobTimeout time.Duration
}

// keyState serializes jobs for one (organization, framework) key. The
// per-key mutex scope keeps unrelated tenants from ever contending.
type keyState struct {
	running bool
	// generation is the latest requested generation; activeGen is the one
	// the running job started with. A gap between the two is a pending bump
	// the job picks up at its next batch checkpoint.
	generation uint64
	activeGen  uint64
	scope      domain.JobScope
	job        *domain.Job
}

// Coordinator schedules, serializes and cancels recomputation jobs.
// At most one job runs per (organization, framework) key at any time;
// triggers against a running key bump its generation instead of spawning
// a second writer.
type Coordinator struct {
	catalog  ports.Catalog
	registry ports.ControlRegistry
	engine   *mapping.Engine
	analyzer *gap.Analyzer
	mappings ports.MappingRepository
	jobs     ports.JobRepository
	notifier ports.JobNotifier
	cfg      Config

	mu   sync.Mutex
	keys map[string]*keyState
}

// NewCoordinator wires the recomputation pipeline.
func NewCoordinator(catalog ports.Catalog, registry ports.ControlRegistry, engine *mapping.Engine, analyzer *gap.Analyzer, mappings ports.MappingRepository, jobs ports.JobRepository, cfg Config) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 250
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	return &Coordinator{
		catalog:  catalog,
		registry: registry,
		engine:   engine,
		analyzer: analyzer,
		mappings: mappings,
		jobs:     jobs,
		cfg:      cfg,
		keys:     make(map[string]*keyState),
	}
}

// SetNotifier attaches a job event consumer (e.g. the websocket manager).
func (c *Coordinator) SetNotifier(n ports.JobNotifier) {
	c.notifier = n
}

func key(orgID, frameworkID string) string {
	return orgID + "|" + frameworkID
}

// Trigger requests a recomputation for a key. If the key is idle a new job
// starts in the background and started is true. If a job is already
// running, the call registers a generation bump with the merged scope and
// returns the in-flight job handle with started false.
func (c *Coordinator) Trigger(orgID, frameworkID string, scope domain.JobScope) (domain.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(orgID, frameworkID)
	ks, ok := c.keys[k]
	if !ok {
		ks = &keyState{}
		c.keys[k] = ks
	}

	if ks.running {
		ks.generation++
		ks.scope = ks.scope.Merge(scope)
		slog.Info("trigger while running: generation bumped",
			"org", orgID, "framework", frameworkID, "generation", ks.generation)
		return *ks.job, false
	}

	ks.running = true
	ks.generation++
	ks.activeGen = ks.generation
	ks.scope = scope
	ks.job = &domain.Job{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		FrameworkID:    frameworkID,
		Generation:     ks.generation,
		Scope:          scope,
		State:          domain.JobPending,
		StartedAt:      time.Now().UTC(),
	}
	job := *ks.job

	go c.run(k, orgID, frameworkID)
	return job, true
}

// CancelPending cancels a registered generation bump before the running
// job picks it up. The running generation itself cannot be hard-killed,
// only superseded, so no torn state is possible.
func (c *Coordinator) CancelPending(orgID, frameworkID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks, ok := c.keys[key(orgID, frameworkID)]
	if !ok || !ks.running || ks.generation == ks.activeGen {
		return false
	}
	ks.generation = ks.activeGen
	return true
}

// Job returns a snapshot of the current or last job for a key.
func (c *Coordinator) Job(orgID, frameworkID string) (domain.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ks, ok := c.keys[key(orgID, frameworkID)]
	if !ok || ks.job == nil {
		return domain.Job{}, false
	}
	return *ks.job, true
}

// HandleChange converts a registry/catalog change event into incremental
// triggers for every key it can invalidate. Keys never computed before
// hold no state to invalidate and are skipped.
func (c *Coordinator) HandleChange(ev domain.ChangeEvent) {
	c.mu.Lock()
	var targets []struct{ org, fw string }
	for _, ks := range c.keys {
		if ks.job == nil {
			continue
		}
		org, fw := ks.job.OrganizationID, ks.job.FrameworkID
		switch ev.Kind {
		case domain.ChangeControl:
			if org == ev.OrganizationID {
				targets = append(targets, struct{ org, fw string }{org, fw})
			}
		case domain.ChangeRequirement:
			if fw == ev.FrameworkID {
				targets = append(targets, struct{ org, fw string }{org, fw})
			}
		}
	}
	c.mu.Unlock()

	for _, t := range targets {
		scope := domain.JobScope{}
		switch ev.Kind {
		case domain.ChangeControl:
			scope.ControlID = ev.EntityID
		case domain.ChangeRequirement:
			scope.RequirementID = ev.EntityID
		}
		c.Trigger(t.org, t.fw, scope)
	}
}

// run drives generations for one key until no bump is pending, then
// releases the key. Only this goroutine writes mappings for the key, so
// each pair has exactly one logical writer per generation.
func (c *Coordinator) run(k, orgID, frameworkID string) {
	for {
		c.mu.Lock()
		ks := c.keys[k]
		gen := ks.generation
		ks.activeGen = gen
		scope := ks.scope
		job := ks.job
		job.Generation = gen
		job.Scope = scope
		job.State = domain.JobRunning
		job.Progress = domain.JobProgress{}
		job.Errors = nil
		job.Failure = domain.FailureNone
		snapshot := *job
		c.mu.Unlock()

		c.publish(snapshot)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JobTimeout)
		err := c.runGeneration(ctx, job, orgID, frameworkID, scope, gen, k)
		cancel()

		if errors.Is(err, errSuperseded) {
			// A newer trigger arrived; abandon this generation and restart
			// with fresh inputs. Nothing was committed.
			telemetry.JobRestarts.Inc()
			slog.Info("job superseded, restarting", "org", orgID, "framework", frameworkID, "generation", gen)
			continue
		}

		c.finish(k, job, err)

		c.mu.Lock()
		ks = c.keys[k]
		if ks.generation > gen {
			// Bump raced with completion; run the new generation.
			c.mu.Unlock()
			continue
		}
		ks.running = false
		c.mu.Unlock()
		return
	}
}

// runGeneration executes one generation end to end. Mappings are committed
// atomically only when the whole generation succeeds; a failed or
// superseded generation leaves the prior committed state untouched.
func (c *Coordinator) runGeneration(ctx context.Context, job *domain.Job, orgID, frameworkID string, scope domain.JobScope, gen uint64, k string) error {
	requirements, err := c.catalog.ListRequirements(ctx, frameworkID)
	if err != nil {
		return &jobFailure{kind: domain.FailureCatalog, err: err}
	}
	if len(requirements) == 0 {
		return &jobFailure{kind: domain.FailureCatalog, err: fmt.Errorf("%w: %s", domain.ErrFrameworkNotFound, frameworkID)}
	}
	controls, err := c.registry.ListControls(ctx, orgID)
	if err != nil {
		return &jobFailure{kind: domain.FailureRegistry, err: err}
	}

	// Incremental scope: a single-entity change is scored only against the
	// opposite set, never as a full framework rescan.
	if scope.ControlID != "" {
		controls = filterControls(controls, scope.ControlID)
	}
	if scope.RequirementID != "" {
		requirements = filterRequirements(requirements, scope.RequirementID)
	}

	existing, err := c.mappings.ListActiveByOrg(ctx, orgID)
	if err != nil {
		return &jobFailure{kind: domain.FailurePersistence, err: err}
	}

	opts := mapping.Options{
		Workers:   c.cfg.Workers,
		BatchSize: c.cfg.BatchSize,
		Checkpoint: func(scored, total int) error {
			c.mu.Lock()
			superseded := c.keys[k].generation > gen
			job.Progress = domain.JobProgress{PairsScored: scored, PairsTotal: total}
			snapshot := *job
			c.mu.Unlock()
			c.publish(snapshot)
			if superseded {
				return errSuperseded
			}
			return nil
		},
	}

	result, err := c.engine.ComputeMappings(ctx, orgID, frameworkID, controls, requirements, existing, opts)
	if err != nil {
		if errors.Is(err, errSuperseded) {
			return errSuperseded
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &jobFailure{kind: domain.FailureTimeout, err: err}
		}
		return &jobFailure{kind: domain.FailurePersistence, err: err}
	}

	c.mu.Lock()
	job.Errors = result.PairErrors
	job.Progress = domain.JobProgress{PairsScored: result.PairsTotal, PairsTotal: result.PairsTotal}
	c.mu.Unlock()

	if err := c.mappings.CommitGeneration(ctx, orgID, frameworkID, scope, result.Mappings); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &jobFailure{kind: domain.FailureTimeout, err: err}
		}
		return &jobFailure{kind: domain.FailurePersistence, err: err}
	}

	// Gap analysis runs only over committed generations. Incremental runs
	// re-analyze just the affected requirements.
	var analysis *domain.GapAnalysisResult
	if scope.Full() {
		analysis, err = c.analyzer.AnalyzeGaps(ctx, orgID, frameworkID)
	} else {
		analysis, err = c.analyzer.AnalyzeRequirements(ctx, orgID, frameworkID, affectedRequirements(scope, result.Mappings, existing))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return &jobFailure{kind: domain.FailureTimeout, err: err}
		}
		return &jobFailure{kind: domain.FailurePersistence, err: err}
	}
	if c.notifier != nil && analysis != nil {
		c.notifier.NotifyGapResult(*analysis)
	}
	return nil
}

// finish records the terminal state and publishes it.
func (c *Coordinator) finish(k string, job *domain.Job, err error) {
	c.mu.Lock()
	job.FinishedAt = time.Now().UTC()
	if err == nil {
		job.State = domain.JobCompleted
	} else {
		job.State = domain.JobFailed
		var jf *jobFailure
		if errors.As(err, &jf) {
			job.Failure = jf.kind
		}
		slog.Error("recomputation job failed", "org", job.OrganizationID, "framework", job.FrameworkID, "failure", job.Failure, "error", err)
	}
	telemetry.JobsTotal.WithLabelValues(string(job.State)).Inc()
	telemetry.JobDuration.Observe(job.FinishedAt.Sub(job.StartedAt).Seconds())
	snapshot := *job
	c.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.jobs.SaveJob(saveCtx, snapshot); err != nil {
		slog.Error("failed to persist job record", "job", snapshot.ID, "error", err)
	}
	c.publish(snapshot)
}

func (c *Coordinator) publish(job domain.Job) {
	if c.notifier != nil {
		c.notifier.NotifyJob(job)
	}
}

// PumpEvents consumes the registry change stream until the context ends.
func (c *Coordinator) PumpEvents(ctx context.Context) {
	events := c.registry.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleChange(ev)
		}
	}
}

// jobFailure wraps a job-level fatal error with its failure kind.
type jobFailure struct {
	kind domain.FailureKind
	err  error
}

func (f *jobFailure) Error() string { return fmt.Sprintf("%s: %v", f.kind, f.err) }
func (f *jobFailure) Unwrap() error { return f.err }

func filterControls(controls []domain.Control, id string) []domain.Control {
	for _, c := range controls {
		if c.ID == id {
			return []domain.Control{c}
		}
	}
	return nil
}

func filterRequirements(requirements []domain.ComplianceRequirement, id string) []domain.ComplianceRequirement {
	for _, r := range requirements {
		if r.ID == id {
			return []domain.ComplianceRequirement{r}
		}
	}
	return nil
}

// affectedRequirements collects the requirement IDs an incremental run can
// have touched: everything in the new mapping set plus everything the
// changed control was previously mapped to.
func affectedRequirements(scope domain.JobScope, produced, existing []domain.ControlMapping) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if scope.RequirementID != "" {
		add(scope.RequirementID)
	}
	for _, m := range produced {
		add(m.RequirementID)
	}
	if scope.ControlID != "" {
		for _, m := range existing {
			if m.ControlID == scope.ControlID && m.IsActive() {
				add(m.RequirementID)
			}
		}
	}
	return ids
}
