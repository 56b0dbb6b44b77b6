package recompute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/services/gap"
	"github.com/jortega-grc/covmap/internal/core/services/mapping"
	"github.com/jortega-grc/covmap/internal/core/services/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	framework    domain.ComplianceFramework
	requirements []domain.ComplianceRequirement
	listErr      error
}

func (f *fakeCatalog) GetFramework(ctx context.Context, frameworkID string) (*domain.ComplianceFramework, error) {
	fw := f.framework
	return &fw, nil
}

func (f *fakeCatalog) ListFrameworks(ctx context.Context) ([]domain.ComplianceFramework, error) {
	return []domain.ComplianceFramework{f.framework}, nil
}

func (f *fakeCatalog) GetRequirement(ctx context.Context, requirementID string) (*domain.ComplianceRequirement, error) {
	for _, r := range f.requirements {
		if r.ID == requirementID {
			req := r
			return &req, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) ListRequirements(ctx context.Context, frameworkID string) ([]domain.ComplianceRequirement, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.requirements, nil
}

type fakeRegistry struct {
	controls []domain.Control
	listErr  error
	// gate, when set, blocks ListControls until closed. Lets tests hold a
	// generation mid-flight while they trigger again.
	gate   chan struct{}
	events chan domain.ChangeEvent
}

func (f *fakeRegistry) ListControls(ctx context.Context, organizationID string) ([]domain.Control, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.controls, nil
}

func (f *fakeRegistry) GetControl(ctx context.Context, controlID string) (*domain.Control, error) {
	for _, c := range f.controls {
		if c.ID == controlID {
			ctl := c
			return &ctl, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistry) Subscribe() <-chan domain.ChangeEvent {
	return f.events
}

type committed struct {
	scope    domain.JobScope
	mappings []domain.ControlMapping
}

type fakeMappingRepo struct {
	mu      sync.Mutex
	commits []committed
	active  []domain.ControlMapping
	// commitHook, when set, replaces the default commit behavior.
	commitHook func(ctx context.Context) error
}

func (f *fakeMappingRepo) CommitGeneration(ctx context.Context, orgID, frameworkID string, scope domain.JobScope, mappings []domain.ControlMapping) error {
	if f.commitHook != nil {
		if err := f.commitHook(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, committed{scope: scope, mappings: mappings})
	f.active = mappings
	return nil
}

func (f *fakeMappingRepo) GetMapping(ctx context.Context, id string) (*domain.ControlMapping, error) {
	return nil, nil
}

func (f *fakeMappingRepo) UpdateMapping(ctx context.Context, m domain.ControlMapping) error {
	return nil
}

func (f *fakeMappingRepo) ListByOrgFramework(ctx context.Context, orgID, frameworkID string) ([]domain.ControlMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ControlMapping(nil), f.active...), nil
}

func (f *fakeMappingRepo) ListActiveByRequirement(ctx context.Context, orgID, requirementID string) ([]domain.ControlMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ControlMapping
	for _, m := range f.active {
		if m.RequirementID == requirementID && m.IsActive() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappingRepo) ListActiveByOrg(ctx context.Context, orgID string) ([]domain.ControlMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ControlMapping(nil), f.active...), nil
}

func (f *fakeMappingRepo) MarkStaleByControl(ctx context.Context, orgID, controlID string) error {
	return nil
}

func (f *fakeMappingRepo) RetireByControl(ctx context.Context, orgID, controlID string) error {
	return nil
}

func (f *fakeMappingRepo) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commits)
}

func (f *fakeMappingRepo) lastCommit() committed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[len(f.commits)-1]
}

type fakeGapRepo struct {
	mu      sync.Mutex
	results map[string]domain.GapAnalysisResult
}

func gapKey(orgID, frameworkID string) string { return orgID + "|" + frameworkID }

func (f *fakeGapRepo) SaveResult(ctx context.Context, result domain.GapAnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = make(map[string]domain.GapAnalysisResult)
	}
	f.results[gapKey(result.OrganizationID, result.FrameworkID)] = result
	return nil
}

func (f *fakeGapRepo) GetResult(ctx context.Context, orgID, frameworkID string) (*domain.GapAnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[gapKey(orgID, frameworkID)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeGapRepo) ListStatuses(ctx context.Context, orgID, frameworkID string) (map[string]domain.GapStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	statuses := make(map[string]domain.GapStatus)
	if r, ok := f.results[gapKey(orgID, frameworkID)]; ok {
		for _, g := range r.Gaps {
			statuses[g.RequirementID] = g.Status
		}
	}
	return statuses, nil
}

func (f *fakeGapRepo) UpdateStatus(ctx context.Context, orgID, frameworkID, requirementID string, status domain.GapStatus) error {
	return nil
}

type fakeJobRepo struct {
	mu    sync.Mutex
	saved []domain.Job
}

func (f *fakeJobRepo) SaveJob(ctx context.Context, job domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, job)
	return nil
}

func (f *fakeJobRepo) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return nil, nil
}

func (f *fakeJobRepo) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Job(nil), f.saved...), nil
}

type fixture struct {
	coordinator *Coordinator
	catalog     *fakeCatalog
	registry    *fakeRegistry
	mappings    *fakeMappingRepo
	gaps        *fakeGapRepo
	jobs        *fakeJobRepo
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	catalog := &fakeCatalog{
		framework: domain.ComplianceFramework{
			ID:   "fw-a",
			Name: "Framework A",
			Domains: []domain.FrameworkDomain{
				{ID: "d1", Name: "Access", Weight: 1.0},
			},
		},
		requirements: []domain.ComplianceRequirement{
			{
				ID: "req-1", FrameworkID: "fw-a", DomainID: "d1", Code: "AC-1",
				Category: "iam",
				Priority: domain.PriorityCritical, Mandatory: true, Testable: true,
				RequiredDimensions: []string{"mfa"},
			},
		},
	}
	registry := &fakeRegistry{
		controls: []domain.Control{
			{
				ID: "ctl-1", OrganizationID: "org-1", Name: "SSO with MFA",
				Category: "iam", Type: "preventive",
				EvidenceDimensions: []string{"mfa"},
			},
		},
		events: make(chan domain.ChangeEvent, 8),
	}
	mappings := &fakeMappingRepo{}
	gaps := &fakeGapRepo{}
	jobs := &fakeJobRepo{}

	engine := mapping.NewEngine(scoring.NewKeywordScorer())
	analyzer := gap.NewAnalyzer(catalog, mappings, gaps)

	return &fixture{
		coordinator: NewCoordinator(catalog, registry, engine, analyzer, mappings, jobs, cfg),
		catalog:     catalog,
		registry:    registry,
		mappings:    mappings,
		gaps:        gaps,
		jobs:        jobs,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func (f *fixture) waitRunning(t *testing.T, orgID, frameworkID string) {
	t.Helper()
	waitFor(t, func() bool {
		j, ok := f.coordinator.Job(orgID, frameworkID)
		return ok && j.State == domain.JobRunning
	}, "job to start running")
}

func (f *fixture) waitTerminal(t *testing.T, orgID, frameworkID string) domain.Job {
	t.Helper()
	var job domain.Job
	waitFor(t, func() bool {
		j, ok := f.coordinator.Job(orgID, frameworkID)
		if ok && j.State.Terminal() {
			job = j
			return true
		}
		return false
	}, "job to reach a terminal state")
	return job
}

func TestTriggerRunsJobToCompletion(t *testing.T) {
	f := newFixture(t, Config{Workers: 2, BatchSize: 10, JobTimeout: time.Second})

	job, started := f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	require.True(t, started)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, uint64(1), job.Generation)

	done := f.waitTerminal(t, "org-1", "fw-a")
	assert.Equal(t, domain.JobCompleted, done.State)
	assert.Equal(t, domain.FailureNone, done.Failure)
	assert.Equal(t, done.Progress.PairsTotal, done.Progress.PairsScored)

	require.Equal(t, 1, f.mappings.commitCount())
	require.Len(t, f.mappings.lastCommit().mappings, 1)
	assert.Equal(t, "ctl-1", f.mappings.lastCommit().mappings[0].ControlID)

	// The fully covered framework produces a gap-free result.
	result, err := f.gaps.GetResult(context.Background(), "org-1", "fw-a")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Empty(t, result.Gaps)
	assert.Equal(t, 100.0, result.OverallCoverage)

	// Terminal state was persisted for the status endpoint.
	waitFor(t, func() bool {
		f.jobs.mu.Lock()
		defer f.jobs.mu.Unlock()
		return len(f.jobs.saved) == 1 && f.jobs.saved[0].State == domain.JobCompleted
	}, "job record to be persisted")
}

func TestTriggerWhileRunningBumpsGeneration(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, BatchSize: 1, JobTimeout: time.Second})
	f.registry.gate = make(chan struct{})

	first, started := f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{ControlID: "ctl-1"})
	require.True(t, started)

	// Different incremental scope: the bump merges to a full recompute.
	second, started := f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{RequirementID: "req-1"})
	assert.False(t, started)
	assert.Equal(t, first.ID, second.ID, "a running key never spawns a second job")

	close(f.registry.gate)

	done := f.waitTerminal(t, "org-1", "fw-a")
	assert.Equal(t, domain.JobCompleted, done.State)
	assert.Equal(t, uint64(2), done.Generation)
	assert.True(t, done.Scope.Full())
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t, Config{JobTimeout: time.Second})

	// Nothing running.
	assert.False(t, f.coordinator.CancelPending("org-1", "fw-a"))

	f.registry.gate = make(chan struct{})
	_, started := f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	require.True(t, started)
	f.waitRunning(t, "org-1", "fw-a")

	// No pending bump yet.
	assert.False(t, f.coordinator.CancelPending("org-1", "fw-a"))

	f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	assert.True(t, f.coordinator.CancelPending("org-1", "fw-a"))
	assert.False(t, f.coordinator.CancelPending("org-1", "fw-a"), "bump already cancelled")

	close(f.registry.gate)

	done := f.waitTerminal(t, "org-1", "fw-a")
	assert.Equal(t, domain.JobCompleted, done.State)
	assert.Equal(t, uint64(1), done.Generation, "cancelled bump must not run")
}

func TestFailureKinds(t *testing.T) {
	t.Run("Catalog unavailable", func(t *testing.T) {
		f := newFixture(t, Config{JobTimeout: time.Second})
		f.catalog.listErr = errors.New("catalog down")

		_, started := f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
		require.True(t, started)

		done := f.waitTerminal(t, "org-1", "fw-a")
		assert.Equal(t, domain.JobFailed, done.State)
		assert.Equal(t, domain.FailureCatalog, done.Failure)
	})

	t.Run("Unknown framework", func(t *testing.T) {
		f := newFixture(t, Config{JobTimeout: time.Second})
		f.catalog.requirements = nil

		f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
		done := f.waitTerminal(t, "org-1", "fw-a")
		assert.Equal(t, domain.JobFailed, done.State)
		assert.Equal(t, domain.FailureCatalog, done.Failure)
	})

	t.Run("Registry unavailable", func(t *testing.T) {
		f := newFixture(t, Config{JobTimeout: time.Second})
		f.registry.listErr = errors.New("registry down")

		f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
		done := f.waitTerminal(t, "org-1", "fw-a")
		assert.Equal(t, domain.JobFailed, done.State)
		assert.Equal(t, domain.FailureRegistry, done.Failure)
	})

	t.Run("Commit exceeding the deadline", func(t *testing.T) {
		f := newFixture(t, Config{JobTimeout: 50 * time.Millisecond})
		f.mappings.commitHook = func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}

		f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
		done := f.waitTerminal(t, "org-1", "fw-a")
		assert.Equal(t, domain.JobFailed, done.State)
		assert.Equal(t, domain.FailureTimeout, done.Failure)
	})
}

func TestFailedJobKeepsPriorCommit(t *testing.T) {
	f := newFixture(t, Config{JobTimeout: time.Second})

	f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	done := f.waitTerminal(t, "org-1", "fw-a")
	require.Equal(t, domain.JobCompleted, done.State)
	require.Equal(t, 1, f.mappings.commitCount())

	f.catalog.listErr = errors.New("catalog down")
	f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	waitFor(t, func() bool {
		j, ok := f.coordinator.Job("org-1", "fw-a")
		return ok && j.State == domain.JobFailed
	}, "second job to fail")

	assert.Equal(t, 1, f.mappings.commitCount(), "failed generation must not commit")
}

func TestHandleChangeTriggersIncremental(t *testing.T) {
	f := newFixture(t, Config{JobTimeout: time.Second})

	// Keys never computed hold nothing to invalidate.
	f.coordinator.HandleChange(domain.ChangeEvent{Kind: domain.ChangeControl, EntityID: "ctl-1", OrganizationID: "org-1"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.mappings.commitCount())

	f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	f.waitTerminal(t, "org-1", "fw-a")
	require.Equal(t, 1, f.mappings.commitCount())

	f.coordinator.HandleChange(domain.ChangeEvent{Kind: domain.ChangeControl, EntityID: "ctl-1", OrganizationID: "org-1"})
	waitFor(t, func() bool { return f.mappings.commitCount() == 2 }, "incremental control recompute")
	assert.Equal(t, "ctl-1", f.mappings.lastCommit().scope.ControlID)

	f.coordinator.HandleChange(domain.ChangeEvent{Kind: domain.ChangeRequirement, EntityID: "req-1", FrameworkID: "fw-a"})
	waitFor(t, func() bool { return f.mappings.commitCount() == 3 }, "incremental requirement recompute")
	assert.Equal(t, "req-1", f.mappings.lastCommit().scope.RequirementID)

	// An event for another tenant leaves this key alone.
	f.coordinator.HandleChange(domain.ChangeEvent{Kind: domain.ChangeControl, EntityID: "ctl-x", OrganizationID: "org-other"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, f.mappings.commitCount())
}

func TestPumpEvents(t *testing.T) {
	f := newFixture(t, Config{JobTimeout: time.Second})

	f.coordinator.Trigger("org-1", "fw-a", domain.JobScope{})
	f.waitTerminal(t, "org-1", "fw-a")
	require.Equal(t, 1, f.mappings.commitCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.coordinator.PumpEvents(ctx)

	f.registry.events <- domain.ChangeEvent{Kind: domain.ChangeControl, EntityID: "ctl-1", OrganizationID: "org-1"}
	waitFor(t, func() bool { return f.mappings.commitCount() == 2 }, "event-driven recompute")
}
