package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	adapter, err := NewSQLiteAdapter(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func testMapping(id, controlID, requirementID string) domain.ControlMapping {
	return domain.ControlMapping{
		ID:                        id,
		ControlID:                 controlID,
		RequirementID:             requirementID,
		FrameworkID:               "fw-a",
		OrganizationID:            "org-1",
		Type:                      domain.MappingDirect,
		Coverage:                  100,
		Confidence:                0.85,
		Automated:                 true,
		Status:                    domain.StatusProposed,
		EvidenceDimensionsCovered: []string{"mfa"},
		LastAssessed:              time.Now().UTC(),
	}
}

func TestCommitGenerationSupersedesChangedPairs(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	first := testMapping("id-1", "ctl-a", "req-1")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{first}))

	// Re-scoring produced different content, hence a different ID.
	second := testMapping("id-2", "ctl-a", "req-1")
	second.Coverage = 50
	second.Type = domain.MappingPartial
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{second}))

	active, err := adapter.ListActiveByRequirement(ctx, "org-1", "req-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "id-2", active[0].ID)
	assert.Equal(t, 50.0, active[0].Coverage)

	// The superseded row stays for audit.
	all, err := adapter.ListByOrgFramework(ctx, "org-1", "fw-a")
	require.NoError(t, err)
	require.Len(t, all, 2)

	old, err := adapter.GetMapping(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuperseded, old.Status)
}

func TestCommitGenerationRefreshesIdenticalPairs(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	m := testMapping("id-1", "ctl-a", "req-1")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m}))

	// Identical content carries a verification forward instead of
	// superseding the row.
	m.Status = domain.StatusVerified
	m.VerifiedBy = "auditor@example.com"
	m.LastAssessed = time.Now().UTC().Add(time.Hour)
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m}))

	all, err := adapter.ListByOrgFramework(ctx, "org-1", "fw-a")
	require.NoError(t, err)
	require.Len(t, all, 1, "identical pair must not spawn a second row")
	assert.Equal(t, domain.StatusVerified, all[0].Status)
	assert.Equal(t, "auditor@example.com", all[0].VerifiedBy)
}

func TestCommitGenerationSupersedesDisappearedPairs(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	m1 := testMapping("id-1", "ctl-a", "req-1")
	m2 := testMapping("id-2", "ctl-b", "req-1")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m1, m2}))

	// ctl-b no longer matches anything.
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m1}))

	active, err := adapter.ListActiveByRequirement(ctx, "org-1", "req-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ctl-a", active[0].ControlID)
}

func TestCommitGenerationScopeLimitsSupersede(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	m1 := testMapping("id-1", "ctl-a", "req-1")
	m2 := testMapping("id-2", "ctl-b", "req-2")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m1, m2}))

	// Incremental commit for ctl-b only: ctl-a's mapping is out of scope
	// and must survive the empty result set.
	scope := domain.JobScope{ControlID: "ctl-b"}
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", scope, nil))

	active, err := adapter.ListActiveByOrg(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ctl-a", active[0].ControlID)
}

func TestCommitGenerationResurrectsHistoricalRow(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	m := testMapping("id-1", "ctl-a", "req-1")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m}))

	changed := testMapping("id-2", "ctl-a", "req-1")
	changed.Coverage = 50
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{changed}))

	// The control reverts, reproducing the original deterministic ID.
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m}))

	active, err := adapter.ListActiveByRequirement(ctx, "org-1", "req-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "id-1", active[0].ID)
	assert.Equal(t, domain.StatusProposed, active[0].Status)
}

func TestMarkStaleAndRetireByControl(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	m1 := testMapping("id-1", "ctl-a", "req-1")
	m2 := testMapping("id-2", "ctl-b", "req-2")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m1, m2}))

	require.NoError(t, adapter.MarkStaleByControl(ctx, "org-1", "ctl-a"))

	// Stale mappings still feed coverage until recomputed.
	active, err := adapter.ListActiveByRequirement(ctx, "org-1", "req-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, domain.StatusStale, active[0].Status)

	require.NoError(t, adapter.RetireByControl(ctx, "org-1", "ctl-a"))

	active, err = adapter.ListActiveByRequirement(ctx, "org-1", "req-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	// The other control is untouched.
	active, err = adapter.ListActiveByRequirement(ctx, "org-1", "req-2")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestGetMappingNotFound(t *testing.T) {
	adapter := setupTestAdapter(t)

	_, err := adapter.GetMapping(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMappingNotFound)
}

func TestUpdateMappingVerification(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	m := testMapping("id-1", "ctl-a", "req-1")
	require.NoError(t, adapter.CommitGeneration(ctx, "org-1", "fw-a", domain.JobScope{}, []domain.ControlMapping{m}))

	loaded, err := adapter.GetMapping(ctx, "id-1")
	require.NoError(t, err)
	require.NoError(t, loaded.Verify("auditor@example.com"))
	require.NoError(t, adapter.UpdateMapping(ctx, *loaded))

	reloaded, err := adapter.GetMapping(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, reloaded.Status)
	assert.Equal(t, "auditor@example.com", reloaded.VerifiedBy)
}

func testGapResult() domain.GapAnalysisResult {
	return domain.GapAnalysisResult{
		OrganizationID:  "org-1",
		FrameworkID:     "fw-a",
		OverallCoverage: 62.5,
		MaturityScore:   58.0,
		GeneratedAt:     time.Now().UTC(),
		Gaps: []domain.Gap{
			{
				RequirementID: "req-1", RequirementCode: "AC-1",
				Severity: domain.SeverityHigh, MissingCoverage: 75,
				Mandatory: true, Status: domain.GapOpen,
				RecommendedActions: []string{"Map an MFA control"},
				EstimatedEffort:    20,
			},
			{
				RequirementID: "req-2", RequirementCode: "OP-1",
				Severity: domain.SeverityLow, MissingCoverage: 25,
				Status:          domain.GapOpen,
				EstimatedEffort: 8,
			},
		},
	}
}

func TestSaveAndGetResult(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SaveResult(ctx, testGapResult()))

	result, err := adapter.GetResult(ctx, "org-1", "fw-a")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 62.5, result.OverallCoverage)
	assert.Equal(t, 58.0, result.MaturityScore)
	require.Len(t, result.Gaps, 2)
	assert.Equal(t, "req-1", result.Gaps[0].RequirementID)
	assert.Equal(t, []string{"Map an MFA control"}, result.Gaps[0].RecommendedActions)
}

func TestGetResultBeforeFirstAnalysis(t *testing.T) {
	adapter := setupTestAdapter(t)

	result, err := adapter.GetResult(context.Background(), "org-1", "fw-a")
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestSaveResultResolvesRecoveredGaps(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SaveResult(ctx, testGapResult()))

	// The next analysis finds req-2 fully covered again.
	next := testGapResult()
	next.Gaps = next.Gaps[:1]
	require.NoError(t, adapter.SaveResult(ctx, next))

	result, err := adapter.GetResult(ctx, "org-1", "fw-a")
	require.NoError(t, err)
	require.Len(t, result.Gaps, 1)
	assert.Equal(t, "req-1", result.Gaps[0].RequirementID)

	// The resolved row keeps its status for the reopen rule.
	statuses, err := adapter.ListStatuses(ctx, "org-1", "fw-a")
	require.NoError(t, err)
	assert.Equal(t, domain.GapResolved, statuses["req-2"])
	assert.Equal(t, domain.GapOpen, statuses["req-1"])
}

func TestUpdateStatus(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.SaveResult(ctx, testGapResult()))

	require.NoError(t, adapter.UpdateStatus(ctx, "org-1", "fw-a", "req-1", domain.GapInRemediation))

	statuses, err := adapter.ListStatuses(ctx, "org-1", "fw-a")
	require.NoError(t, err)
	assert.Equal(t, domain.GapInRemediation, statuses["req-1"])

	err = adapter.UpdateStatus(ctx, "org-1", "fw-a", "req-unknown", domain.GapResolved)
	assert.ErrorIs(t, err, domain.ErrGapNotFound)
}

func TestJobPersistence(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	job := domain.Job{
		ID:             "job-1",
		OrganizationID: "org-1",
		FrameworkID:    "fw-a",
		Generation:     3,
		Scope:          domain.JobScope{ControlID: "ctl-a"},
		State:          domain.JobRunning,
		Progress:       domain.JobProgress{PairsScored: 10, PairsTotal: 40},
		StartedAt:      time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, adapter.SaveJob(ctx, job))

	// Terminal update reuses the row.
	job.State = domain.JobFailed
	job.Failure = domain.FailureTimeout
	job.Errors = []domain.PairError{{ControlID: "ctl-a", RequirementID: "req-1", Message: "scorer failed"}}
	job.FinishedAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, adapter.SaveJob(ctx, job))

	loaded, err := adapter.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, domain.JobFailed, loaded.State)
	assert.Equal(t, domain.FailureTimeout, loaded.Failure)
	assert.Equal(t, uint64(3), loaded.Generation)
	assert.Equal(t, "ctl-a", loaded.Scope.ControlID)
	require.Len(t, loaded.Errors, 1)
	assert.Equal(t, "scorer failed", loaded.Errors[0].Message)

	missing, err := adapter.GetJob(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListRecentJobs(t *testing.T) {
	adapter := setupTestAdapter(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, adapter.SaveJob(ctx, domain.Job{
			ID:             id,
			OrganizationID: "org-1",
			FrameworkID:    "fw-a",
			State:          domain.JobCompleted,
			StartedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	jobs, err := adapter.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-3", jobs[0].ID)
	assert.Equal(t, "job-2", jobs[1].ID)
}
