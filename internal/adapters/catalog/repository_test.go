package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedFramework(t *testing.T, repo *SQLiteRepository) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertFramework(ctx, domain.ComplianceFramework{
		ID:      "fw-a",
		Name:    "Framework A",
		Version: "2024",
		Domains: []domain.FrameworkDomain{
			{ID: "d1", Name: "Access", Weight: 0.6},
			{ID: "d2", Name: "Ops", Weight: 0.4},
		},
	}))
	require.NoError(t, repo.UpsertRequirement(ctx, domain.ComplianceRequirement{
		ID: "req-b", FrameworkID: "fw-a", DomainID: "d2", Code: "OP-1",
		Category: "monitoring", Priority: domain.PriorityMedium,
		Testable: true, Frequency: domain.FrequencyMonthly,
		RequiredDimensions: []string{"log-collection"},
	}))
	require.NoError(t, repo.UpsertRequirement(ctx, domain.ComplianceRequirement{
		ID: "req-a", FrameworkID: "fw-a", DomainID: "d1", Code: "AC-1",
		Category: "iam", Priority: domain.PriorityCritical,
		Mandatory: true, Testable: true, Frequency: domain.FrequencyContinuous,
		RequiredDimensions:    []string{"mfa", "access-review"},
		RelatedRequirementIDs: []string{"other-fw-req"},
	}))
}

func TestGetFramework(t *testing.T) {
	repo := setupTestRepo(t)
	seedFramework(t, repo)

	fw, err := repo.GetFramework(context.Background(), "fw-a")
	require.NoError(t, err)
	assert.Equal(t, "Framework A", fw.Name)
	assert.Equal(t, "2024", fw.Version)
	require.Len(t, fw.Domains, 2)
	assert.Equal(t, 0.6, fw.Domains[0].Weight)
	assert.Equal(t, []string{"req-a", "req-b"}, fw.RequirementIDs)
}

func TestGetFrameworkNotFound(t *testing.T) {
	repo := setupTestRepo(t)

	_, err := repo.GetFramework(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrFrameworkNotFound)
}

func TestListFrameworks(t *testing.T) {
	repo := setupTestRepo(t)
	seedFramework(t, repo)
	require.NoError(t, repo.UpsertFramework(context.Background(), domain.ComplianceFramework{
		ID: "fw-b", Name: "Framework B", Version: "1.0",
	}))

	frameworks, err := repo.ListFrameworks(context.Background())
	require.NoError(t, err)
	assert.Len(t, frameworks, 2)
}

func TestGetRequirement(t *testing.T) {
	repo := setupTestRepo(t)
	seedFramework(t, repo)
	ctx := context.Background()

	req, err := repo.GetRequirement(ctx, "req-a")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "AC-1", req.Code)
	assert.True(t, req.Mandatory)
	assert.Equal(t, []string{"mfa", "access-review"}, req.RequiredDimensions)
	assert.Equal(t, []string{"other-fw-req"}, req.RelatedRequirementIDs)

	missing, err := repo.GetRequirement(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListRequirementsOrdered(t *testing.T) {
	repo := setupTestRepo(t)
	seedFramework(t, repo)

	reqs, err := repo.ListRequirements(context.Background(), "fw-a")
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "req-a", reqs[0].ID)
	assert.Equal(t, "req-b", reqs[1].ID)
}

func TestUpsertFrameworkIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	seedFramework(t, repo)
	ctx := context.Background()

	require.NoError(t, repo.UpsertFramework(ctx, domain.ComplianceFramework{
		ID: "fw-a", Name: "Framework A (revised)", Version: "2025",
	}))

	frameworks, err := repo.ListFrameworks(ctx)
	require.NoError(t, err)
	require.Len(t, frameworks, 1)

	fw, err := repo.GetFramework(ctx, "fw-a")
	require.NoError(t, err)
	assert.Equal(t, "Framework A (revised)", fw.Name)
	assert.Equal(t, "2025", fw.Version)
}

func TestGetTotalCount(t *testing.T) {
	repo := setupTestRepo(t)
	seedFramework(t, repo)

	count, err := repo.GetTotalCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

const seedYAML = `framework:
  id: soc2-2017
  name: SOC 2
  version: "2017"
  domains:
    - id: cc6
      name: Logical Access
      weight: 0.7
    - id: cc7
      name: System Operations
      weight: 0.3
requirements:
  - id: soc2-cc6.1
    domain_id: cc6
    code: CC6.1
    category: iam
    priority: critical
    mandatory: true
    testable: true
    frequency: continuous
    dimensions:
      - mfa
      - provisioning
  - id: "bad id with spaces"
    domain_id: cc7
    code: CC7.1
    category: monitoring
`

func TestSeedLoaderLoadFromFile(t *testing.T) {
	repo := setupTestRepo(t)
	path := filepath.Join(t.TempDir(), "soc2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	loader := NewSeedLoader(repo, nil)
	require.NoError(t, loader.LoadFromFile(context.Background(), path))

	fw, err := repo.GetFramework(context.Background(), "soc2-2017")
	require.NoError(t, err)
	assert.Equal(t, "SOC 2", fw.Name)
	require.Len(t, fw.Domains, 2)

	// The malformed requirement is skipped, not fatal.
	reqs, err := repo.ListRequirements(context.Background(), "soc2-2017")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "soc2-cc6.1", reqs[0].ID)
	assert.Equal(t, domain.PriorityCritical, reqs[0].Priority)
	assert.Equal(t, []string{"mfa", "provisioning"}, reqs[0].RequiredDimensions)
}

func TestSeedLoaderLoadFromDir(t *testing.T) {
	repo := setupTestRepo(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "soc2.yaml"), []byte(seedYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a seed"), 0o644))

	loader := NewSeedLoader(repo, nil)
	require.NoError(t, loader.LoadFromDir(context.Background(), dir))

	frameworks, err := repo.ListFrameworks(context.Background())
	require.NoError(t, err)
	assert.Len(t, frameworks, 1)
}

type recordingEmitter struct {
	events [][2]string
}

func (e *recordingEmitter) EmitRequirementChange(requirementID, frameworkID string) {
	e.events = append(e.events, [2]string{requirementID, frameworkID})
}

func TestSeedLoaderEmitsRequirementChanges(t *testing.T) {
	repo := setupTestRepo(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "soc2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	emitter := &recordingEmitter{}
	loader := NewSeedLoader(repo, emitter)

	// First load: every valid requirement is new.
	require.NoError(t, loader.LoadFromFile(context.Background(), path))
	require.Equal(t, [][2]string{{"soc2-cc6.1", "soc2-2017"}}, emitter.events)

	// Reloading the same file must stay quiet.
	emitter.events = nil
	require.NoError(t, loader.LoadFromFile(context.Background(), path))
	assert.Empty(t, emitter.events)

	// A changed requirement emits again.
	revised := []byte(strings.Replace(seedYAML, "mandatory: true", "mandatory: false", 1))
	require.NoError(t, os.WriteFile(path, revised, 0o644))
	require.NoError(t, loader.LoadFromFile(context.Background(), path))
	require.Equal(t, [][2]string{{"soc2-cc6.1", "soc2-2017"}}, emitter.events)
}

func TestSeedLoaderRejectsMissingFrameworkID(t *testing.T) {
	repo := setupTestRepo(t)
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("framework:\n  name: nameless\n"), 0o644))

	err := NewSeedLoader(repo, nil).LoadFromFile(context.Background(), path)
	assert.Error(t, err)
}
