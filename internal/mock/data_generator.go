package mock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jortega-grc/covmap/internal/adapters/catalog"
	"github.com/jortega-grc/covmap/internal/adapters/registry"
	"github.com/jortega-grc/covmap/internal/core/domain"
)

// DemoOrganization is the organization ID the generated controls belong to.
const DemoOrganization = "acme-corp"

// DemoFrameworkIDs lists the seeded frameworks, for triggering the initial
// demo recomputation.
func DemoFrameworkIDs() []string {
	fws := demoFrameworks()
	ids := make([]string, len(fws))
	for i, fw := range fws {
		ids[i] = fw.ID
	}
	return ids
}

// Seed populates the catalog and registry with a small demo environment:
// two overlapping frameworks with cross-framework equivalences and a
// control set that produces direct, partial and compensating mappings.
func Seed(ctx context.Context, cat *catalog.SQLiteRepository, reg *registry.GormRegistry) error {
	slog.Info("seeding demo data", "organization", DemoOrganization)

	for _, fw := range demoFrameworks() {
		if err := cat.UpsertFramework(ctx, fw); err != nil {
			return fmt.Errorf("failed to seed framework %s: %w", fw.ID, err)
		}
	}
	for _, req := range demoRequirements() {
		if err := cat.UpsertRequirement(ctx, req); err != nil {
			return fmt.Errorf("failed to seed requirement %s: %w", req.ID, err)
		}
	}
	for _, c := range demoControls() {
		if err := reg.UpsertControl(ctx, c); err != nil {
			return fmt.Errorf("failed to seed control %s: %w", c.ID, err)
		}
	}

	slog.Info("demo data ready")
	return nil
}

func demoFrameworks() []domain.ComplianceFramework {
	return []domain.ComplianceFramework{
		{
			ID:      "soc2-2017",
			Name:    "SOC 2 Trust Services Criteria",
			Version: "2017",
			Domains: []domain.FrameworkDomain{
				{ID: "cc6", Name: "Logical and Physical Access Controls", Weight: 0.5},
				{ID: "cc7", Name: "System Operations", Weight: 0.3},
				{ID: "a1", Name: "Availability", Weight: 0.2},
			},
		},
		{
			ID:      "iso27001-2022",
			Name:    "ISO/IEC 27001",
			Version: "2022",
			Domains: []domain.FrameworkDomain{
				{ID: "a5", Name: "Organizational Controls", Weight: 0.4},
				{ID: "a8", Name: "Technological Controls", Weight: 0.6},
			},
		},
	}
}

func demoRequirements() []domain.ComplianceRequirement {
	return []domain.ComplianceRequirement{
		{
			ID: "soc2-cc6.1", FrameworkID: "soc2-2017", DomainID: "cc6",
			Code: "CC6.1", Category: "iam", Priority: domain.PriorityCritical,
			Mandatory: true, Testable: true, Frequency: domain.FrequencyQuarterly,
			RequiredDimensions:    []string{"access-review", "mfa", "provisioning"},
			RelatedRequirementIDs: []string{"iso-a8.2"},
		},
		{
			ID: "soc2-cc6.6", FrameworkID: "soc2-2017", DomainID: "cc6",
			Code: "CC6.6", Category: "encryption", Priority: domain.PriorityHigh,
			Mandatory: true, Testable: true, Frequency: domain.FrequencyAnnual,
			RequiredDimensions: []string{"encryption-at-rest", "key-rotation"},
		},
		{
			ID: "soc2-cc7.2", FrameworkID: "soc2-2017", DomainID: "cc7",
			Code: "CC7.2", Category: "monitoring", Priority: domain.PriorityHigh,
			Mandatory: true, Testable: true, Frequency: domain.FrequencyContinuous,
			RequiredDimensions: []string{"log-collection", "alerting", "anomaly-detection"},
		},
		{
			ID: "soc2-a1.2", FrameworkID: "soc2-2017", DomainID: "a1",
			Code: "A1.2", Category: "resilience", Priority: domain.PriorityMedium,
			Mandatory: false, Testable: true, Frequency: domain.FrequencyAnnual,
			RequiredDimensions: []string{"backup", "restore-test"},
		},
		{
			ID: "iso-a5.1", FrameworkID: "iso27001-2022", DomainID: "a5",
			Code: "A.5.1", Category: "governance", Priority: domain.PriorityMedium,
			Mandatory: true, Testable: false, Frequency: domain.FrequencyAnnual,
			RequiredDimensions: []string{"policy-review"},
		},
		{
			ID: "iso-a8.2", FrameworkID: "iso27001-2022", DomainID: "a8",
			Code: "A.8.2", Category: "iam", Priority: domain.PriorityCritical,
			Mandatory: true, Testable: true, Frequency: domain.FrequencyQuarterly,
			RequiredDimensions:    []string{"access-review", "mfa", "provisioning"},
			RelatedRequirementIDs: []string{"soc2-cc6.1"},
		},
		{
			ID: "iso-a8.16", FrameworkID: "iso27001-2022", DomainID: "a8",
			Code: "A.8.16", Category: "monitoring", Priority: domain.PriorityHigh,
			Mandatory: true, Testable: true, Frequency: domain.FrequencyContinuous,
			RequiredDimensions: []string{"log-collection", "alerting"},
		},
	}
}

func demoControls() []domain.Control {
	now := time.Now()
	return []domain.Control{
		{
			ID: "ctl-okta-sso", OrganizationID: DemoOrganization,
			Name: "Okta SSO with enforced MFA", Category: "iam", Type: "preventive",
			Description:        "Central identity provider with MFA enforcement, quarterly access review and automated provisioning",
			EvidenceDimensions: []string{"access-review", "mfa", "provisioning"},
			UpdatedAt:          now,
		},
		{
			ID: "ctl-kms-encryption", OrganizationID: DemoOrganization,
			Name: "KMS-managed storage encryption", Category: "encryption", Type: "preventive",
			Description:        "All data stores encrypted at rest with managed keys",
			EvidenceDimensions: []string{"encryption-at-rest"},
			UpdatedAt:          now,
		},
		{
			ID: "ctl-siem", OrganizationID: DemoOrganization,
			Name: "SIEM pipeline", Category: "monitoring", Type: "detective",
			Description:        "Centralized log collection with alerting rules",
			EvidenceDimensions: []string{"log-collection", "alerting"},
			UpdatedAt:          now,
		},
		{
			ID: "ctl-backup", OrganizationID: DemoOrganization,
			Name: "Nightly encrypted backups", Category: "resilience", Type: "corrective",
			Description:        "Nightly backups with quarterly restore tests",
			EvidenceDimensions: []string{"backup", "restore-test"},
			UpdatedAt:          now,
		},
		{
			ID: "ctl-vuln-scanner", OrganizationID: DemoOrganization,
			Name: "Weekly vulnerability scanning", Category: "vulnerability", Type: "detective",
			Description:        "Authenticated scans across the fleet with anomaly detection on findings",
			EvidenceDimensions: []string{"vuln-scan", "anomaly-detection"},
			UpdatedAt:          now,
		},
	}
}
