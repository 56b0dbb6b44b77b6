package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteRepository implements ports.Catalog using SQLite. Framework
// definitions are immutable per version: a regulatory update inserts a
// new framework row, it never updates requirements in place.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-based catalog repository.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// GetFramework retrieves a framework with its domain weights and
// requirement ID list.
func (r *SQLiteRepository) GetFramework(ctx context.Context, frameworkID string) (*domain.ComplianceFramework, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, version, domains FROM frameworks WHERE id = ?", frameworkID)

	var fw domain.ComplianceFramework
	var domainsJSON string
	if err := row.Scan(&fw.ID, &fw.Name, &fw.Version, &domainsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", domain.ErrFrameworkNotFound, frameworkID)
		}
		return nil, fmt.Errorf("failed to get framework: %w", err)
	}
	if err := json.Unmarshal([]byte(domainsJSON), &fw.Domains); err != nil {
		return nil, fmt.Errorf("failed to parse framework domains: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM requirements WHERE framework_id = ? ORDER BY id", frameworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requirement ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		fw.RequirementIDs = append(fw.RequirementIDs, id)
	}
	return &fw, rows.Err()
}

// ListFrameworks returns all framework versions in the catalog.
func (r *SQLiteRepository) ListFrameworks(ctx context.Context) ([]domain.ComplianceFramework, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, version, domains FROM frameworks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list frameworks: %w", err)
	}
	defer rows.Close()

	var frameworks []domain.ComplianceFramework
	for rows.Next() {
		var fw domain.ComplianceFramework
		var domainsJSON string
		if err := rows.Scan(&fw.ID, &fw.Name, &fw.Version, &domainsJSON); err != nil {
			return nil, err
		}
		if domainsJSON != "" {
			json.Unmarshal([]byte(domainsJSON), &fw.Domains)
		}
		frameworks = append(frameworks, fw)
	}
	return frameworks, rows.Err()
}

// GetRequirement retrieves a single requirement by ID.
func (r *SQLiteRepository) GetRequirement(ctx context.Context, requirementID string) (*domain.ComplianceRequirement, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, framework_id, domain_id, code, category, priority,
		       mandatory, testable, frequency, dimensions, related_ids
		FROM requirements WHERE id = ?`, requirementID)

	req, err := scanRequirement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}
	return &req, nil
}

// ListRequirements returns all requirements of a framework, ID-ordered.
func (r *SQLiteRepository) ListRequirements(ctx context.Context, frameworkID string) ([]domain.ComplianceRequirement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, framework_id, domain_id, code, category, priority,
		       mandatory, testable, frequency, dimensions, related_ids
		FROM requirements WHERE framework_id = ? ORDER BY id`, frameworkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list requirements: %w", err)
	}
	defer rows.Close()

	var reqs []domain.ComplianceRequirement
	for rows.Next() {
		req, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// UpsertFramework inserts a framework definition. Used by the seed loader.
func (r *SQLiteRepository) UpsertFramework(ctx context.Context, fw domain.ComplianceFramework) error {
	domainsJSON, err := json.Marshal(fw.Domains)
	if err != nil {
		return fmt.Errorf("failed to marshal domains: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO frameworks (id, name, version, domains) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, version = excluded.version, domains = excluded.domains`,
		fw.ID, fw.Name, fw.Version, string(domainsJSON))
	return err
}

// UpsertRequirement inserts a requirement definition. Used by the seed
// loader.
func (r *SQLiteRepository) UpsertRequirement(ctx context.Context, req domain.ComplianceRequirement) error {
	dims, err := json.Marshal(req.RequiredDimensions)
	if err != nil {
		return fmt.Errorf("failed to marshal dimensions: %w", err)
	}
	related, err := json.Marshal(req.RelatedRequirementIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal related ids: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO requirements (id, framework_id, domain_id, code, category, priority, mandatory, testable, frequency, dimensions, related_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			framework_id = excluded.framework_id,
			domain_id = excluded.domain_id,
			code = excluded.code,
			category = excluded.category,
			priority = excluded.priority,
			mandatory = excluded.mandatory,
			testable = excluded.testable,
			frequency = excluded.frequency,
			dimensions = excluded.dimensions,
			related_ids = excluded.related_ids`,
		req.ID, req.FrameworkID, req.DomainID, req.Code, req.Category, string(req.Priority),
		req.Mandatory, req.Testable, string(req.Frequency), string(dims), string(related))
	return err
}

// GetTotalCount returns the number of requirements in the catalog.
func (r *SQLiteRepository) GetTotalCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM requirements").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRequirement(row scannable) (domain.ComplianceRequirement, error) {
	var req domain.ComplianceRequirement
	var priority, frequency, dimsJSON, relatedJSON string

	err := row.Scan(&req.ID, &req.FrameworkID, &req.DomainID, &req.Code, &req.Category,
		&priority, &req.Mandatory, &req.Testable, &frequency, &dimsJSON, &relatedJSON)
	if err != nil {
		return req, err
	}

	req.Priority = domain.Priority(priority)
	req.Frequency = domain.AssessmentFrequency(frequency)
	if dimsJSON != "" {
		json.Unmarshal([]byte(dimsJSON), &req.RequiredDimensions)
	}
	if relatedJSON != "" {
		json.Unmarshal([]byte(relatedJSON), &req.RelatedRequirementIDs)
	}
	return req, nil
}

// Ensure interface compliance
var _ ports.Catalog = (*SQLiteRepository)(nil)
