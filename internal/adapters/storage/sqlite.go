package storage

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/jortega-grc/covmap/internal/core/ports"
)

// SQLiteAdapter implements the mapping, gap and job repositories using
// GORM and SQLite.
type SQLiteAdapter struct {
	db *gorm.DB
}

// MappingModel is the GORM model for control mappings. Rows are
// append-mostly: superseded and retired mappings keep their row.
type MappingModel struct {
	ID             string `gorm:"primaryKey"`
	ControlID      string `gorm:"index"`
	RequirementID  string `gorm:"index"`
	FrameworkID    string `gorm:"index"`
	OrganizationID string `gorm:"index"`
	Type           string
	Coverage       float64
	Confidence     float64
	Automated      bool
	Status         string `gorm:"index"`

	// DimensionsCovered is a JSON encoded []string
	DimensionsCovered string

	VerifiedBy     string
	LastAssessed   time.Time
	NextAssessment time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GapModel stores the per-requirement gap rows with their remediation
// status. Status transitions are recorded by updates, never deletes.
type GapModel struct {
	ID             uint   `gorm:"primaryKey"`
	OrganizationID string `gorm:"index:idx_gap_key,unique"`
	FrameworkID    string `gorm:"index:idx_gap_key,unique"`
	RequirementID  string `gorm:"index:idx_gap_key,unique"`
	Code           string
	Severity       string
	Missing        float64
	Mandatory      bool
	Status         string

	// Actions is a JSON encoded []string
	Actions string

	Effort    int
	UpdatedAt time.Time
}

// GapResultModel stores the framework-level summary of the last analysis.
type GapResultModel struct {
	ID              uint   `gorm:"primaryKey"`
	OrganizationID  string `gorm:"index:idx_gapresult_key,unique"`
	FrameworkID     string `gorm:"index:idx_gapresult_key,unique"`
	OverallCoverage float64
	MaturityScore   float64
	GeneratedAt     time.Time
}

// JobModel stores recomputation job records for the status endpoint.
type JobModel struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index"`
	FrameworkID    string `gorm:"index"`
	Generation     uint64
	ScopeControl   string
	ScopeReq       string
	State          string
	PairsScored    int
	PairsTotal     int

	// Errors is a JSON encoded []domain.PairError
	Errors string

	Failure    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewSQLiteAdapter initializes the database and migrates schema.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	// Auto Migrate
	if err := db.AutoMigrate(&MappingModel{}, &GapModel{}, &GapResultModel{}, &JobModel{}); err != nil {
		return nil, err
	}

	// Create Indices for Performance
	db.Exec("CREATE INDEX IF NOT EXISTS idx_mappings_org_fw ON mapping_models(organization_id, framework_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_mappings_pair ON mapping_models(control_id, requirement_id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_jobs_started ON job_models(started_at)")

	return &SQLiteAdapter{db: db}, nil
}

// DB exposes the underlying handle so sibling adapters can share the
// connection.
func (a *SQLiteAdapter) DB() *gorm.DB {
	return a.db
}

func (a *SQLiteAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ensure interface compliance
var (
	_ ports.MappingRepository = (*SQLiteAdapter)(nil)
	_ ports.GapRepository     = (*SQLiteAdapter)(nil)
	_ ports.JobRepository     = (*SQLiteAdapter)(nil)
)
