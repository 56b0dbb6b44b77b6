package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/jortega-grc/covmap/internal/core/ports"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ControlModel is the GORM model for organization control snapshots.
type ControlModel struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"index:idx_control_org"`
	Name           string
	Category       string `gorm:"index"`
	Type           string
	Description    string
	Dimensions     string // JSON array
	UpdatedAt      time.Time
}

func (ControlModel) TableName() string {
	return "controls"
}

// GormRegistry is a control registry backed by the shared GORM database.
// Mutations emit change events on the subscription channel so the
// recomputation coordinator can react incrementally.
type GormRegistry struct {
	db *gorm.DB

	mu     sync.Mutex
	events chan domain.ChangeEvent
	closed bool
}

// NewGormRegistry creates a registry over an already-open GORM database.
func NewGormRegistry(db *gorm.DB) (*GormRegistry, error) {
	if err := db.AutoMigrate(&ControlModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate control schema: %w", err)
	}
	return &GormRegistry{
		db:     db,
		events: make(chan domain.ChangeEvent, 256),
	}, nil
}

// ListControls returns all control snapshots for an organization.
func (r *GormRegistry) ListControls(ctx context.Context, organizationID string) ([]domain.Control, error) {
	var models []ControlModel
	if err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("id").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}

	controls := make([]domain.Control, 0, len(models))
	for _, m := range models {
		controls = append(controls, toControlDomain(m))
	}
	return controls, nil
}

// GetControl returns a single control snapshot, or nil when absent.
func (r *GormRegistry) GetControl(ctx context.Context, controlID string) (*domain.Control, error) {
	var model ControlModel
	err := r.db.WithContext(ctx).Where("id = ?", controlID).First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get control: %w", err)
	}
	c := toControlDomain(model)
	return &c, nil
}

// UpsertControl stores a control snapshot and emits a change event.
func (r *GormRegistry) UpsertControl(ctx context.Context, c domain.Control) error {
	if err := domain.ValidateControl(c); err != nil {
		return err
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}

	model := toControlModel(c)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("failed to upsert control: %w", err)
	}

	r.emit(domain.ChangeEvent{
		Kind:           domain.ChangeControl,
		EntityID:       c.ID,
		OrganizationID: c.OrganizationID,
		OccurredAt:     c.UpdatedAt,
	})
	return nil
}

// DeleteControl removes a control snapshot and emits a change event. The
// mapping repository is responsible for retiring the control's mappings.
func (r *GormRegistry) DeleteControl(ctx context.Context, organizationID, controlID string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ?", controlID, organizationID).
		Delete(&ControlModel{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete control: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	r.emit(domain.ChangeEvent{
		Kind:           domain.ChangeControl,
		EntityID:       controlID,
		OrganizationID: organizationID,
		OccurredAt:     time.Now(),
	})
	return nil
}

// EmitRequirementChange publishes a requirement change event, used when a
// framework catalog update lands.
func (r *GormRegistry) EmitRequirementChange(requirementID, frameworkID string) {
	r.emit(domain.ChangeEvent{
		Kind:        domain.ChangeRequirement,
		EntityID:    requirementID,
		FrameworkID: frameworkID,
		OccurredAt:  time.Now(),
	})
}

// Subscribe returns the change event channel. The channel is closed by
// Close.
func (r *GormRegistry) Subscribe() <-chan domain.ChangeEvent {
	return r.events
}

// Close closes the event channel. Further mutations are still persisted
// but no longer emit events.
func (r *GormRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
}

func (r *GormRegistry) emit(ev domain.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		// Subscriber is not keeping up: drop the event rather than block
		// the write path. A periodic full recomputation picks up the slack.
		slog.Warn("change event dropped, subscriber backlog full",
			"kind", ev.Kind, "entity", ev.EntityID)
	}
}

func toControlModel(c domain.Control) ControlModel {
	dims, _ := json.Marshal(c.EvidenceDimensions)
	return ControlModel{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		Name:           c.Name,
		Category:       c.Category,
		Type:           c.Type,
		Description:    c.Description,
		Dimensions:     string(dims),
		UpdatedAt:      c.UpdatedAt,
	}
}

func toControlDomain(m ControlModel) domain.Control {
	c := domain.Control{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Category:       m.Category,
		Type:           m.Type,
		Description:    m.Description,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Dimensions != "" {
		json.Unmarshal([]byte(m.Dimensions), &c.EvidenceDimensions)
	}
	return c
}

// Ensure interface compliance
var _ ports.ControlRegistry = (*GormRegistry)(nil)
