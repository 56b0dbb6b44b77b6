package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jortega-grc/covmap/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestRegistry(t *testing.T) *GormRegistry {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	reg, err := NewGormRegistry(db)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return reg
}

func testControl(id string) domain.Control {
	return domain.Control{
		ID:                 id,
		OrganizationID:     "org-1",
		Name:               "SSO with MFA",
		Category:           "iam",
		Type:               "preventive",
		EvidenceDimensions: []string{"mfa", "provisioning"},
	}
}

func drainEvent(t *testing.T, events <-chan domain.ChangeEvent) domain.ChangeEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected a change event")
		return domain.ChangeEvent{}
	}
}

func TestUpsertControlEmitsEvent(t *testing.T) {
	reg := setupTestRegistry(t)
	events := reg.Subscribe()

	require.NoError(t, reg.UpsertControl(context.Background(), testControl("ctl-1")))

	ev := drainEvent(t, events)
	assert.Equal(t, domain.ChangeControl, ev.Kind)
	assert.Equal(t, "ctl-1", ev.EntityID)
	assert.Equal(t, "org-1", ev.OrganizationID)

	loaded, err := reg.GetControl(context.Background(), "ctl-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "iam", loaded.Category)
	assert.Equal(t, []string{"mfa", "provisioning"}, loaded.EvidenceDimensions)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestUpsertControlRejectsMalformed(t *testing.T) {
	reg := setupTestRegistry(t)

	bad := testControl("ctl-1")
	bad.OrganizationID = ""
	err := reg.UpsertControl(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidControl)

	bad = testControl("bad id!")
	err = reg.UpsertControl(context.Background(), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidControl)
}

func TestUpsertControlUpdatesInPlace(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.UpsertControl(ctx, testControl("ctl-1")))

	updated := testControl("ctl-1")
	updated.Name = "SSO with MFA and device trust"
	updated.EvidenceDimensions = []string{"mfa", "provisioning", "device-trust"}
	require.NoError(t, reg.UpsertControl(ctx, updated))

	controls, err := reg.ListControls(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, controls, 1)
	assert.Equal(t, "SSO with MFA and device trust", controls[0].Name)
	assert.Len(t, controls[0].EvidenceDimensions, 3)
}

func TestListControlsScopedToOrganization(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.UpsertControl(ctx, testControl("ctl-b")))
	require.NoError(t, reg.UpsertControl(ctx, testControl("ctl-a")))

	other := testControl("ctl-z")
	other.OrganizationID = "org-2"
	require.NoError(t, reg.UpsertControl(ctx, other))

	controls, err := reg.ListControls(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, "ctl-a", controls[0].ID)
	assert.Equal(t, "ctl-b", controls[1].ID)
}

func TestDeleteControl(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()
	events := reg.Subscribe()

	require.NoError(t, reg.UpsertControl(ctx, testControl("ctl-1")))
	drainEvent(t, events)

	require.NoError(t, reg.DeleteControl(ctx, "org-1", "ctl-1"))

	ev := drainEvent(t, events)
	assert.Equal(t, "ctl-1", ev.EntityID)

	loaded, err := reg.GetControl(ctx, "ctl-1")
	require.NoError(t, err)
	assert.Nil(t, loaded)

	err = reg.DeleteControl(ctx, "org-1", "ctl-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDeleteControlChecksOrganization(t *testing.T) {
	reg := setupTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.UpsertControl(ctx, testControl("ctl-1")))

	err := reg.DeleteControl(ctx, "org-other", "ctl-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestEmitRequirementChange(t *testing.T) {
	reg := setupTestRegistry(t)
	events := reg.Subscribe()

	reg.EmitRequirementChange("req-1", "fw-a")

	ev := drainEvent(t, events)
	assert.Equal(t, domain.ChangeRequirement, ev.Kind)
	assert.Equal(t, "req-1", ev.EntityID)
	assert.Equal(t, "fw-a", ev.FrameworkID)
}

func TestCloseStopsEmitting(t *testing.T) {
	reg := setupTestRegistry(t)
	events := reg.Subscribe()

	reg.Close()
	reg.Close() // idempotent

	_, open := <-events
	assert.False(t, open)

	// Mutations still persist after close.
	require.NoError(t, reg.UpsertControl(context.Background(), testControl("ctl-1")))
	loaded, err := reg.GetControl(context.Background(), "ctl-1")
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}
