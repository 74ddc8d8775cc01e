package legacy

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/database"
	"github.com/greenhouse-io/greenhouse/internal/deviceid"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var (
	ownerA = uuid.MustParse("f606de8d-092d-4606-b981-80ce9f5a3b2a")
	ownerB = uuid.MustParse("3c3a0ee5-5f3b-4d56-9a55-6b4d1dc1c6e0")
)

type CoordinatorTestSuite struct {
	suite.Suite
	db          *gorm.DB
	coordinator *Coordinator
	projects    *registry.ProjectStore
	devices     *registry.DeviceRegistry
	created     time.Time
}

func (suite *CoordinatorTestSuite) BeforeTest(_, _ string) {
	db, err := database.NewTestDatabase()
	suite.Require().NoError(err)
	transaction, dialect, err := database.GetTransactionFunc(db)
	suite.Require().NoError(err)
	suite.Require().Equal(database.DialectSqlLite, dialect)

	logger := zaptest.NewLogger(suite.T()).Sugar()
	allocator := registry.NewAllocator()
	suite.db = db
	suite.coordinator = NewCoordinator(logger, db, transaction, dialect, allocator)
	suite.projects = registry.NewProjectStore(logger, db, transaction, allocator)
	suite.devices = registry.NewDeviceRegistry(logger, db, transaction)
	suite.created = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
}

// legacyDevice inserts a device the way the flat identifier scheme stored it.
func (suite *CoordinatorTestSuite) legacyDevice(owner uuid.UUID) (models.Device, string) {
	secret, hash, err := registry.NewSecret(rand.Reader)
	suite.Require().NoError(err)
	legacyID := uuid.NewString()
	suite.created = suite.created.Add(time.Minute)
	device := models.Device{
		Base:        models.Base{CreatedAt: suite.created},
		OwnerID:     owner,
		LegacyID:    &legacyID,
		DisplayName: "esp " + legacyID[:8],
		SecretHash:  hash,
		State:       models.DeviceStateWaiting,
	}
	suite.Require().NoError(suite.db.Create(&device).Error)
	return device, secret
}

func (suite *CoordinatorTestSuite) reload(id uuid.UUID) *models.Device {
	var device models.Device
	suite.Require().NoError(suite.db.First(&device, "id = ?", id).Error)
	return &device
}

func (suite *CoordinatorTestSuite) TestMigrateAssignsEveryLegacyDevice() {
	require := suite.Require()
	ctx := context.Background()

	regular, err := suite.projects.Create(ctx, ownerA, "Greenhouse A", "")
	require.NoError(err)
	reg, err := suite.devices.Register(ctx, ownerA, regular.Code, 1, "")
	require.NoError(err)

	a1, _ := suite.legacyDevice(ownerA)
	b1, _ := suite.legacyDevice(ownerB)
	a2, _ := suite.legacyDevice(ownerA)
	a3, _ := suite.legacyDevice(ownerA)

	result, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)
	require.Equal(4, result.Devices)
	require.Equal(2, result.Projects)

	var pending int64
	require.NoError(suite.db.Model(&models.Device{}).Where("project_id IS NULL OR composite_id IS NULL OR slot IS NULL").Count(&pending).Error)
	require.Zero(pending)

	// slots follow creation order within the owner's legacy project
	first := suite.reload(a1.ID)
	code, slot, err := deviceid.ParseComposite(first.Composite())
	require.NoError(err)
	require.Equal(1, slot)
	for i, d := range []models.Device{a2, a3} {
		migrated := suite.reload(d.ID)
		require.Equal(fmt.Sprintf("%s-ESP%d", code, i+2), migrated.Composite())
		require.Equal(*first.ProjectID, *migrated.ProjectID)
		require.Equal(*d.LegacyID, *migrated.LegacyID)
	}
	other := suite.reload(b1.ID)
	require.NotEqual(*first.ProjectID, *other.ProjectID)

	var legacyProject models.Project
	require.NoError(suite.db.First(&legacyProject, "id = ?", *first.ProjectID).Error)
	require.True(legacyProject.Legacy)
	require.Equal(ownerA, legacyProject.OwnerID)

	require.Equal(reg.CompositeID, suite.reload(reg.Device.ID).Composite())

	var entries []models.MigrationAuditEntry
	require.NoError(suite.db.Where("run_id = ?", result.RunID).Find(&entries).Error)
	require.Len(entries, 4)
	for _, e := range entries {
		require.Equal(models.MigrationStatusCompleted, e.Status)
		require.NotNil(e.CompletedAt)
		require.NotNil(e.NewCompositeID)
		require.Equal(suite.reload(e.DeviceID).Composite(), *e.NewCompositeID)
	}

	report, err := suite.coordinator.Report(ctx)
	require.NoError(err)
	require.Equal(result.RunID, *report.LastRunID)
	require.Equal(int64(4), report.Counts[models.MigrationStatusCompleted])
	require.Zero(report.Pending)
	require.Empty(report.Failures)
	require.NotNil(report.CompletedAt)

	again, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)
	require.Zero(again.Devices)
	require.Zero(again.Projects)
}

func (suite *CoordinatorTestSuite) TestMigrateReusesLegacyProjectSlots() {
	require := suite.Require()
	ctx := context.Background()

	first, _ := suite.legacyDevice(ownerA)
	_, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)

	late, _ := suite.legacyDevice(ownerA)
	result, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)
	require.Equal(1, result.Devices)
	require.Zero(result.Projects)

	migrated := suite.reload(late.ID)
	require.Equal(*suite.reload(first.ID).ProjectID, *migrated.ProjectID)
	require.Equal(2, *migrated.Slot)
}

func (suite *CoordinatorTestSuite) TestMigrateFillsFreedSlotsLowestFirst() {
	require := suite.Require()
	ctx := context.Background()

	var full []models.Device
	for i := 0; i < deviceid.MaxSlot; i++ {
		d, _ := suite.legacyDevice(ownerA)
		full = append(full, d)
	}
	_, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)

	// keep slots 1 and 20, free everything in between
	for _, d := range full {
		migrated := suite.reload(d.ID)
		if *migrated.Slot == deviceid.MinSlot || *migrated.Slot == deviceid.MaxSlot {
			continue
		}
		require.NoError(suite.devices.Delete(ctx, ownerA, migrated.Composite()))
	}

	var late []models.Device
	for i := 0; i < 3; i++ {
		d, _ := suite.legacyDevice(ownerA)
		late = append(late, d)
	}
	result, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)
	require.Equal(3, result.Devices)
	require.Zero(result.Projects)

	projectID := *suite.reload(full[0].ID).ProjectID
	for i, d := range late {
		migrated := suite.reload(d.ID)
		require.Equal(projectID, *migrated.ProjectID)
		require.Equal(i+2, *migrated.Slot)
	}

	// the remaining 15 free slots take 15 more devices, then the project is full
	for i := 0; i < deviceid.MaxSlot-5; i++ {
		suite.legacyDevice(ownerA)
	}
	result, err = suite.coordinator.Migrate(ctx)
	require.NoError(err)
	require.Equal(deviceid.MaxSlot-5, result.Devices)

	suite.legacyDevice(ownerA)
	_, err = suite.coordinator.Migrate(ctx)
	require.ErrorIs(err, registry.ErrCapacityExceeded)
	require.Contains(err.Error(), "1 legacy devices and 0 free slots")
}

func (suite *CoordinatorTestSuite) TestMigrateReportsLegacyProjectNameInUse() {
	require := suite.Require()
	ctx := context.Background()

	taken, err := suite.projects.Create(ctx, ownerA, fmt.Sprintf("legacy devices (%s)", ownerA), "")
	require.NoError(err)
	pending, _ := suite.legacyDevice(ownerA)

	_, err = suite.coordinator.Migrate(ctx)
	require.ErrorIs(err, registry.ErrMigrationFailure)
	require.ErrorIs(err, registry.ErrDuplicateName)
	require.Contains(err.Error(), "already in use")

	require.Nil(suite.reload(pending.ID).ProjectID)
	var projects []models.Project
	require.NoError(suite.db.Find(&projects).Error)
	require.Len(projects, 1)
	require.Equal(taken.Code, projects[0].Code)

	report, err := suite.coordinator.Report(ctx)
	require.NoError(err)
	require.Equal(int64(1), report.Counts[models.MigrationStatusFailed])
}

func (suite *CoordinatorTestSuite) TestMigrateOverCapacityChangesNothing() {
	require := suite.Require()
	ctx := context.Background()

	for i := 0; i < deviceid.MaxSlot+1; i++ {
		suite.legacyDevice(ownerA)
	}
	suite.legacyDevice(ownerB)

	_, err := suite.coordinator.Migrate(ctx)
	require.ErrorIs(err, registry.ErrMigrationFailure)
	require.ErrorIs(err, registry.ErrCapacityExceeded)

	var migrated int64
	require.NoError(suite.db.Model(&models.Device{}).Where("project_id IS NOT NULL").Count(&migrated).Error)
	require.Zero(migrated)
	var projects int64
	require.NoError(suite.db.Model(&models.Project{}).Count(&projects).Error)
	require.Zero(projects)

	report, err := suite.coordinator.Report(ctx)
	require.NoError(err)
	require.Equal(int64(deviceid.MaxSlot+2), report.Counts[models.MigrationStatusFailed])
	require.Zero(report.Counts[models.MigrationStatusCompleted])
	require.Equal(int64(deviceid.MaxSlot+2), report.Pending)
	require.Len(report.Failures, deviceid.MaxSlot+2)
	require.Contains(*report.Failures[0].Error, "legacy devices")

	// the failed run did not consume a project code
	p, err := suite.projects.Create(ctx, ownerB, "After failure", "")
	require.NoError(err)
	require.Equal("PROJ1", p.Code)
}

func (suite *CoordinatorTestSuite) TestRollbackRestoresFlatIdentifiers() {
	require := suite.Require()
	ctx := context.Background()

	regular, err := suite.projects.Create(ctx, ownerA, "Greenhouse A", "")
	require.NoError(err)
	reg, err := suite.devices.Register(ctx, ownerA, regular.Code, 4, "")
	require.NoError(err)

	a1, _ := suite.legacyDevice(ownerA)
	b1, _ := suite.legacyDevice(ownerB)
	_, err = suite.coordinator.Migrate(ctx)
	require.NoError(err)

	result, err := suite.coordinator.Rollback(ctx)
	require.NoError(err)
	require.Equal(int64(2), result.Devices)
	require.Equal(int64(2), result.ProjectsDeleted)

	for _, d := range []models.Device{a1, b1} {
		restored := suite.reload(d.ID)
		require.Nil(restored.ProjectID)
		require.Nil(restored.Slot)
		require.Nil(restored.CompositeID)
		require.Equal(*d.LegacyID, *restored.LegacyID)
	}
	require.Equal(reg.CompositeID, suite.reload(reg.Device.ID).Composite())

	var remaining []models.Project
	require.NoError(suite.db.Find(&remaining).Error)
	require.Len(remaining, 1)
	require.Equal(regular.Code, remaining[0].Code)

	report, err := suite.coordinator.Report(ctx)
	require.NoError(err)
	require.Equal(int64(2), report.Counts[models.MigrationStatusRolledBack])
	require.Zero(report.Counts[models.MigrationStatusCompleted])
	require.Equal(int64(2), report.Pending)

	again, err := suite.coordinator.Rollback(ctx)
	require.NoError(err)
	require.Zero(again.Devices)
	require.Zero(again.ProjectsDeleted)

	// migrating after a rollback allocates fresh codes, owners are processed in id order
	rerun, err := suite.coordinator.Migrate(ctx)
	require.NoError(err)
	require.Equal(2, rerun.Devices)
	require.Equal("PROJ5-ESP1", suite.reload(a1.ID).Composite())
	require.Equal("PROJ4-ESP1", suite.reload(b1.ID).Composite())
}

func (suite *CoordinatorTestSuite) TestRollbackWithoutMigration() {
	result, err := suite.coordinator.Rollback(context.Background())
	suite.Require().NoError(err)
	suite.Require().Zero(result.Devices)

	report, err := suite.coordinator.Report(context.Background())
	suite.Require().NoError(err)
	suite.Require().Nil(report.LastRunID)
	suite.Require().Empty(report.Counts)
}

func TestCoordinatorTestSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorTestSuite))
}
