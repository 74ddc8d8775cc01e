// Package legacy moves devices from the flat UUID identifier scheme into projects
// and composite identifiers, and can undo that move.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/database"
	"github.com/greenhouse-io/greenhouse/internal/deviceid"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/greenhouse-io/greenhouse/internal/legacy")
}

// reportFailureLimit caps the failed entries returned by Report.
const reportFailureLimit = 100

// projectColumns are nullable while legacy devices exist and NOT NULL afterwards.
var projectColumns = []string{"project_id", "slot", "composite_id"}

type MigrationResult struct {
	RunID       uuid.UUID
	Projects    int
	Devices     int
	StartedAt   time.Time
	CompletedAt time.Time
}

type RollbackResult struct {
	Devices         int64
	ProjectsDeleted int64
}

type Coordinator struct {
	logger      *zap.SugaredLogger
	db          *gorm.DB
	transaction database.TransactionFunc
	dialect     database.Dialect
	allocator   *registry.Allocator
	now         func() time.Time
}

func NewCoordinator(logger *zap.SugaredLogger, db *gorm.DB, transaction database.TransactionFunc, dialect database.Dialect, allocator *registry.Allocator) *Coordinator {
	return &Coordinator{
		logger:      logger,
		db:          db,
		transaction: transaction,
		dialect:     dialect,
		allocator:   allocator,
		now:         time.Now,
	}
}

// Migrate assigns every device without a project to a per owner legacy project,
// in one serializable transaction. Either every device is migrated or none is;
// a failed run is recorded in the audit trail and returned as ErrMigrationFailure.
func (c *Coordinator) Migrate(ctx context.Context) (*MigrationResult, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Migrate")
	defer span.End()

	result := &MigrationResult{
		RunID:     uuid.New(),
		StartedAt: c.now().UTC(),
	}
	logger := util.WithTrace(ctx, c.logger).With("run_id", result.RunID)
	span.SetAttributes(attribute.String("run_id", result.RunID.String()))

	err := c.transaction(ctx, func(tx *gorm.DB) error {
		result.Projects, result.Devices = 0, 0

		if c.dialect == database.DialectPostgreSQL {
			if err := tx.Exec("LOCK TABLE devices IN ACCESS EXCLUSIVE MODE").Error; err != nil {
				return err
			}
		}

		var pending []models.Device
		res := tx.Where("project_id IS NULL").Order("created_at, id").Find(&pending)
		if res.Error != nil {
			return res.Error
		}

		byOwner := map[uuid.UUID][]models.Device{}
		for _, device := range pending {
			byOwner[device.OwnerID] = append(byOwner[device.OwnerID], device)
		}
		owners := make([]uuid.UUID, 0, len(byOwner))
		for owner := range byOwner {
			owners = append(owners, owner)
		}
		sort.Slice(owners, func(i, j int) bool {
			return owners[i].String() < owners[j].String()
		})

		for _, owner := range owners {
			created, err := c.migrateOwner(ctx, tx, result, owner, byOwner[owner])
			if err != nil {
				return err
			}
			if created {
				result.Projects++
			}
		}

		if c.dialect == database.DialectPostgreSQL {
			return setProjectColumnsNotNull(tx, true)
		}
		return nil
	}, database.Serializable)
	if err != nil {
		logger.Errorw("legacy migration failed", "error", err)
		if recordErr := c.recordFailure(ctx, result, err); recordErr != nil {
			logger.Errorw("failed to record legacy migration failure", "error", recordErr)
		}
		return nil, fmt.Errorf("%w: %w", registry.ErrMigrationFailure, err)
	}

	// cockroach does not allow the schema change in the same transaction as the updates.
	if c.dialect == database.DialectCockroachDB {
		if err := setProjectColumnsNotNull(c.db.WithContext(ctx), true); err != nil {
			return nil, fmt.Errorf("%w: %w", registry.ErrMigrationFailure, err)
		}
	}

	result.CompletedAt = c.now().UTC()
	logger.Infow("legacy migration completed", "devices", result.Devices, "projects", result.Projects)
	return result, nil
}

func (c *Coordinator) migrateOwner(ctx context.Context, tx *gorm.DB, result *MigrationResult, owner uuid.UUID, devices []models.Device) (bool, error) {
	project, created, err := c.legacyProject(ctx, tx, owner)
	if err != nil {
		return false, err
	}

	slots, err := freeSlots(tx, project.ID)
	if err != nil {
		return false, err
	}
	if len(slots) < len(devices) {
		return false, fmt.Errorf("owner %s has %d legacy devices and %d free slots: %w",
			owner, len(devices), len(slots), registry.ErrCapacityExceeded)
	}

	for i, device := range devices {
		slot := slots[i]
		compositeID, err := deviceid.FormatComposite(project.Code, slot)
		if err != nil {
			return false, err
		}
		res := tx.Model(&models.Device{}).
			Where("id = ? AND project_id IS NULL", device.ID).
			Updates(map[string]interface{}{
				"project_id":   project.ID,
				"slot":         slot,
				"composite_id": compositeID,
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected != 1 {
			return false, fmt.Errorf("device %s changed during migration", device.ID)
		}

		completedAt := c.now().UTC()
		entry := models.MigrationAuditEntry{
			RunID:          result.RunID,
			DeviceID:       device.ID,
			LegacyID:       legacyID(device),
			NewCompositeID: &compositeID,
			Status:         models.MigrationStatusCompleted,
			StartedAt:      result.StartedAt,
			CompletedAt:    &completedAt,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return false, err
		}
		result.Devices++
	}
	return created, nil
}

// freeSlots returns the unused slots of a project in ascending order.
func freeSlots(tx *gorm.DB, projectID uuid.UUID) ([]int, error) {
	var used []int
	if res := tx.Model(&models.Device{}).Where("project_id = ?", projectID).Pluck("slot", &used); res.Error != nil {
		return nil, res.Error
	}
	taken := make(map[int]bool, len(used))
	for _, slot := range used {
		taken[slot] = true
	}
	free := make([]int, 0, deviceid.MaxSlot)
	for slot := deviceid.MinSlot; slot <= deviceid.MaxSlot; slot++ {
		if !taken[slot] {
			free = append(free, slot)
		}
	}
	return free, nil
}

// legacyProject returns the owner's legacy project, creating it on the first run.
func (c *Coordinator) legacyProject(ctx context.Context, tx *gorm.DB, owner uuid.UUID) (*models.Project, bool, error) {
	var project models.Project
	res := tx.Where("owner_id = ? AND legacy = ?", owner, true).Order("created_at").First(&project)
	if res.Error == nil {
		return &project, false, nil
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, false, res.Error
	}

	code, err := c.allocator.Next(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	project = models.Project{
		OwnerID:     owner,
		Code:        code,
		Name:        fmt.Sprintf("Legacy devices (%s)", owner),
		Description: "Devices registered before projects existed",
		Legacy:      true,
	}
	if err := tx.Create(&project).Error; err != nil {
		if database.IsDuplicateError(err) {
			return nil, false, fmt.Errorf("legacy project name %q is already in use, rename that project and run the migration again: %w",
				project.Name, registry.ErrDuplicateName)
		}
		return nil, false, err
	}
	return &project, true, nil
}

// recordFailure writes a failed audit entry for every device the aborted run should have migrated.
func (c *Coordinator) recordFailure(ctx context.Context, result *MigrationResult, cause error) error {
	message := cause.Error()
	return c.transaction(ctx, func(tx *gorm.DB) error {
		var pending []models.Device
		if res := tx.Where("project_id IS NULL").Order("created_at, id").Find(&pending); res.Error != nil {
			return res.Error
		}
		if len(pending) == 0 {
			return nil
		}
		completedAt := c.now().UTC()
		entries := make([]models.MigrationAuditEntry, 0, len(pending))
		for _, device := range pending {
			entries = append(entries, models.MigrationAuditEntry{
				RunID:       result.RunID,
				DeviceID:    device.ID,
				LegacyID:    legacyID(device),
				Status:      models.MigrationStatusFailed,
				StartedAt:   result.StartedAt,
				CompletedAt: &completedAt,
				Error:       &message,
			})
		}
		return tx.Create(&entries).Error
	})
}

// Rollback returns every migrated device to the flat scheme and removes the legacy
// projects left empty. Running it again has no further effect.
func (c *Coordinator) Rollback(ctx context.Context) (*RollbackResult, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Rollback")
	defer span.End()

	if c.dialect == database.DialectCockroachDB {
		if err := setProjectColumnsNotNull(c.db.WithContext(ctx), false); err != nil {
			return nil, err
		}
	}

	result := &RollbackResult{}
	err := c.transaction(ctx, func(tx *gorm.DB) error {
		*result = RollbackResult{}

		if c.dialect == database.DialectPostgreSQL {
			if err := tx.Exec("LOCK TABLE devices IN ACCESS EXCLUSIVE MODE").Error; err != nil {
				return err
			}
			if err := setProjectColumnsNotNull(tx, false); err != nil {
				return err
			}
		}

		var entries []models.MigrationAuditEntry
		res := tx.Where("status = ?", models.MigrationStatusCompleted).Order("started_at, device_id").Find(&entries)
		if res.Error != nil {
			return res.Error
		}

		ids := make([]uuid.UUID, 0, len(entries))
		for _, entry := range entries {
			res := tx.Model(&models.Device{}).
				Where("id = ? AND composite_id = ?", entry.DeviceID, entry.NewCompositeID).
				Updates(map[string]interface{}{
					"project_id":   nil,
					"slot":         nil,
					"composite_id": nil,
				})
			if res.Error != nil {
				return res.Error
			}
			result.Devices += res.RowsAffected
			ids = append(ids, entry.ID)
		}

		res = tx.Where("legacy = ? AND NOT EXISTS (SELECT 1 FROM devices WHERE devices.project_id = projects.id)", true).
			Delete(&models.Project{})
		if res.Error != nil {
			return res.Error
		}
		result.ProjectsDeleted = res.RowsAffected

		if len(ids) == 0 {
			return nil
		}
		now := c.now().UTC()
		return tx.Model(&models.MigrationAuditEntry{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":       models.MigrationStatusRolledBack,
				"completed_at": now,
			}).Error
	}, database.Serializable)
	if err != nil {
		return nil, err
	}

	util.WithTrace(ctx, c.logger).Infow("legacy migration rolled back",
		"devices", result.Devices,
		"projects_deleted", result.ProjectsDeleted,
	)
	return result, nil
}

// Report summarizes the audit trail for operators.
func (c *Coordinator) Report(ctx context.Context) (*models.MigrationReport, error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Report")
	defer span.End()

	db := c.db.WithContext(ctx)
	report := &models.MigrationReport{
		Counts:   map[models.MigrationStatus]int64{},
		Failures: []models.MigrationAuditEntry{},
	}

	type statusCount struct {
		Status models.MigrationStatus
		Count  int64
	}
	var counts []statusCount
	res := db.Model(&models.MigrationAuditEntry{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&counts)
	if res.Error != nil {
		return nil, res.Error
	}
	for _, sc := range counts {
		report.Counts[sc.Status] = sc.Count
	}

	var last models.MigrationAuditEntry
	res = db.Order("started_at DESC, created_at DESC").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		report.LastRunID = &last.RunID
		report.StartedAt = &last.StartedAt

		var runEntries []models.MigrationAuditEntry
		if res := db.Where("run_id = ?", last.RunID).Find(&runEntries); res.Error != nil {
			return nil, res.Error
		}
		for i := range runEntries {
			completedAt := runEntries[i].CompletedAt
			if completedAt != nil && (report.CompletedAt == nil || completedAt.After(*report.CompletedAt)) {
				report.CompletedAt = completedAt
			}
		}
	}

	res = db.Where("status = ?", models.MigrationStatusFailed).
		Order("started_at DESC, created_at DESC").
		Limit(reportFailureLimit).
		Find(&report.Failures)
	if res.Error != nil {
		return nil, res.Error
	}

	if res := db.Model(&models.Device{}).Where("composite_id IS NULL").Count(&report.Pending); res.Error != nil {
		return nil, res.Error
	}
	return report, nil
}

func setProjectColumnsNotNull(tx *gorm.DB, notNull bool) error {
	action := "DROP"
	if notNull {
		action = "SET"
	}
	for _, column := range projectColumns {
		if err := tx.Exec(fmt.Sprintf("ALTER TABLE devices ALTER COLUMN %s %s NOT NULL", column, action)).Error; err != nil {
			return err
		}
	}
	return nil
}

func legacyID(device models.Device) string {
	if device.LegacyID == nil {
		return device.ID.String()
	}
	return *device.LegacyID
}
