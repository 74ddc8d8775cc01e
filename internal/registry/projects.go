package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/database"
	"github.com/greenhouse-io/greenhouse/internal/deviceid"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProjectStore creates, lists and deletes the projects of an owner.
type ProjectStore struct {
	logger      *zap.SugaredLogger
	db          *gorm.DB
	transaction database.TransactionFunc
	allocator   *Allocator
}

func NewProjectStore(logger *zap.SugaredLogger, db *gorm.DB, transaction database.TransactionFunc, allocator *Allocator) *ProjectStore {
	return &ProjectStore{
		logger:      logger,
		db:          db,
		transaction: transaction,
		allocator:   allocator,
	}
}

// Create allocates a project code and stores a new project for owner. Names are
// unique across all owners, ignoring case.
func (s *ProjectStore) Create(ctx context.Context, owner uuid.UUID, name, description string) (*models.Project, error) {
	ctx, span := tracer.Start(ctx, "ProjectStore.Create")
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	var project models.Project
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		code, err := s.allocator.Next(ctx, tx)
		if err != nil {
			return err
		}
		project = models.Project{
			OwnerID:     owner,
			Code:        code,
			Name:        name,
			Description: strings.TrimSpace(description),
		}
		if res := tx.Create(&project); res.Error != nil {
			if database.IsDuplicateError(res.Error) {
				return ErrDuplicateName
			}
			return res.Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("code", project.Code))
	util.WithTrace(ctx, s.logger).Infow("project created", "code", project.Code, "owner", owner)
	return &project, nil
}

// Get returns the project with the given code if owner owns it. A project owned
// by somebody else, or a code that no project could have, is reported as ErrNotFound.
func (s *ProjectStore) Get(ctx context.Context, owner uuid.UUID, code string) (*models.Project, error) {
	ctx, span := tracer.Start(ctx, "ProjectStore.Get")
	defer span.End()
	return getOwnedProject(s.db.WithContext(ctx), owner, code)
}

func getOwnedProject(db *gorm.DB, owner uuid.UUID, code string) (*models.Project, error) {
	if !deviceid.ValidProjectCode(code) {
		return nil, ErrNotFound
	}
	var project models.Project
	res := db.Where("code = ? AND owner_id = ?", code, owner).First(&project)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, res.Error
	}
	return &project, nil
}

// ListByOwner returns the projects of owner, oldest first.
func (s *ProjectStore) ListByOwner(ctx context.Context, owner uuid.UUID) ([]models.Project, error) {
	ctx, span := tracer.Start(ctx, "ProjectStore.ListByOwner")
	defer span.End()

	projects := []models.Project{}
	res := s.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("created_at, code").
		Find(&projects)
	if res.Error != nil {
		return nil, res.Error
	}
	return projects, nil
}

// Delete removes the project with its devices and their heartbeats.
func (s *ProjectStore) Delete(ctx context.Context, owner uuid.UUID, code string) error {
	ctx, span := tracer.Start(ctx, "ProjectStore.Delete")
	defer span.End()

	var removed int64
	err := s.transaction(ctx, func(tx *gorm.DB) error {
		project, err := getOwnedProject(tx, owner, code)
		if err != nil {
			return err
		}
		devices := tx.Model(&models.Device{}).Select("id").Where("project_id = ?", project.ID)
		if res := tx.Where("device_id IN (?)", devices).Delete(&models.Heartbeat{}); res.Error != nil {
			return res.Error
		}
		res := tx.Where("project_id = ?", project.ID).Delete(&models.Device{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Delete(project).Error
	})
	if err != nil {
		return err
	}
	util.WithTrace(ctx, s.logger).Infow("project deleted", "code", code, "owner", owner, "devices", removed)
	return nil
}
