package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/greenhouse-io/greenhouse/internal/deviceid"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"gorm.io/gorm"
)

// ProjectCodeSequence is the name of the counter row project codes are drawn from.
const ProjectCodeSequence = "project_code"

// Allocator hands out project codes from a single counter row. Values are never
// reused, a deleted project leaves a gap in the sequence.
type Allocator struct{}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// Next increments the counter within tx and returns the formatted code. The row
// stays locked until tx ends, so concurrent callers are serialized.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB) (string, error) {
	ctx, span := tracer.Start(ctx, "Allocator.Next")
	defer span.End()

	tx = tx.WithContext(ctx)
	result := tx.Model(&models.ProjectCodeSequence{}).
		Where("name = ? AND value < ?", ProjectCodeSequence, deviceid.MaxProjectCode).
		Update("value", gorm.Expr("value + 1"))
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := tx.Model(&models.ProjectCodeSequence{}).Where("name = ?", ProjectCodeSequence).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return "", fmt.Errorf("sequence %q is missing", ProjectCodeSequence)
		}
		return "", ErrCapacityExceeded
	}

	var seq models.ProjectCodeSequence
	if err := tx.First(&seq, "name = ?", ProjectCodeSequence).Error; err != nil {
		return "", err
	}
	code, err := deviceid.FormatProjectCode(seq.Value)
	if errors.Is(err, deviceid.ErrCodeOutOfRange) {
		return "", ErrCapacityExceeded
	}
	return code, err
}
