package registry

import (
	"context"
	"crypto/rand"
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

// DeviceRegistry registers devices into the fixed slots of a project.
type DeviceRegistry struct {
	logger      *zap.SugaredLogger
	db          *gorm.DB
	transaction database.TransactionFunc
}

func NewDeviceRegistry(logger *zap.SugaredLogger, db *gorm.DB, transaction database.TransactionFunc) *DeviceRegistry {
	return &DeviceRegistry{
		logger:      logger,
		db:          db,
		transaction: transaction,
	}
}

// ListAvailableSlots describes every slot of the project and whether it is free.
func (r *DeviceRegistry) ListAvailableSlots(ctx context.Context, owner uuid.UUID, code string) ([]models.SlotInfo, error) {
	ctx, span := tracer.Start(ctx, "DeviceRegistry.ListAvailableSlots")
	defer span.End()

	db := r.db.WithContext(ctx)
	project, err := getOwnedProject(db, owner, code)
	if err != nil {
		return nil, err
	}

	var used []int
	res := db.Model(&models.Device{}).
		Where("project_id = ? AND slot IS NOT NULL", project.ID).
		Pluck("slot", &used)
	if res.Error != nil {
		return nil, res.Error
	}
	taken := map[int]bool{}
	for _, slot := range used {
		taken[slot] = true
	}

	slots := make([]models.SlotInfo, 0, deviceid.MaxSlot)
	for slot := deviceid.MinSlot; slot <= deviceid.MaxSlot; slot++ {
		id, err := deviceid.FormatComposite(project.Code, slot)
		if err != nil {
			return nil, err
		}
		slots = append(slots, models.SlotInfo{
			Slot:        slot,
			CompositeID: id,
			Available:   !taken[slot],
		})
	}
	return slots, nil
}

// Register creates a device in the given slot. The returned secret is not stored
// and cannot be recovered later.
func (r *DeviceRegistry) Register(ctx context.Context, owner uuid.UUID, code string, slot int, displayName string) (*models.DeviceRegistration, error) {
	ctx, span := tracer.Start(ctx, "DeviceRegistry.Register")
	defer span.End()

	if !deviceid.ValidSlot(slot) {
		return nil, ErrInvalidSlot
	}
	secret, hash, err := NewSecret(rand.Reader)
	if err != nil {
		return nil, err
	}

	var device models.Device
	err = r.transaction(ctx, func(tx *gorm.DB) error {
		project, err := getOwnedProject(tx, owner, code)
		if err != nil {
			return err
		}
		compositeID, err := deviceid.FormatComposite(project.Code, slot)
		if err != nil {
			return err
		}
		name := strings.TrimSpace(displayName)
		if name == "" {
			name = compositeID
		}
		device = models.Device{
			ProjectID:   &project.ID,
			OwnerID:     project.OwnerID,
			Slot:        &slot,
			CompositeID: &compositeID,
			DisplayName: name,
			SecretHash:  hash,
			State:       models.DeviceStateWaiting,
		}
		if res := tx.Create(&device); res.Error != nil {
			if database.IsDuplicateError(res.Error) {
				return ErrSlotTaken
			}
			return res.Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("composite_id", device.Composite()))
	util.WithTrace(ctx, r.logger).Infow("device registered", "device", device.Composite(), "owner", owner)
	return &models.DeviceRegistration{
		CompositeID: device.Composite(),
		Secret:      secret,
		Device:      &device,
	}, nil
}

// Get returns a device by composite identifier if owner owns it.
func (r *DeviceRegistry) Get(ctx context.Context, owner uuid.UUID, compositeID string) (*models.Device, error) {
	ctx, span := tracer.Start(ctx, "DeviceRegistry.Get")
	defer span.End()
	return getOwnedDevice(r.db.WithContext(ctx), owner, compositeID)
}

func getOwnedDevice(db *gorm.DB, owner uuid.UUID, compositeID string) (*models.Device, error) {
	if _, _, err := deviceid.ParseComposite(compositeID); err != nil {
		return nil, ErrMalformedIdentifier
	}
	var device models.Device
	res := db.Where("composite_id = ? AND owner_id = ?", compositeID, owner).First(&device)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, res.Error
	}
	return &device, nil
}

// ListByProject returns the devices of a project ordered by slot.
func (r *DeviceRegistry) ListByProject(ctx context.Context, owner uuid.UUID, code string) ([]models.Device, error) {
	ctx, span := tracer.Start(ctx, "DeviceRegistry.ListByProject")
	defer span.End()

	db := r.db.WithContext(ctx)
	project, err := getOwnedProject(db, owner, code)
	if err != nil {
		return nil, err
	}
	devices := []models.Device{}
	if res := db.Where("project_id = ?", project.ID).Order("slot").Find(&devices); res.Error != nil {
		return nil, res.Error
	}
	return devices, nil
}

// Delete removes a device and its heartbeats. The slot can be registered again right away.
func (r *DeviceRegistry) Delete(ctx context.Context, owner uuid.UUID, compositeID string) error {
	ctx, span := tracer.Start(ctx, "DeviceRegistry.Delete")
	defer span.End()

	err := r.transaction(ctx, func(tx *gorm.DB) error {
		device, err := getOwnedDevice(tx, owner, compositeID)
		if err != nil {
			return err
		}
		if res := tx.Where("device_id = ?", device.ID).Delete(&models.Heartbeat{}); res.Error != nil {
			return res.Error
		}
		return tx.Delete(device).Error
	})
	if err != nil {
		return err
	}
	util.WithTrace(ctx, r.logger).Infow("device deleted", "device", compositeID, "owner", owner)
	return nil
}
