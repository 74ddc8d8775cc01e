package migration_20251001_0000

import (
	"time"

	"github.com/google/uuid"
	. "github.com/greenhouse-io/greenhouse/internal/database/migrations"
	"gorm.io/gorm"
)

type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Project struct {
	Base
	OwnerID     uuid.UUID `gorm:"type:uuid;index"`
	Code        string    `gorm:"uniqueIndex;size:16"`
	Name        string
	NameKey     string `gorm:"uniqueIndex;size:255"`
	Description string
	Legacy      bool
}

// Device rows created before projects existed only carry legacy_id, so the
// project columns start out nullable.
type Device struct {
	Base
	ProjectID       *uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_devices_project_slot"`
	Project         *Project   `gorm:"constraint:OnDelete:CASCADE;"`
	OwnerID         uuid.UUID  `gorm:"type:uuid;index"`
	Slot            *int       `gorm:"uniqueIndex:idx_devices_project_slot"`
	CompositeID     *string    `gorm:"uniqueIndex;size:32"`
	LegacyID        *string    `gorm:"uniqueIndex;size:64"`
	DisplayName     string
	SecretHash      []byte
	State           string     `gorm:"index;size:16;default:waiting"`
	LastSeenAt      *time.Time `gorm:"index"`
	FirmwareVersion string
}

type ProjectCodeSequence struct {
	Name  string `gorm:"primary_key;size:64"`
	Value int64
}

type MigrationAuditEntry struct {
	Base
	RunID          uuid.UUID `gorm:"type:uuid;index"`
	DeviceID       uuid.UUID `gorm:"type:uuid;index"`
	LegacyID       string
	NewCompositeID *string
	Status         string `gorm:"size:16;index"`
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          *string
}

func init() {
	migrationId := "20251001-0000"
	CreateMigrationFromActions(migrationId,
		CreateTableAction(&Project{}),
		CreateTableAction(&Device{}),
		CreateTableAction(&ProjectCodeSequence{}),
		CreateTableAction(&MigrationAuditEntry{}),
		FuncAction(func(tx *gorm.DB) error {
			return tx.Create(&ProjectCodeSequence{Name: "project_code", Value: 0}).Error
		}, nil),
	)
}
