package migration_20251014_0000

import (
	"time"

	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/database/migration_20251001_0000"
	. "github.com/greenhouse-io/greenhouse/internal/database/migrations"
)

type Heartbeat struct {
	ID              uint64                          `gorm:"primaryKey;autoIncrement"`
	DeviceID        uuid.UUID                       `gorm:"type:uuid"`
	Device          *migration_20251001_0000.Device `gorm:"constraint:OnDelete:CASCADE;"`
	ReceivedAt      time.Time
	SignalStrength  *int
	ReportedAddress *string
	FirmwareVersion *string
}

func init() {
	migrationId := "20251014-0000"
	CreateMigrationFromActions(migrationId,
		CreateTableAction(&Heartbeat{}),
		ExecAction(
			`CREATE INDEX IF NOT EXISTS "idx_heartbeats_device_received" ON "heartbeats" ("device_id", "received_at")`,
			`DROP INDEX IF EXISTS idx_heartbeats_device_received`,
		),
	)
}
