package models

import (
	"time"

	"github.com/google/uuid"
)

type MigrationStatus string

const (
	MigrationStatusCompleted  MigrationStatus = "completed"
	MigrationStatusFailed     MigrationStatus = "failed"
	MigrationStatusRolledBack MigrationStatus = "rolled_back"
)

// MigrationAuditEntry records what the legacy identifier migration did to one device.
// It deliberately has no foreign key to devices so that it outlives them.
type MigrationAuditEntry struct {
	Base
	RunID          uuid.UUID       `json:"run_id" gorm:"type:uuid;index"`
	DeviceID       uuid.UUID       `json:"device_id" gorm:"type:uuid;index"`
	LegacyID       string          `json:"legacy_id"`
	NewCompositeID *string         `json:"new_composite_id"`
	Status         MigrationStatus `json:"status" gorm:"size:16;index"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
	Error          *string         `json:"error,omitempty"`
}

// MigrationReport summarizes the audit trail of the legacy identifier migration.
type MigrationReport struct {
	LastRunID   *uuid.UUID                `json:"last_run_id"`
	StartedAt   *time.Time                `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at"`
	Counts      map[MigrationStatus]int64 `json:"counts"`
	Failures    []MigrationAuditEntry     `json:"failures"`
	Pending     int64                     `json:"legacy_devices_pending"` // Pending counts devices that still have no composite identifier.
}
