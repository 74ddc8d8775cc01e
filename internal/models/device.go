package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceState is the liveness state of a device.
type DeviceState string

const (
	// DeviceStateWaiting is the initial state, the device has never sent an authenticated heartbeat.
	DeviceStateWaiting DeviceState = "waiting"
	DeviceStateOnline  DeviceState = "online"
	DeviceStateOffline DeviceState = "offline"
)

// Device is a physical greenhouse controller registered into a slot of a Project.
//
// ProjectID, Slot and CompositeID are only nullable for devices created under the
// legacy flat identifier scheme, until the legacy migration backfills them.
type Device struct {
	Base
	ProjectID       *uuid.UUID  `json:"project_id" gorm:"type:uuid;uniqueIndex:idx_devices_project_slot"`
	Project         *Project    `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
	OwnerID         uuid.UUID   `json:"owner_id" gorm:"type:uuid;index"` // Denormalized from the project record, legacy devices only have an owner.
	Slot            *int        `json:"slot" gorm:"uniqueIndex:idx_devices_project_slot" example:"5"`
	CompositeID     *string     `json:"composite_id" gorm:"uniqueIndex;size:32" example:"PROJ1-ESP5"`
	LegacyID        *string     `json:"legacy_id,omitempty" gorm:"uniqueIndex;size:64"`
	DisplayName     string      `json:"display_name" example:"Tomatoes"`
	SecretHash      []byte      `json:"-"`
	State           DeviceState `json:"state" gorm:"index;size:16;default:waiting" example:"waiting"`
	LastSeenAt      *time.Time  `json:"last_seen_at" gorm:"index"`
	FirmwareVersion string      `json:"firmware_version,omitempty" example:"v3.2.0"`
	Heartbeats      []Heartbeat `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
}

// Composite returns the composite identifier, or "" for a device that has not been migrated yet.
func (d *Device) Composite() string {
	if d.CompositeID == nil {
		return ""
	}
	return *d.CompositeID
}

// AddDevice is the information needed to register a device into a project slot.
type AddDevice struct {
	Slot        int    `json:"slot" example:"5"`
	DisplayName string `json:"display_name" example:"Tomatoes"`
}

// DeviceRegistration is returned once, when a device is registered. The secret is never readable again.
type DeviceRegistration struct {
	CompositeID string  `json:"composite_id" example:"PROJ1-ESP5"`
	Secret      string  `json:"secret" example:"5f0c...e1"`
	Device      *Device `json:"device"`
}

// SlotInfo describes one of the fixed slots of a project.
type SlotInfo struct {
	Slot        int    `json:"slot" example:"5"`
	CompositeID string `json:"composite_id" example:"PROJ1-ESP5"`
	Available   bool   `json:"available"`
}
