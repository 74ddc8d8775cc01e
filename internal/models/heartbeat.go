package models

import (
	"time"

	"github.com/google/uuid"
)

// Heartbeat is an append-only telemetry record written for every accepted heartbeat.
type Heartbeat struct {
	ID              uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	DeviceID        uuid.UUID `json:"device_id" gorm:"type:uuid;index:idx_heartbeats_device_received,priority:1"`
	ReceivedAt      time.Time `json:"received_at" gorm:"index:idx_heartbeats_device_received,priority:2"`
	SignalStrength  *int      `json:"signal_strength,omitempty"`
	ReportedAddress *string   `json:"reported_address,omitempty"`
	FirmwareVersion *string   `json:"firmware_version,omitempty"`
}

// Telemetry is the optional data a device reports along with a heartbeat.
type Telemetry struct {
	SignalStrength  *int    `json:"signal_strength,omitempty" example:"-67"`
	ReportedAddress *string `json:"address,omitempty" example:"192.168.1.40"`
	FirmwareVersion *string `json:"firmware_version,omitempty" example:"v3.2.0"`
}

// HeartbeatRequest is the body a device posts to the heartbeat endpoint.
type HeartbeatRequest struct {
	DeviceID string `json:"device_id" example:"PROJ1-ESP5"`
	Secret   string `json:"secret"`
	Telemetry
}

// HeartbeatResponse is returned to a device when its heartbeat was accepted.
type HeartbeatResponse struct {
	DeviceID   string      `json:"device_id" example:"PROJ1-ESP5"`
	State      DeviceState `json:"state" example:"online"`
	ServerTime time.Time   `json:"server_time"`
}
