package liveness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/greenhouse-io/greenhouse/internal/database"
	"github.com/greenhouse-io/greenhouse/internal/deviceid"
	"github.com/greenhouse-io/greenhouse/internal/fflags"
	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FlagSource reports whether a feature flag is on.
type FlagSource interface {
	Enabled(flag string) bool
}

// HeartbeatResult describes the device a heartbeat was accepted for.
type HeartbeatResult struct {
	DeviceID      uuid.UUID
	Identifier    string // Identifier is the composite id, or the legacy id for devices that were not migrated yet.
	State         models.DeviceState
	PreviousState models.DeviceState
	ReceivedAt    time.Time
}

type HeartbeatProcessor struct {
	logger      *zap.SugaredLogger
	db          *gorm.DB
	transaction database.TransactionFunc
	flags       FlagSource
	timeout     time.Duration
	now         func() time.Time
}

func NewHeartbeatProcessor(logger *zap.SugaredLogger, db *gorm.DB, transaction database.TransactionFunc, flags FlagSource, timeout time.Duration) *HeartbeatProcessor {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &HeartbeatProcessor{
		logger:      logger,
		db:          db,
		transaction: transaction,
		flags:       flags,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Process authenticates a heartbeat and records it. The identifier shape is checked
// before the database is touched, then the device is looked up, then its secret is
// verified. An accepted heartbeat always leaves the device online.
func (p *HeartbeatProcessor) Process(ctx context.Context, identifier string, secret string, telemetry models.Telemetry) (*HeartbeatResult, error) {
	ctx, span := tracer.Start(ctx, "HeartbeatProcessor.Process")
	defer span.End()

	start := time.Now()
	defer func() {
		heartbeatDuration.Observe(time.Since(start).Seconds())
	}()

	id, err := deviceid.Parse(identifier, p.flags.Enabled(fflags.LegacyIdentifiers))
	if err != nil {
		heartbeatsTotal.WithLabelValues(resultMalformed).Inc()
		return nil, registry.ErrMalformedIdentifier
	}
	span.SetAttributes(
		attribute.String("identifier", id.Value),
		attribute.String("kind", id.Kind.String()),
	)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var result HeartbeatResult
	err = p.transaction(ctx, func(tx *gorm.DB) error {
		var device models.Device
		query := tx
		if id.Kind == deviceid.KindLegacy {
			query = query.Where("legacy_id = ?", id.Value)
		} else {
			query = query.Where("composite_id = ?", id.Value)
		}
		if res := query.First(&device); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return registry.ErrUnknownDevice
			}
			return res.Error
		}

		if !registry.VerifySecret(device.SecretHash, secret) {
			return registry.ErrUnauthorized
		}

		now := p.now().UTC()
		heartbeat := models.Heartbeat{
			DeviceID:        device.ID,
			ReceivedAt:      now,
			SignalStrength:  telemetry.SignalStrength,
			ReportedAddress: telemetry.ReportedAddress,
			FirmwareVersion: telemetry.FirmwareVersion,
		}
		if res := tx.Create(&heartbeat); res.Error != nil {
			return res.Error
		}

		updates := map[string]interface{}{
			"state":        models.DeviceStateOnline,
			"last_seen_at": now,
		}
		if telemetry.FirmwareVersion != nil {
			updates["firmware_version"] = *telemetry.FirmwareVersion
		}
		if res := tx.Model(&models.Device{}).Where("id = ?", device.ID).Updates(updates); res.Error != nil {
			return res.Error
		}

		result = HeartbeatResult{
			DeviceID:      device.ID,
			Identifier:    device.Composite(),
			State:         models.DeviceStateOnline,
			PreviousState: device.State,
			ReceivedAt:    now,
		}
		if result.Identifier == "" && device.LegacyID != nil {
			result.Identifier = *device.LegacyID
		}
		return nil
	})

	switch {
	case err == nil:
		heartbeatsTotal.WithLabelValues(resultAccepted).Inc()
	case errors.Is(err, registry.ErrUnknownDevice):
		heartbeatsTotal.WithLabelValues(resultUnknown).Inc()
		return nil, err
	case errors.Is(err, registry.ErrUnauthorized):
		heartbeatsTotal.WithLabelValues(resultUnauthorized).Inc()
		util.WithTrace(ctx, p.logger).Infow("heartbeat rejected", "identifier", id.Value)
		return nil, err
	default:
		heartbeatsTotal.WithLabelValues(resultError).Inc()
		return nil, fmt.Errorf("recording heartbeat for %s: %w", id.Value, err)
	}

	if result.PreviousState != models.DeviceStateOnline {
		util.WithTrace(ctx, p.logger).Infow("device online",
			"device", result.Identifier,
			"previous_state", result.PreviousState,
		)
	}
	return &result, nil
}
