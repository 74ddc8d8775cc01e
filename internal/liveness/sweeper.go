package liveness

import (
	"context"
	"time"

	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepLockKey = "liveness-sweep"

// Sweeper periodically demotes online devices that stopped sending heartbeats.
type Sweeper struct {
	logger    *zap.SugaredLogger
	db        *gorm.DB
	interval  time.Duration
	threshold time.Duration
	lock      Locker
	now       func() time.Time
}

// NewSweeper returns a sweeper that runs every interval. lock may be nil when a
// single replica runs the sweep.
func NewSweeper(logger *zap.SugaredLogger, db *gorm.DB, interval, threshold time.Duration, lock Locker) *Sweeper {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if threshold <= 0 {
		threshold = DefaultOfflineThreshold
	}
	return &Sweeper{
		logger:    logger,
		db:        db,
		interval:  interval,
		threshold: threshold,
		lock:      lock,
		now:       time.Now,
	}
}

// Sweep marks offline every online device last seen before now-threshold and
// returns how many it changed. The staleness test is part of the update itself,
// so a device whose heartbeat commits first is left alone.
func (s *Sweeper) Sweep(ctx context.Context, threshold time.Duration) (int64, error) {
	ctx, span := tracer.Start(ctx, "Sweeper.Sweep")
	defer span.End()

	cutoff := s.now().UTC().Add(-threshold)
	res := s.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("state = ? AND last_seen_at < ?", models.DeviceStateOnline, cutoff).
		Update("state", models.DeviceStateOffline)
	if res.Error != nil {
		return 0, res.Error
	}
	span.SetAttributes(attribute.Int64("demoted", res.RowsAffected))
	devicesDemotedTotal.Add(float64(res.RowsAffected))
	return res.RowsAffected, nil
}

// Run sweeps every interval until ctx is done. Failures are logged and the
// next tick tries again.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Infow("liveness sweeper started", "interval", s.interval, "threshold", s.threshold)
	util.RunPeriodically(ctx, s.interval, s.tick)
	s.logger.Info("liveness sweeper stopped")
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.lock != nil {
		// hold the lease for most of the interval so a slower replica skips this tick.
		acquired, err := s.lock.TryLock(ctx, sweepLockKey, s.interval*9/10)
		if err != nil {
			sweepsTotal.WithLabelValues(resultError).Inc()
			s.logger.Warnw("failed to acquire sweep lock", "error", err)
			return
		}
		if !acquired {
			sweepsTotal.WithLabelValues(resultSkipped).Inc()
			return
		}
	}

	demoted, err := s.Sweep(ctx, s.threshold)
	if err != nil {
		sweepsTotal.WithLabelValues(resultError).Inc()
		s.logger.Warnw("liveness sweep failed", "error", err)
		return
	}
	sweepsTotal.WithLabelValues(resultCompleted).Inc()
	if demoted > 0 {
		s.logger.Infow("devices marked offline", "count", demoted)
	}
}
