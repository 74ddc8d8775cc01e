package database

import (
	"context"
	"errors"
	"time"

	"github.com/greenhouse-io/greenhouse/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// zapLogger adapts gorm's logger interface onto a zap logger.
type zapLogger struct {
	logger        *zap.SugaredLogger
	slowThreshold time.Duration
	level         logger.LogLevel
}

func NewLogger(sugar *zap.SugaredLogger) logger.Interface {
	return &zapLogger{
		logger:        sugar.Named("gorm"),
		slowThreshold: 200 * time.Millisecond,
		level:         logger.Warn,
	}
}

func (z *zapLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *z
	clone.level = level
	return &clone
}

func (z *zapLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Info {
		util.WithTrace(ctx, z.logger).Infof(msg, args...)
	}
}

func (z *zapLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Warn {
		util.WithTrace(ctx, z.logger).Warnf(msg, args...)
	}
}

func (z *zapLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if z.level >= logger.Error {
		util.WithTrace(ctx, z.logger).Errorf(msg, args...)
	}
}

func (z *zapLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if z.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	log := util.WithTrace(ctx, z.logger)
	switch {
	case err != nil && z.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		// unique violations are expected on the registration paths and are logged by the caller.
		sql, rows := fc()
		log.Debugw(sql,
			"line_number", utils.FileWithLineNum(),
			"error", err.Error(),
			"rows", rows,
			"elapsed_ms", float64(elapsed.Nanoseconds())/1e6,
		)
	case z.slowThreshold != 0 && elapsed > z.slowThreshold && z.level >= logger.Warn:
		sql, rows := fc()
		log.Warnw(sql,
			"line_number", utils.FileWithLineNum(),
			"slow_threshold", z.slowThreshold,
			"rows", rows,
			"elapsed_ms", float64(elapsed.Nanoseconds())/1e6,
		)
	case z.level == logger.Info:
		sql, rows := fc()
		log.Infow(sql,
			"line_number", utils.FileWithLineNum(),
			"rows", rows,
			"elapsed_ms", float64(elapsed.Nanoseconds())/1e6,
		)
	}
}
