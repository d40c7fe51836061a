package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQueryThreshold marks statements worth a warning
const DefaultSlowQueryThreshold = 500 * time.Millisecond

// GormLogger routes gorm's statement log into the structured logger
type GormLogger struct {
	log           *Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger builds a gorm logger that reports warnings, errors and slow statements
func NewGormLogger(log *Logger) *GormLogger {
	return &GormLogger{
		log:           log.Named(ComponentSave),
		level:         gormlogger.Warn,
		slowThreshold: DefaultSlowQueryThreshold,
	}
}

// LogMode returns a copy with the updated level
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace logs failed and slow statements. Record-not-found is expected on lookups and is ignored.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.ErrorContext(ctx, "Statement failed",
			"error", err,
			"elapsed_ms", elapsed.Milliseconds(),
			"rows", rows,
			"sql", sql)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.log.WarnContext(ctx, "Slow statement",
			"elapsed_ms", elapsed.Milliseconds(),
			"threshold_ms", g.slowThreshold.Milliseconds(),
			"rows", rows,
			"sql", sql)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.log.DebugContext(ctx, "Statement",
			"elapsed_ms", elapsed.Milliseconds(),
			"rows", rows,
			"sql", sql)
	}
}
