// logger.go: file logging for database operations and the GORM logger bridge.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/logging"
)

var (
	datastoreLogger *slog.Logger
	loggerCloseFunc func() error
	loggerOnce      sync.Once
)

// initLogger sets up the package logger, routing it to a rotating file when
// file logging is enabled. Safe to call multiple times.
func initLogger(settings *conf.Settings) {
	loggerOnce.Do(func() {
		datastoreLogger = logging.ForService("datastore")
		if datastoreLogger == nil {
			datastoreLogger = slog.Default().With("service", "datastore")
		}
		if settings == nil || !settings.Main.Log.Enabled {
			return
		}
		level := slog.LevelInfo
		if settings.Debug {
			level = slog.LevelDebug
		}
		fileLogger, closeFunc, err := logging.NewFileLogger(logging.FilePathFor("datastore"), "datastore", level)
		if err != nil {
			datastoreLogger.Warn("Failed to initialize datastore file logger, keeping default output", "error", err)
			return
		}
		datastoreLogger = fileLogger
		loggerCloseFunc = closeFunc
	})
}

// getLogger returns the package logger, initializing it if needed.
func getLogger() *slog.Logger {
	if datastoreLogger == nil {
		initLogger(conf.Setting())
	}
	return datastoreLogger
}

// closeLogger releases the file log writer, if one was opened.
func closeLogger() error {
	if loggerCloseFunc != nil {
		return loggerCloseFunc()
	}
	return nil
}

// gormLogger adapts the package logger to GORM's logger interface.
type gormLogger struct {
	slowThreshold time.Duration
	level         logger.LogLevel
}

func newGormLogger() logger.Interface {
	return &gormLogger{
		slowThreshold: 200 * time.Millisecond,
		level:         logger.Warn,
	}
}

// LogMode implements logger.Interface
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	copied := *l
	copied.level = level
	return &copied
}

// Info implements logger.Interface
func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		getLogger().InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface
func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		getLogger().WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface
func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		getLogger().ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace implements logger.Interface. Record-not-found is an expected lookup
// outcome, not a query failure.
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		getLogger().ErrorContext(ctx, "Query failed",
			"error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		sql, rows := fc()
		getLogger().WarnContext(ctx, "Slow query",
			"sql", sql, "rows", rows, "elapsed", elapsed, "threshold", l.slowThreshold)
	case l.level >= logger.Info:
		sql, rows := fc()
		getLogger().DebugContext(ctx, "Query",
			"sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
