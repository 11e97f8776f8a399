package common

import (
	"context"
	"fmt"
	"github.com/lmittmann/tint"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"log/slog"
	"os"
	"strings"
)

// LoggerNames are the loggers of the storage, configured by InitLoggers.
var LoggerNames = []string{"store", "lockmgr", "maintenance", "cli"}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// slogLogger implements the ILogger interface on top of a slog.Logger
type slogLogger struct {
	level  logger.LogLevel
	logger *slog.Logger
}

func (l *slogLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *slogLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log(slog.LevelDebug, format, args...)
	}
}

func (l *slogLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log(slog.LevelInfo, format, args...)
	}
}

func (l *slogLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log(slog.LevelWarn, format, args...)
	}
}

func (l *slogLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log(slog.LevelError, format, args...)
	}
}

func (l *slogLogger) Panicf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Error(message)
	panic(message)
}

func (l *slogLogger) log(level slog.Level, format string, args ...interface{}) {
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// handler is shared by all loggers so that they write through one colorable writer
var handler slog.Handler = newHandler()

func newHandler() slog.Handler {
	return tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      slog.LevelDebug, // filtered by slogLogger
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
}

// CreateLogger implements the logger.Factory interface
func CreateLogger(pkgName string) logger.ILogger {
	return &slogLogger{
		level:  logger.INFO,
		logger: slog.New(handler).With("pkg", pkgName),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the slog backed logger factory and sets the level of
// all storage loggers.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)
	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
