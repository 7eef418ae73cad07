package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/radioswitch-bridge/internal/infrastructure/config"
)

// ServiceName is attached to every log record.
const ServiceName = "radioswitch"

// Logger wraps slog.Logger with bridge-specific defaults.
//
// Its Debug/Info/Warn/Error methods satisfy the small Logger interfaces
// declared by the radio, device, bridge and mqtt packages.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named in cfg.Output.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a Logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	gpioLogger := logger.With("component", "gpio")
//	gpioLogger.Info("line requested") // Includes component=gpio
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a logger for use before configuration is loaded.
// It writes JSON at info level to stdout.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
