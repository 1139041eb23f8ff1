package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	loggerMu     sync.RWMutex
	initialized  bool
)

// ParseLevel maps a config string to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// InitLogger initializes the global structured logger writing to stdout
func InitLogger(level string, pretty bool) {
	InitLoggerWithWriter(level, pretty, os.Stdout)
}

// InitLoggerWithWriter initializes the global logger with an explicit sink.
// The client commands log to stderr so stdout carries only the transcript payload.
func InitLoggerWithWriter(level string, pretty bool, out io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	zerolog.SetGlobalLevel(ParseLevel(level))

	if pretty {
		// Pretty console output for development
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger, initializing it with defaults on first use
func GetLogger() zerolog.Logger {
	loggerMu.RLock()
	ready, logger := initialized, globalLogger
	loggerMu.RUnlock()

	if ready {
		return logger
	}
	InitLogger("info", false)
	return GetLogger()
}

// WithCorrelationID creates a logger tagged with a correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("correlation_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
