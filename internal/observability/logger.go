package observability

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	loggerMu     sync.Mutex
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger. out defaults to
// stdout. Only the first call has an effect.
func InitLogger(level string, pretty bool, out io.Writer) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if initialized {
		return
	}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if out == nil {
		out = os.Stdout
	}
	if pretty {
		// Pretty console output for development
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	globalLogger = zerolog.New(out).With().Timestamp().Str("service", "interview-orchestrator").Logger()

	log.Logger = globalLogger
	initialized = true
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	loggerMu.Lock()
	ready := initialized
	loggerMu.Unlock()
	if !ready {
		InitLogger("info", false, nil)
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	return globalLogger
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
