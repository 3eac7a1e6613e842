package resilix

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is the pluggable logging interface. Key/value pairs follow the
// message: alternating string keys and arbitrary values.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SimpleLogger writes leveled lines through the standard log package. It is
// the default sink when debug logging is enabled without a custom Logger.
type SimpleLogger struct {
	logger *log.Logger
}

// NewSimpleLogger creates a logger writing to stderr.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Debug logs a debug-level line.
func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log("DEBUG", msg, keysAndValues...)
}

// Info logs an info-level line.
func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log("INFO", msg, keysAndValues...)
}

// Warn logs a warn-level line.
func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log("WARN", msg, keysAndValues...)
}

// Error logs an error-level line.
func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log("ERROR", msg, keysAndValues...)
}

func (l *SimpleLogger) log(level, msg string, keysAndValues ...interface{}) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] ")
	b.WriteString(msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	l.logger.Println(b.String())
}

// LogrusLogger adapts a logrus.Logger to the Logger interface, so services
// that standardize on logrus can plug their logger straight in.
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger wraps an existing logrus logger. A nil argument creates a
// JSON-formatted logger at info level.
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.InfoLevel)
	}
	return &LogrusLogger{logger: logger}
}

// Debug logs at debug level.
func (l *LogrusLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(logrusFields(keysAndValues)).Debug(msg)
}

// Info logs at info level.
func (l *LogrusLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(logrusFields(keysAndValues)).Info(msg)
}

// Warn logs at warn level.
func (l *LogrusLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(logrusFields(keysAndValues)).Warn(msg)
}

// Error logs at error level.
func (l *LogrusLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(logrusFields(keysAndValues)).Error(msg)
}

func logrusFields(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}

// DebugConfig controls per-concern debug logging.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogCircuit   bool
	LogRateLimit bool
	// RequestIDGen produces the correlation ID attached to log lines for
	// one logical request.
	RequestIDGen func() string
}

// DefaultDebugConfig has every category selected but logging disabled, so
// enabling debug is a single switch.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogCircuit:   true,
		LogRateLimit: true,
		RequestIDGen: DefaultRequestIDGenerator,
	}
}

// DefaultRequestIDGenerator returns a random UUID string.
func DefaultRequestIDGenerator() string {
	return uuid.NewString()
}
