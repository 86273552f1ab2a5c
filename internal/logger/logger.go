package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message.
// A logger set to INFO shows INFO, WARN, ERROR and SUCCESS but not DEBUG or TRACE.
type LogLevel int

const (
	TRACE   LogLevel = iota // every single request
	DEBUG                   // probe progress
	INFO                    // scan phases
	WARN                    // configuration corrections, fetch failures
	ERROR                   // scan failures
	SUCCESS                 // findings
)

var levelNames = map[string]LogLevel{
	"trace":   TRACE,
	"debug":   DEBUG,
	"info":    INFO,
	"warn":    WARN,
	"warning": WARN,
	"error":   ERROR,
	"success": SUCCESS,
}

// ParseLevel maps a level name (case-insensitive) to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return INFO, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case SUCCESS:
		return "SUCCESS"
	}
	return fmt.Sprintf("LogLevel(%d)", int(l))
}

// Logger holds one stdlib logger per level and a mutex for concurrent writes.
type Logger struct {
	loggers  map[LogLevel]*log.Logger
	mu       sync.Mutex
	minLevel LogLevel
}

// NewLogger creates a Logger writing informational output to stdout and problems to stderr.
func NewLogger(minLevel LogLevel) *Logger {
	return NewLoggerTo(os.Stdout, os.Stderr, minLevel)
}

// NewLoggerTo creates a Logger on explicit writers. WARN and ERROR go to errOut.
func NewLoggerTo(out, errOut io.Writer, minLevel LogLevel) *Logger {
	flags := log.Ldate | log.Ltime
	return &Logger{
		loggers: map[LogLevel]*log.Logger{
			TRACE:   log.New(out, "[TRACE] ", flags),
			DEBUG:   log.New(out, "[DEBUG] ", flags),
			INFO:    log.New(out, "[INFO] ", flags),
			WARN:    log.New(errOut, "[WARN] ", flags),
			ERROR:   log.New(errOut, "[ERROR] ", flags),
			SUCCESS: log.New(out, "[SUCCESS] ", flags),
		},
		minLevel: minLevel,
	}
}

// Discard returns a Logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewLoggerTo(io.Discard, io.Discard, SUCCESS+1)
}

func (l *Logger) log(level LogLevel, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level >= l.minLevel {
		l.loggers[level].Printf(format, v...)
	}
}

// Info logs an informational message.
func (l *Logger) Info(format string, v ...interface{}) {
	l.log(INFO, format, v...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.log(WARN, format, v...)
}

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) {
	l.log(ERROR, format, v...)
}

// Debug logs a debug message. Only active if minLevel is DEBUG or lower.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.log(DEBUG, format, v...)
}

// Trace logs a trace message. Only active if minLevel is TRACE.
func (l *Logger) Trace(format string, v ...interface{}) {
	l.log(TRACE, format, v...)
}

// Success logs a finding.
func (l *Logger) Success(format string, v ...interface{}) {
	l.log(SUCCESS, format, v...)
}

// SetMinLevel sets the minimum logging level.
func (l *Logger) SetMinLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.minLevel
}
