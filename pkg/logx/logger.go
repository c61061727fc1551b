package logx

import (
	"io"
	"os"
	"sync"
	"time"
)

// Fields is a map of structured log fields
type Fields map[string]interface{}

// Format selects the output encoding
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config holds logger configuration
type Config struct {
	Level      Level
	Format     Format
	Output     io.Writer
	TimeFormat string
}

// DefaultConfig returns a console logger at info level
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatConsole,
		Output:     os.Stdout,
		TimeFormat: time.RFC3339,
	}
}

// LoadFromEnv builds a Config from LOG_LEVEL and LOG_FORMAT
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Level = ParseLevel(os.Getenv("LOG_LEVEL"))
	if os.Getenv("LOG_FORMAT") == "json" {
		cfg.Format = FormatJSON
	}
	return cfg
}

// Logger is the main logger instance
type Logger struct {
	config    *Config
	formatter Formatter
	mu        sync.Mutex
	writer    io.Writer
	exitFunc  func(int)
}

// NewLogger creates a new logger with the given config
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var formatter Formatter
	switch config.Format {
	case FormatJSON:
		formatter = &JSONFormatter{TimeFormat: config.TimeFormat}
	default:
		formatter = &ConsoleFormatter{TimeFormat: config.TimeFormat}
	}

	writer := config.Output
	if writer == nil {
		writer = os.Stdout
	}

	return &Logger{
		config:    config,
		formatter: formatter,
		writer:    writer,
		exitFunc:  os.Exit,
	}
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Level = level
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// WithFields creates a new entry with fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return newEntry(l).WithFields(fields)
}

// WithField creates a new entry with a single field
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return newEntry(l).WithField(key, value)
}

// WithError creates a new entry with an error field
func (l *Logger) WithError(err error) *Entry {
	return newEntry(l).WithError(err)
}

// log is the internal logging method
func (l *Logger) log(level Level, msg string, fields Fields) {
	if !l.config.Level.Enabled(level) {
		return
	}

	entry := &LogEntry{
		Level:     level,
		Message:   msg,
		Fields:    fields,
		Timestamp: time.Now(),
	}

	line, err := l.formatter.Format(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(line)
}

func (l *Logger) exit(code int) {
	if l.exitFunc != nil {
		l.exitFunc(code)
	}
}
