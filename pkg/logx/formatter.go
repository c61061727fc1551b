package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// LogEntry is a single log record handed to a Formatter
type LogEntry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
}

// Formatter serializes a LogEntry into bytes
type Formatter interface {
	Format(entry *LogEntry) ([]byte, error)
}

// ConsoleFormatter renders human-readable single-line output
type ConsoleFormatter struct {
	TimeFormat string
}

// Format implements Formatter
func (f *ConsoleFormatter) Format(entry *LogEntry) ([]byte, error) {
	var b strings.Builder

	b.WriteString(entry.Timestamp.Format(f.timeFormat()))
	b.WriteString(" [")
	b.WriteString(entry.Level.String())
	b.WriteString("] ")
	b.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
		}
	}

	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func (f *ConsoleFormatter) timeFormat() string {
	if f.TimeFormat != "" {
		return f.TimeFormat
	}
	return time.RFC3339
}

// JSONFormatter renders one JSON object per line
type JSONFormatter struct {
	TimeFormat string
}

// Format implements Formatter
func (f *JSONFormatter) Format(entry *LogEntry) ([]byte, error) {
	tf := f.TimeFormat
	if tf == "" {
		tf = time.RFC3339
	}

	record := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		record[k] = v
	}
	record["time"] = entry.Timestamp.Format(tf)
	record["level"] = entry.Level.String()
	record["message"] = entry.Message

	line, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return append(line, '\n'), nil
}
