// Package logger writes one JSON object per line for records that carry
// recipient addresses or other identifying values. Addresses are masked
// unless redaction is switched off.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	}
	return INFO, fmt.Errorf("logger: unknown level %q", s)
}

// Logger emits structured entries at or above its level.
type Logger struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
	out       io.Writer
}

// New creates a logger writing to out.
func New(out io.Writer, level Level) *Logger {
	return &Logger{level: level, redactPII: true, out: out}
}

var defaultLogger = New(os.Stderr, INFO)

// SetLevel sets the minimum level of the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedactPII enables or disables redaction on the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

func Debug(msg string, fields ...any) { defaultLogger.Log(DEBUG, msg, fields...) }
func Info(msg string, fields ...any)  { defaultLogger.Log(INFO, msg, fields...) }
func Warn(msg string, fields ...any)  { defaultLogger.Log(WARN, msg, fields...) }
func Error(msg string, fields ...any) { defaultLogger.Log(ERROR, msg, fields...) }

// Log writes msg with key/value pairs taken from fields. A trailing key
// without a value is dropped.
func (l *Logger) Log(level Level, msg string, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintln(l.out, string(data))
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if key == "email" || key == "recipient" {
		return RedactEmail(val)
	}
	if strings.Contains(key, "ip") && !strings.Contains(key, "recipient") {
		return RedactIP(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
