// Package logger provides structured JSON logging with PII redaction. Email
// processing logs carry sender and recipient addresses everywhere, so
// redaction is on by default and only disabled for local development. Hot
// paths also use stdlib log with component prefixes for operational messages.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
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

// ParseLevel maps a config string to a Level. Unknown values fall back to
// INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type logger struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
}

var std = &logger{level: INFO, redactPII: true}

// Init configures the package-level logger from service config.
func Init(level Level, redactPII bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.level = level
	std.redactPII = redactPII
}

// Debug emits a DEBUG entry with key-value fields.
func Debug(msg string, fields ...interface{}) { std.log(DEBUG, msg, fields...) }

// Info emits an INFO entry with key-value fields.
func Info(msg string, fields ...interface{}) { std.log(INFO, msg, fields...) }

// Warn emits a WARN entry with key-value fields.
func Warn(msg string, fields ...interface{}) { std.log(WARN, msg, fields...) }

// Error emits an ERROR entry with key-value fields.
func Error(msg string, fields ...interface{}) { std.log(ERROR, msg, fields...) }

func (l *logger) log(level Level, msg string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(data))
	l.mu.Unlock()
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactValue masks address-carrying fields outright and any embedded
// addresses in free-form values.
func redactValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "sender") ||
		strings.Contains(key, "recipient") || strings.Contains(key, "owner") ||
		key == "from" || key == "to" {
		return RedactEmail(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
