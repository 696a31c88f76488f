// Package logx provides structured logging with agent-scoped loggers and
// env-controlled debug domains.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type Logger struct {
	scope  string
	logger *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // nil = all domains
}

// Entry is a structured log entry kept in the in-memory buffer.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Scope     string `json:"scope"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// ringBuffer keeps the most recent log entries for status displays.
type ringBuffer struct {
	entries []Entry
	mu      sync.RWMutex
	maxSize int
}

//nolint:gochecknoglobals // Package-level debug config and log buffer.
var (
	debugConfig = &DebugConfig{}
	debugMu     sync.RWMutex

	buffer = &ringBuffer{maxSize: 1000}
)

//nolint:gochecknoinits // Debug flags come from the environment.
func init() {
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMu.Lock()
	defer debugMu.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=msgqueue,taskqueue,relay limits debug output per domain.
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger returns a logger scoped to the given name, typically an agent id
// or component name. Output goes to stderr to keep stdout clean for the CLI.
func NewLogger(scope string) *Logger {
	return &Logger{
		scope:  scope,
		logger: log.New(os.Stderr, "", 0),
	}
}

// SetDebug configures global debug logging.
func SetDebug(enabled bool, domains []string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	debugConfig.Enabled = enabled
	if len(domains) == 0 {
		debugConfig.Domains = nil
	} else {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range domains {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// IsDebugEnabled returns whether debug logging is enabled at all.
func IsDebugEnabled() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMu.RLock()
	defer debugMu.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (b *ringBuffer) add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// RecentEntries returns a copy of the buffered log entries, newest last.
func RecentEntries() []Entry {
	buffer.mu.RLock()
	defer buffer.mu.RUnlock()

	out := make([]Entry, len(buffer.entries))
	copy(out, buffer.entries)
	return out
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.scope, level, message)

	buffer.add(Entry{
		Timestamp: timestamp,
		Scope:     l.scope,
		Level:     string(level),
		Message:   message,
	})
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

// DebugDomain logs a debug message gated on a specific domain.
func (l *Logger) DebugDomain(domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	l.log(LevelDebug, "["+domain+"] "+format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func (l *Logger) Scope() string {
	return l.scope
}

func (l *Logger) WithScope(scope string) *Logger {
	return &Logger{
		scope:  scope,
		logger: l.logger,
	}
}

// Package-level convenience logger.
//
//nolint:gochecknoglobals // Default logger for package-level helpers.
var defaultLogger = NewLogger("colony")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
// Use this when you need both logging and error returning:
//
//	return logx.Errorf("start failed for %s: %w", id, err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
