// Package obslog provides config-driven categorized logging for the engine.
// Logs are appended to <workspace>/.engine/logs/ with one file per
// category; files are not rotated. Logging is a no-op until Initialize is called with debug mode on.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot          Category = "boot"
	CategoryStorage       Category = "storage"
	CategoryVFS           Category = "vfs"
	CategoryWorld         Category = "world"
	CategoryEmbedding     Category = "embedding"
	CategoryMemory        Category = "memory"
	CategoryIngest        Category = "ingest"
	CategoryConsolidation Category = "consolidation"
	CategoryQuery         Category = "query"
	CategoryGraphQuery    Category = "graphquery"
)

// Config mirrors the subset of engine configuration this package needs.
type Config struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string
}

var (
	mu           sync.RWMutex
	loggers      = make(map[Category]*zap.Logger)
	logsDir      string
	cfg          Config
	initialized  bool
)

// Initialize wires the logging directory for the given workspace and config.
// When cfg.DebugMode is false, all loggers are no-ops.
func Initialize(workspace string, c Config) error {
	mu.Lock()
	defer mu.Unlock()

	cfg = c
	loggers = make(map[Category]*zap.Logger)
	initialized = true

	if !c.DebugMode {
		logsDir = ""
		return nil
	}

	logsDir = filepath.Join(workspace, ".engine", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("obslog: create logs dir: %w", err)
	}
	return nil
}

func categoryEnabled(cat Category) bool {
	if cfg.Categories == nil {
		return true
	}
	enabled, ok := cfg.Categories[string(cat)]
	if !ok {
		return true
	}
	return enabled
}

func levelFromString(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the zap logger for a category, creating it lazily. Callers
// outside a debug-enabled workspace receive a logger writing to zap.NewNop().
func Get(cat Category) *zap.Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l := buildLogger(cat)
	loggers[cat] = l
	return l
}

func buildLogger(cat Category) *zap.Logger {
	if !initialized || !cfg.DebugMode || !categoryEnabled(cat) {
		return zap.NewNop()
	}

	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zap.NewNop()
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), levelFromString(cfg.Level))

	return zap.New(core).With(zap.String("category", string(cat)))
}

// Timer measures a named operation's duration and emits it on Stop.
type Timer struct {
	cat   Category
	op    string
	start time.Time
}

// StartTimer begins timing op under the given category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{cat: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed duration at debug level.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.cat).Debug("operation complete", zap.String("op", t.op), zap.Duration("elapsed", d))
	return d
}
