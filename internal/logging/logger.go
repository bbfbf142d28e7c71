// Package logging builds the process logger for gramforge.
// Every component receives a category logger (a named child of the root
// zap logger) so log lines can be filtered per pipeline stage.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gramforge/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config loading
	CategoryStrategy Category = "strategy" // Blueprint synthesis, drift detection
	CategoryCompiler Category = "compiler" // Sandboxed compilation and linking
	CategoryRepair   Category = "repair"   // Generative repair client, circuit breaker
	CategoryHealer   Category = "healer"   // Healing rounds
	CategoryQueue    Category = "queue"    // Durable job queue
	CategoryWorker   Category = "worker"   // Job dispatch loop
	CategoryAudit    Category = "audit"    // Companion audit tool
)

// New builds the root logger from config.
// Logs always go to stderr; cfg.File adds a second sink.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// ParseLevel maps a config level string onto a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// For returns the category logger. A nil root yields a no-op logger.
func For(root *zap.Logger, category Category) *zap.Logger {
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(string(category))
}

// Timer tracks operation duration
type Timer struct {
	log   *zap.Logger
	op    string
	start time.Time
}

// StartTimer begins timing an operation
func StartTimer(log *zap.Logger, operation string) *Timer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Timer{log: log, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.log.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}
