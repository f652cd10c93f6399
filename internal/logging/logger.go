// Package logging provides category-scoped logging for HiveForge.
// Each subsystem logs through a named zap logger; categories can be silenced
// wholesale, and tests run against a nop core.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryAkashic      Category = "akashic"      // Event log appends, chain verification
	CategoryProjection   Category = "projection"   // Stream folds
	CategoryPipeline     Category = "pipeline"     // Plan validation, approvals, aggregation
	CategoryOrchestrator Category = "orchestrator" // Layered task dispatch
	CategoryWorker       Category = "worker"       // ReAct loop, tool execution
	CategorySentinel     Category = "sentinel"     // Anomaly scans, suspensions
	CategoryGuard        Category = "guard"        // Rule evaluation
	CategoryRA           Category = "ra"           // Requirement analysis pipeline
	CategoryMessenger    Category = "messenger"    // Queues and locks
	CategoryHoneycomb    Category = "honeycomb"    // Episode recording, KPI
	CategoryScout        Category = "scout"        // Template recommendation
	CategoryReferee      Category = "referee"      // Candidate tournaments
	CategoryHive         Category = "hive"         // Beekeeper/Queen boundary
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// Setup installs the process-wide root logger. Pass verbose=true for a
// development config at debug level; false for the production JSON config.
func Setup(verbose bool) error {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	SetRoot(logger)
	return nil
}

// SetRoot replaces the root logger. Tests use this with zaptest or a nop.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns the sugared logger for a category.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	loggers[category] = l
	return l
}

// Sync flushes the root logger. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - printf-style logging per category
// =============================================================================

// Akashic logs to the akashic category.
func Akashic(format string, args ...interface{}) { Get(CategoryAkashic).Infof(format, args...) }

// AkashicDebug logs debug to the akashic category.
func AkashicDebug(format string, args ...interface{}) { Get(CategoryAkashic).Debugf(format, args...) }

// Pipeline logs to the pipeline category.
func Pipeline(format string, args ...interface{}) { Get(CategoryPipeline).Infof(format, args...) }

// PipelineDebug logs debug to the pipeline category.
func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debugf(format, args...)
}

// Orchestrator logs to the orchestrator category.
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Infof(format, args...)
}

// OrchestratorDebug logs debug to the orchestrator category.
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debugf(format, args...)
}

// Worker logs to the worker category.
func Worker(format string, args ...interface{}) { Get(CategoryWorker).Infof(format, args...) }

// WorkerDebug logs debug to the worker category.
func WorkerDebug(format string, args ...interface{}) { Get(CategoryWorker).Debugf(format, args...) }

// Sentinel logs to the sentinel category.
func Sentinel(format string, args ...interface{}) { Get(CategorySentinel).Infof(format, args...) }

// SentinelWarn logs warning to the sentinel category.
func SentinelWarn(format string, args ...interface{}) { Get(CategorySentinel).Warnf(format, args...) }

// Guard logs to the guard category.
func Guard(format string, args ...interface{}) { Get(CategoryGuard).Infof(format, args...) }

// RA logs to the ra category.
func RA(format string, args ...interface{}) { Get(CategoryRA).Infof(format, args...) }

// RADebug logs debug to the ra category.
func RADebug(format string, args ...interface{}) { Get(CategoryRA).Debugf(format, args...) }

// Messenger logs to the messenger category.
func Messenger(format string, args ...interface{}) { Get(CategoryMessenger).Debugf(format, args...) }

// Honeycomb logs to the honeycomb category.
func Honeycomb(format string, args ...interface{}) { Get(CategoryHoneycomb).Infof(format, args...) }

// Hive logs to the hive category.
func Hive(format string, args ...interface{}) { Get(CategoryHive).Infof(format, args...) }

// HiveError logs error to the hive category.
func HiveError(format string, args ...interface{}) { Get(CategoryHive).Errorf(format, args...) }
