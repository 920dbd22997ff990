package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

func NewFlowOptions() *FlowOptions {
	opts := &FlowOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type FlowOptions struct {
	Ctx context.Context
	/**
	 * default: 16
	 * size of the worker pool shared by every run of the engine.
	 */
	MaxNodeConcurrency int `default:"16"`
	/**
	 * default: 5m
	 * overall deadline of a run, a shorter deadline on the Run context wins.
	 */
	RunTimeout time.Duration `default:"5m"`
	/**
	 * default: 5s
	 * metric samples above it are flagged as slow executions.
	 */
	SlowNodeThreshold time.Duration `default:"5s"`
	/**
	 * default: 1
	 * attempts for nodes whose retry policy doesn't set maxAttempts.
	 */
	DefaultMaxAttempts int `default:"1"`
	/**
	 * default: 1024
	 * finished runs kept in memory for GetRunStatus/RenderRun.
	 */
	RetainFinishedRuns int `default:"1024"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// Store backends, PostgresConfig > BadgerPath > SQLitePath > memory.
	PostgresConfig *PostgresConfig
	BadgerPath     string
	SQLitePath     string

	// Collaborators, nil means the engine default.
	RunLogSink RunLogSink
	Evaluator  ExpressionEvaluator
	Executors  []NodeExecutor
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // disable, require, verify-ca, verify-full
}

type FlowOption func(*FlowOptions)

func WithContext(ctx context.Context) FlowOption {
	return func(opts *FlowOptions) {
		opts.Ctx = ctx
	}
}

func SetMaxNodeConcurrency(concurrency int) FlowOption {
	return func(opts *FlowOptions) {
		opts.MaxNodeConcurrency = concurrency
	}
}

func WithRunTimeout(timeout time.Duration) FlowOption {
	return func(opts *FlowOptions) {
		opts.RunTimeout = timeout
	}
}

func WithSlowNodeThreshold(threshold time.Duration) FlowOption {
	return func(opts *FlowOptions) {
		opts.SlowNodeThreshold = threshold
	}
}

func WithDefaultMaxAttempts(attempts int) FlowOption {
	return func(opts *FlowOptions) {
		opts.DefaultMaxAttempts = attempts
	}
}

func WithRetainFinishedRuns(n int) FlowOption {
	return func(opts *FlowOptions) {
		opts.RetainFinishedRuns = n
	}
}

func EnableMemStore() FlowOption {
	return func(opts *FlowOptions) {
		opts.MemStore = true
	}
}

// WithPostgresConfig configures the flow engine to use PostgreSQL store
func WithPostgresConfig(config *PostgresConfig) FlowOption {
	return func(opts *FlowOptions) {
		opts.PostgresConfig = config
	}
}

// WithBadgerPath configures an embedded badger store in dir.
func WithBadgerPath(dir string) FlowOption {
	return func(opts *FlowOptions) {
		opts.BadgerPath = dir
	}
}

// WithSQLitePath configures an embedded SQLite store at path.
func WithSQLitePath(path string) FlowOption {
	return func(opts *FlowOptions) {
		opts.SQLitePath = path
	}
}

func WithRunLogSink(sink RunLogSink) FlowOption {
	return func(opts *FlowOptions) {
		opts.RunLogSink = sink
	}
}

func WithEvaluator(evaluator ExpressionEvaluator) FlowOption {
	return func(opts *FlowOptions) {
		opts.Evaluator = evaluator
	}
}

// WithExecutors registers extra executors (LLM, TOOL, HTTP...) at engine creation.
func WithExecutors(executors ...NodeExecutor) FlowOption {
	return func(opts *FlowOptions) {
		opts.Executors = append(opts.Executors, executors...)
	}
}
