package types

import (
	"context"
	"time"
)

type FlowEngine interface {
	/**
	 * RegisterExecutor adds an executor for the node types it declares.
	 * A type tag can only be owned by one executor.
	 */
	RegisterExecutor(executor NodeExecutor) error

	/**
	 * PublishSnapshot stores a new immutable snapshot. Publishing an id twice fails,
	 * new versions must come with a new id.
	 */
	PublishSnapshot(ctx context.Context, snapshot *FlowSnapshot) error
	LoadSnapshot(ctx context.Context, snapshotID string) (*FlowSnapshot, error)

	/**
	 * Run executes the snapshot against input and blocks until the run is finalized.
	 * The returned error is only about run creation (unknown snapshot, unsupported
	 * node types); node failures are reported inside RunResult.
	 */
	Run(ctx context.Context, snapshotID string, input Data) (*RunResult, error)
	/**
	 * Start is the asynchronous Run, the result is fetched with GetRunStatus.
	 */
	Start(ctx context.Context, snapshotID string, input Data) (string, error)
	GetRunStatus(ctx context.Context, runID string) (*RunResult, error)

	/**
	 * RenderSnapshot returns the DOT graph of the snapshot, RenderRun the same
	 * graph colored by node status of a run.
	 */
	RenderSnapshot(ctx context.Context, snapshotID string) (string, error)
	RenderRun(ctx context.Context, runID string) (string, error)

	/**
	 * Close waits for in-flight runs to finish and releases the worker pool.
	 */
	Close(ctx context.Context) error
}

// NodeExecutor executes the node types it declares.
//
// Execute must return once ctx is done. When an attempt exceeds its
// timeout or the run is canceled, the engine records the failure and moves
// on without waiting, so an executor ignoring ctx keeps running unobserved.
type NodeExecutor interface {
	SupportedTypes() []NodeType
	Execute(ctx context.Context, node NodeDescriptor, input Data, ec ExecutionContext) (Data, error)
}

// ExecutionContext is the per-run state shared by every node execution of the
// run. Implementations are safe for concurrent use and return copies on read.
type ExecutionContext interface {
	RunID() string
	Snapshot() *FlowSnapshot

	RecordResult(nodeKey string, result Data)
	GetResult(nodeKey string) (Data, bool)

	IncrementRetry(nodeKey string) int
	GetRetryCount(nodeKey string) int

	SetStatus(nodeKey string, status NodeStatus)
	GetStatus(nodeKey string) NodeStatus
	NodeStatuses() map[string]NodeStatus

	SetGlobal(key string, value any)
	GetGlobal(key string) (any, bool)
	GetAllGlobals() Data

	RecordMetric(name string, duration time.Duration)
	Metrics() map[string]time.Duration
	SlowMetrics() []string

	Summary() ExecutionSummary
}

// ExpressionEvaluator evaluates boolean expressions against named bindings.
type ExpressionEvaluator interface {
	Evaluate(expression string, bindings Data) (bool, error)
}

// RunLogSink receives one entry per node attempt. Append failures never fail a run.
type RunLogSink interface {
	Append(ctx context.Context, entry RunLogEntry) error
}

// SnapshotLoader fetches a published snapshot by id, NotFound if missing or unreadable.
type SnapshotLoader interface {
	Load(ctx context.Context, snapshotID string) (*FlowSnapshot, error)
}
