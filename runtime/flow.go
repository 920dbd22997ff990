package runtime

import (
	"context"

	"github.com/google/uuid"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/warriorguo/flowgraph/otelhelper"
	"github.com/warriorguo/flowgraph/store"
	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.FlowEngine = &flow{}
)

func NewFlowEngine(store store.Store, opts *types.FlowOptions) (types.FlowEngine, error) {
	return newFlow(store, opts)
}

type flow struct {
	flowExecute

	opts      *types.FlowOptions
	registry  *Registry
	snapshots *SnapshotStore
	sink      types.RunLogSink
	tracer    trace.Tracer
}

func newFlow(store store.Store, opts *types.FlowOptions) (*flow, error) {
	if opts == nil {
		opts = types.NewFlowOptions()
	}
	registry, err := NewRegistry(opts.Executors...)
	if err != nil {
		return nil, errors.Trace(err)
	}

	f := &flow{}
	f.ctx, f.cancel = context.WithCancel(opts.Ctx)
	f.running.Store(true)
	f.batchRunner = newBatchRunner(opts.MaxNodeConcurrency)
	f.retain = opts.RetainFinishedRuns
	f.opts = opts
	f.registry = registry
	f.snapshots = NewSnapshotStore(store)
	f.sink = opts.RunLogSink
	f.tracer = otelhelper.Tracer()
	return f, nil
}

func (f *flow) RegisterExecutor(executor types.NodeExecutor) error {
	return errors.Trace(f.registry.Register(executor))
}

func (f *flow) PublishSnapshot(ctx context.Context, snapshot *types.FlowSnapshot) error {
	if snapshot == nil {
		return errors.NotValidf("nil snapshot")
	}
	if err := f.registry.Validate(snapshot); err != nil {
		return errors.Trace(err)
	}
	if err := f.snapshots.Publish(ctx, snapshot); err != nil {
		return errors.Trace(err)
	}
	log.WithFields(log.Fields{
		"snapshot_id": snapshot.ID(),
		"flow_id":     snapshot.FlowID(),
		"version":     snapshot.Version(),
	}).Info("snapshot published")
	return nil
}

func (f *flow) LoadSnapshot(ctx context.Context, snapshotID string) (*types.FlowSnapshot, error) {
	snapshot, err := f.snapshots.Load(ctx, snapshotID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return snapshot, nil
}

func (f *flow) Run(ctx context.Context, snapshotID string, input types.Data) (*types.RunResult, error) {
	r, err := f.createRun(ctx, snapshotID, input)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return f.execute(ctx, r), nil
}

func (f *flow) Start(ctx context.Context, snapshotID string, input types.Data) (string, error) {
	r, err := f.createRun(ctx, snapshotID, input)
	if err != nil {
		return "", errors.Trace(err)
	}
	go f.execute(context.WithoutCancel(ctx), r)
	return r.runID, nil
}

func (f *flow) GetRunStatus(ctx context.Context, runID string) (*types.RunResult, error) {
	return f.getExecutePlanStatus(runID)
}

func (f *flow) RenderSnapshot(ctx context.Context, snapshotID string) (string, error) {
	snapshot, err := f.LoadSnapshot(ctx, snapshotID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return f.renderDOT(snapshot, nil)
}

func (f *flow) RenderRun(ctx context.Context, runID string) (string, error) {
	result, err := f.GetRunStatus(ctx, runID)
	if err != nil {
		return "", errors.Trace(err)
	}
	snapshot, err := f.LoadSnapshot(ctx, result.SnapshotID)
	if err != nil {
		return "", errors.Trace(err)
	}
	return f.renderDOT(snapshot, result)
}

// createRun resolves everything a run needs before it starts, so that
// unknown snapshots, node types and bad retry policies fail fast.
func (f *flow) createRun(ctx context.Context, snapshotID string, input types.Data) (*runRunner, error) {
	if !f.running.Load() {
		return nil, errors.MethodNotAllowedf("engine closed")
	}
	snapshot, err := f.LoadSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := f.registry.Validate(snapshot); err != nil {
		return nil, errors.Trace(err)
	}

	r, err := newRunRunner(uuid.NewString(), snapshot, input, f.registry, f.opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r.submit = f.batchRunner.submit
	r.sink = f.sink
	r.tracer = f.tracer

	if err := f.startExecutePlan(r); err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

func (f *flow) execute(ctx context.Context, r *runRunner) *types.RunResult {
	var cancel context.CancelFunc
	if f.opts.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, f.opts.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()

	result := r.run(ctx)
	f.finishExecutePlan(r.runID, result)
	return result
}

// Close waits for the runs in flight; when ctx expires first they are aborted.
func (f *flow) Close(ctx context.Context) error {
	if !f.running.CompareAndSwap(true, false) {
		return nil
	}

	err := f.batchRunner.wait(ctx)
	f.cancel()
	if err != nil {
		// aborted runs return as soon as they see the cancellation
		_ = f.batchRunner.wait(context.Background())
	}
	f.batchRunner.stopWait()
	return errors.Trace(err)
}
