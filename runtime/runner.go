package runtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/gammazero/workerpool"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/warriorguo/flowgraph/otelhelper"
	"github.com/warriorguo/flowgraph/types"
)

func newBatchRunner(concurrency int) *batchRunner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &batchRunner{
		wp:      workerpool.New(concurrency),
		runners: make(map[string]*runRunner),
	}
}

// batchRunner owns the worker pool shared by every run and tracks the runs in
// flight.
type batchRunner struct {
	mu sync.Mutex
	wg sync.WaitGroup

	wp      *workerpool.WorkerPool
	closed  bool
	runners map[string]*runRunner
}

func (b *batchRunner) get(key string) *runRunner {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.runners[key]
}

func (b *batchRunner) remove(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.runners[key]; !exists {
		return
	}
	delete(b.runners, key)
	b.wg.Done()
}

func (b *batchRunner) add(key string, r *runRunner) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.MethodNotAllowedf("engine closed")
	}
	if _, exists := b.runners[key]; exists {
		return errors.AlreadyExistsf("run: %s", key)
	}
	b.runners[key] = r
	b.wg.Add(1)
	return nil
}

func (b *batchRunner) submit(task func()) {
	b.wp.Submit(task)
}

// wait refuses new runs and blocks until the runs in flight finish or ctx is done.
func (b *batchRunner) wait(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return errors.Annotate(ctx.Err(), "waiting for runs in flight")
	}
}

func (b *batchRunner) stopWait() {
	b.wp.StopWait()
}

type edgeState int8

const (
	edgePending edgeState = iota
	edgeTaken
	edgeNotTaken
)

// nodeEvent is sent back to the control goroutine when an attempt ends, or
// when the backoff of a retry elapsed.
type nodeEvent struct {
	key       string
	attempt   int
	input     types.Data
	output    types.Data
	err       error
	startTime time.Time
	duration  time.Duration
	retry     bool
}

// runRunner drives one run. Node attempts execute on the shared pool, every
// scheduling decision happens on the goroutine calling run.
type runRunner struct {
	mu        sync.Mutex
	status    types.RunStatus
	partial   bool
	runErr    error
	trail     []types.RunLogEntry
	failures  []types.NodeFailure
	startTime time.Time
	endTime   time.Time

	runID    string
	snapshot *types.FlowSnapshot
	input    types.Data
	ec       *ExecutionContext
	nodes    map[string]*nodeRuntime
	edges    []types.EdgeDescriptor
	incoming map[string][]int
	outgoing map[string][]int

	submit func(func())
	sink   types.RunLogSink
	tracer trace.Tracer
	logger *log.Entry

	// only touched by the control goroutine
	edgeStates []edgeState
	visited    map[string]bool
	inFlight   int

	events chan *nodeEvent
	doneCh chan struct{}
}

func newRunRunner(runID string, snapshot *types.FlowSnapshot, input types.Data, registry *Registry,
	opts *types.FlowOptions) (*runRunner, error) {
	r := &runRunner{
		status:   types.RunCreated,
		runID:    runID,
		snapshot: snapshot,
		input:    input.Clone(),
		ec:       NewExecutionContext(runID, snapshot, opts.SlowNodeThreshold),
		nodes:    make(map[string]*nodeRuntime, snapshot.NodeCount()),
		edges:    snapshot.Edges(),
		incoming: make(map[string][]int),
		outgoing: make(map[string][]int),
		visited:  make(map[string]bool),
		events:   make(chan *nodeEvent, snapshot.NodeCount()),
		doneCh:   make(chan struct{}),
		logger: log.WithFields(log.Fields{
			"run_id":      runID,
			"snapshot_id": snapshot.ID(),
		}),
	}

	for _, n := range snapshot.Nodes() {
		executor, err := registry.Resolve(n.Type)
		if err != nil {
			return nil, errors.Annotatef(err, "node %s", n.Key)
		}
		policy, err := types.ParseRetryPolicy(n.RetryPolicy, opts.DefaultMaxAttempts)
		if err != nil {
			return nil, errors.Annotatef(err, "node %s", n.Key)
		}
		r.nodes[n.Key] = newNodeRuntime(n, executor, policy)
	}
	for idx, e := range r.edges {
		r.outgoing[e.Source] = append(r.outgoing[e.Source], idx)
		r.incoming[e.Target] = append(r.incoming[e.Target], idx)
	}
	r.edgeStates = make([]edgeState, len(r.edges))
	return r, nil
}

// run blocks until the run is finalized, either because no node is left to
// schedule or because ctx is done.
func (r *runRunner) run(ctx context.Context) *types.RunResult {
	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "flowgraph.run",
		attribute.String(otelhelper.RunIDKey, r.runID),
		attribute.String(otelhelper.SnapshotIDKey, r.snapshot.ID()),
		attribute.String(otelhelper.FlowIDKey, r.snapshot.FlowID()),
	)
	defer span.End()

	r.mu.Lock()
	r.status = types.RunRunning
	r.startTime = time.Now()
	r.mu.Unlock()
	r.logger.Info("run started")

	for _, key := range r.snapshot.StartNodes() {
		r.launch(ctx, key)
	}

	var abortErr error
loop:
	for r.inFlight > 0 {
		select {
		case ev := <-r.events:
			r.handle(ctx, ev)
		case <-ctx.Done():
			abortErr = ctx.Err()
			break loop
		}
	}
	close(r.doneCh)

	r.finish(abortErr)
	result := r.result()

	span.SetAttributes(
		attribute.String(otelhelper.RunStatusKey, result.Status.String()),
		attribute.Bool(otelhelper.PartialFailKey, result.PartialFailure),
	)
	if r.runErr != nil {
		otelhelper.SetError(span, r.runErr)
	}
	r.logger.WithFields(log.Fields{
		"status":   result.Status,
		"duration": result.EndTime.Sub(result.StartTime),
	}).Info("run finished")
	return result
}

func (r *runRunner) launch(ctx context.Context, key string) {
	r.visited[key] = true
	r.inFlight++
	r.ec.SetStatus(key, types.NodeRunning)
	r.dispatch(ctx, key, r.mergeInput(key), 1)
}

func (r *runRunner) dispatch(ctx context.Context, key string, input types.Data, attempt int) {
	n := r.nodes[key]
	r.submit(func() {
		ev := n.runOnce(ctx, r.tracer, r.ec, input, attempt)
		select {
		case r.events <- ev:
		case <-r.doneCh:
		}
	})
}

// mergeInput overlays the results of taken predecessors, in edge order, on a
// copy of the run payload.
func (r *runRunner) mergeInput(key string) types.Data {
	input := r.input.Clone()
	for _, idx := range r.incoming[key] {
		if r.edgeStates[idx] != edgeTaken {
			continue
		}
		result, exists := r.ec.GetResult(r.edges[idx].Source)
		if !exists {
			continue
		}
		if err := mergo.Merge(&input, result, mergo.WithOverride); err != nil {
			r.logger.WithField("node_key", key).Warnf("merge result of %s failed: %v", r.edges[idx].Source, err)
		}
	}
	return input.Clone()
}

func (r *runRunner) handle(ctx context.Context, ev *nodeEvent) {
	if ev.retry {
		r.ec.SetStatus(ev.key, types.NodeRunning)
		r.dispatch(ctx, ev.key, ev.input, ev.attempt)
		return
	}

	r.ec.RecordMetric("node."+ev.key, ev.duration)
	if ev.err == nil {
		r.complete(ctx, ev)
		return
	}
	r.fail(ctx, ev)
}

func (r *runRunner) complete(ctx context.Context, ev *nodeEvent) {
	n := r.nodes[ev.key]
	r.ec.RecordResult(ev.key, ev.output)
	r.appendTrail(ctx, r.newEntry(ev, types.NodeCompleted))
	r.inFlight--

	branch, routed := selectedBranch(n.node.Type, ev.output)
	r.resolveOutgoing(ctx, ev.key, func(e types.EdgeDescriptor) bool {
		if !routed {
			return true
		}
		b := e.Branch()
		return b == "" || b == branch
	})
}

func (r *runRunner) fail(ctx context.Context, ev *nodeEvent) {
	n := r.nodes[ev.key]
	count := r.ec.IncrementRetry(ev.key)
	logger := r.logger.WithFields(log.Fields{
		"node_key":  ev.key,
		"node_type": n.node.Type,
		"attempt":   ev.attempt,
	})

	if types.IsRetryable(ev.err) && count < n.policy.MaxAttempts {
		backoff := n.policy.Backoff(count)
		if b, ok := types.RetryBackoff(ev.err); ok {
			backoff = b
		}
		r.appendTrail(ctx, r.newEntry(ev, types.NodeRetrying))
		logger.Warnf("attempt failed, retrying in %v: %v", backoff, ev.err)

		retry := &nodeEvent{key: ev.key, attempt: ev.attempt + 1, input: ev.input, retry: true}
		time.AfterFunc(backoff, func() {
			select {
			case r.events <- retry:
			case <-r.doneCh:
			}
		})
		return
	}

	r.ec.SetStatus(ev.key, types.NodeFailed)
	r.appendTrail(ctx, r.newEntry(ev, types.NodeFailed))
	logger.Errorf("node failed: %v", ev.err)

	r.mu.Lock()
	r.failures = append(r.failures, types.NodeFailure{
		NodeKey:    ev.key,
		NodeType:   n.node.Type,
		Message:    ev.err.Error(),
		RetryCount: count,
	})
	r.mu.Unlock()

	r.inFlight--
	r.resolveOutgoing(ctx, ev.key, nil)
}

// resolveOutgoing marks the outgoing edges of key taken when follow accepts
// them (a nil follow takes none) and schedules the targets that became ready.
func (r *runRunner) resolveOutgoing(ctx context.Context, key string, follow func(types.EdgeDescriptor) bool) {
	for _, idx := range r.outgoing[key] {
		if follow != nil && follow(r.edges[idx]) {
			r.edgeStates[idx] = edgeTaken
		} else {
			r.edgeStates[idx] = edgeNotTaken
		}
	}
	for _, idx := range r.outgoing[key] {
		r.tryReady(ctx, r.edges[idx].Target)
	}
}

// tryReady launches key once all its incoming edges are resolved and one of
// them was taken. A node none of whose edges was taken is SKIPPED and passes
// the skip on downstream.
func (r *runRunner) tryReady(ctx context.Context, key string) {
	if r.visited[key] {
		return
	}
	taken := false
	for _, idx := range r.incoming[key] {
		switch r.edgeStates[idx] {
		case edgePending:
			return
		case edgeTaken:
			taken = true
		}
	}

	if taken {
		r.launch(ctx, key)
		return
	}
	r.visited[key] = true
	r.ec.SetStatus(key, types.NodeSkipped)
	r.logger.WithField("node_key", key).Debug("node skipped")
	r.resolveOutgoing(ctx, key, nil)
}

// selectedBranch returns the branch chosen by a routing node; false means
// every outgoing edge is followed.
func selectedBranch(nodeType types.NodeType, output types.Data) (string, bool) {
	switch nodeType {
	case types.NodeCondition:
		v, _ := output.Get(types.ConditionResultKey)
		return cast.ToString(cast.ToBool(v)), true
	case types.NodeSwitch:
		v, _ := output.GetString(types.SelectedBranchKey)
		return v, true
	}
	return "", false
}

func (r *runRunner) newEntry(ev *nodeEvent, status types.NodeStatus) types.RunLogEntry {
	entry := types.RunLogEntry{
		RunID:     r.runID,
		NodeKey:   ev.key,
		NodeType:  r.nodes[ev.key].node.Type,
		Attempt:   ev.attempt,
		Status:    status,
		Input:     ev.input,
		Output:    ev.output,
		Timestamp: ev.startTime,
		Duration:  ev.duration,
	}
	if ev.err != nil {
		entry.Error = ev.err.Error()
	}
	return entry
}

// appendTrail records entry and hands it to the sink, sink failures are only
// logged.
func (r *runRunner) appendTrail(ctx context.Context, entry types.RunLogEntry) {
	r.mu.Lock()
	r.trail = append(r.trail, entry)
	r.mu.Unlock()

	if r.sink == nil {
		return
	}
	if err := r.sink.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.WithFields(log.Fields{
			"node_key": entry.NodeKey,
			"attempt":  entry.Attempt,
		}).Warnf("append run log failed: %v", err)
	}
}

func (r *runRunner) finish(abortErr error) {
	status := types.RunSucceeded
	partial := false
	var runErr error

	if abortErr != nil {
		for key, s := range r.ec.NodeStatuses() {
			if !s.Settled() {
				r.ec.SetStatus(key, types.NodeSkipped)
			}
		}
		status = types.RunFailed
		if errors.Is(abortErr, context.DeadlineExceeded) {
			runErr = errors.Timeoutf("run %s", r.runID)
		} else {
			runErr = errors.Annotatef(abortErr, "run %s aborted", r.runID)
		}
	} else {
		status, partial, runErr = r.outcome()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.status = status
	r.partial = partial
	r.runErr = runErr
	r.endTime = time.Now()
}

// outcome: with END nodes the run succeeds when one of them completed,
// otherwise it succeeds when no node failed.
func (r *runRunner) outcome() (types.RunStatus, bool, error) {
	statuses := r.ec.NodeStatuses()
	failed := make([]string, 0)
	for _, n := range r.snapshot.Nodes() {
		if statuses[n.Key] == types.NodeFailed {
			failed = append(failed, n.Key)
		}
	}

	ends := r.snapshot.NodesOfType(types.NodeEnd)
	if len(ends) == 0 {
		if len(failed) > 0 {
			return types.RunFailed, false, errors.Errorf("nodes failed: %s", strings.Join(failed, ", "))
		}
		return types.RunSucceeded, false, nil
	}

	for _, key := range ends {
		if statuses[key] == types.NodeCompleted {
			return types.RunSucceeded, len(failed) > 0, nil
		}
	}
	if len(failed) > 0 {
		return types.RunFailed, false, errors.Errorf("no END node reached, nodes failed: %s", strings.Join(failed, ", "))
	}
	return types.RunFailed, false, errors.New("no END node reached")
}

// result builds the caller view of the run, it can be called at any time.
func (r *runRunner) result() *types.RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &types.RunResult{
		RunID:          r.runID,
		SnapshotID:     r.snapshot.ID(),
		Status:         r.status,
		PartialFailure: r.partial,
		Failures:       append([]types.NodeFailure(nil), r.failures...),
		NodeStatuses:   r.ec.NodeStatuses(),
		Results:        r.ec.Results(),
		Globals:        r.ec.GetAllGlobals(),
		Summary:        r.ec.Summary(),
		Trail:          append([]types.RunLogEntry(nil), r.trail...),
		StartTime:      r.startTime,
		EndTime:        r.endTime,
	}
	if r.runErr != nil {
		result.Error = r.runErr.Error()
	}
	return result
}
