package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/warriorguo/flowgraph/types"
)

type flowExecute struct {
	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool

	batchRunner *batchRunner

	finishedMu    sync.Mutex
	finished      map[string]*types.RunResult
	finishedOrder []string
	retain        int
}

func (fe *flowExecute) startExecutePlan(r *runRunner) error {
	if !fe.running.Load() {
		return errors.MethodNotAllowedf("engine closed")
	}
	return fe.batchRunner.add(r.runID, r)
}

// finishExecutePlan moves the run to the finished table, evicting the oldest
// runs beyond the retention bound.
func (fe *flowExecute) finishExecutePlan(runID string, result *types.RunResult) {
	fe.finishedMu.Lock()
	if fe.retain > 0 {
		if fe.finished == nil {
			fe.finished = make(map[string]*types.RunResult)
		}
		fe.finished[runID] = result
		fe.finishedOrder = append(fe.finishedOrder, runID)
		for len(fe.finishedOrder) > fe.retain {
			delete(fe.finished, fe.finishedOrder[0])
			fe.finishedOrder = fe.finishedOrder[1:]
		}
	}
	fe.finishedMu.Unlock()

	fe.batchRunner.remove(runID)
}

func (fe *flowExecute) getExecutePlanStatus(runID string) (*types.RunResult, error) {
	fe.finishedMu.Lock()
	result, exists := fe.finished[runID]
	fe.finishedMu.Unlock()
	if exists {
		copied := *result
		return &copied, nil
	}

	r := fe.batchRunner.get(runID)
	if r == nil {
		return nil, errors.NotFoundf("run id: %s", runID)
	}
	return r.result(), nil
}
