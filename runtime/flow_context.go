package runtime

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	DefaultSlowThreshold = 5 * time.Second
)

var (
	_ types.ExecutionContext = &ExecutionContext{}
)

// ExecutionContext holds the mutable state of one run. Every method is safe
// for concurrent use, and values handed out are copies.
type ExecutionContext struct {
	mu sync.RWMutex

	runID         string
	snapshot      *types.FlowSnapshot
	slowThreshold time.Duration

	results     map[string]types.Data
	retryCounts map[string]int
	statuses    map[string]types.NodeStatus
	globals     types.Data
	metrics     map[string]time.Duration
	slowMetrics map[string]bool
}

func NewExecutionContext(runID string, snapshot *types.FlowSnapshot, slowThreshold time.Duration) *ExecutionContext {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowThreshold
	}
	return &ExecutionContext{
		runID:         runID,
		snapshot:      snapshot,
		slowThreshold: slowThreshold,
		results:       make(map[string]types.Data),
		retryCounts:   make(map[string]int),
		statuses:      make(map[string]types.NodeStatus),
		globals:       types.Data{},
		metrics:       make(map[string]time.Duration),
		slowMetrics:   make(map[string]bool),
	}
}

func (c *ExecutionContext) RunID() string {
	return c.runID
}

func (c *ExecutionContext) Snapshot() *types.FlowSnapshot {
	return c.snapshot
}

func (c *ExecutionContext) logger() *log.Entry {
	return log.WithField("run_id", c.runID)
}

// RecordResult stores a deep copy of result and marks the node COMPLETED.
// Unknown keys are recorded anyway, with a warning.
func (c *ExecutionContext) RecordResult(nodeKey string, result types.Data) {
	if c.snapshot != nil && !c.snapshot.ContainsNode(nodeKey) {
		c.logger().WithField("node_key", nodeKey).Warn("recording result of a node unknown to the snapshot")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[nodeKey] = result.Clone()
	c.statuses[nodeKey] = types.NodeCompleted
}

func (c *ExecutionContext) GetResult(nodeKey string) (types.Data, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result, exists := c.results[nodeKey]
	if !exists {
		return nil, false
	}
	return result.Clone(), true
}

// Results returns copies of every recorded result.
func (c *ExecutionContext) Results() map[string]types.Data {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]types.Data, len(c.results))
	for key, result := range c.results {
		results[key] = result.Clone()
	}
	return results
}

// IncrementRetry counts a failed attempt and marks the node RETRYING.
func (c *ExecutionContext) IncrementRetry(nodeKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retryCounts[nodeKey]++
	c.statuses[nodeKey] = types.NodeRetrying
	return c.retryCounts[nodeKey]
}

func (c *ExecutionContext) GetRetryCount(nodeKey string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.retryCounts[nodeKey]
}

func (c *ExecutionContext) SetStatus(nodeKey string, status types.NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses[nodeKey] = status
}

func (c *ExecutionContext) GetStatus(nodeKey string) types.NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.statuses[nodeKey]; exists {
		return status
	}
	return types.NodePending
}

// NodeStatuses reports every snapshot node, PENDING when never touched.
func (c *ExecutionContext) NodeStatuses() map[string]types.NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := utils.CloneMap(c.statuses)
	if c.snapshot != nil {
		for _, n := range c.snapshot.Nodes() {
			if _, exists := statuses[n.Key]; !exists {
				statuses[n.Key] = types.NodePending
			}
		}
	}
	return statuses
}

func (c *ExecutionContext) SetGlobal(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.globals[key] = utils.DeepCopy(value)
}

func (c *ExecutionContext) GetGlobal(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, exists := c.globals[key]
	return utils.DeepCopy(v), exists
}

func (c *ExecutionContext) GetAllGlobals() types.Data {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.globals.Clone()
}

// RecordMetric keeps the last sample of name, flagging it when above the slow
// threshold.
func (c *ExecutionContext) RecordMetric(name string, duration time.Duration) {
	slow := duration > c.slowThreshold

	c.mu.Lock()
	c.metrics[name] = duration
	if slow {
		c.slowMetrics[name] = true
	}
	c.mu.Unlock()

	if slow {
		c.logger().WithFields(log.Fields{
			"metric":    name,
			"duration":  duration,
			"threshold": c.slowThreshold,
		}).Warn("slow execution")
	}
}

func (c *ExecutionContext) Metrics() map[string]time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return utils.CloneMap(c.metrics)
}

func (c *ExecutionContext) SlowMetrics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.slowMetrics))
	for name := range c.slowMetrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *ExecutionContext) Summary() types.ExecutionSummary {
	statuses := c.NodeStatuses()

	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := types.ExecutionSummary{}
	if c.snapshot != nil {
		summary.TotalNodes = c.snapshot.NodeCount()
	}
	for _, status := range statuses {
		switch status {
		case types.NodeCompleted:
			summary.Completed++
		case types.NodeFailed:
			summary.Failed++
		case types.NodeRetrying:
			summary.Retrying++
		case types.NodeSkipped:
			summary.Skipped++
		}
	}
	for _, count := range c.retryCounts {
		summary.TotalRetries += count
	}
	if summary.TotalNodes > 0 {
		summary.Progress = float64(summary.Completed) / float64(summary.TotalNodes)
	}
	return summary
}
