package types

import "time"

// RunLogEntry is the record of a single node attempt handed to the run-log sink.
type RunLogEntry struct {
	RunID     string        `json:"runId"`
	NodeKey   string        `json:"nodeKey"`
	NodeType  NodeType      `json:"nodeType"`
	Attempt   int           `json:"attempt"`
	Status    NodeStatus    `json:"status"`
	Input     Data          `json:"input,omitempty"`
	Output    Data          `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// NodeFailure describes a node that ended in terminal FAILED.
type NodeFailure struct {
	NodeKey    string   `json:"nodeKey"`
	NodeType   NodeType `json:"nodeType"`
	Message    string   `json:"message"`
	RetryCount int      `json:"retryCount"`
}

type ExecutionSummary struct {
	TotalNodes   int     `json:"totalNodes"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	Retrying     int     `json:"retrying"`
	Skipped      int     `json:"skipped"`
	TotalRetries int     `json:"totalRetries"`
	Progress     float64 `json:"progress"`
}

// RunResult is what a caller gets back for a run: the outcome plus enough of
// a trail to diagnose it.
type RunResult struct {
	RunID          string                `json:"runId"`
	SnapshotID     string                `json:"snapshotId"`
	Status         RunStatus             `json:"status"`
	PartialFailure bool                  `json:"partialFailure,omitempty"`
	Error          string                `json:"error,omitempty"`
	Failures       []NodeFailure         `json:"failures,omitempty"`
	NodeStatuses   map[string]NodeStatus `json:"nodeStatuses"`
	Results        map[string]Data       `json:"results,omitempty"`
	Globals        Data                  `json:"globals,omitempty"`
	Summary        ExecutionSummary      `json:"summary"`
	Trail          []RunLogEntry         `json:"trail,omitempty"`
	StartTime      time.Time             `json:"startTime"`
	EndTime        time.Time             `json:"endTime,omitempty"`
}

// Attempts returns the trail entries of one node, in attempt order.
func (r *RunResult) Attempts(nodeKey string) []RunLogEntry {
	entries := make([]RunLogEntry, 0)
	for _, e := range r.Trail {
		if e.NodeKey == nodeKey {
			entries = append(entries, e)
		}
	}
	return entries
}
