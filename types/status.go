package types

import "github.com/juju/errors"

// NodeStatus is the per-node state machine within a run:
//
//	PENDING -> RUNNING -> {COMPLETED | FAILED}
//	FAILED -> RETRYING -> RUNNING
//	any non-terminal -> SKIPPED
type NodeStatus int32

const (
	NodePending   NodeStatus = 0
	NodeRunning   NodeStatus = 1
	NodeCompleted NodeStatus = 2
	NodeFailed    NodeStatus = 3
	NodeRetrying  NodeStatus = 4
	NodeSkipped   NodeStatus = 5
)

func (s NodeStatus) String() string {
	switch s {
	case NodePending:
		return "PENDING"
	case NodeRunning:
		return "RUNNING"
	case NodeCompleted:
		return "COMPLETED"
	case NodeFailed:
		return "FAILED"
	case NodeRetrying:
		return "RETRYING"
	case NodeSkipped:
		return "SKIPPED"
	}
	return "UNKNOWN"
}

// Settled reports whether the node will not be scheduled again in this run.
// A FAILED node is only settled once the orchestrator stops retrying it, so
// callers holding retry state must check that separately.
func (s NodeStatus) Settled() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

func (s NodeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunStatus is the whole-run state machine: CREATED -> RUNNING -> {SUCCEEDED | FAILED}.
type RunStatus int32

const (
	RunCreated   RunStatus = 0
	RunRunning   RunStatus = 1
	RunSucceeded RunStatus = 2
	RunFailed    RunStatus = 3
)

func (s RunStatus) String() string {
	switch s {
	case RunCreated:
		return "CREATED"
	case RunRunning:
		return "RUNNING"
	case RunSucceeded:
		return "SUCCEEDED"
	case RunFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

func (s RunStatus) Finished() bool {
	return s == RunSucceeded || s == RunFailed
}

func (s RunStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *NodeStatus) UnmarshalText(b []byte) error {
	for _, candidate := range []NodeStatus{NodePending, NodeRunning, NodeCompleted, NodeFailed, NodeRetrying, NodeSkipped} {
		if candidate.String() == string(b) {
			*s = candidate
			return nil
		}
	}
	return errors.NotValidf("node status %q", string(b))
}

func (s *RunStatus) UnmarshalText(b []byte) error {
	for _, candidate := range []RunStatus{RunCreated, RunRunning, RunSucceeded, RunFailed} {
		if candidate.String() == string(b) {
			*s = candidate
			return nil
		}
	}
	return errors.NotValidf("run status %q", string(b))
}
