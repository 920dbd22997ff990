package runtime

import (
	"sort"
	"sync"

	"github.com/juju/errors"

	"github.com/warriorguo/flowgraph/types"
)

// Registry maps node type tags to the executor owning them.
type Registry struct {
	mu        sync.RWMutex
	executors map[types.NodeType]types.NodeExecutor
}

func NewRegistry(executors ...types.NodeExecutor) (*Registry, error) {
	r := &Registry{executors: make(map[types.NodeType]types.NodeExecutor)}
	for _, e := range executors {
		if err := r.Register(e); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return r, nil
}

// Register binds every type tag the executor declares. Nothing is bound when
// one of the tags is already owned.
func (r *Registry) Register(executor types.NodeExecutor) error {
	if executor == nil {
		return errors.NotValidf("nil executor")
	}
	tags := executor.SupportedTypes()
	if len(tags) == 0 {
		return errors.NotValidf("executor %T declares no node type", executor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tag := range tags {
		if _, exists := r.executors[tag]; exists {
			return errors.AlreadyExistsf("executor for node type %s", tag)
		}
	}
	for _, tag := range tags {
		r.executors[tag] = executor
	}
	return nil
}

func (r *Registry) Resolve(nodeType types.NodeType) (types.NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, exists := r.executors[nodeType]
	if !exists {
		return nil, types.NewUnsupportedNodeTypef("node type %s", nodeType)
	}
	return executor, nil
}

func (r *Registry) SupportedTypes() []types.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]types.NodeType, 0, len(r.executors))
	for tag := range r.executors {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Validate checks that every node of the snapshot has an executor.
func (r *Registry) Validate(snapshot *types.FlowSnapshot) error {
	for _, n := range snapshot.Nodes() {
		if _, err := r.Resolve(n.Type); err != nil {
			return errors.Annotatef(err, "node %s of snapshot %s", n.Key, snapshot.ID())
		}
	}
	return nil
}
