package flowgraph

import (
	"context"
	"io"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/expr"
	"github.com/warriorguo/flowgraph/nodes/control"
	"github.com/warriorguo/flowgraph/nodes/terminal"
	"github.com/warriorguo/flowgraph/nodes/transform"
	"github.com/warriorguo/flowgraph/runlog"
	"github.com/warriorguo/flowgraph/runtime"
	"github.com/warriorguo/flowgraph/store"
	"github.com/warriorguo/flowgraph/store/badger"
	"github.com/warriorguo/flowgraph/store/mem"
	"github.com/warriorguo/flowgraph/store/postgres"
	"github.com/warriorguo/flowgraph/store/sqlite"
	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.FlowEngine = &Engine{}
)

// Engine is the flow engine bound to the store it was opened with.
type Engine struct {
	types.FlowEngine

	store store.Store
	trail *runlog.StoreSink
}

// NewFlowEngine creates a new flow engine with the given options.
//
// Run logs are always kept in the engine store, a RunLogSink option receives
// them as well. The terminal, control-flow and mapper executors are registered
// unless an executor passed with WithExecutors already claims one of their
// node types.
func NewFlowEngine(opts ...types.FlowOption) (*Engine, error) {
	options := types.NewFlowOptions()
	for _, opt := range opts {
		opt(options)
	}

	s, err := openStore(options)
	if err != nil {
		return nil, errors.Trace(err)
	}

	trail := runlog.NewStoreSink(s)
	if options.RunLogSink == nil {
		options.RunLogSink = trail
	} else {
		options.RunLogSink = runlog.NewMultiSink(trail, options.RunLogSink)
	}

	evaluator := options.Evaluator
	if evaluator == nil {
		evaluator = expr.NewEvaluator()
	}
	options.Executors = withDefaultExecutors(options.Executors,
		terminal.NewExecutor(),
		control.NewExecutor(evaluator),
		transform.NewMapper(),
	)

	engine, err := runtime.NewFlowEngine(s, options)
	if err != nil {
		closeStore(s)
		return nil, errors.Trace(err)
	}
	return &Engine{FlowEngine: engine, store: s, trail: trail}, nil
}

func openStore(options *types.FlowOptions) (store.Store, error) {
	switch {
	case options.PostgresConfig != nil:
		s, err := postgres.NewPostgresStore(options.PostgresConfig)
		return s, errors.Annotatef(err, "failed to create PostgreSQL store")
	case options.BadgerPath != "":
		s, err := badger.NewBadgerStore(options.BadgerPath)
		return s, errors.Annotatef(err, "failed to create badger store")
	case options.SQLitePath != "":
		s, err := sqlite.NewSQLiteStore(options.SQLitePath)
		return s, errors.Annotatef(err, "failed to create SQLite store")
	case !options.MemStore:
		log.Info("no store configured, snapshots are kept in memory")
	}
	return mem.NewMemStore(), nil
}

func withDefaultExecutors(executors []types.NodeExecutor, defaults ...types.NodeExecutor) []types.NodeExecutor {
	claimed := make(map[types.NodeType]bool)
	for _, e := range executors {
		for _, t := range e.SupportedTypes() {
			claimed[t] = true
		}
	}

	merged := make([]types.NodeExecutor, 0, len(executors)+len(defaults))
next:
	for _, d := range defaults {
		for _, t := range d.SupportedTypes() {
			if claimed[t] {
				log.WithField("node_type", t).Debug("default executor replaced by a custom one")
				continue next
			}
		}
		merged = append(merged, d)
	}
	return append(merged, executors...)
}

// Store returns the store holding snapshots and, by default, run logs.
func (e *Engine) Store() store.Store {
	return e.store
}

// LoadTrail reads the run log persisted in the engine store.
func (e *Engine) LoadTrail(ctx context.Context, runID string) ([]types.RunLogEntry, error) {
	return e.trail.LoadTrail(ctx, runID)
}

// Close waits for running flows then closes the store.
func (e *Engine) Close(ctx context.Context) error {
	err := e.FlowEngine.Close(ctx)
	if cerr := closeStore(e.store); err == nil {
		err = cerr
	}
	return errors.Trace(err)
}

func closeStore(s store.Store) error {
	if c, ok := s.(io.Closer); ok {
		return errors.Trace(c.Close())
	}
	return nil
}
