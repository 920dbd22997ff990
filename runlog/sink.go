// Package runlog holds the run-log sinks receiving one entry per node attempt.
package runlog

import (
	"context"
	"sort"

	"github.com/juju/errors"

	"github.com/warriorguo/flowgraph/types"
)

var (
	_ types.RunLogSink = &MultiSink{}
)

// MultiSink fans entries out to every sink. All sinks are attempted, the
// first failure is reported.
type MultiSink struct {
	sinks []types.RunLogSink
}

func NewMultiSink(sinks ...types.RunLogSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Append(ctx context.Context, entry types.RunLogEntry) error {
	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Append(ctx, entry); err != nil && firstErr == nil {
			firstErr = errors.Annotatef(err, "sink %T", sink)
		}
	}
	return firstErr
}

// sortTrail orders entries the way they were produced.
func sortTrail(entries []types.RunLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		if entries[i].NodeKey != entries[j].NodeKey {
			return entries[i].NodeKey < entries[j].NodeKey
		}
		return entries[i].Attempt < entries[j].Attempt
	})
}
