package runlog

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/store"
	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	RecordPath = "/record/"
)

var (
	_ types.RunLogSink = &StoreSink{}
)

func recordSavePath(runID string) string {
	return RecordPath + runID
}

// StoreSink saves entries in a store.Store, one key per attempt under the
// run prefix.
type StoreSink struct {
	store store.Store
}

func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Append(ctx context.Context, entry types.RunLogEntry) error {
	b, err := utils.Serialize(entry)
	if err != nil {
		return errors.Trace(err)
	}
	key := fmt.Sprintf("%s#%d", entry.NodeKey, entry.Attempt)
	return errors.Trace(s.store.Set(ctx, recordSavePath(entry.RunID), key, b))
}

// LoadTrail reads back every entry of a run in production order. Unreadable
// entries are logged and skipped.
func (s *StoreSink) LoadTrail(ctx context.Context, runID string) ([]types.RunLogEntry, error) {
	entries := make([]types.RunLogEntry, 0)
	recordPath := recordSavePath(runID)
	err := s.store.List(ctx, recordPath, func(key string) bool {
		b, err := s.store.Get(ctx, recordPath, key)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, key, err)
			return true
		}
		entry := types.RunLogEntry{}
		if err := utils.Unserialize(b, &entry); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, key, string(b), err)
			return true
		}
		entries = append(entries, entry)
		return true
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	sortTrail(entries)
	return entries, nil
}
