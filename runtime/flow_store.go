package runtime

import (
	"context"
	"sync"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/store"
	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	SnapshotPath = "/snapshot/"
)

var (
	_ types.SnapshotLoader = &SnapshotStore{}
)

// SnapshotStore persists published snapshots in a store.Store. Snapshots are
// immutable so loaded values are cached for the life of the store.
type SnapshotStore struct {
	store store.Store

	mu    sync.RWMutex
	cache map[string]*types.FlowSnapshot
}

func NewSnapshotStore(s store.Store) *SnapshotStore {
	return &SnapshotStore{store: s, cache: make(map[string]*types.FlowSnapshot)}
}

// Publish saves a new snapshot; an id can only be published once.
func (s *SnapshotStore) Publish(ctx context.Context, snapshot *types.FlowSnapshot) error {
	if snapshot == nil {
		return errors.NotValidf("nil snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.store.Get(ctx, SnapshotPath, snapshot.ID())
	if err != nil {
		return errors.Trace(err)
	}
	if len(b) > 0 {
		return errors.AlreadyExistsf("snapshot %s", snapshot.ID())
	}

	b, err = utils.Serialize(snapshot)
	if err != nil {
		return errors.Trace(err)
	}
	if err := s.store.Set(ctx, SnapshotPath, snapshot.ID(), b); err != nil {
		return errors.Trace(err)
	}
	s.cache[snapshot.ID()] = snapshot
	return nil
}

// Load returns NotFound when the snapshot is missing or its payload can't be
// parsed.
func (s *SnapshotStore) Load(ctx context.Context, snapshotID string) (*types.FlowSnapshot, error) {
	s.mu.RLock()
	snapshot, exists := s.cache[snapshotID]
	s.mu.RUnlock()
	if exists {
		return snapshot, nil
	}

	b, err := s.store.Get(ctx, SnapshotPath, snapshotID)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(b) == 0 {
		return nil, errors.NotFoundf("snapshot %s", snapshotID)
	}

	snapshot, err = types.ParseFlowSnapshot(b)
	if err != nil {
		log.WithField("snapshot_id", snapshotID).Errorf("unparsable snapshot payload: %v", err)
		return nil, errors.NewNotFound(err, "snapshot "+snapshotID)
	}

	s.mu.Lock()
	s.cache[snapshotID] = snapshot
	s.mu.Unlock()
	return snapshot, nil
}

// List returns the ids of every published snapshot.
func (s *SnapshotStore) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := s.store.List(ctx, SnapshotPath, func(id string) bool {
		ids = append(ids, id)
		return true
	})
	return ids, errors.Trace(err)
}
