package badger

import (
	"context"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/flowgraph/store"
)

var (
	_ store.Store = &badgerStore{}
)

const keySep = "|"

// badgerStore keeps every entry under the key prefix|key of an embedded
// badger database.
type badgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a database in dir.
func NewBadgerStore(dir string) (store.Store, error) {
	if dir == "" {
		return nil, errors.NotValidf("empty badger dir")
	}
	return open(badger.DefaultOptions(dir))
}

// NewInMemoryBadgerStore is the diskless variant, for tests and dry runs.
func NewInMemoryBadgerStore() (store.Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (store.Store, error) {
	opts.Logger = log.WithField("component", "badger")
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open badger at %q", opts.Dir)
	}
	return &badgerStore{db: db}, nil
}

func dbKey(prefix, key string) []byte {
	return []byte(prefix + keySep + key)
}

func (b *badgerStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dbKey(prefix, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	// badger hands back an empty value as nil
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (b *badgerStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(dbKey(prefix, key), value)
	})
	return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
}

func (b *badgerStore) Remove(ctx context.Context, prefix, key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(prefix, key))
	})
	return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
}

func (b *badgerStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	keyPrefix := []byte(prefix + keySep)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := strings.TrimPrefix(string(it.Item().Key()), string(keyPrefix))
			if !iterator(key) {
				break
			}
		}
		return nil
	})
	return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
}

func (b *badgerStore) Close() error {
	return errors.Trace(b.db.Close())
}
