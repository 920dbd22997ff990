package store

import "context"

// Store is the key/value persistence used for snapshots and run logs.
// Keys are grouped under a prefix; Get on a missing key returns nil, nil.
type Store interface {
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * remove an unexists prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	/**
	 * List calls iterator for every key under prefix in ascending order,
	 * stopping as soon as iterator returns false.
	 */
	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
