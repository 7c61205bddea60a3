// Implements Backend on top of a bbolt embedded database.

package jsonldb

import (
	"fmt"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

var tablesBucket = []byte("tables")

// BoltDB stores one value per table in a single bbolt file.
//
// bbolt commits each write transaction atomically, which provides the same
// guarantee as FileBackend's rename.
type BoltDB struct {
	db *bolt.DB
}

// OpenBolt opens or creates the bbolt database at path.
func OpenBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}
	return &BoltDB{db: db}, nil
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Backend returns the Backend for the table called name.
func (b *BoltDB) Backend(name string) Backend {
	return &boltBackend{db: b.db, key: []byte(name)}
}

type boltBackend struct {
	db  *bolt.DB
	key []byte
}

func (b *boltBackend) Load() ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(tablesBucket)
		if bucket == nil {
			return nil
		}
		// Values are only valid for the life of the transaction.
		data = slices.Clone(bucket.Get(b.key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s from bolt: %w", b.key, err)
	}
	return data, nil
}

func (b *boltBackend) Replace(data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(tablesBucket)
		if err != nil {
			return err
		}
		return bucket.Put(b.key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store %s in bolt: %w", b.key, err)
	}
	return nil
}
