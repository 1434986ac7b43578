package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("msgblast")

// Bolt is a file-backed Store on bbolt. It is the default backend for a
// single-machine client: state survives restarts without any external
// service.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (creating if needed) the bbolt database at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state file: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Get(key string) (string, error) {
	var value string
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	return value, nil
}

func (b *Bolt) Set(key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
}

func (b *Bolt) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete([]byte(key))
	})
}

func (b *Bolt) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(boltBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(boltBucket)
		return err
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
