package counter

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	visitsBucketName = []byte("visits")
	countKeyName     = []byte("count")
	labelKeyName     = []byte("last_label")
)

type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	opts := &bbolt.Options{ //nolint:exhaustruct
		NoFreelistSync: true,
		ReadOnly:       false,
		Timeout:        1 * time.Second,
		NoGrowSync:     false,
		FreelistType:   bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(path, 0o600, opts)
	if nil != err {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := createBuckets(db); nil != err {
		if closeErr := db.Close(); nil != closeErr {
			err = fmt.Errorf("%v; failed to close database: %v", err, closeErr)
		}

		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func createBuckets(db *bbolt.DB) error {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(visitsBucketName); nil != err {
			return fmt.Errorf("failed to create visits bucket: %v", err)
		}

		return nil
	})
	if nil != err {
		return fmt.Errorf("failed to create buckets: %v", err)
	}

	return nil
}

func (s *BoltStore) Close() error {
	if err := s.db.Close(); nil != err {
		return fmt.Errorf("failed to close database: %v", err)
	}

	return nil
}

func (s *BoltStore) Record(_ context.Context, label string) (Stat, error) {
	var stat Stat
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(visitsBucketName)
		stat = readStat(b)
		stat.DeliveredCount++
		stat.LastDeliveredLabel = label

		var count [8]byte
		binary.BigEndian.PutUint64(count[:], uint64(stat.DeliveredCount)) //nolint:gosec
		if err := b.Put(countKeyName, count[:]); nil != err {
			return fmt.Errorf("failed to store count: %v", err)
		}

		if err := b.Put(labelKeyName, []byte(label)); nil != err {
			return fmt.Errorf("failed to store last label: %v", err)
		}

		return nil
	})
	if nil != err {
		return Stat{}, fmt.Errorf("failed to record visit: %v", err)
	}

	return stat, nil
}

func (s *BoltStore) Read(_ context.Context) (Stat, error) {
	var stat Stat
	err := s.db.View(func(tx *bbolt.Tx) error {
		stat = readStat(tx.Bucket(visitsBucketName))
		return nil
	})
	if nil != err {
		return Stat{}, fmt.Errorf("failed to read visits: %v", err)
	}

	return stat, nil
}

func readStat(b *bbolt.Bucket) Stat {
	var stat Stat
	if v := b.Get(countKeyName); len(v) == 8 {
		stat.DeliveredCount = int64(binary.BigEndian.Uint64(v)) //nolint:gosec
	}

	// Values are only valid for the life of the transaction.
	stat.LastDeliveredLabel = string(b.Get(labelKeyName))

	return stat
}
