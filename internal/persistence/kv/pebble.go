// Package kv stores activities in Pebble keyed by ULID, so key order is
// time order.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"

	"voxelprism.ai/internal/activity"
)

var prefixActivity = []byte("act/")

func keyActivity(id ulid.ULID) []byte {
	k := make([]byte, 0, len(prefixActivity)+len(id))
	k = append(k, prefixActivity...)
	return append(k, id[:]...)
}

// upperBound is the first key past every activity key.
func upperBound() []byte {
	hi := append([]byte(nil), prefixActivity...)
	hi[len(hi)-1]++
	return hi
}

type Options struct {
	DataDir string
	// SyncWrites fsyncs the WAL on every committed batch.
	SyncWrites bool
}

type Store struct {
	db        *pebble.DB
	writeSync bool
}

func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	db, err := pebble.Open(opts.DataDir, pebbleOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Store{db: db, writeSync: opts.SyncWrites}, nil
}

// pebbleOptions groups synced commits that land within a few milliseconds
// into one fsync. Unsynced commits never wait on the WAL.
func pebbleOptions(opts Options) *pebble.Options {
	po := &pebble.Options{}
	if opts.SyncWrites {
		po.WALMinSyncInterval = func() time.Duration { return 2 * time.Millisecond }
	}
	return po
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persist commits the batch atomically. Keys are activity ids, so a retried
// batch overwrites itself.
func (s *Store) Persist(ctx context.Context, batch []activity.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, a := range batch {
		v, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := b.Set(keyActivity(a.ID), v, nil); err != nil {
			return err
		}
	}
	mode := pebble.NoSync
	if s.writeSync {
		mode = pebble.Sync
	}
	return b.Commit(mode)
}

// Get returns the activity stored under id.
func (s *Store) Get(id ulid.ULID) (activity.Activity, bool, error) {
	val, closer, err := s.db.Get(keyActivity(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return activity.Activity{}, false, nil
	}
	if err != nil {
		return activity.Activity{}, false, err
	}
	defer closer.Close()
	var a activity.Activity
	if err := json.Unmarshal(val, &a); err != nil {
		return activity.Activity{}, false, err
	}
	return a, true, nil
}

// Scan returns up to limit activities recorded at or after since, oldest
// first. A zero since starts at the beginning; limit <= 0 means no limit.
func (s *Store) Scan(since time.Time, limit int) ([]activity.Activity, error) {
	low := append([]byte(nil), prefixActivity...)
	if !since.IsZero() {
		var start ulid.ULID
		if err := start.SetTime(ulid.Timestamp(since)); err != nil {
			return nil, err
		}
		low = keyActivity(start)
	}
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: upperBound()})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []activity.Activity
	for ok := it.First(); ok; ok = it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var a activity.Activity
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, it.Error()
}
