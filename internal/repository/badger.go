package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"

	"moniteur/internal/domain"
)

var pointKeyPrefix = []byte("dp\x00")

// BadgerStore keeps one key per data point: prefix | asset id | 0x00 | big-endian timestamp.
// Keys of one asset are contiguous and sorted by time, so range queries are a single seek.
type BadgerStore struct {
	db    *badger.DB
	path  string
	locks assetLocks
	state lifecycle
	now   func() time.Time
}

// NewBadgerStore opens at path on Init. An empty path or ":memory:" keeps data in memory.
func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path, now: time.Now}
}

func (s *BadgerStore) Init() error {
	if s.state.closed.Load() {
		return domain.ErrStoreClosed
	}

	var opts badger.Options
	if s.path == "" || s.path == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(s.path)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	s.db = db
	s.state.open.Store(true)
	return nil
}

func assetPrefix(assetID string) []byte {
	key := make([]byte, 0, len(pointKeyPrefix)+len(assetID)+1)
	key = append(key, pointKeyPrefix...)
	key = append(key, assetID...)
	return append(key, 0)
}

// assetUpperBound sorts after every key of assetID and before the next asset's keys.
func assetUpperBound(assetID string) []byte {
	return append(assetPrefix(assetID), bytes.Repeat([]byte{0xFF}, 9)...)
}

// pointKey flips the sign bit so negative timestamps still sort first.
func pointKey(assetID string, ts int64) []byte {
	key := assetPrefix(assetID)
	return binary.BigEndian.AppendUint64(key, uint64(ts)^(1<<63))
}

func decodeTimestamp(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

func encodeValue(v float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v))
}

func decodeValue(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("corrupt value of %d bytes", len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (s *BadgerStore) Write(ctx context.Context, point domain.DataPoint) error {
	if err := s.state.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := s.locks.get(point.AssetID)
	mu.RLock()
	defer mu.RUnlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pointKey(point.AssetID, point.Timestamp), encodeValue(point.Value))
	})
	if err != nil {
		return fmt.Errorf("%w: writing point for %s: %w", domain.ErrStore, point.AssetID, err)
	}
	return nil
}

func (s *BadgerStore) Query(ctx context.Context, assetID string, from, to int64, maxPoints int) ([]domain.DataPoint, error) {
	if err := s.state.check(); err != nil {
		return nil, err
	}
	if from > to {
		return nil, domain.ErrInvalidRange
	}

	mu := s.locks.get(assetID)
	mu.RLock()
	defer mu.RUnlock()

	prefix := assetPrefix(assetID)
	fetched := []domain.DataPoint{}

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(pointKey(assetID, from)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			ts := decodeTimestamp(item.Key())
			if ts > to {
				break
			}
			err := item.Value(func(val []byte) error {
				v, err := decodeValue(val)
				if err != nil {
					return err
				}
				fetched = append(fetched, domain.DataPoint{AssetID: assetID, Timestamp: ts, Value: v})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", domain.ErrStore, assetID, err)
	}

	return Downsample(fetched, maxPoints), nil
}

func (s *BadgerStore) RetentionSweep(ctx context.Context, policy domain.Retention) (int, error) {
	if err := s.state.check(); err != nil {
		return 0, err
	}

	assetIDs, err := s.storedAssets()
	if err != nil {
		return 0, err
	}

	total := 0
	for _, assetID := range assetIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.sweepAsset(assetID, policy)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *BadgerStore) storedAssets() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(pointKeyPrefix)
		for it.ValidForPrefix(pointKeyPrefix) {
			key := it.Item().Key()
			rest := key[len(pointKeyPrefix):]
			end := bytes.IndexByte(rest, 0)
			if end < 0 {
				it.Next()
				continue
			}
			id := string(rest[:end])
			ids = append(ids, id)
			it.Seek(assetUpperBound(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: listing assets: %w", domain.ErrStore, err)
	}
	return ids, nil
}

func (s *BadgerStore) sweepAsset(assetID string, policy domain.Retention) (int, error) {
	mu := s.locks.get(assetID)
	mu.Lock()
	defer mu.Unlock()

	cutoff, hasHorizon := cutoffFor(policy, s.now())
	prefix := assetPrefix(assetID)

	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		kept := 0
		for it.Seek(assetUpperBound(assetID)); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			tooOld := hasHorizon && decodeTimestamp(key) < cutoff
			overCount := policy.MaxCount > 0 && kept >= policy.MaxCount
			if tooOld || overCount {
				doomed = append(doomed, key)
				continue
			}
			kept++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: scanning %s: %w", domain.ErrStore, assetID, err)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("%w: deleting from %s: %w", domain.ErrStore, assetID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("%w: deleting from %s: %w", domain.ErrStore, assetID, err)
	}
	return len(doomed), nil
}

func (s *BadgerStore) Close() error {
	if !s.state.markClosed() {
		return domain.ErrStoreClosed
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
