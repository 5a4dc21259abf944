// Package bstore provides persistent storage for chain state
// and committed headers, backed by LevelDB.
package bstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/bachledger/bach/bcodec"
	"github.com/bachledger/bach/bconsensus"
	"github.com/bachledger/bach/bstate"
)

// Key prefixes partition the single LevelDB keyspace.
// State keys arrive already prefixed by the state layer,
// so the header prefix only has to avoid colliding with those.
var (
	headerKeyPrefix = []byte("h/")
	latestHeightKey = []byte("h-latest")
)

// LevelDBStore is a [bstate.StateStore] and committed-header store
// sharing one LevelDB database.
type LevelDBStore struct {
	db *leveldb.DB

	codec bcodec.MarshalCodec
}

var _ bstate.StateStore = (*LevelDBStore)(nil)

// OpenLevelDB opens (creating if necessary) the database at path.
func OpenLevelDB(path string, codec bcodec.MarshalCodec) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return &LevelDBStore{db: db, codec: codec}, nil
}

// NewMemLevelDBStore returns a store backed by in-memory LevelDB storage,
// for tests and ephemeral nodes.
func NewMemLevelDBStore(codec bcodec.MarshalCodec) *LevelDBStore {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(fmt.Errorf("BUG: failed to open in-memory leveldb: %w", err))
	}

	return &LevelDBStore{db: db, codec: codec}
}

// Close releases the underlying database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Get implements [bstate.StateStore].
func (s *LevelDBStore) Get(key []byte) ([]byte, bool, error) {
	val, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get failed: %w", err)
	}
	return val, true, nil
}

// PutBatch implements [bstate.StateStore];
// all writes land atomically or not at all.
func (s *LevelDBStore) PutBatch(kvs []bstate.KV) error {
	batch := new(leveldb.Batch)
	for _, kv := range kvs {
		batch.Put(kv.Key, kv.Value)
	}

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldb batch write failed: %w", err)
	}
	return nil
}

func headerKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(headerKeyPrefix, height)
}

// SaveCommittedHeader persists ch and advances the latest-height pointer.
func (s *LevelDBStore) SaveCommittedHeader(ch bconsensus.CommittedHeader) error {
	b, err := s.codec.MarshalCommittedHeader(ch)
	if err != nil {
		return fmt.Errorf("failed to marshal committed header: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(headerKey(ch.Header.Height), b)
	batch.Put(latestHeightKey, binary.BigEndian.AppendUint64(nil, ch.Header.Height))

	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("failed to persist committed header at height %d: %w", ch.Header.Height, err)
	}
	return nil
}

// CommittedHeader loads the header committed at height.
// The second return is false if that height was never stored.
func (s *LevelDBStore) CommittedHeader(height uint64) (bconsensus.CommittedHeader, bool, error) {
	b, err := s.db.Get(headerKey(height), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return bconsensus.CommittedHeader{}, false, nil
	}
	if err != nil {
		return bconsensus.CommittedHeader{}, false, fmt.Errorf(
			"failed to load committed header at height %d: %w", height, err,
		)
	}

	var ch bconsensus.CommittedHeader
	if err := s.codec.UnmarshalCommittedHeader(b, &ch); err != nil {
		return bconsensus.CommittedHeader{}, false, fmt.Errorf(
			"failed to unmarshal committed header at height %d: %w", height, err,
		)
	}
	return ch, true, nil
}

// LatestHeight returns the height of the most recently stored header.
// The second return is false on a fresh database.
func (s *LevelDBStore) LatestHeight() (uint64, bool, error) {
	b, err := s.db.Get(latestHeightKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load latest height: %w", err)
	}
	if len(b) != 8 {
		return 0, false, fmt.Errorf("malformed latest height record: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), true, nil
}
