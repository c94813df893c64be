package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the default number of versions retained per artifact.
const DefaultCapacity = 5

// Record is one retained version of an artifact's bytes.
type Record struct {
	Hash      Hash
	Bytes     []byte
	CreatedAt time.Time
}

// Store is an ordered ring buffer holding the most recent Capacity
// versions of a single artifact, keyed by content hash. The zero value is
// not usable; use New.
//
// Store is safe for concurrent use: callers may Put from an encoder
// goroutine while a dispatcher goroutine concurrently Gets an older
// version to build a patch against.
type Store struct {
	mu       sync.RWMutex
	capacity int
	order    []Hash
	records  map[Hash]Record
	logger   *logrus.Logger
}

// New returns a Store retaining at most capacity versions. A capacity of
// 0 or less falls back to DefaultCapacity.
func New(capacity int, logger *logrus.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		capacity: capacity,
		records:  make(map[Hash]Record, capacity),
		logger:   logger,
	}
}

// Put hashes bytes, stores the record under that hash, and evicts the
// oldest record if the store is now over capacity. Putting bytes already
// present is a no-op beyond refreshing nothing (FIFO order is by first
// insertion, not last access).
func (s *Store) Put(bytes []byte) Hash {
	h := Sum(bytes)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[h]; ok {
		return h
	}

	owned := make([]byte, len(bytes))
	copy(owned, bytes)
	s.records[h] = Record{Hash: h, Bytes: owned, CreatedAt: time.Now()}
	s.order = append(s.order, h)

	if len(s.order) > s.capacity {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.records, evict)
		s.logger.WithField("hash", evict.String()).Debug("htip store: evicted oldest version")
	}
	return h
}

// Get returns the bytes stored under hash, if resident.
func (s *Store) Get(hash Hash) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[hash]
	if !ok {
		return nil, false
	}
	return r.Bytes, true
}

// Len reports how many versions are currently resident.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// MakePatch produces a Patch from the version resident under baseHash to
// target, or reports ok=false if baseHash has been evicted. Callers that
// get ok=false must fall back to delivering target as a full stream
// (§4.8 failure model).
func (s *Store) MakePatch(baseHash Hash, target []byte) (patch *Patch, ok bool) {
	base, found := s.Get(baseHash)
	if !found {
		return nil, false
	}
	return MakePatch(base, target), true
}
