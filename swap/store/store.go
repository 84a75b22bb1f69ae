// Package store is the persistence port (C7, spec §4.8): a small
// key-value snapshot store that lets a restarted daemon resume every
// in-flight swap exactly where it left off. The interface is the
// contract `swap/alice` and `swap/bob` depend on; the concrete
// implementation is backed by `github.com/ChainSafe/chaindb`'s
// BadgerDB wrapper, matching the teacher's `protocol/swap.Manager`
// (in-memory maps fronting a `chaindb.Database`) generalized from a
// single `Info` record per swap into the versioned, tagged-union
// `Snapshot` this engine's two roles need.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ChainSafe/chaindb"

	"github.com/athanorlabs/xmr-btc-swap/common"
)

// SchemaVersion is bumped whenever Snapshot's on-disk shape changes in a
// way that isn't additive. Migration is forward-only: Get refuses to
// decode a snapshot written by a newer schema than this build knows.
const SchemaVersion = 1

// ErrNotFound is returned by Get when no snapshot exists for an ID.
var ErrNotFound = errors.New("store: no snapshot for swap id")

// ErrSchemaTooNew is returned when a persisted snapshot's SchemaVersion
// is newer than this build supports.
var ErrSchemaTooNew = errors.New("store: snapshot schema version is newer than this build")

// Snapshot is tagged by Role, naming which role this swap instance is
// playing; State holds that role's state as an opaque JSON blob (encoded
// by the caller) so this package never needs to import swap/alice or
// swap/bob and create an import cycle;
// swap/alice and swap/bob own their own state shapes and only hand this
// package bytes to persist.
type Snapshot struct {
	SwapID        common.SwapID `json:"swap_id"`
	SchemaVersion int           `json:"schema_version"`
	Active        bool          `json:"active"`

	Role  string          `json:"role"` // "alice" or "bob"
	State json.RawMessage `json:"state"`
}

// Store is the persistence port (spec §4.8).
type Store interface {
	// Put persists (or overwrites) a swap's snapshot.
	Put(snap *Snapshot) error
	// Get loads a swap's snapshot by ID. Returns ErrNotFound if absent.
	Get(id common.SwapID) (*Snapshot, error)
	// ListActive returns every snapshot with Active set, for resume-on-start.
	ListActive() ([]*Snapshot, error)
	// List returns every snapshot, active or terminal, for history reporting.
	List() ([]*Snapshot, error)
	// Close releases the underlying database.
	Close() error
}

func key(id common.SwapID) []byte {
	return append([]byte("swap/"), id[:]...)
}

// chainStore implements Store over a chaindb.Database. Reads/writes are
// additionally mirrored into an in-memory index of active swap IDs so
// ListActive doesn't need a full table scan on the hot path, matching the
// teacher's manager.ongoing in-memory map fronting the on-disk store.
type chainStore struct {
	mu   sync.RWMutex
	db   chaindb.Database
	live map[common.SwapID]struct{}
}

var _ Store = (*chainStore)(nil)

// New opens (or creates) a chaindb-backed Store at dataDir.
func New(dataDir string) (Store, error) {
	db, err := chaindb.NewBadgerDB(&chaindb.Config{DataDir: dataDir})
	if err != nil {
		return nil, fmt.Errorf("store: open badger db: %w", err)
	}

	s := &chainStore{db: db, live: make(map[common.SwapID]struct{})}
	if err := s.loadLiveIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *chainStore) loadLiveIndex() error {
	it := s.db.NewIterator()
	defer it.Release()

	for it.Next() {
		var snap Snapshot
		if err := json.Unmarshal(it.Value(), &snap); err != nil {
			return fmt.Errorf("store: corrupt snapshot during load: %w", err)
		}
		if snap.Active {
			s.live[snap.SwapID] = struct{}{}
		}
	}
	return it.Error()
}

func (s *chainStore) Put(snap *Snapshot) error {
	if snap.SchemaVersion == 0 {
		snap.SchemaVersion = SchemaVersion
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Put(key(snap.SwapID), b); err != nil {
		return fmt.Errorf("store: put snapshot %s: %w", snap.SwapID, err)
	}

	if snap.Active {
		s.live[snap.SwapID] = struct{}{}
	} else {
		delete(s.live, snap.SwapID)
	}
	return nil
}

func (s *chainStore) Get(id common.SwapID) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := s.db.Get(key(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("store: unmarshal snapshot %s: %w", id, err)
	}
	if snap.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: snapshot=%d build=%d", ErrSchemaTooNew, snap.SchemaVersion, SchemaVersion)
	}
	return &snap, nil
}

func (s *chainStore) ListActive() ([]*Snapshot, error) {
	s.mu.RLock()
	ids := make([]common.SwapID, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// List returns every persisted snapshot by scanning the underlying
// database directly, unlike ListActive's in-memory index lookup: history
// reporting is a cold, operator-driven path, not the resume-on-start hot
// path, so a full scan is the right tradeoff (spec §4.8, §6 CLI "history").
func (s *chainStore) List() ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.db.NewIterator()
	defer it.Release()

	var out []*Snapshot
	for it.Next() {
		var snap Snapshot
		if err := json.Unmarshal(it.Value(), &snap); err != nil {
			return nil, fmt.Errorf("store: corrupt snapshot during list: %w", err)
		}
		out = append(out, &snap)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate snapshots: %w", err)
	}
	return out, nil
}

func (s *chainStore) Close() error {
	return s.db.Close()
}
