// Package history implements the durable, ordered list of diagnosis records
// behind the offline-first scan flow. The store holds at most one record per
// id; every mutation goes through upsert semantics, and the whole snapshot is
// persisted to the durable key-value store in one all-or-nothing write.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/kvstore"
	"github.com/maizeguard/leafscan-go/internal/logging"
	"github.com/maizeguard/leafscan-go/internal/scan"
)

// snapshotKey is the key holding the serialized record list.
const snapshotKey = "diagnosisHistory"

// Package-level logger specific to the history store
var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("history")
	if serviceLogger == nil {
		serviceLogger = slog.Default().With("service", "history")
	}
}

// Materializer converts ephemeral image references into durable ones before
// they are persisted.
type Materializer interface {
	IsEphemeral(ref string) bool
	// Materialize returns the durable reference for ref. On error the
	// returned reference is ignored and the original is kept.
	Materialize(ref string) (string, error)
}

// Store is the local history of diagnosis records, newest first. It is the
// only shared mutable resource of the sync subsystem and serializes all
// access internally.
type Store struct {
	kv           kvstore.Store
	materializer Materializer

	mu      sync.Mutex
	records []scan.DiagnosisRecord // newest first
	index   map[string]int         // id -> position in records
	loaded  bool
}

// New returns a store over the given key-value backend. The materializer may
// be nil when callers guarantee durable references.
func New(kv kvstore.Store, materializer Materializer) *Store {
	return &Store{
		kv:           kv,
		materializer: materializer,
		index:        make(map[string]int),
	}
}

// Load reads the persisted snapshot into memory. A missing snapshot is an
// empty history, not an error. Load is idempotent.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	data, err := s.kv.Get(snapshotKey)
	if err != nil {
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			s.records = nil
			s.loaded = true
			return nil
		}
		return errors.New(fmt.Errorf("loading history snapshot: %w", err)).
			Component("history").
			Category(errors.CategoryHistoryStore).
			Build()
	}

	var records []scan.DiagnosisRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return errors.New(fmt.Errorf("decoding history snapshot: %w", err)).
			Component("history").
			Category(errors.CategoryHistoryStore).
			Build()
	}

	s.records = records
	s.reindex()
	s.loaded = true
	serviceLogger.Info("Loaded history snapshot", "records", len(s.records))
	return nil
}

// Persist writes the current in-memory record list as one snapshot. The
// key-value store stages and swaps the write, so readers never observe a
// partial snapshot.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return errors.New(fmt.Errorf("encoding history snapshot: %w", err)).
			Component("history").
			Category(errors.CategoryHistoryStore).
			Build()
	}
	if err := s.kv.Put(snapshotKey, data); err != nil {
		return errors.New(fmt.Errorf("persisting history snapshot: %w", err)).
			Component("history").
			Category(errors.CategoryHistoryStore).
			Build()
	}
	return nil
}

// reindex rebuilds the id index after the slice changed shape.
func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i := range s.records {
		s.index[s.records[i].ID] = i
	}
}

// Upsert inserts the record or, if its id already exists, overwrites that
// record in place. Ephemeral image references are materialized first so that
// nothing inherently transient is ever persisted as the canonical reference.
// The snapshot is persisted before Upsert returns.
func (s *Store) Upsert(record scan.DiagnosisRecord) error {
	if record.ID == "" {
		return errors.ValidationError("record id must not be empty")
	}

	if s.materializer != nil && s.materializer.IsEphemeral(record.ImageRef) {
		durable, err := s.materializer.Materialize(record.ImageRef)
		if err != nil {
			// Keep the original reference, downstream renders a placeholder
			serviceLogger.Warn("Keeping ephemeral image reference after failed materialization",
				"id", record.ID, "error", err)
		} else {
			record.ImageRef = durable
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, exists := s.index[record.ID]; exists {
		s.records[pos] = record
	} else {
		s.records = append([]scan.DiagnosisRecord{record}, s.records...)
		s.reindex()
	}

	return s.persistLocked()
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (scan.DiagnosisRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, exists := s.index[id]
	if !exists {
		return scan.DiagnosisRecord{}, false
	}
	return s.records[pos], true
}

// All returns a copy of every record, newest first.
func (s *Store) All() []scan.DiagnosisRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scan.DiagnosisRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ListUnsynced returns every record not yet durably accepted by the remote
// repository.
func (s *Store) ListUnsynced() []scan.DiagnosisRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []scan.DiagnosisRecord
	for i := range s.records {
		if !s.records[i].Synced {
			out = append(out, s.records[i])
		}
	}
	return out
}

// SetRemoteImageURL records a durably uploaded image URL without flipping the
// synced flag. The change is in-memory; the sync engine persists once per
// pass.
func (s *Store) SetRemoteImageURL(id, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, exists := s.index[id]; exists {
		s.records[pos].RemoteImageURL = url
	}
}

// MarkSynced flips the synced flag and fills the remote image URL for exactly
// the given ids, leaving unrelated records untouched. The change is
// in-memory; callers persist once per sync pass.
func (s *Store) MarkSynced(remoteImageURLs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, url := range remoteImageURLs {
		pos, exists := s.index[id]
		if !exists {
			continue
		}
		s.records[pos].Synced = true
		if url != "" {
			s.records[pos].RemoteImageURL = url
		}
		s.records[pos].SyncAttempts = 0
		s.records[pos].NextAttemptAt = time.Time{}
	}
}

// NoteSyncFailure increments the record's attempt counter and parks it until
// nextAttempt. In-memory only, persisted with the pass snapshot.
func (s *Store) NoteSyncFailure(id string, nextAttempt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, exists := s.index[id]; exists {
		s.records[pos].SyncAttempts++
		s.records[pos].NextAttemptAt = nextAttempt
	}
}

// ResetSync clears the synced flag and retry bookkeeping for a record so the
// next pass submits it again.
func (s *Store) ResetSync(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pos, exists := s.index[id]; exists {
		s.records[pos].Synced = false
		s.records[pos].SyncAttempts = 0
		s.records[pos].NextAttemptAt = time.Time{}
	}
}
