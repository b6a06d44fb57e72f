// Package cache is the durable, size-bounded lyrics store.
//
// It runs on flash storage, so writes are kept rare: bbolt is opened without
// fsync on commit, read-through access times are coalesced in memory and
// written with the next write transaction, and eviction happens inside the
// same transaction as the insert that triggered it.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/services/notifier"
	"lyrics-cache-go/utils"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Options holds optional collaborators
type Options struct {
	Bus *notifier.EventBus // receives cache-unavailable alerts
	Now func() time.Time   // clock for access ordering
}

// Store is safe for concurrent use. Writes are serialized; reads run in
// parallel with each other and with at most one writer.
type Store struct {
	mu         sync.Mutex
	cfg        Config
	db         *bolt.DB
	openErr    error // sticky until the path changes
	closed     bool
	totalBytes int64
	totalCount int64
	pending    map[string]time.Time
	bus        *notifier.EventBus
	now        func() time.Time
}

// New creates a store. The database is opened lazily on first use.
func New(cfg Config, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		cfg:     cfg,
		pending: make(map[string]time.Time),
		bus:     opts.Bus,
		now:     opts.Now,
	}
}

// Config returns the active configuration
func (s *Store) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Reconfigure applies new settings. A path change closes the current
// database; the new one opens on next use. A smaller budget prunes at once.
func (s *Store) Reconfigure(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if cfg.Path != old.Path {
		log.Infof("%s Path changed from %s to %s", logcolors.LogCache, old.Path, cfg.Path)
		err := s.closeLocked()
		s.openErr = nil
		return err
	}
	if cfg.Enabled && s.db != nil && cfg.MaxBytes < old.MaxBytes {
		_, err := s.pruneLocked()
		return err
	}
	return nil
}

// handleLocked returns the open database, opening it on first use.
func (s *Store) handleLocked() (*bolt.DB, error) {
	if !s.cfg.Enabled || s.closed {
		return nil, ErrDisabled
	}
	if s.db != nil {
		return s.db, nil
	}
	if s.openErr != nil {
		return nil, s.openErr
	}

	db, err := s.openLocked(s.cfg.Path)
	if err != nil {
		s.openErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		log.Warnf("%s Cache database error, running without cache: %v", logcolors.LogCacheInit, err)
		s.bus.PublishCacheUnavailable(s.cfg.Path, err)
		return nil, s.openErr
	}
	s.db = db
	return db, nil
}

func (s *Store) openLocked(path string) (*bolt.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %s)", logcolors.LogCacheInit, path, humanSize(info.Size()))
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogCacheInit, path)
	}

	// Availability over durability: a crash may lose recent writes, but
	// commits do not fsync and the freelist is not persisted.
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:        time.Second,
		NoSync:         true,
		NoFreelistSync: true,
		FreelistType:   bolt.FreelistMapType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	w := &writer{}
	var fixed int
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{lyricsBucket, atimeBucket, accessBucket, albumBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		w.tx = tx
		var err error
		fixed, err = w.repair()
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache buckets: %w", err)
	}
	if fixed > 0 {
		log.Warnf("%s Repaired %d inconsistent index entries", logcolors.LogCacheInit, fixed)
	}

	s.totalBytes, s.totalCount = w.totalBytes, w.totalCount
	log.Infof("%s Cache database ready: %s (%d records, %s)", logcolors.LogCacheInit, path, s.totalCount, humanSize(s.totalBytes))
	return db, nil
}

// updateLocked runs fn in one write transaction, after persisting pending
// touches. Totals and the pending set change only if the commit succeeds.
func (s *Store) updateLocked(fn func(w *writer) error) error {
	db, err := s.handleLocked()
	if err != nil {
		return err
	}
	w := &writer{totalBytes: s.totalBytes, totalCount: s.totalCount, maxBytes: s.cfg.MaxBytes}
	err = db.Update(func(tx *bolt.Tx) error {
		w.tx = tx
		if err := w.flushTouches(s.pending); err != nil {
			return err
		}
		return fn(w)
	})
	if err != nil {
		return err
	}
	s.totalBytes, s.totalCount = w.totalBytes, w.totalCount
	if len(s.pending) > 0 {
		s.pending = make(map[string]time.Time)
	}
	return nil
}

func statusFor(err error) Status {
	if errors.Is(err, ErrDisabled) {
		return StatusDisabled
	}
	return StatusError
}

// Get looks a key up. A hit refreshes the record's access time in memory;
// it reaches disk with the next write. A record that fails to decode is
// deleted and reported as StatusCorrupt.
func (s *Store) Get(key string) GetResult {
	started := time.Now()

	s.mu.Lock()
	db, err := s.handleLocked()
	s.mu.Unlock()
	if err != nil {
		return GetResult{Status: statusFor(err), Duration: time.Since(started), Err: err}
	}

	var stored *storedRecord
	var raw []byte
	var decodeErr error
	err = db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(lyricsBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		// bbolt memory is only valid inside the transaction
		raw = append([]byte(nil), data...)
		var rec storedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			decodeErr = err
			return nil
		}
		stored = &rec
		return nil
	})
	if err != nil {
		log.Errorf("%s Read failed for %s: %v", logcolors.LogCache, key, err)
		return GetResult{Status: StatusError, Duration: time.Since(started), Err: err}
	}
	if stored == nil && decodeErr == nil {
		return GetResult{Status: StatusMiss, Duration: time.Since(started)}
	}

	var text string
	if decodeErr == nil {
		text, decodeErr = utils.DecompressBytes(stored.Lyrics)
	}
	if decodeErr == nil && text == "" {
		// Put never stores one
		decodeErr = ErrEmptyRecord
	}
	if decodeErr != nil {
		log.Warnf("%s Unreadable cached lyrics for %s, deleting: %v", logcolors.LogCache, key, decodeErr)
		if err := s.dropCorrupt(key, raw); err != nil {
			log.Errorf("%s Failed to delete corrupt record %s: %v", logcolors.LogCache, key, err)
		}
		return GetResult{Status: StatusCorrupt, Duration: time.Since(started), Err: decodeErr}
	}

	now := s.now()
	s.mu.Lock()
	s.pending[key] = now
	s.mu.Unlock()

	return GetResult{
		Status: StatusHit,
		Record: &LyricsRecord{
			Key:            key,
			TrackName:      stored.TrackName,
			ArtistName:     stored.ArtistName,
			AlbumName:      stored.AlbumName,
			Duration:       stored.Duration,
			Provider:       stored.Provider,
			SourceID:       stored.SourceID,
			Instrumental:   stored.Instrumental,
			SyncedLyrics:   text,
			SizeBytes:      stored.SizeBytes,
			FetchedAt:      time.Unix(0, stored.FetchedAt),
			LastAccessedAt: now,
		},
		Duration: time.Since(started),
	}
}

// dropCorrupt deletes key only while it still holds raw, so a record
// written after the failed read survives.
func (s *Store) dropCorrupt(key string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(func(w *writer) error {
		if !bytes.Equal(w.records().Get([]byte(key)), raw) {
			return nil
		}
		_, err := w.remove(key)
		return err
	})
}

// Has reports whether key is stored, without decompressing or touching it.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	db, err := s.handleLocked()
	s.mu.Unlock()
	if err != nil {
		return false
	}

	found := false
	db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(lyricsBucket).Get([]byte(key)) != nil
		return nil
	})
	return found
}

// Put compresses and stores a record, then evicts least recently accessed
// records until the store fits its budget, all in one transaction. On
// return the total size is within budget.
func (s *Store) Put(rec LyricsRecord) (PutResult, error) {
	if rec.Key == "" || rec.SyncedLyrics == "" {
		return PutResult{}, ErrEmptyRecord
	}

	blob, err := utils.CompressBytes(rec.SyncedLyrics)
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to compress lyrics: %w", err)
	}
	size := int64(len(blob))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.handleLocked(); err != nil {
		return PutResult{}, err
	}
	if size > s.cfg.MaxBytes {
		return PutResult{}, fmt.Errorf("%w: %d > %d bytes", ErrRecordTooLarge, size, s.cfg.MaxBytes)
	}

	provider := rec.Provider
	if provider == "" {
		provider = "lrclib"
	}
	now := s.now()
	stored := storedRecord{
		TrackName:    rec.TrackName,
		ArtistName:   rec.ArtistName,
		AlbumName:    rec.AlbumName,
		Duration:     rec.Duration,
		Provider:     provider,
		SourceID:     rec.SourceID,
		Instrumental: rec.Instrumental,
		Lyrics:       blob,
		SizeBytes:    size,
		FetchedAt:    now.UnixNano(),
	}

	result := PutResult{SizeBytes: size}
	err = s.updateLocked(func(w *writer) error {
		if err := w.insert(rec.Key, stored, now.UnixNano()); err != nil {
			return err
		}
		pruned, err := w.prune()
		result.Pruned = pruned
		result.TotalBytes = w.totalBytes
		return err
	})
	if err != nil {
		log.Errorf("%s Cache insert error for %s: %v", logcolors.LogCache, rec.Key, err)
		return PutResult{}, fmt.Errorf("failed to store lyrics: %w", err)
	}

	if result.Pruned > 0 {
		log.Infof("%s Evicted %d records, total now %s/%s",
			logcolors.LogCacheEvict, result.Pruned, humanSize(result.TotalBytes), humanSize(s.cfg.MaxBytes))
	}
	log.Debugf("%s Stored %s (%d bytes)", logcolors.LogCache, rec.Key, size)
	return result, nil
}

// Delete removes a key and reports whether it was stored
func (s *Store) Delete(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed bool
	err := s.updateLocked(func(w *writer) error {
		var err error
		removed, err = w.remove(key)
		return err
	})
	return removed, err
}

func (s *Store) pruneLocked() (PruneResult, error) {
	var result PruneResult
	err := s.updateLocked(func(w *writer) error {
		removed, err := w.prune()
		result.Removed = removed
		result.TotalBytes = w.totalBytes
		return err
	})
	return result, err
}

// Stats reports current usage. A disabled or unavailable store reports zeros.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Enabled: s.cfg.Enabled && !s.closed, MaxBytes: s.cfg.MaxBytes}
	if _, err := s.handleLocked(); err != nil {
		return st
	}
	st.Available = true
	st.TotalBytes = s.totalBytes
	st.TotalCount = s.totalCount
	st.PendingTouches = len(s.pending)
	return st
}

// Close persists pending access times, syncs and closes the database.
// Later calls are no-ops and the store reports disabled afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeLocked()
}

func (s *Store) closeLocked() error {
	if s.db == nil {
		return nil
	}

	var errs []error
	if len(s.pending) > 0 {
		pending := s.pending
		err := s.db.Update(func(tx *bolt.Tx) error {
			w := &writer{tx: tx}
			return w.flushTouches(pending)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to flush access times: %w", err))
		}
	}
	if err := s.db.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("failed to sync cache database: %w", err))
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close cache database: %w", err))
	}

	s.db = nil
	s.pending = make(map[string]time.Time)
	s.totalBytes, s.totalCount = 0, 0

	if len(errs) > 0 {
		log.Errorf("%s Cache database close error: %v", logcolors.LogCacheClose, errors.Join(errs...))
		return errors.Join(errs...)
	}
	log.Infof("%s Cache database closed", logcolors.LogCacheClose)
	return nil
}

func humanSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
