package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"lyrics-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Bucket layout:
//
//	lyrics         key -> storedRecord JSON
//	lyrics_atime   key -> last access, 8-byte big-endian unix nanos
//	lyrics_access  nanos(8) + key -> compressed size, 8-byte big-endian
//	album_prefetch artistKey \x00 albumKey -> completedAt nanos
//
// lyrics_access iterates oldest access first, which is the eviction order.
var (
	lyricsBucket = []byte("lyrics")
	atimeBucket  = []byte("lyrics_atime")
	accessBucket = []byte("lyrics_access")
	albumBucket  = []byte("album_prefetch")
)

const evictionBatchSize = 25

func encodeUint(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func decodeUint(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func accessKey(at int64, key string) []byte {
	b := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(b, uint64(at))
	copy(b[8:], key)
	return b
}

// writer applies changes inside one bolt write transaction and tracks the
// resulting totals. The store adopts the totals only after commit.
type writer struct {
	tx         *bolt.Tx
	totalBytes int64
	totalCount int64
	maxBytes   int64
}

func (w *writer) records() *bolt.Bucket { return w.tx.Bucket(lyricsBucket) }
func (w *writer) atimes() *bolt.Bucket  { return w.tx.Bucket(atimeBucket) }
func (w *writer) access() *bolt.Bucket  { return w.tx.Bucket(accessBucket) }

// setAccess moves key to position at in the access index.
func (w *writer) setAccess(key string, at, size int64) error {
	if old := w.atimes().Get([]byte(key)); old != nil {
		if err := w.access().Delete(accessKey(decodeUint(old), key)); err != nil {
			return err
		}
	}
	if err := w.atimes().Put([]byte(key), encodeUint(at)); err != nil {
		return err
	}
	return w.access().Put(accessKey(at, key), encodeUint(size))
}

// flushTouches persists coalesced read-through touches. Keys evicted since
// the touch are skipped.
func (w *writer) flushTouches(pending map[string]time.Time) error {
	for key, at := range pending {
		old := w.atimes().Get([]byte(key))
		if old == nil {
			continue
		}
		oldAt := decodeUint(old)
		if at.UnixNano() <= oldAt {
			continue
		}
		size := decodeUint(w.access().Get(accessKey(oldAt, key)))
		if err := w.setAccess(key, at.UnixNano(), size); err != nil {
			return fmt.Errorf("failed to persist access time for %s: %w", key, err)
		}
	}
	return nil
}

// insert replaces any existing record under key.
func (w *writer) insert(key string, rec storedRecord, at int64) error {
	if _, err := w.remove(key); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := w.records().Put([]byte(key), data); err != nil {
		return err
	}
	if err := w.setAccess(key, at, rec.SizeBytes); err != nil {
		return err
	}
	if w.records().Get([]byte(key)) == nil {
		return fmt.Errorf("write verification failed for %s", key)
	}
	w.totalBytes += rec.SizeBytes
	w.totalCount++
	return nil
}

// remove deletes key and its index entries. Reports whether a record existed.
func (w *writer) remove(key string) (bool, error) {
	var size int64
	if old := w.atimes().Get([]byte(key)); old != nil {
		ak := accessKey(decodeUint(old), key)
		size = decodeUint(w.access().Get(ak))
		if err := w.access().Delete(ak); err != nil {
			return false, err
		}
		if err := w.atimes().Delete([]byte(key)); err != nil {
			return false, err
		}
	}
	if w.records().Get([]byte(key)) == nil {
		return false, nil
	}
	if err := w.records().Delete([]byte(key)); err != nil {
		return false, err
	}
	w.totalBytes -= size
	w.totalCount--
	return true, nil
}

type accessEntry struct {
	indexKey []byte
	key      string
}

// oldest returns up to n least recently accessed entries.
func (w *writer) oldest(n int) []accessEntry {
	batch := make([]accessEntry, 0, n)
	c := w.access().Cursor()
	for k, _ := c.First(); k != nil && len(batch) < n; k, _ = c.Next() {
		entry := accessEntry{indexKey: append([]byte(nil), k...)}
		if len(k) > 8 {
			entry.key = string(k[8:])
		}
		batch = append(batch, entry)
	}
	return batch
}

// prune evicts least recently accessed records in batches until the total
// fits the budget. Every batch deletes at least one index entry, so the loop
// ends even if the index and totals disagree.
func (w *writer) prune() (int, error) {
	removed := 0
	for w.totalBytes > w.maxBytes {
		batch := w.oldest(evictionBatchSize)
		if len(batch) == 0 {
			log.Warnf("%s Still over budget (%d > %d bytes) with nothing left to evict, resetting totals",
				logcolors.LogCacheEvict, w.totalBytes, w.maxBytes)
			w.totalBytes, w.totalCount = 0, 0
			break
		}
		for _, entry := range batch {
			if w.totalBytes <= w.maxBytes {
				break
			}
			ok, err := w.remove(entry.key)
			if err != nil {
				return removed, err
			}
			// orphaned index entries would otherwise be picked again
			if err := w.access().Delete(entry.indexKey); err != nil {
				return removed, err
			}
			if ok {
				removed++
				log.Debugf("%s Evicted %s", logcolors.LogCacheEvict, entry.key)
			}
		}
	}
	return removed, nil
}

// repair reconciles the index with the records after open and recomputes
// the totals from it.
func (w *writer) repair() (int, error) {
	fixed := 0

	var stale [][]byte
	c := w.access().Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if len(k) <= 8 {
			stale = append(stale, append([]byte(nil), k...))
			continue
		}
		key := k[8:]
		cur := w.atimes().Get(key)
		if cur == nil || !bytes.Equal(cur, k[:8]) || w.records().Get(key) == nil {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := w.access().Delete(k); err != nil {
			return fixed, err
		}
		fixed++
	}

	var orphanTimes [][]byte
	w.atimes().ForEach(func(k, _ []byte) error {
		if w.records().Get(k) == nil {
			orphanTimes = append(orphanTimes, append([]byte(nil), k...))
		}
		return nil
	})
	for _, k := range orphanTimes {
		if err := w.atimes().Delete(k); err != nil {
			return fixed, err
		}
		fixed++
	}

	var unindexed []string
	w.records().ForEach(func(k, _ []byte) error {
		if w.atimes().Get(k) == nil || w.access().Get(accessKey(decodeUint(w.atimes().Get(k)), string(k))) == nil {
			unindexed = append(unindexed, string(k))
		}
		return nil
	})
	for _, key := range unindexed {
		var rec storedRecord
		if err := json.Unmarshal(w.records().Get([]byte(key)), &rec); err != nil {
			if err := w.records().Delete([]byte(key)); err != nil {
				return fixed, err
			}
		} else if err := w.setAccess(key, rec.FetchedAt, rec.SizeBytes); err != nil {
			return fixed, err
		}
		fixed++
	}

	w.totalBytes, w.totalCount = 0, 0
	err := w.access().ForEach(func(_, v []byte) error {
		w.totalBytes += decodeUint(v)
		w.totalCount++
		return nil
	})
	return fixed, err
}
