package cache

import (
	"lyrics-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

func albumMarkKey(artistKey, albumKey string) []byte {
	return []byte(artistKey + "\x00" + albumKey)
}

// MarkAlbumPrefetchComplete records that an album needs no further
// prefetch passes. Marking twice is harmless.
func (s *Store) MarkAlbumPrefetchComplete(artistKey, albumKey string) error {
	if artistKey == "" || albumKey == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	err := s.updateLocked(func(w *writer) error {
		return w.tx.Bucket(albumBucket).Put(albumMarkKey(artistKey, albumKey), encodeUint(now.UnixNano()))
	})
	if err == nil {
		log.Debugf("%s Marked %q by %q complete", logcolors.LogCacheAlbum, albumKey, artistKey)
	}
	return err
}

// HasAlbumPrefetchComplete reports whether the album was marked complete.
func (s *Store) HasAlbumPrefetchComplete(artistKey, albumKey string) bool {
	s.mu.Lock()
	db, err := s.handleLocked()
	s.mu.Unlock()
	if err != nil {
		return false
	}

	found := false
	db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(albumBucket).Get(albumMarkKey(artistKey, albumKey)) != nil
		return nil
	})
	return found
}
