package cache

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lyrics-cache-go/services/notifier"
	"lyrics-cache-go/utils"

	bolt "go.etcd.io/bbolt"
)

// stepClock advances one second on every call so access order is strict.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// setupTestStore creates a store in a temporary directory
func setupTestStore(t *testing.T, maxBytes int64) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lyrics-cache.db")
	s := New(Config{Enabled: true, MaxBytes: maxBytes, Path: path}, Options{Now: newStepClock().Now})
	t.Cleanup(func() { s.Close() })
	return s, path
}

func randomLyrics(t *testing.T, n int) string {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func record(key, lyrics string) LyricsRecord {
	return LyricsRecord{
		Key:          key,
		TrackName:    "Track " + key,
		ArtistName:   "Artist",
		AlbumName:    "Album",
		Duration:     200,
		SourceID:     7,
		SyncedLyrics: lyrics,
	}
}

func compressedSize(t *testing.T, text string) int64 {
	t.Helper()
	blob, err := utils.CompressBytes(text)
	if err != nil {
		t.Fatalf("CompressBytes error: %v", err)
	}
	return int64(len(blob))
}

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name        string
		enabled     bool
		maxSizeMB   float64
		wantEnabled bool
		wantBytes   int64
	}{
		{"Enabled with budget", true, 50, true, 50 * 1024 * 1024},
		{"Fractional budget", true, 0.5, true, 512 * 1024},
		{"Zero budget disables", true, 0, false, 0},
		{"Negative budget disables", true, -1, false, 0},
		{"Explicitly disabled", false, 50, false, 50 * 1024 * 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(tt.enabled, tt.maxSizeMB, "")
			if cfg.Enabled != tt.wantEnabled {
				t.Errorf("Expected enabled=%v, got %v", tt.wantEnabled, cfg.Enabled)
			}
			if cfg.MaxBytes != tt.wantBytes {
				t.Errorf("Expected %d bytes, got %d", tt.wantBytes, cfg.MaxBytes)
			}
			if cfg.Path != DefaultPath {
				t.Errorf("Expected default path, got %q", cfg.Path)
			}
		})
	}
}

func TestPutAndGet_RoundTrip(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)

	lyrics := "[00:01.00]First line\n[00:04.50]夜に駆ける\n[00:09.00]Beyoncé"
	result, err := s.Put(record("song|artist|album|200", lyrics))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if result.SizeBytes <= 0 || result.Pruned != 0 {
		t.Errorf("Unexpected put result: %+v", result)
	}

	got := s.Get("song|artist|album|200")
	if got.Status != StatusHit {
		t.Fatalf("Expected hit, got %s (%v)", got.Status, got.Err)
	}
	if got.Record.SyncedLyrics != lyrics {
		t.Errorf("Expected lyrics %q, got %q", lyrics, got.Record.SyncedLyrics)
	}
	if got.Record.SourceID != 7 || got.Record.Provider != "lrclib" || got.Record.Duration != 200 {
		t.Errorf("Unexpected record fields: %+v", got.Record)
	}
	if !got.Record.LastAccessedAt.After(got.Record.FetchedAt) {
		t.Errorf("Expected access time after fetch time, got %v / %v", got.Record.LastAccessedAt, got.Record.FetchedAt)
	}
}

func TestGet_Miss(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)

	if got := s.Get("nope"); got.Status != StatusMiss {
		t.Errorf("Expected miss, got %s", got.Status)
	}
	if s.Has("nope") {
		t.Error("Expected Has to be false for missing key")
	}
}

func TestDisabledStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disabled.db")
	s := New(NewConfig(true, 0, path), Options{})
	defer s.Close()

	if got := s.Get("k"); got.Status != StatusDisabled {
		t.Errorf("Expected disabled, got %s", got.Status)
	}
	if _, err := s.Put(record("k", "x")); !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
	if s.Has("k") || s.HasAlbumPrefetchComplete("a", "b") {
		t.Error("Expected disabled store to report nothing")
	}
	if st := s.Stats(); st.Enabled || st.TotalBytes != 0 || st.TotalCount != 0 {
		t.Errorf("Expected zero stats, got %+v", st)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Disabled store should not create a database file")
	}
}

func TestEviction_FourRecordsOverBudget(t *testing.T) {
	s, _ := setupTestStore(t, 1000)

	keys := []string{"k1", "k2", "k3", "k4"}
	for _, key := range keys {
		// 300 random bytes, base64 encoded, compress to roughly 300-420 bytes
		result, err := s.Put(record(key, randomLyrics(t, 300)))
		if err != nil {
			t.Fatalf("Put %s error: %v", key, err)
		}
		if result.TotalBytes > 1000 {
			t.Errorf("Total %d exceeds budget after %s", result.TotalBytes, key)
		}
	}

	if got := s.Get("k1"); got.Status != StatusMiss {
		t.Errorf("Expected least recently used k1 to be evicted, got %s", got.Status)
	}
	if got := s.Get("k4"); got.Status != StatusHit {
		t.Errorf("Expected newest k4 to be present, got %s", got.Status)
	}
	if st := s.Stats(); st.TotalBytes > 1000 {
		t.Errorf("Expected total <= 1000, got %d", st.TotalBytes)
	}
}

func TestEviction_HonorsAccessOrder(t *testing.T) {
	a, b, c := randomLyrics(t, 300), randomLyrics(t, 300), randomLyrics(t, 300)
	budget := compressedSize(t, a) + compressedSize(t, b) + compressedSize(t, c)
	s, _ := setupTestStore(t, budget)

	for _, kv := range [][2]string{{"a", a}, {"b", b}, {"c", c}} {
		if _, err := s.Put(record(kv[0], kv[1])); err != nil {
			t.Fatalf("Put %s error: %v", kv[0], err)
		}
	}

	// Reading a makes b the least recently used record.
	if got := s.Get("a"); got.Status != StatusHit {
		t.Fatalf("Expected hit for a, got %s", got.Status)
	}

	result, err := s.Put(record("d", "[00:01.00]short"))
	if err != nil {
		t.Fatalf("Put d error: %v", err)
	}
	if result.Pruned != 1 {
		t.Errorf("Expected exactly one eviction, got %d", result.Pruned)
	}

	if s.Has("b") {
		t.Error("Expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if !s.Has(key) {
			t.Errorf("Expected %s to survive eviction", key)
		}
	}
}

func TestEviction_BudgetHoldsForArbitraryPuts(t *testing.T) {
	const budget = 4000
	s, _ := setupTestStore(t, budget)

	sizes := []int{10, 900, 50, 1200, 300, 2000, 5, 700, 1500, 80, 2500, 400, 60, 1000, 3000}
	for i, n := range sizes {
		key := fmt.Sprintf("key-%d", i)
		if _, err := s.Put(record(key, randomLyrics(t, n))); err != nil {
			t.Fatalf("Put %s error: %v", key, err)
		}
		st := s.Stats()
		if st.TotalBytes > budget {
			t.Fatalf("After put %d total %d exceeds budget %d", i, st.TotalBytes, budget)
		}
		if !s.Has(key) {
			t.Errorf("Expected freshly stored %s to be present", key)
		}
	}
}

func TestPut_RecordTooLarge(t *testing.T) {
	s, _ := setupTestStore(t, 100)

	_, err := s.Put(record("big", randomLyrics(t, 500)))
	if !errors.Is(err, ErrRecordTooLarge) {
		t.Errorf("Expected ErrRecordTooLarge, got %v", err)
	}
	if st := s.Stats(); st.TotalCount != 0 {
		t.Errorf("Expected nothing stored, got %d records", st.TotalCount)
	}
}

func TestPut_EmptyRecord(t *testing.T) {
	s, _ := setupTestStore(t, 1000)

	if _, err := s.Put(record("k", "")); !errors.Is(err, ErrEmptyRecord) {
		t.Errorf("Expected ErrEmptyRecord for empty lyrics, got %v", err)
	}
	if _, err := s.Put(record("", "x")); !errors.Is(err, ErrEmptyRecord) {
		t.Errorf("Expected ErrEmptyRecord for empty key, got %v", err)
	}
}

func TestPut_ReplaceKeepsTotals(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)

	s.Put(record("k", randomLyrics(t, 500)))
	second, err := s.Put(record("k", "[00:01.00]tiny"))
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}

	st := s.Stats()
	if st.TotalCount != 1 {
		t.Errorf("Expected 1 record after replace, got %d", st.TotalCount)
	}
	if st.TotalBytes != second.SizeBytes {
		t.Errorf("Expected total %d after replace, got %d", second.SizeBytes, st.TotalBytes)
	}
}

func TestGet_CorruptRecordSelfHeals(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)
	s.Put(record("good", "[00:01.00]fine"))
	s.Put(record("bad", "[00:01.00]will be damaged"))

	// Damage the blob behind the store's back.
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(lyricsBucket).Put([]byte("bad"), []byte(`{"lyrics":"bm90IHpzdGQ=","size":9}`))
	})
	if err != nil {
		t.Fatalf("Failed to damage record: %v", err)
	}

	if got := s.Get("bad"); got.Status != StatusCorrupt {
		t.Fatalf("Expected corrupt, got %s", got.Status)
	}
	if got := s.Get("bad"); got.Status != StatusMiss {
		t.Errorf("Expected corrupt record to be gone, got %s", got.Status)
	}
	if st := s.Stats(); st.TotalCount != 1 {
		t.Errorf("Expected 1 record left, got %d", st.TotalCount)
	}
	if got := s.Get("good"); got.Status != StatusHit {
		t.Errorf("Expected other record untouched, got %s", got.Status)
	}
}

func TestGet_EmptyLyricsIsCorrupt(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)

	for _, blob := range []string{`{"lyrics":null,"size":9}`, `{"lyrics":"","size":9}`} {
		s.Put(record("empty", "[00:01.00]will be blanked"))
		err := s.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(lyricsBucket).Put([]byte("empty"), []byte(blob))
		})
		if err != nil {
			t.Fatalf("Failed to blank record: %v", err)
		}

		got := s.Get("empty")
		if got.Status != StatusCorrupt || got.Record != nil {
			t.Errorf("Expected %s to read as corrupt, got %s", blob, got.Status)
		}
		if s.Has("empty") {
			t.Errorf("Expected blank record %s deleted", blob)
		}
	}
}

func TestDropCorrupt_KeepsReplacedRecord(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)
	s.Put(record("k", "[00:01.00]old"))
	damaged := []byte(`{"lyrics":"bm90IHpzdGQ=","size":9}`)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(lyricsBucket).Put([]byte("k"), damaged)
	})
	if err != nil {
		t.Fatalf("Failed to write damaged record: %v", err)
	}

	// A valid record lands between the failed read and the delete
	if _, err := s.Put(record("k", "[00:01.00]fresh")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := s.dropCorrupt("k", damaged); err != nil {
		t.Fatalf("dropCorrupt error: %v", err)
	}
	got := s.Get("k")
	if got.Status != StatusHit || got.Record.SyncedLyrics != "[00:01.00]fresh" {
		t.Fatalf("Expected replacement record to survive, got %s", got.Status)
	}

	var current []byte
	s.db.View(func(tx *bolt.Tx) error {
		current = append([]byte(nil), tx.Bucket(lyricsBucket).Get([]byte("k"))...)
		return nil
	})
	if err := s.dropCorrupt("k", current); err != nil {
		t.Fatalf("dropCorrupt error: %v", err)
	}
	if s.Has("k") {
		t.Error("Expected record removed while it still holds the bytes that failed")
	}
	if st := s.Stats(); st.TotalCount != 0 || st.TotalBytes != 0 {
		t.Errorf("Expected empty totals, got %+v", st)
	}
}

func TestTouchesAreCoalesced(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)
	s.Put(record("a", "[00:01.00]a"))

	s.Get("a")
	s.Get("a")
	if st := s.Stats(); st.PendingTouches != 1 {
		t.Errorf("Expected 1 pending touch, got %d", st.PendingTouches)
	}

	s.Put(record("b", "[00:01.00]b"))
	if st := s.Stats(); st.PendingTouches != 0 {
		t.Errorf("Expected touches flushed by the next write, got %d", st.PendingTouches)
	}
}

func TestReopen_PersistsRecordsAndAccessTimes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lyrics-cache.db")
	clock := newStepClock()
	a, b := randomLyrics(t, 300), randomLyrics(t, 300)
	budget := compressedSize(t, a) + compressedSize(t, b)

	s := New(Config{Enabled: true, MaxBytes: budget, Path: path}, Options{Now: clock.Now})
	s.Put(record("a", a))
	s.Put(record("b", b))
	s.Get("a") // only in memory until Close
	if err := s.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	reopened := New(Config{Enabled: true, MaxBytes: budget, Path: path}, Options{Now: clock.Now})
	defer reopened.Close()

	st := reopened.Stats()
	if st.TotalCount != 2 || st.TotalBytes != budget {
		t.Fatalf("Expected totals reloaded (2, %d), got %+v", budget, st)
	}

	reopened.Put(record("c", "[00:01.00]c"))
	if reopened.Has("b") {
		t.Error("Expected b evicted: a's access time should have survived the restart")
	}
	if !reopened.Has("a") {
		t.Error("Expected a to survive eviction")
	}
}

func TestClose_Idempotent(t *testing.T) {
	s, _ := setupTestStore(t, 1000)
	s.Put(record("a", "[00:01.00]a"))

	if err := s.Close(); err != nil {
		t.Fatalf("First Close error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close error: %v", err)
	}
	if got := s.Get("a"); got.Status != StatusDisabled {
		t.Errorf("Expected closed store to report disabled, got %s", got.Status)
	}
}

func TestUnavailableDatabase(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("file"), 0644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}

	bus := notifier.NewEventBus()
	var alerts int
	bus.Subscribe(notifier.EventCacheUnavailable, func(*notifier.Event) { alerts++ })

	s := New(Config{Enabled: true, MaxBytes: 1000, Path: filepath.Join(blocker, "sub", "cache.db")}, Options{Bus: bus})
	defer s.Close()

	if got := s.Get("k"); got.Status != StatusError {
		t.Errorf("Expected error status, got %s", got.Status)
	}
	if _, err := s.Put(record("k", "x")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	s.Get("k")
	if alerts != 1 {
		t.Errorf("Expected a single unavailable alert (sticky error), got %d", alerts)
	}
	if st := s.Stats(); st.Available {
		t.Error("Expected store to report unavailable")
	}
}

func TestAlbumPrefetchMarks(t *testing.T) {
	s, _ := setupTestStore(t, 1000)

	if s.HasAlbumPrefetchComplete("artist", "album") {
		t.Error("Expected album not marked initially")
	}
	if err := s.MarkAlbumPrefetchComplete("artist", "album"); err != nil {
		t.Fatalf("Mark error: %v", err)
	}
	if err := s.MarkAlbumPrefetchComplete("artist", "album"); err != nil {
		t.Fatalf("Second mark error: %v", err)
	}
	if !s.HasAlbumPrefetchComplete("artist", "album") {
		t.Error("Expected album marked")
	}
	if s.HasAlbumPrefetchComplete("artist", "other") {
		t.Error("Expected other album unmarked")
	}
	if st := s.Stats(); st.TotalCount != 0 {
		t.Errorf("Album marks must not count as records, got %d", st.TotalCount)
	}
}

func TestReconfigure(t *testing.T) {
	s, path := setupTestStore(t, 1<<20)
	for i := 0; i < 5; i++ {
		s.Put(record(fmt.Sprintf("k%d", i), randomLyrics(t, 300)))
	}

	if err := s.Reconfigure(Config{Enabled: true, MaxBytes: 800, Path: path}); err != nil {
		t.Fatalf("Reconfigure error: %v", err)
	}
	if st := s.Stats(); st.TotalBytes > 800 {
		t.Errorf("Expected shrink to prune to budget, got %d", st.TotalBytes)
	}
	if !s.Has("k4") {
		t.Error("Expected most recent record to survive shrink")
	}

	other := filepath.Join(t.TempDir(), "other.db")
	if err := s.Reconfigure(Config{Enabled: true, MaxBytes: 1 << 20, Path: other}); err != nil {
		t.Fatalf("Reconfigure path error: %v", err)
	}
	if s.Has("k4") {
		t.Error("Expected fresh database after path change")
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("Expected new database file: %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, _ := setupTestStore(t, 1<<20)
	s.Put(record("a", "[00:01.00]a"))

	if removed, err := s.Delete("a"); err != nil || !removed {
		t.Fatalf("Expected a removed, got %v, %v", removed, err)
	}
	if s.Has("a") {
		t.Error("Expected a deleted")
	}
	if st := s.Stats(); st.TotalCount != 0 || st.TotalBytes != 0 {
		t.Errorf("Expected empty totals, got %+v", st)
	}
	if removed, err := s.Delete("missing"); err != nil || removed {
		t.Errorf("Deleting a missing key should be a no-op, got %v, %v", removed, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	const budget = 5000
	s, _ := setupTestStore(t, budget)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				key := fmt.Sprintf("w%d-%d", worker, j%5)
				s.Put(record(key, strings.Repeat(fmt.Sprintf("[00:%02d.00]line %d\n", j, worker), 10+j)))
				s.Get(key)
				s.Has(key)
			}
		}(i)
	}
	wg.Wait()

	st := s.Stats()
	if st.TotalBytes > budget {
		t.Errorf("Total %d exceeds budget after concurrent puts", st.TotalBytes)
	}

	var count int64
	s.db.View(func(tx *bolt.Tx) error {
		count = int64(tx.Bucket(lyricsBucket).Stats().KeyN)
		return nil
	})
	if count != st.TotalCount {
		t.Errorf("In-memory count %d disagrees with stored records %d", st.TotalCount, count)
	}
}
