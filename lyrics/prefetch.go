package lyrics

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"lyrics-cache-go/cache"
	"lyrics-cache-go/config"
	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/services/notifier"
	"lyrics-cache-go/services/providers"
	"lyrics-cache-go/signature"
	"lyrics-cache-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPrefetchBatchLimit  = 20
	DefaultPrefetchConcurrency = 4
)

// Prefetch progress statuses
const (
	PrefetchStart   = "start"
	PrefetchDone    = "done"
	PrefetchError   = "error"
	PrefetchSkipped = "skipped"
	PrefetchCached  = "cached"
)

// Per-candidate skip reasons
const (
	skipCached   = "cached"
	skipInFlight = "in-flight"
)

// PrefetchProgress is published on the event bus for every prefetch step.
type PrefetchProgress struct {
	Status          string               `json:"status"`
	Reason          string               `json:"reason,omitempty"`
	Mode            string               `json:"mode,omitempty"`
	TrackKey        string               `json:"trackKey,omitempty"`
	Signature       *signature.Signature `json:"signature,omitempty"`
	StartedAt       int64                `json:"startedAt,omitempty"` // unix millis
	TotalMs         int64                `json:"totalMs,omitempty"`
	TotalCandidates int                  `json:"totalCandidates,omitempty"`
	Stored          int                  `json:"stored,omitempty"`
	Skipped         int                  `json:"skipped,omitempty"`
	SkippedCached   int                  `json:"skippedCached,omitempty"`
	SkippedInFlight int                  `json:"skippedInFlight,omitempty"`
	SkippedOther    int                  `json:"skippedOther,omitempty"`
	Result          string               `json:"result,omitempty"`
	Error           string               `json:"error,omitempty"`
}

type PrefetcherOptions struct {
	Searcher   providers.AlbumSearcher
	Store      Store
	InFlight   *InFlightRegistry
	Bus        *notifier.EventBus
	Stats      *stats.Stats
	BatchLimit int
	Provider   string
}

// Prefetcher warms the cache with the rest of a resolved track's album.
type Prefetcher struct {
	searcher   providers.AlbumSearcher
	store      Store
	inflight   *InFlightRegistry
	bus        *notifier.EventBus
	stats      *stats.Stats
	batchLimit int
	provider   string

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

func NewPrefetcher(opts PrefetcherOptions) *Prefetcher {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultPrefetchBatchLimit
	}
	if opts.InFlight == nil {
		opts.InFlight = NewInFlightRegistry()
	}
	if opts.Stats == nil {
		opts.Stats = stats.Get()
	}
	if opts.Provider == "" {
		opts.Provider = "lrclib"
	}
	return &Prefetcher{
		searcher:   opts.Searcher,
		store:      opts.Store,
		inflight:   opts.InFlight,
		bus:        opts.Bus,
		stats:      opts.Stats,
		batchLimit: opts.BatchLimit,
		provider:   opts.Provider,
		running:    make(map[string]struct{}),
	}
}

func (p *Prefetcher) report(progress PrefetchProgress) PrefetchProgress {
	p.bus.PublishLyricsPrefetch(progress.Status, progress)
	return progress
}

// Wait blocks until all scheduled passes finish
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

func passKey(sig signature.Signature, mode string) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", sig.TrackName, sig.ArtistName, sig.AlbumName, sig.Duration, mode)
}

// Schedule starts an album pass in the background. It returns false when
// caching or prefetch is off, or an identical pass is already running.
func (p *Prefetcher) Schedule(ctx context.Context, sig signature.Signature, reason string, cs config.CacheSettings) bool {
	if p.searcher == nil || !p.store.Config().Enabled || cs.PrefetchMode != config.PrefetchAlbum {
		return false
	}

	key := passKey(sig, cs.PrefetchMode)
	p.mu.Lock()
	if _, ok := p.running[key]; ok {
		p.mu.Unlock()
		log.Debugf("%s Pass already running for %q by %q", logcolors.LogPrefetch, sig.AlbumName, sig.ArtistName)
		return false
	}
	p.running[key] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.running, key)
			p.mu.Unlock()
		}()
		p.Run(ctx, sig, reason, cs)
	}()
	return true
}

type candidateOutcome struct {
	key     string
	stored  bool
	skipped string
	err     error
}

// Run performs one album pass synchronously.
func (p *Prefetcher) Run(ctx context.Context, sig signature.Signature, reason string, cs config.CacheSettings) PrefetchProgress {
	mode := cs.PrefetchMode
	artistKey := signature.ArtistKey(sig)
	albumKey := signature.AlbumKey(sig)

	if p.store.HasAlbumPrefetchComplete(artistKey, albumKey) {
		log.Debugf("%s Album %q already prefetched", logcolors.LogPrefetch, albumKey)
		return p.report(PrefetchProgress{Status: PrefetchSkipped, Reason: "album-prefetch-complete", Mode: mode, Signature: &sig})
	}

	started := time.Now()
	p.report(PrefetchProgress{Status: PrefetchStart, Reason: reason, Mode: mode, Signature: &sig, StartedAt: started.UnixMilli()})

	found, err := p.searcher.SearchAlbum(ctx, sig)
	if err != nil {
		log.Warnf("%s Album search failed for %q: %v", logcolors.LogPrefetch, sig.AlbumName, err)
		p.stats.RecordPrefetch(0, 0, 1)
		return p.report(PrefetchProgress{Status: PrefetchError, Reason: reason, Mode: mode, Signature: &sig, Error: err.Error()})
	}

	var candidates []providers.Candidate
	for _, c := range found {
		if c.IsValid() && providers.MatchesAlbum(c, sig) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) > p.batchLimit {
		candidates = candidates[:p.batchLimit]
	}

	concurrency := cs.MaxPrefetchConcurrency
	if concurrency < 1 {
		concurrency = DefaultPrefetchConcurrency
	}
	outcomes := p.process(ctx, candidates, concurrency)

	progress := PrefetchProgress{
		Status:          PrefetchDone,
		Reason:          reason,
		Mode:            mode,
		Signature:       &sig,
		StartedAt:       started.UnixMilli(),
		TotalCandidates: len(candidates),
	}
	for _, o := range outcomes {
		switch {
		case o.stored:
			progress.Stored++
		case o.skipped == skipCached:
			progress.Skipped++
			progress.SkippedCached++
		case o.skipped == skipInFlight:
			progress.Skipped++
			progress.SkippedInFlight++
		default:
			progress.Skipped++
			progress.SkippedOther++
			if o.err != nil {
				log.Debugf("%s Prefetch cache skipped (%v) for %s", logcolors.LogPrefetch, o.err, o.key)
			}
		}
	}

	if progress.TotalCandidates > 0 && progress.SkippedInFlight == 0 && progress.SkippedOther == 0 {
		if err := p.store.MarkAlbumPrefetchComplete(artistKey, albumKey); err != nil {
			log.Warnf("%s Failed to mark album %q complete: %v", logcolors.LogPrefetch, albumKey, err)
		}
	}

	progress.TotalMs = time.Since(started).Milliseconds()
	p.stats.RecordPrefetch(progress.Stored, progress.SkippedCached+progress.SkippedInFlight, progress.SkippedOther)
	log.Infof("%s %q by %q: %d candidates, %d stored, %d skipped in %dms",
		logcolors.LogPrefetch, sig.AlbumName, sig.ArtistName, progress.TotalCandidates, progress.Stored, progress.Skipped, progress.TotalMs)
	return p.report(progress)
}

// process handles candidates with at most concurrency of them in progress.
func (p *Prefetcher) process(ctx context.Context, candidates []providers.Candidate, concurrency int) []candidateOutcome {
	outcomes := make([]candidateOutcome, len(candidates))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup

	for i, c := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = candidateOutcome{err: err}
			continue
		}
		wg.Add(1)
		go func(i int, c providers.Candidate) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = p.storeCandidate(c)
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

// storeCandidate stores a search candidate under its own key. Search
// results are already complete records, so no further lookup is made.
func (p *Prefetcher) storeCandidate(c providers.Candidate) candidateOutcome {
	sig := signature.Signature{
		TrackName:  c.TrackName,
		ArtistName: c.ArtistName,
		AlbumName:  c.AlbumName,
		Duration:   int(math.Round(c.Duration)),
	}
	key := signature.BuildKey(sig)

	if p.store.Has(key) {
		return candidateOutcome{key: key, skipped: skipCached}
	}
	if p.inflight.Has(key) {
		return candidateOutcome{key: key, skipped: skipInFlight}
	}

	_, err := p.store.Put(cache.LyricsRecord{
		Key:          key,
		TrackName:    c.TrackName,
		ArtistName:   c.ArtistName,
		AlbumName:    c.AlbumName,
		Duration:     sig.Duration,
		Provider:     p.provider,
		SourceID:     c.ID,
		Instrumental: c.Instrumental,
		SyncedLyrics: c.SyncedLyrics,
	})
	if err != nil {
		return candidateOutcome{key: key, err: err}
	}
	return candidateOutcome{key: key, stored: true}
}
