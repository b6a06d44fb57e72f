package lyrics

import (
	"context"
	"errors"
	"math"
	"strings"
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
)

// DefaultRequestTimeout bounds each upstream call of a race
const DefaultRequestTimeout = 10 * time.Second

// Store is the persistent cache as seen by the orchestrator
type Store interface {
	Get(key string) cache.GetResult
	Has(key string) bool
	Put(rec cache.LyricsRecord) (cache.PutResult, error)
	Stats() cache.Stats
	Config() cache.Config
	Reconfigure(cfg cache.Config) error
	MarkAlbumPrefetchComplete(artistKey, albumKey string) error
	HasAlbumPrefetchComplete(artistKey, albumKey string) bool
}

// Options wires an Orchestrator
type Options struct {
	Strategies     []providers.Strategy // raced in parallel on a miss
	Searcher       providers.AlbumSearcher
	Store          Store
	Bus            *notifier.EventBus
	Stats          *stats.Stats
	Settings       config.Settings
	AllowedSources []string // empty allows every source
	RequestTimeout time.Duration
	NegativeTTL    time.Duration
	PrefetchLimit  int
	Provider       string
	Now            func() time.Time
}

// Orchestrator owns the current resolution state. Every metadata change
// starts a new generation; results of an older generation never replace
// the state of a newer one.
type Orchestrator struct {
	mu       sync.Mutex
	current  State
	metadata *signature.Metadata
	settings config.Settings
	gen      uint64

	emitMu sync.Mutex // orders state publication

	strategies     []providers.Strategy
	store          Store
	bus            *notifier.EventBus
	stats          *stats.Stats
	allowed        []string
	requestTimeout time.Duration
	provider       string
	now            func() time.Time

	inflight   *InFlightRegistry
	negative   *NegativeCache
	prefetcher *Prefetcher

	ctx    context.Context // background work: refreshes and prefetch passes
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stats == nil {
		opts.Stats = stats.Get()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Provider == "" {
		opts.Provider = "lrclib"
	}

	ctx, cancel := context.WithCancel(context.Background())
	inflight := NewInFlightRegistry()
	o := &Orchestrator{
		current:        State{Status: StatusNoMetadata},
		settings:       opts.Settings,
		strategies:     opts.Strategies,
		store:          opts.Store,
		bus:            opts.Bus,
		stats:          opts.Stats,
		allowed:        opts.AllowedSources,
		requestTimeout: opts.RequestTimeout,
		provider:       opts.Provider,
		now:            opts.Now,
		inflight:       inflight,
		negative:       NewNegativeCache(opts.NegativeTTL, opts.Now),
		ctx:            ctx,
		cancel:         cancel,
	}
	o.prefetcher = NewPrefetcher(PrefetcherOptions{
		Searcher:   opts.Searcher,
		Store:      opts.Store,
		InFlight:   inflight,
		Bus:        opts.Bus,
		Stats:      opts.Stats,
		BatchLimit: opts.PrefetchLimit,
		Provider:   opts.Provider,
	})
	return o
}

// Current returns the active state
func (o *Orchestrator) Current() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Settings returns the active settings
func (o *Orchestrator) Settings() config.Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// InFlight exposes the fetch registry shared with the prefetcher
func (o *Orchestrator) InFlight() *InFlightRegistry { return o.inflight }

// Sweep drops expired not-found memos and returns how many went
func (o *Orchestrator) Sweep() int {
	removed := o.negative.Purge()
	if removed > 0 {
		log.Debugf("%s Dropped %d expired not-found entries", logcolors.LogCacheNegative, removed)
	}
	return removed
}

// UpdateSettings applies a partial settings update, reconfigures the store
// and, when the enabled flag was part of the update, resolves the last seen
// metadata again in the background.
func (o *Orchestrator) UpdateSettings(u config.SettingsUpdate) config.Settings {
	o.mu.Lock()
	next, refresh := o.settings.Apply(u)
	o.settings = next
	metadata := o.metadata
	o.mu.Unlock()

	log.Infof("%s Lyrics enabled=%v offset=%dms cache=%v (%.1f MB, prefetch %s, concurrency %d)",
		logcolors.LogSettings, next.Enabled, next.OffsetMs, next.Cache.Enabled, next.Cache.MaxSizeMB,
		next.Cache.PrefetchMode, next.Cache.MaxPrefetchConcurrency)

	cfg := cache.NewConfig(next.Cache.Enabled, next.Cache.MaxSizeMB, next.Cache.Path)
	if err := o.store.Reconfigure(cfg); err != nil {
		log.Warnf("%s Failed to apply cache settings: %v", logcolors.LogSettings, err)
	}

	if refresh {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.Resolve(o.ctx, metadata)
		}()
	}
	return next
}

// Wait blocks until background refreshes and prefetch passes finish
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	o.prefetcher.Wait()
}

// Close cancels background work and waits for it
func (o *Orchestrator) Close() {
	o.cancel()
	o.Wait()
}

func (o *Orchestrator) sourceAllowed(source string) bool {
	if len(o.allowed) == 0 {
		return true
	}
	for _, s := range o.allowed {
		if strings.EqualFold(s, source) {
			return true
		}
	}
	return false
}

// Resolve runs the resolution state machine for new playback metadata and
// returns the resulting state. Listeners are notified of every transition
// through the event bus.
func (o *Orchestrator) Resolve(ctx context.Context, m *signature.Metadata) State {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	if m != nil {
		copied := *m
		o.metadata = &copied
	} else {
		o.metadata = nil
	}
	settings := o.settings
	o.mu.Unlock()

	o.stats.Resolutions.Add(1)

	if !settings.Enabled {
		return o.settle(gen, State{Status: StatusDisabled})
	}
	if m.IsEmpty() {
		return o.settle(gen, State{Status: StatusNoMetadata})
	}
	if !o.sourceAllowed(m.Source) {
		log.Debugf("%s Source %q not in allow-list", logcolors.LogLyrics, m.Source)
		return o.settle(gen, State{Status: StatusUnsupportedSource})
	}
	sig, ok := signature.Build(m)
	if !ok {
		return o.settle(gen, State{Status: StatusMissingSignature})
	}

	key := signature.BuildKey(sig)
	if cur := o.Current(); cur.Status == StatusOK && cur.TrackKey == key {
		log.Debugf("%s Lyrics already active for %s", logcolors.LogLyrics, key)
		return cur
	}

	diag := &Diagnostics{RequestedAt: time.Now()}
	lookup := o.store.Get(key)
	storeStats := o.store.Stats()
	diag.CacheLookupMs = float64(lookup.Duration.Microseconds()) / 1000
	diag.CacheStatus = string(lookup.Status)
	diag.CacheSizeBytes = storeStats.TotalBytes
	diag.CacheMaxBytes = storeStats.MaxBytes
	o.stats.RecordCacheLookup(string(lookup.Status))

	switch lookup.Status {
	case cache.StatusHit:
		log.Infof("%s Cache hit for %s (%.2fms)", logcolors.LogLyrics, key, diag.CacheLookupMs)
		st := stateFromRecord(lookup.Record, sig)
		st.Diagnostics = diag.finish()
		st = o.settle(gen, st)
		o.schedulePrefetch(sig, "cache-hit", settings)
		return st
	case cache.StatusCorrupt:
		log.Warnf("%s Cached lyrics for %s were corrupt, fetching again", logcolors.LogLyrics, key)
	case cache.StatusMiss:
		log.Debugf("%s Cache miss for %s (%.2fms)", logcolors.LogLyrics, key, diag.CacheLookupMs)
	}

	var emitted State
	emit := func(st State) { emitted = o.settle(gen, st) }
	st, leader := o.fetchShared(ctx, sig, key, diag, emit)
	if leader {
		st = emitted
	} else {
		st = o.settle(gen, st)
	}
	if leader && (st.Status == StatusOK || st.Status == StatusNotFound) {
		o.schedulePrefetch(sig, "live-fetch", settings)
	}
	return st
}

// settle makes st the current state unless a newer resolution started or
// st repeats the current non-ok state. It returns st with the offset and
// timestamp applied.
func (o *Orchestrator) settle(gen uint64, st State) State {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	o.mu.Lock()
	st.OffsetMs = o.settings.OffsetMs
	st.UpdatedAt = o.now()
	if gen != o.gen {
		o.mu.Unlock()
		log.Debugf("%s Dropping stale %s for %s", logcolors.LogLyrics, st.Status, st.TrackKey)
		return st
	}
	if st.Status != StatusOK && o.current.Status == st.Status && o.current.TrackKey == st.TrackKey {
		o.mu.Unlock()
		return st
	}
	o.current = st
	o.mu.Unlock()

	log.Infof("%s State %s %s", logcolors.LogLyrics, st.Status, st.TrackKey)
	o.bus.PublishLyricsState(string(st.Status), st)
	return st
}

// fetchShared produces the remote outcome for key: a memoized not-found, the
// result of another caller's running fetch, or a new race. The leader calls
// emit with pending before racing and with the outcome before persisting it,
// so listeners see lyrics before the disk write.
func (o *Orchestrator) fetchShared(ctx context.Context, sig signature.Signature, key string, diag *Diagnostics, emit func(State)) (State, bool) {
	sigCopy := sig

	if st, ok := o.negative.Lookup(key); ok {
		log.Debugf("%s Reusing not-found for %s", logcolors.LogCacheNegative, key)
		o.stats.RecordNegativeCacheHit()
		diag.CacheStatus = "negative"
		st.Diagnostics = diag.finish()
		return st, false
	}

	call, leader := o.inflight.Acquire(key)
	if !leader {
		log.Debugf("%s Joining running fetch for %s", logcolors.LogInFlight, key)
		o.stats.RecordSharedFetch()
		diag.CacheStatus = "shared"
		st, err := call.Wait(ctx)
		if err != nil {
			st = State{Status: StatusError, TrackKey: key, Signature: &sigCopy, Error: err.Error()}
		}
		st.Diagnostics = diag.finish()
		return st, false
	}

	if emit != nil {
		emit(State{Status: StatusPending, TrackKey: key, Signature: &sigCopy})
	}

	started := time.Now()
	candidate, endpoint, err := o.race(ctx, sig, diag)

	var st State
	switch {
	case candidate != nil:
		log.Infof("%s Lyrics found for %s via %s", logcolors.LogLyrics, key, endpoint)
		st = stateFromCandidate(candidate, key, sig, o.provider)
	case err != nil:
		log.Warnf("%s All lookups failed for %s: %v", logcolors.LogLyrics, key, err)
		st = State{Status: StatusError, TrackKey: key, Signature: &sigCopy, Error: err.Error()}
	default:
		log.Infof("%s No lyrics for %s", logcolors.LogLyrics, key)
		st = State{Status: StatusNotFound, TrackKey: key, Signature: &sigCopy}
	}
	st.Diagnostics = diag.finish()
	o.stats.RecordLiveFetch(time.Since(started), string(st.Status))

	if emit != nil {
		emit(st)
	}

	switch st.Status {
	case StatusOK:
		o.persist(st)
	case StatusNotFound:
		o.negative.Remember(key, st)
	}
	o.inflight.Complete(key, st)
	return st, true
}

func (o *Orchestrator) persist(st State) {
	result, err := o.store.Put(recordFromState(st, o.provider))
	switch {
	case err == nil:
		log.Debugf("%s Cached %s (%d bytes, %d evicted)", logcolors.LogLyrics, st.TrackKey, result.SizeBytes, result.Pruned)
	case errors.Is(err, cache.ErrDisabled):
	default:
		log.Warnf("%s Lyrics cache store skipped for %s: %v", logcolors.LogLyrics, st.TrackKey, err)
	}
}

type strategyResult struct {
	name      string
	candidate *providers.Candidate
	err       error
	elapsed   time.Duration
}

// race runs every strategy concurrently and returns the first valid
// candidate. The remaining calls are cancelled and their results ignored.
// err is set only when every strategy failed.
func (o *Orchestrator) race(ctx context.Context, sig signature.Signature, diag *Diagnostics) (*providers.Candidate, string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan strategyResult, len(o.strategies))
	for _, s := range o.strategies {
		go func(s providers.Strategy) {
			callCtx, callCancel := context.WithTimeout(ctx, o.requestTimeout)
			defer callCancel()
			started := time.Now()
			c, err := s.Fetch(callCtx, sig)
			results <- strategyResult{name: s.Name(), candidate: c, err: err, elapsed: time.Since(started)}
		}(s)
	}

	pending := make(map[string]bool, len(o.strategies))
	for _, s := range o.strategies {
		pending[s.Name()] = true
	}

	var errs []error
	for range o.strategies {
		r := <-results
		delete(pending, r.name)

		timing := RequestTiming{Endpoint: r.name, DurationMs: r.elapsed.Milliseconds(), Result: "miss"}
		switch {
		case r.err != nil:
			timing.Result = "error"
			timing.Error = r.err.Error()
			errs = append(errs, r.err)
		case r.candidate.IsValid():
			timing.Result = "hit"
		}
		diag.Requests = append(diag.Requests, timing)

		if r.err == nil && r.candidate.IsValid() {
			for name := range pending {
				diag.PendingRequests = append(diag.PendingRequests, name)
			}
			return r.candidate, r.name, nil
		}
	}

	if len(o.strategies) > 0 && len(errs) == len(o.strategies) {
		return nil, "", errors.Join(errs...)
	}
	return nil, "", nil
}

func (o *Orchestrator) schedulePrefetch(sig signature.Signature, reason string, settings config.Settings) {
	o.prefetcher.Schedule(o.ctx, sig, reason, settings.Cache)
}

// PrefetchNext resolves and stores lyrics for the upcoming track without
// touching the current state. Progress is reported as prefetch events.
func (o *Orchestrator) PrefetchNext(ctx context.Context, m *signature.Metadata) PrefetchProgress {
	settings := o.Settings()
	const reason = "next-track-metadata"

	if !settings.Enabled || m.IsEmpty() {
		skip := "missing-metadata"
		if !settings.Enabled {
			skip = "disabled"
		}
		return o.prefetcher.report(PrefetchProgress{Status: PrefetchSkipped, Reason: skip})
	}
	sig, ok := signature.Build(m)
	if !ok {
		return o.prefetcher.report(PrefetchProgress{Status: PrefetchSkipped, Reason: "missing-signature"})
	}

	key := signature.BuildKey(sig)
	if o.store.Has(key) {
		return o.prefetcher.report(PrefetchProgress{Status: PrefetchCached, TrackKey: key, Signature: &sig})
	}

	started := time.Now()
	o.prefetcher.report(PrefetchProgress{Status: PrefetchStart, Reason: reason, TrackKey: key, Signature: &sig, StartedAt: started.UnixMilli()})
	log.Infof("%s Fetching lyrics ahead for %s", logcolors.LogPrefetchNext, key)

	diag := &Diagnostics{RequestedAt: started}
	st, _ := o.fetchShared(ctx, sig, key, diag, nil)

	progress := PrefetchProgress{
		Status:    PrefetchDone,
		Reason:    reason,
		TrackKey:  key,
		Signature: &sig,
		StartedAt: started.UnixMilli(),
		TotalMs:   time.Since(started).Milliseconds(),
		Result:    string(st.Status),
	}
	if st.Status == StatusError {
		progress.Status = PrefetchError
		progress.Error = st.Error
	}
	return o.prefetcher.report(progress)
}

func stateFromCandidate(c *providers.Candidate, key string, sig signature.Signature, provider string) State {
	duration := sig.Duration
	if c.Duration > 0 {
		duration = int(math.Round(c.Duration))
	}
	return State{
		Status:       StatusOK,
		Provider:     provider,
		TrackKey:     key,
		Signature:    &sig,
		ID:           c.ID,
		TrackName:    c.TrackName,
		ArtistName:   c.ArtistName,
		AlbumName:    c.AlbumName,
		Duration:     duration,
		Instrumental: c.Instrumental,
		SyncedLyrics: c.SyncedLyrics,
	}
}

func stateFromRecord(rec *cache.LyricsRecord, sig signature.Signature) State {
	return State{
		Status:       StatusOK,
		Provider:     rec.Provider,
		TrackKey:     rec.Key,
		Signature:    &sig,
		ID:           rec.SourceID,
		TrackName:    rec.TrackName,
		ArtistName:   rec.ArtistName,
		AlbumName:    rec.AlbumName,
		Duration:     rec.Duration,
		Instrumental: rec.Instrumental,
		SyncedLyrics: rec.SyncedLyrics,
	}
}

func recordFromState(st State, provider string) cache.LyricsRecord {
	return cache.LyricsRecord{
		Key:          st.TrackKey,
		TrackName:    st.TrackName,
		ArtistName:   st.ArtistName,
		AlbumName:    st.AlbumName,
		Duration:     st.Duration,
		Provider:     provider,
		SourceID:     st.ID,
		Instrumental: st.Instrumental,
		SyncedLyrics: st.SyncedLyrics,
	}
}
