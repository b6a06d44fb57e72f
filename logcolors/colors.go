package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"
	Yellow = "\033[33m"
)

// Cache store log prefixes
const (
	LogCacheInit  = Blue + "[Cache:Init]" + Reset
	LogCache      = Blue + "[Cache]" + Reset
	LogCacheEvict = Blue + "[Cache:Evict]" + Reset
	LogCacheAlbum = Blue + "[Cache:Album]" + Reset
	LogCacheClose = Blue + "[Cache:Close]" + Reset
)

// Resolution log prefixes
const (
	LogLyrics        = Green + "[Lyrics]" + Reset
	LogCacheNegative = Cyan + "[Cache:Negative]" + Reset
	LogInFlight      = Cyan + "[InFlight]" + Reset
	LogPrefetch      = Green + "[Prefetch]" + Reset
	LogPrefetchNext  = Green + "[Prefetch:Next]" + Reset
)

// Upstream provider log prefixes
const (
	LogLRCLIB         = Purple + "[LRCLIB]" + Reset
	LogSearch         = Blue + "[Search]" + Reset
	LogMatch          = Green + "[Match]" + Reset
	LogDurationFilter = Cyan + "[Duration Filter]" + Reset
	LogBestMatch      = Green + "[Best Match]" + Reset
	LogWarning        = Red + "[Warning]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// Server/Init log prefixes
const (
	LogServer   = Green + "[Server]" + Reset
	LogConfig   = Cyan + "[Config]" + Reset
	LogSettings = Cyan + "[Settings]" + Reset
	LogStats    = Blue + "[Stats]" + Reset
	LogRequest  = Purple + "[Request]" + Reset
	LogAPIKey   = Purple + "[APIKey]" + Reset
)

// Event bus log prefixes
const (
	LogNotifier = Cyan + "[Notifier]" + Reset
)
