package cacheaside

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A stored entry failed framing or value decode and was read as a miss.
	MalformedEntry(storageKey string)

	// One ArrayCache fetch finished. hits counts ids answered from the store,
	// cached not-found markers included; misses counts ids sent to lookup.
	BatchFetched(namespace string, hits, misses int)

	// n ids hit a live debounce marker; they were looked up and not written back.
	DebounceMiss(namespace string, n int)

	// n not-found markers were written (create-if-absent).
	NotFoundCached(namespace string, n int)

	// A ThroughCache reader lost the lock race. servedStale tells whether it
	// returned the previous value instead of waiting.
	LockContended(key string, servedStale bool)

	// A ThroughCache reader gave up: no stale value and no retries left.
	PopulateFailed(key string)

	// A pattern purge finished on one endpoint.
	PurgeCompleted(endpoint string, deleted int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) MalformedEntry(string)         {}
func (NopHooks) BatchFetched(string, int, int) {}
func (NopHooks) DebounceMiss(string, int)      {}
func (NopHooks) NotFoundCached(string, int)    {}
func (NopHooks) LockContended(string, bool)    {}
func (NopHooks) PopulateFailed(string)         {}
func (NopHooks) PurgeCompleted(string, int)    {}
