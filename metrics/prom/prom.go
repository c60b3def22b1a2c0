package prom

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/cacheaside"
)

// Adapter implements cacheaside.Hooks and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	lookups   *prometheus.CounterVec // by ns, result=hit|miss
	debounced *prometheus.CounterVec
	notFound  *prometheus.CounterVec
	malformed prometheus.Counter
	contended *prometheus.CounterVec // by served_stale
	failed    prometheus.Counter
	purged    *prometheus.CounterVec // by endpoint
}

// New constructs a Prometheus hooks adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
//
// Storage keys are never used as label values; only cache namespaces and
// purge endpoints are, both of which are bounded by configuration.
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}
	}
	a := &Adapter{
		lookups: prometheus.NewCounterVec(
			opts("ids_total", "Ids requested from batch caches, by namespace and result"),
			[]string{"cache", "result"},
		),
		debounced: prometheus.NewCounterVec(
			opts("debounce_misses_total", "Ids read through a live debounce marker without write-back"),
			[]string{"cache"},
		),
		notFound: prometheus.NewCounterVec(
			opts("not_found_cached_total", "Not-found markers written"),
			[]string{"cache"},
		),
		malformed: prometheus.NewCounter(opts("malformed_entries_total", "Stored entries that failed to decode")),
		contended: prometheus.NewCounterVec(
			opts("lock_contended_total", "Refresh-ahead readers that lost the lock race"),
			[]string{"served_stale"},
		),
		failed: prometheus.NewCounter(opts("populate_failures_total", "Refresh-ahead reads that ran out of retries")),
		purged: prometheus.NewCounterVec(
			opts("purged_keys_total", "Keys deleted by pattern purges, by endpoint"),
			[]string{"endpoint"},
		),
	}
	reg.MustRegister(a.lookups, a.debounced, a.notFound, a.malformed, a.contended, a.failed, a.purged)
	return a
}

func (a *Adapter) MalformedEntry(string) { a.malformed.Inc() }

func (a *Adapter) BatchFetched(ns string, hits, misses int) {
	a.lookups.WithLabelValues(ns, "hit").Add(float64(hits))
	a.lookups.WithLabelValues(ns, "miss").Add(float64(misses))
}

func (a *Adapter) DebounceMiss(ns string, n int) {
	a.debounced.WithLabelValues(ns).Add(float64(n))
}

func (a *Adapter) NotFoundCached(ns string, n int) {
	a.notFound.WithLabelValues(ns).Add(float64(n))
}

func (a *Adapter) LockContended(_ string, servedStale bool) {
	a.contended.WithLabelValues(strconv.FormatBool(servedStale)).Inc()
}

func (a *Adapter) PopulateFailed(string) { a.failed.Inc() }

func (a *Adapter) PurgeCompleted(endpoint string, deleted int) {
	a.purged.WithLabelValues(endpoint).Add(float64(deleted))
}

// Compile-time check: ensure Adapter implements cacheaside.Hooks.
var _ cacheaside.Hooks = (*Adapter)(nil)
