// Package sloghooks reports cache events through log/slog. High-volume
// events can be sampled; keys are redacted before they reach the log.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/cacheaside"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	MalformedEvery uint64
	ContendedEvery uint64
	// BatchFetched fires on every ArrayCache fetch; it is only logged when
	// LogBatches is set.
	LogBatches bool
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	malformedCtr atomic.Uint64
	contendedCtr atomic.Uint64
}

var _ cacheaside.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) MalformedEntry(storageKey string) {
	if h.l == nil || !sample(h.opts.MalformedEvery, &h.malformedCtr) {
		return
	}
	h.l.Warn("cacheaside.malformed_entry", "key", h.redact(storageKey))
}

func (h *Hooks) BatchFetched(ns string, hits, misses int) {
	if h.l == nil || !h.opts.LogBatches {
		return
	}
	h.l.Debug("cacheaside.batch_fetched", "ns", ns, "hits", hits, "misses", misses)
}

func (h *Hooks) DebounceMiss(ns string, n int) {
	if h.l == nil {
		return
	}
	h.l.Debug("cacheaside.debounce_miss", "ns", ns, "count", n)
}

func (h *Hooks) NotFoundCached(ns string, n int) {
	if h.l == nil {
		return
	}
	h.l.Debug("cacheaside.not_found_cached", "ns", ns, "count", n)
}

func (h *Hooks) LockContended(key string, servedStale bool) {
	if h.l == nil || !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Info("cacheaside.lock_contended",
		"key", h.redact(key),
		"served_stale", servedStale)
}

func (h *Hooks) PopulateFailed(key string) {
	if h.l == nil {
		return
	}
	h.l.Error("cacheaside.populate_failed", "key", h.redact(key))
}

func (h *Hooks) PurgeCompleted(endpoint string, deleted int) {
	if h.l == nil {
		return
	}
	h.l.Info("cacheaside.purge_completed",
		"endpoint", endpoint,
		"deleted", deleted)
}
