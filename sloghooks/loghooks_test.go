package sloghooks

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBuf(level slog.Level) (*bytes.Buffer, *slog.Logger) {
	var buf bytes.Buffer
	return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level}))
}

func TestRedactsKeys(t *testing.T) {
	buf, l := newBuf(slog.LevelDebug)
	h := New(l, Options{})

	h.MalformedEntry("user:secret@example.com")
	h.PopulateFailed("report:secret@example.com")
	out := buf.String()
	assert.Contains(t, out, "cacheaside.malformed_entry")
	assert.Contains(t, out, "cacheaside.populate_failed")
	assert.NotContains(t, out, "secret@example.com")
}

func TestCustomRedactAndSampling(t *testing.T) {
	buf, l := newBuf(slog.LevelDebug)
	h := New(l, Options{
		ContendedEvery: 3,
		Redact:         func(k string) string { return "k=" + k },
	})

	for i := 0; i < 6; i++ {
		h.LockContended("agg", true)
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "cacheaside.lock_contended"))
	assert.Contains(t, buf.String(), "k=agg")
}

func TestBatchesOptIn(t *testing.T) {
	buf, l := newBuf(slog.LevelDebug)
	New(l, Options{}).BatchFetched("user", 1, 2)
	assert.Empty(t, buf.String())

	New(l, Options{LogBatches: true}).BatchFetched("user", 1, 2)
	assert.Contains(t, buf.String(), "hits=1")
}

func TestNilLogger(t *testing.T) {
	h := New(nil, Options{})
	assert.NotPanics(t, func() {
		h.MalformedEntry("k")
		h.PurgeCompleted("ep", 1)
		h.DebounceMiss("ns", 1)
	})
}
