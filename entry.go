package cacheaside

import (
	"time"

	c "github.com/unkn0wn-root/cacheaside/codec"
	"github.com/unkn0wn-root/cacheaside/internal/wire"
)

// entries frames codec output with cachedAt and the marker kinds.
type entries[V any] struct {
	codec c.Codec[V]
	log   Logger
	hooks Hooks
}

func (e entries[V]) encode(v V, at time.Time) ([]byte, error) {
	payload, err := e.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return wire.EncodeValue(at, payload), nil
}

// decode never fails loudly: anything unreadable is reported and comes back
// with ok=false so the caller treats it as a miss.
func (e entries[V]) decode(storageKey string, raw []byte) (ent wire.Entry, v V, ok bool) {
	ent, err := wire.Decode(raw)
	if err != nil {
		e.malformed(storageKey, err)
		return wire.Entry{}, v, false
	}
	if ent.Kind != wire.KindValue {
		return ent, v, true
	}
	v, err = e.codec.Decode(ent.Payload)
	if err != nil {
		e.malformed(storageKey, err)
		return wire.Entry{}, v, false
	}
	return ent, v, true
}

func (e entries[V]) malformed(storageKey string, err error) {
	e.hooks.MalformedEntry(storageKey)
	e.log.Warn("malformed cache entry treated as miss", Fields{"key": storageKey, "codec": e.codec.Name(), "err": err})
}
