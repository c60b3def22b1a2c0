package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

// Kind tells what a stored entry carries.
type Kind byte

const (
	KindValue    Kind = 1
	KindNotFound Kind = 2
	KindDebounce Kind = 3
)

var (
	ErrCorrupt = errors.New("cacheaside: corrupt entry")
	magic4     = [...]byte{'C', 'A', 'A', 'S'}
)

const hdr = 4 + 1 + 1 + 8 + 4

// Entry is the decoded form of one stored key.
// Payload aliases the input slice passed to Decode.
type Entry struct {
	Kind     Kind
	CachedAt time.Time
	Payload  []byte
}

func (e Entry) NotFound() bool { return e.Kind == KindNotFound }
func (e Entry) Debounce() bool { return e.Kind == KindDebounce }

// Encode frames an entry:
//
//	magic(4) | ver(1) | kind(1) | cachedAt(i64 be, unix ms) | vlen(u32 be) | payload(vlen)
//
// Marker kinds never carry a payload; a payload passed with them is dropped.
// A zero cachedAt is written as 0 so readers see it as expired.
func Encode(kind Kind, cachedAt time.Time, payload []byte) []byte {
	if kind != KindValue {
		payload = nil
	}
	var buf bytes.Buffer
	buf.Grow(hdr + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))

	var u8 [8]byte
	var u4 [4]byte

	var ms int64
	if !cachedAt.IsZero() {
		ms = cachedAt.UnixMilli()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(ms))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

func EncodeValue(cachedAt time.Time, payload []byte) []byte {
	return Encode(KindValue, cachedAt, payload)
}

func EncodeNotFound(cachedAt time.Time) []byte { return Encode(KindNotFound, cachedAt, nil) }
func EncodeDebounce(cachedAt time.Time) []byte { return Encode(KindDebounce, cachedAt, nil) }

// Decode parses a framed entry. Anything that does not match the framing
// exactly, trailing bytes included, is ErrCorrupt.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdr || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	kind := Kind(b[5])
	switch kind {
	case KindValue, KindNotFound, KindDebounce:
	default:
		return Entry{}, ErrCorrupt
	}

	off := 6
	ms := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}
	if kind != KindValue && vlen != 0 {
		return Entry{}, ErrCorrupt
	}

	e := Entry{Kind: kind, Payload: b[off : off+vlen]}
	if ms != 0 {
		e.CachedAt = time.UnixMilli(ms)
	}
	return e, nil
}
