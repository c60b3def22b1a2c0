// Package codec turns cached values into bytes and back.
//
// A Codec only handles the value itself. Timestamps and the not-found and
// debounce markers are framed around its output by the cache, so a codec
// never needs to know about them.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
	// Name identifies the codec in logs.
	Name() string
}
