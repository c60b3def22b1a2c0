package codec

// Bytes passes []byte values through unchanged.
type Bytes struct{}

func (Bytes) Name() string                    { return "bytes" }
func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) {
	// the store may reuse its buffer; callers keep their own copy
	return append([]byte(nil), b...), nil
}

// String stores Go strings as their UTF-8 bytes without validation.
type String struct{}

func (String) Name() string                    { return "string" }
func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
