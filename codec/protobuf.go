package codec

import "google.golang.org/protobuf/proto"

// Protobuf encodes proto messages. The constructor supplies an empty message
// to decode into, e.g. func() *pb.Account { return &pb.Account{} }.
type Protobuf[T proto.Message] struct {
	new func() T
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (Protobuf[T]) Name() string { return "protobuf" }

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
