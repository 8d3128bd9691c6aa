package comm

import (
	"github.com/golang/protobuf/proto"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype our frames
// travel under (application/grpc+msgpack).
const codecName = "msgpack"

// Structs

// frameCodec marshals sequencer frames with msgpack. Values
// that are protobuf messages are handed to proto instead, so
// the codec stays usable for services sharing the server.
type frameCodec struct{}

// Functions

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// Marshal fulfills the Marshal() part of the
// gRPC encoding.Codec interface.
func (frameCodec) Marshal(v interface{}) ([]byte, error) {

	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}

	return msgpack.Marshal(v)
}

// Unmarshal fulfills the Unmarshal() part of the
// gRPC encoding.Codec interface.
func (frameCodec) Unmarshal(data []byte, v interface{}) error {

	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}

	return msgpack.Unmarshal(data, v)
}

// Name fulfills the Name() part of the gRPC
// encoding.Codec interface.
func (frameCodec) Name() string {
	return codecName
}
