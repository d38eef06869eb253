// Package wire holds the gRPC contract between the host runtime and the guard.
// Messages are plain Go structs carried by a JSON codec registered under the
// "json" content subtype, so no generated stubs are involved.
package wire

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype for JSON-encoded messages.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallOption selects the JSON codec for a client call.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
