package grpcx

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// JSONCodecName is the content-subtype of the JSON codec (application/grpc+json).
const JSONCodecName = "json"

// JSONCodec marshals plain Go structs as JSON so services can be declared
// without generated protobuf messages.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string { return JSONCodecName }

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
