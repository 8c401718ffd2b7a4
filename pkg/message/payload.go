package message

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// PayloadEncoding tags how EncodePayload serialized a value, so
// DecodePayload knows which path to take on the way back in.
type PayloadEncoding string

const (
	// EncodingJSON is encoding/json over the value as stored.
	EncodingJSON PayloadEncoding = "json"
	// EncodingProtoAny is a protobuf message wrapped in anypb.Any, self-
	// describing its concrete type via the global protobuf type registry.
	EncodingProtoAny PayloadEncoding = "proto"
)

// EncodePayload serializes v for a storage or transport backend that needs
// bytes rather than a live Go value: protobuf messages go through
// anypb.Any (self-describing, so DecodePayload can reconstruct the
// concrete type without the caller naming it), anything else through
// encoding/json. This is the one place in the module that treats Payload
// as anything other than a fully opaque value.
func EncodePayload(v any) ([]byte, PayloadEncoding, error) {
	if v == nil {
		return nil, EncodingJSON, nil
	}
	if msg, ok := v.(proto.Message); ok {
		any, err := anypb.New(msg)
		if err != nil {
			return nil, "", fmt.Errorf("message: wrap payload in anypb.Any: %w", err)
		}
		data, err := proto.Marshal(any)
		if err != nil {
			return nil, "", fmt.Errorf("message: marshal anypb.Any: %w", err)
		}
		return data, EncodingProtoAny, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("message: marshal json payload: %w", err)
	}
	return data, EncodingJSON, nil
}

// DecodePayload reverses EncodePayload. A proto-encoded payload is
// reconstructed to its original concrete type via the global protobuf type
// registry, which requires the caller's process to have imported the
// generated package for that type (exactly as anypb.Any requires
// everywhere); an unregistered type surfaces as an error rather than
// silently degrading to a map.
func DecodePayload(data []byte, encoding PayloadEncoding) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	switch encoding {
	case EncodingProtoAny:
		var wrapped anypb.Any
		if err := proto.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("message: unmarshal anypb.Any: %w", err)
		}
		msg, err := wrapped.UnmarshalNew()
		if err != nil {
			return nil, fmt.Errorf("message: resolve anypb.Any payload type %q: %w", wrapped.GetTypeUrl(), err)
		}
		return msg, nil
	case EncodingJSON, "":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("message: unmarshal json payload: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("message: unknown payload encoding %q", encoding)
	}
}
